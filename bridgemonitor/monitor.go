package bridgemonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	maxAlerts          = 10000
	maxVolumeSnapshots = 288 // 24h at 5-minute intervals
	inactiveThreshold  = 24 * time.Hour
	minValidatorUptime = 0.95
)

// Thresholds configures the anomaly-detection checks.
type Thresholds struct {
	Max24hVolume          uint64
	MaxWithdrawalsPerHour uint32
}

// DefaultThresholds mirrors the values the federation ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Max24hVolume:          1_000_000_000_000, // 10,000 BTC-equivalent at 8 decimals
		MaxWithdrawalsPerHour: 100,
	}
}

// SupplyView reports a wrapped token's on-ledger minted supply, queried
// from the bridge engine.
type SupplyView interface {
	GetSupply(symbol string) (uint64, error)
}

// LockedAmountView reports how much of a token's native asset is
// currently locked on its origin chain, queried from the chain monitor.
type LockedAmountView interface {
	GetLockedAmount(symbol string) (uint64, error)
}

// Pauser is the subset of the bridge engine the monitor can trigger on
// an EMERGENCY alert.
type Pauser interface {
	EmergencyPause()
}

// volumeSnapshot records one bridge transaction: its amount and whether
// it was a withdrawal, so the anomaly checks can both sum value over 24h
// and count withdrawals per hour.
type volumeSnapshot struct {
	amount     uint64
	withdrawal bool
	at         time.Time
}

type validatorStats struct {
	pubkey           []byte
	lastActive       time.Time
	uptimePercentage float64
}

// Monitor audits bridge health on a timer: supply consistency per
// registered token, validator liveness, and transaction-volume anomaly
// detection, raising BridgeAlerts and auto-pausing the bridge on
// EMERGENCY severity.
type Monitor struct {
	mu sync.Mutex

	supply SupplyView
	locked LockedAmountView
	pauser Pauser
	thresh Thresholds

	alerts     []BridgeAlert
	validators map[string]*validatorStats
	volumes    []volumeSnapshot

	callback AlertCallback

	now func() time.Time

	metrics *prometheusMetrics
}

type prometheusMetrics struct {
	alertsTotal      *prometheus.CounterVec
	activeAlerts     prometheus.Gauge
	supplyMismatches prometheus.Counter
	validatorUptime  *prometheus.GaugeVec
	volume24h        prometheus.Gauge
	emergencyPauses  prometheus.Counter
}

func newPrometheusMetrics(registerer prometheus.Registerer) *prometheusMetrics {
	factory := promauto.With(registerer)
	return &prometheusMetrics{
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intcoin_bridge",
			Name:      "alerts_total",
			Help:      "Total bridge alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "intcoin_bridge",
			Name:      "alerts_last_hour",
			Help:      "Alerts raised in the last hour.",
		}),
		supplyMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intcoin_bridge",
			Name:      "supply_mismatches_total",
			Help:      "Total supply-consistency check failures.",
		}),
		validatorUptime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "intcoin_bridge",
			Name:      "validator_uptime_ratio",
			Help:      "Per-validator uptime ratio over the tracked window.",
		}, []string{"validator"}),
		volume24h: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "intcoin_bridge",
			Name:      "volume_24h_total",
			Help:      "Total deposit+withdrawal volume in the last 24h.",
		}),
		emergencyPauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intcoin_bridge",
			Name:      "emergency_pauses_total",
			Help:      "Total automatic emergency pauses triggered by the monitor.",
		}),
	}
}

// NewMonitor constructs a Monitor. registerer may be nil to skip metrics
// registration (e.g. in unit tests run in parallel with other Monitors).
func NewMonitor(supply SupplyView, locked LockedAmountView, pauser Pauser, thresh Thresholds, registerer prometheus.Registerer) *Monitor {
	m := &Monitor{
		supply:     supply,
		locked:     locked,
		pauser:     pauser,
		thresh:     thresh,
		validators: make(map[string]*validatorStats),
		now:        time.Now,
	}
	if registerer != nil {
		m.metrics = newPrometheusMetrics(registerer)
	}
	return m
}

// RegisterAlertCallback sets the function invoked synchronously whenever
// an alert is raised, in addition to logging and queuing.
func (m *Monitor) RegisterAlertCallback(cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// RecordValidatorActivity updates a validator's last-seen timestamp,
// called by the bridge engine whenever it accepts a signature.
func (m *Monitor) RecordValidatorActivity(pubkey []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(pubkey)
	v, ok := m.validators[key]
	if !ok {
		v = &validatorStats{pubkey: pubkey, uptimePercentage: 1.0}
		m.validators[key] = v
	}
	v.lastActive = m.now()
}

// RecordDeposit appends a deposit-volume snapshot, called by the bridge
// engine after every mint.
func (m *Monitor) RecordDeposit(amount uint64) {
	m.recordVolume(amount, false)
}

// RecordWithdrawal appends a withdrawal snapshot, called by the bridge
// engine after every withdrawal request. Each call counts as one
// withdrawal toward the per-hour rate limit, independent of amount.
func (m *Monitor) RecordWithdrawal(amount uint64) {
	m.recordVolume(amount, true)
}

func (m *Monitor) recordVolume(amount uint64, withdrawal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.volumes = append(m.volumes, volumeSnapshot{amount: amount, withdrawal: withdrawal, at: now})
	// Keep every snapshot of the last 24h, the widest window any check reads.
	cutoff := now.Add(-24 * time.Hour)
	drop := 0
	for drop < len(m.volumes) && !m.volumes[drop].at.After(cutoff) {
		drop++
	}
	m.volumes = m.volumes[drop:]
}

// Run executes the health-check loop every interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, tokens []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunHealthCheck(tokens)
		}
	}
}

// RunHealthCheck performs one round of all checks immediately.
func (m *Monitor) RunHealthCheck(tokens []string) {
	for _, symbol := range tokens {
		if err := m.CheckSupplyConsistency(symbol); err != nil {
			log.Warnf("Bridge monitor: supply check for %s failed: %v", symbol, err)
		}
	}
	m.checkValidatorActivity()
	m.DetectAnomalies()
}

// CheckSupplyConsistency compares a token's minted supply against its
// locked amount on the origin chain, raising a CRITICAL alert on
// mismatch.
func (m *Monitor) CheckSupplyConsistency(symbol string) error {
	minted, err := m.supply.GetSupply(symbol)
	if err != nil {
		return err
	}
	locked, err := m.locked.GetLockedAmount(symbol)
	if err != nil {
		return err
	}

	if minted != locked {
		m.triggerAlert(AlertSupplyMismatch, SeverityCritical,
			fmt.Sprintf("supply mismatch detected for %s", symbol),
			map[string]string{
				"token":      symbol,
				"locked":     fmt.Sprintf("%d", locked),
				"minted":     fmt.Sprintf("%d", minted),
				"difference": fmt.Sprintf("%d", int64(minted)-int64(locked)),
			})
		if m.metrics != nil {
			m.metrics.supplyMismatches.Inc()
		}
		return nil
	}
	return nil
}

// checkValidatorActivity raises a WARNING for every validator inactive
// for more than 24h.
func (m *Monitor) checkValidatorActivity() {
	m.mu.Lock()
	now := m.now()
	stale := make([]*validatorStats, 0)
	for _, v := range m.validators {
		if now.Sub(v.lastActive) > inactiveThreshold {
			stale = append(stale, v)
		}
	}
	m.mu.Unlock()

	for _, v := range stale {
		m.triggerAlert(AlertValidatorOffline, SeverityWarning,
			"validator has been inactive for >24h",
			map[string]string{
				"validator":      shortHex(v.pubkey),
				"hours_inactive": fmt.Sprintf("%.0f", now.Sub(v.lastActive).Hours()),
			})
	}
}

// DetectAnomalies checks 24h volume and hourly withdrawal rate against
// Thresholds, raising alerts for each breach.
// Returns true if at least one anomaly was found.
func (m *Monitor) DetectAnomalies() bool {
	m.mu.Lock()
	now := m.now()
	yesterday := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-1 * time.Hour)

	var volume24h uint64
	withdrawals1h := 0
	for _, snap := range m.volumes {
		if snap.at.After(yesterday) {
			volume24h += snap.amount
		}
		if snap.withdrawal && snap.at.After(hourAgo) {
			withdrawals1h++
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.volume24h.Set(float64(volume24h))
	}

	anomaly := false

	if volume24h > m.thresh.Max24hVolume {
		m.triggerAlert(AlertUnusualVolume, SeverityWarning,
			"unusually high 24h volume detected",
			map[string]string{
				"volume_24h": fmt.Sprintf("%d", volume24h),
				"threshold":  fmt.Sprintf("%d", m.thresh.Max24hVolume),
			})
		anomaly = true
	}

	if withdrawals1h > int(m.thresh.MaxWithdrawalsPerHour) {
		m.triggerAlert(AlertRapidWithdrawals, SeverityCritical,
			"rapid withdrawal activity detected",
			map[string]string{
				"withdrawals_1h": fmt.Sprintf("%d", withdrawals1h),
				"threshold":      fmt.Sprintf("%d", m.thresh.MaxWithdrawalsPerHour),
			})
		anomaly = true
	}

	return anomaly
}

// triggerAlert queues, logs, reports to Prometheus, invokes the
// registered callback, and — on EMERGENCY severity — pauses the bridge.
func (m *Monitor) triggerAlert(typ AlertType, severity AlertSeverity, message string, metadata map[string]string) {
	alert := BridgeAlert{Type: typ, Severity: severity, Message: message, Metadata: metadata, Timestamp: m.now()}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	cb := m.callback
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.alertsTotal.WithLabelValues(typ.String(), severity.String()).Inc()
	}

	if severity >= SeverityCritical {
		log.Errorf("Bridge alert [%s] %s: %s", severity, typ, message)
	} else {
		log.Warnf("Bridge alert [%s] %s: %s", severity, typ, message)
	}

	if cb != nil {
		cb(alert)
	}

	if severity == SeverityEmergency && m.pauser != nil {
		m.pauser.EmergencyPause()
		if m.metrics != nil {
			m.metrics.emergencyPauses.Inc()
		}
		log.Errorf("Bridge monitor: emergency pause triggered by alert")
	}
}

// RecentAlerts returns up to count alerts at or above minSeverity, most
// recent first.
func (m *Monitor) RecentAlerts(count int, minSeverity AlertSeverity) []BridgeAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BridgeAlert, 0, count)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < count; i-- {
		if m.alerts[i].Severity >= minSeverity {
			out = append(out, m.alerts[i])
		}
	}
	return out
}

// ClearOldAlerts removes alerts older than daysOld and returns how many
// were removed.
func (m *Monitor) ClearOldAlerts(daysOld int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return removed
}

// ValidatorUptime reports each tracked validator's last-active time.
func (m *Monitor) ValidatorUptime() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.validators))
	for k, v := range m.validators {
		out[k] = v.lastActive
		if m.metrics != nil {
			uptime := 1.0
			if m.now().Sub(v.lastActive) > inactiveThreshold {
				uptime = 0
			}
			m.metrics.validatorUptime.WithLabelValues(shortHex(v.pubkey)).Set(uptime)
		}
	}
	return out
}

func shortHex(b []byte) string {
	s := fmt.Sprintf("%x", b)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
