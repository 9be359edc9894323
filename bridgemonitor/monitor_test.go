package bridgemonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSupply map[string]uint64

func (f fakeSupply) GetSupply(symbol string) (uint64, error) { return f[symbol], nil }

type fakeLocked map[string]uint64

func (f fakeLocked) GetLockedAmount(symbol string) (uint64, error) { return f[symbol], nil }

type fakePauser struct{ paused bool }

func (p *fakePauser) EmergencyPause() { p.paused = true }

func newTestMonitor(supply fakeSupply, locked fakeLocked, pauser *fakePauser) *Monitor {
	return NewMonitor(supply, locked, pauser, DefaultThresholds(), nil)
}

func TestCheckSupplyConsistency_MatchRaisesNothing(t *testing.T) {
	m := newTestMonitor(
		fakeSupply{"wBTC-INT": 50_000_000},
		fakeLocked{"wBTC-INT": 50_000_000},
		&fakePauser{},
	)

	require.NoError(t, m.CheckSupplyConsistency("wBTC-INT"))
	require.Empty(t, m.RecentAlerts(10, SeverityInfo))
}

// Scenario: recorded supply skewed by +1 relative to the chain-side
// locked balance; the next check emits a CRITICAL SUPPLY_MISMATCH.
func TestCheckSupplyConsistency_MismatchRaisesCritical(t *testing.T) {
	pauser := &fakePauser{}
	m := newTestMonitor(
		fakeSupply{"wBTC-INT": 50_000_001},
		fakeLocked{"wBTC-INT": 50_000_000},
		pauser,
	)

	var seen []BridgeAlert
	m.RegisterAlertCallback(func(a BridgeAlert) { seen = append(seen, a) })

	require.NoError(t, m.CheckSupplyConsistency("wBTC-INT"))

	alerts := m.RecentAlerts(10, SeverityCritical)
	require.Len(t, alerts, 1)
	require.Equal(t, AlertSupplyMismatch, alerts[0].Type)
	require.Equal(t, SeverityCritical, alerts[0].Severity)
	require.Equal(t, "1", alerts[0].Metadata["difference"])

	require.Len(t, seen, 1)
	require.False(t, pauser.paused) // CRITICAL alone does not pause
}

func TestEmergencyAlert_AutoPauses(t *testing.T) {
	pauser := &fakePauser{}
	m := newTestMonitor(fakeSupply{}, fakeLocked{}, pauser)

	m.triggerAlert(AlertSupplyMismatch, SeverityEmergency, "irreconcilable supply divergence", nil)

	require.True(t, pauser.paused)
	alerts := m.RecentAlerts(1, SeverityEmergency)
	require.Len(t, alerts, 1)
}

func TestValidatorActivity_OfflineWarning(t *testing.T) {
	m := newTestMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.RecordValidatorActivity([]byte{0x01})
	m.RecordValidatorActivity([]byte{0x02})

	// Validator 0x01 goes quiet for 25h; 0x02 stays active.
	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	m.RecordValidatorActivity([]byte{0x02})

	m.checkValidatorActivity()

	alerts := m.RecentAlerts(10, SeverityWarning)
	require.Len(t, alerts, 1)
	require.Equal(t, AlertValidatorOffline, alerts[0].Type)
	require.Equal(t, "01", alerts[0].Metadata["validator"])
}

func TestDetectAnomalies_VolumeThresholds(t *testing.T) {
	m := NewMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{}, Thresholds{
		Max24hVolume:          1_000,
		MaxWithdrawalsPerHour: 2,
	}, nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	require.False(t, m.DetectAnomalies())

	m.RecordDeposit(600)
	m.RecordWithdrawal(500) // 1100 > 1000, but only one withdrawal

	require.True(t, m.DetectAnomalies())
	alerts := m.RecentAlerts(10, SeverityWarning)
	require.NotEmpty(t, alerts)
	require.Equal(t, AlertUnusualVolume, alerts[len(alerts)-1].Type)
	require.Empty(t, m.RecentAlerts(10, SeverityCritical))

	// Two more withdrawals within the hour breach the per-hour count
	// limit regardless of their tiny amounts.
	m.RecordWithdrawal(1)
	m.RecordWithdrawal(1)
	require.True(t, m.DetectAnomalies())
	critical := m.RecentAlerts(10, SeverityCritical)
	require.NotEmpty(t, critical)
	require.Equal(t, AlertRapidWithdrawals, critical[0].Type)
}

func TestDetectAnomalies_SingleLargeWithdrawalIsNotRapid(t *testing.T) {
	m := NewMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{}, Thresholds{
		Max24hVolume:          1 << 62,
		MaxWithdrawalsPerHour: 2,
	}, nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	// One withdrawal far larger than the per-hour count threshold: the
	// rate limit counts withdrawals, not value.
	m.RecordWithdrawal(20_000_000)
	require.False(t, m.DetectAnomalies())
	require.Empty(t, m.RecentAlerts(10, SeverityCritical))
}

func TestDetectAnomalies_OldVolumeExpires(t *testing.T) {
	m := NewMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{}, Thresholds{
		Max24hVolume:          1_000,
		MaxWithdrawalsPerHour: 100,
	}, nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.RecordDeposit(2_000)

	// 25 hours later the snapshot has aged out of the window.
	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	require.False(t, m.DetectAnomalies())
}

func TestRecentAlerts_FiltersBySeverity(t *testing.T) {
	m := newTestMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{})

	m.triggerAlert(AlertUnusualVolume, SeverityInfo, "info", nil)
	m.triggerAlert(AlertUnusualVolume, SeverityWarning, "warning", nil)
	m.triggerAlert(AlertSupplyMismatch, SeverityCritical, "critical", nil)

	require.Len(t, m.RecentAlerts(10, SeverityInfo), 3)
	require.Len(t, m.RecentAlerts(10, SeverityWarning), 2)
	require.Len(t, m.RecentAlerts(10, SeverityCritical), 1)

	// Most recent first.
	got := m.RecentAlerts(10, SeverityInfo)
	require.Equal(t, SeverityCritical, got[0].Severity)
}

func TestClearOldAlerts(t *testing.T) {
	m := newTestMonitor(fakeSupply{}, fakeLocked{}, &fakePauser{})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.triggerAlert(AlertUnusualVolume, SeverityInfo, "old", nil)

	m.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	m.triggerAlert(AlertUnusualVolume, SeverityInfo, "new", nil)

	removed := m.ClearOldAlerts(7)
	require.Equal(t, 1, removed)
	require.Len(t, m.RecentAlerts(10, SeverityInfo), 1)
	require.Equal(t, "new", m.RecentAlerts(10, SeverityInfo)[0].Message)
}
