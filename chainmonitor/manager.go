package chainmonitor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/intcoin/bridge/chainmodel"
)

// Manager holds one ChainMonitor per configured remote chain and
// multiplexes cross-chain operations (broadcast, lookup) across them.
// It is the appctx-level collaborator the bridge engine's Broadcaster
// and the swap coordinator's per-leg chain access are wired through.
type Manager struct {
	mu       sync.RWMutex
	monitors map[chainmodel.ChainId]ChainMonitor
}

// NewManager constructs an empty Manager; call Register for each
// configured chain before calling Run.
func NewManager() *Manager {
	return &Manager{monitors: make(map[chainmodel.ChainId]ChainMonitor)}
}

// Register adds a chain's monitor. Panics on a duplicate chain, since
// this only ever happens from startup wiring code, never in response to
// external input.
func (m *Manager) Register(mon ChainMonitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.monitors[mon.Chain()]; exists {
		panic(fmt.Sprintf("chainmonitor: monitor for %s already registered", mon.Chain()))
	}
	m.monitors[mon.Chain()] = mon
}

// All returns every registered monitor, in unspecified order.
func (m *Manager) All() []ChainMonitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChainMonitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		out = append(out, mon)
	}
	return out
}

// Get returns the registered monitor for chain, or false if none.
func (m *Manager) Get(chain chainmodel.ChainId) (ChainMonitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mon, ok := m.monitors[chain.Mainnet()]
	return mon, ok
}

// BroadcastTransaction implements bridge.Broadcaster by dispatching to
// the monitor registered for the target chain.
func (m *Manager) BroadcastTransaction(chain chainmodel.ChainId, rawHex string) (chainmodel.Hash256, error) {
	mon, ok := m.Get(chain)
	if !ok {
		return chainmodel.Hash256{}, fmt.Errorf("chainmonitor: no monitor registered for %s", chain)
	}
	return mon.BroadcastTransaction(context.Background(), rawHex)
}

// Run starts every registered monitor's polling loop concurrently (one
// I/O worker per watched chain) and blocks until ctx is
// cancelled or one monitor returns a non-context error, following the
// errgroup idiom lnd-family chain backends use to drive
// per-backend chain connections.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	monitors := make([]ChainMonitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		monitors = append(monitors, mon)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, mon := range monitors {
		mon := mon
		g.Go(func() error {
			err := mon.Run(gctx)
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
