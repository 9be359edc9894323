// Package appctx wires the cross-chain subsystem's components together
// at startup: storage, per-chain monitors, SPV header chains, the bridge
// engine and its monitor, and the swap coordinator. Dependencies flow
// one way through an explicit context value; no component holds a global
// or a back-pointer into another.
package appctx

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/bridgemonitor"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/chainmonitor"
	"github.com/intcoin/bridge/config"
	"github.com/intcoin/bridge/rpc"
	"github.com/intcoin/bridge/rpcclient"
	"github.com/intcoin/bridge/spv"
	"github.com/intcoin/bridge/storage"
	"github.com/intcoin/bridge/swap"
)

// App owns every long-lived component of the bridge daemon.
type App struct {
	Config *config.Config

	Store    *storage.Store
	Monitors *chainmonitor.Manager
	Headers  map[chainmodel.ChainId]*spv.HeaderChain

	Engine        *bridge.Engine
	BridgeMonitor *bridgemonitor.Monitor
	Coordinator   *swap.Coordinator
	RPC           *rpc.Server

	runnables []func(ctx context.Context) error
}

// New builds and wires the application from cfg. Components are
// constructed leaves-first; nothing starts running until Run.
func New(cfg *config.Config, txBuilder swap.TxBuilder) (*App, error) {
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Store:    store,
		Monitors: chainmonitor.NewManager(),
		Headers:  make(map[chainmodel.ChainId]*spv.HeaderChain),
	}

	if err := app.wireMonitors(); err != nil {
		store.Close()
		return nil, err
	}
	if err := app.wireBridge(); err != nil {
		store.Close()
		return nil, err
	}
	if err := app.wireSwap(txBuilder); err != nil {
		store.Close()
		return nil, err
	}

	app.RPC = rpc.NewServer(app.Engine, app.Coordinator)
	return app, nil
}

// wireMonitors builds one chain monitor per configured endpoint.
func (a *App) wireMonitors() error {
	endpoints, err := a.Config.ChainMonitor.ResolveEndpoints()
	if err != nil {
		return err
	}

	for chain, ep := range endpoints {
		mon, err := a.buildMonitor(chain, ep)
		if err != nil {
			return err
		}
		// The monitor holds htlc_funded until the same depth the swap
		// coordinator gates on, so the one delivered event is the one
		// that advances the state machine.
		if s, ok := mon.(interface{ SetRequiredConfirmations(uint32) }); ok {
			s.SetRequiredConfirmations(a.requiredConfirmationsFor(chain))
		}
		a.Monitors.Register(mon)
	}

	a.runnables = append(a.runnables, a.Monitors.Run)
	return nil
}

func (a *App) requiredConfirmationsFor(chain chainmodel.ChainId) uint32 {
	switch chain.Mainnet() {
	case chainmodel.ChainBitcoin:
		return a.Config.Bridge.MinConfirmationsBTC
	case chainmodel.ChainLitecoin:
		return a.Config.Bridge.MinConfirmationsLTC
	case chainmodel.ChainEthereum:
		return a.Config.Bridge.MinConfirmationsETH
	default:
		return 1
	}
}

func (a *App) buildMonitor(chain chainmodel.ChainId, ep config.ChainEndpoint) (chainmonitor.ChainMonitor, error) {
	poll := a.Config.ChainMonitor.PollInterval
	if chain.Mainnet() == chainmodel.ChainIntcoin {
		poll = a.Config.ChainMonitor.PollIntervalINT
	}
	if ep.PollInterval > 0 {
		poll = ep.PollInterval
	}

	switch chain.Mainnet() {
	case chainmodel.ChainEthereum:
		client, err := ethclient.Dial(ep.RPCHost)
		if err != nil {
			return nil, fmt.Errorf("appctx: dial ethereum endpoint: %w", err)
		}
		contract := common.HexToAddress(a.Config.ChainMonitor.EthHTLCContract)
		return chainmonitor.NewEthMonitor(client, contract, poll), nil

	case chainmodel.ChainBitcoin, chainmodel.ChainLitecoin, chainmodel.ChainIntcoin:
		scheme := "http"
		if ep.UseTLS {
			scheme = "https"
		}
		client, err := rpcclient.New(rpcclient.Config{
			URL:      fmt.Sprintf("%s://%s", scheme, ep.RPCHost),
			User:     ep.RPCUser,
			Password: ep.RPCPass,
		})
		if err != nil {
			return nil, err
		}
		switch chain.Mainnet() {
		case chainmodel.ChainBitcoin:
			return chainmonitor.NewMonitor(chain, client,
				int64(a.Config.ChainMonitor.RescanDepthBTC), poll), nil
		case chainmodel.ChainLitecoin:
			// Litecoin's JSON-RPC surface matches bitcoind's, so the
			// shared HTTP client applies; NewLtcMonitor exists for
			// embedders holding a native ltcd rpcclient.
			return chainmonitor.NewMonitor(chain, client,
				int64(a.Config.ChainMonitor.RescanDepthLTC), poll), nil
		default:
			return chainmonitor.NewMonitor(chain, client,
				int64(a.Config.ChainMonitor.RescanDepthINT), poll), nil
		}

	default:
		return nil, fmt.Errorf("appctx: no monitor implementation for chain %s", chain)
	}
}

// wireBridge builds the engine (restoring any persisted state) and its
// monitor.
func (a *App) wireBridge() error {
	bridgeCfg, err := a.Config.Bridge.ToBridgeConfig()
	if err != nil {
		return err
	}
	scheme, err := a.Config.Bridge.SignatureSchemeValue()
	if err != nil {
		return err
	}

	var verifier bridge.SignatureVerifier
	switch scheme {
	case bridge.SignatureSchemeMuSig2:
		verifier = bridge.MuSig2Verifier{}
	default:
		verifier = bridge.ECDSAVerifier{}
	}

	engine, err := bridge.NewEngine(bridgeCfg, verifier)
	if err != nil {
		return err
	}
	if snap, ok, err := a.Store.LoadBridgeState(); err != nil {
		return err
	} else if ok {
		engine.Restore(snap)
	}
	a.Engine = engine

	locked := aggregateLedger{monitors: a.Monitors}
	a.BridgeMonitor = bridgemonitor.NewMonitor(engine, locked, engine, bridgemonitor.DefaultThresholds(), prometheus.DefaultRegisterer)
	engine.SetActivityObserver(a.BridgeMonitor)
	a.runnables = append(a.runnables, func(ctx context.Context) error {
		a.BridgeMonitor.Run(ctx, a.Config.Bridge.SupplyCheckInterval, a.tokenSymbols())
		return nil
	})
	a.runnables = append(a.runnables, a.persistBridgeLoop)
	return nil
}

// persistBridgeLoop snapshots the engine periodically so a crash loses
// at most one interval of ledger mutations.
func (a *App) persistBridgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final snapshot on shutdown.
			return a.Store.SaveBridgeState(a.Engine.Snapshot())
		case <-ticker.C:
			if err := a.Store.SaveBridgeState(a.Engine.Snapshot()); err != nil {
				return err
			}
		}
	}
}

func (a *App) tokenSymbols() []string {
	tokens := a.Engine.Tokens()
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Symbol)
	}
	return out
}

// wireSwap builds the coordinator with persistent, encrypted preimage
// storage.
func (a *App) wireSwap(txBuilder swap.TxBuilder) error {
	algo, err := a.Config.Swap.HashAlgorithmValue()
	if err != nil {
		return err
	}

	key, err := loadPreimageKey(a.Config.Swap.PreimageEncryptionKeyFile)
	if err != nil {
		return err
	}
	preimages := storage.NewPersistentPreimageStore(a.Store, key)

	a.Coordinator = swap.NewCoordinator(swap.Config{
		HashAlgorithm: algo,
		ConfirmationsRequired: map[chainmodel.ChainId]uint32{
			chainmodel.ChainBitcoin:  a.Config.Bridge.MinConfirmationsBTC,
			chainmodel.ChainLitecoin: a.Config.Bridge.MinConfirmationsLTC,
			chainmodel.ChainEthereum: a.Config.Bridge.MinConfirmationsETH,
			chainmodel.ChainIntcoin:  1,
		},
	}, a.Monitors, txBuilder, preimages)

	a.runnables = append(a.runnables, func(ctx context.Context) error {
		return a.Coordinator.Run(ctx, a.Monitors.All()...)
	})
	return nil
}

// InitHeaderChain creates (or reopens) the SPV header chain for chain,
// seeded with its genesis header. Persisted headers are replayed from
// storage, configured spv.checkpoint.<height> entries applied, and
// future acceptances written through. Callers supply the genesis header
// because it is chain-constant data the operator ships, not something
// the daemon can derive.
func (a *App) InitHeaderChain(chain chainmodel.ChainId, genesis spv.BlockHeader) (*spv.HeaderChain, error) {
	if hc, ok := a.Headers[chain]; ok {
		return hc, nil
	}

	hc := spv.NewHeaderChain(chain, genesis)

	checkpoints, err := a.Config.SPV.ResolveCheckpoints()
	if err != nil {
		return nil, err
	}
	for height, hashHex := range checkpoints {
		hash, err := chainmodel.Hash256FromHex(hashHex)
		if err != nil {
			return nil, fmt.Errorf("appctx: checkpoint at height %d: %w", height, err)
		}
		if err := hc.AddCheckpoint(height, hash); err != nil {
			return nil, err
		}
	}

	headerStore := storage.NewHeaderStore(a.Store)
	if persisted, err := headerStore.LoadChain(chain, 0); err != nil {
		return nil, err
	} else if len(persisted) > 1 {
		// First entry is the genesis already seeded above.
		if err := hc.SubmitHeaders(persisted[1:]); err != nil {
			return nil, fmt.Errorf("appctx: replay persisted %s headers: %w", chain, err)
		}
	}
	hc.SetPersister(headerStore)

	a.Headers[chain] = hc
	return hc, nil
}

// Run starts every component's background loop and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runnables {
		r := r
		g.Go(func() error { return r(gctx) })
	}
	err := g.Wait()
	if closeErr := a.Store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// aggregateLedger sums the locked-amount view across every monitor's
// per-chain ledger, giving the bridge monitor its chain-side supply
// observation.
type aggregateLedger struct {
	monitors *chainmonitor.Manager
}

func (l aggregateLedger) GetLockedAmount(symbol string) (uint64, error) {
	var total uint64
	var lastErr error
	found := false
	for _, mon := range l.monitors.All() {
		amount, err := mon.Ledger().GetLockedAmount(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		found = true
		total += amount
	}
	if !found && lastErr != nil {
		return 0, lastErr
	}
	return total, nil
}
