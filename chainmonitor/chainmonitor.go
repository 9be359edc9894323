// Package chainmonitor watches a remote chain's RPC endpoint for HTLC
// funding/spend events and new blocks, and publishes a broadcast path
// back onto it. The atomic swap coordinator (package swap) and the SPV
// header chain both consume its notifications, and the bridge engine
// (package bridge) uses it as the Broadcaster for withdrawal payouts.
package chainmonitor

import (
	"context"
	"errors"
	"time"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

// Default rescan depths and poll intervals. A rescan depth covers at
// least the expected reorg depth for its chain (6 for BTC, 12 for ETH
// and LTC); BTC-family chains are polled every 10s, INTcoin faster.
const (
	RescanDepthBTC = 6
	RescanDepthLTC = 12
	RescanDepthETH = 12
	RescanDepthINT = 12

	PollIntervalBTCFamily = 10 * time.Second
	PollIntervalIntcoin   = 2 * time.Second

	maxBackoff        = 60 * time.Second
	defaultEventQueue = 4096
)

// EventKind identifies what a Event reports.
type EventKind uint8

const (
	EventHTLCFunded EventKind = iota
	EventHTLCSpent
	EventNewBlock
)

func (k EventKind) String() string {
	switch k {
	case EventHTLCFunded:
		return "htlc_funded"
	case EventHTLCSpent:
		return "htlc_spent"
	case EventNewBlock:
		return "new_block"
	default:
		return "unknown"
	}
}

// Event is a single notification published by a ChainMonitor: an HTLC
// funding, an HTLC spend, or a new chain tip.
type Event struct {
	Kind  EventKind
	Chain chainmodel.ChainId

	// htlc_funded / htlc_spent fields.
	TxHash        chainmodel.Hash256
	Vout          uint32
	Amount        uint64
	Script        []byte
	Confirmations uint32
	PaymentHash   htlc.PaymentHash // which watch this event matches

	// htlc_spent only: nil until a preimage is actually observed in the
	// spending witness.
	Preimage *htlc.Preimage

	// new_block fields.
	Height    uint64
	BlockHash chainmodel.Hash256
}

// Sentinel errors for the transient-RPC and back-pressure failure
// modes.
var (
	// ErrQueueOverflow is reported when the event queue fills up; the
	// monitor never drops a notification silently and instead stops
	// accepting new watches until the queue drains.
	ErrQueueOverflow = errors.New("chainmonitor: event queue overflow, new watches rejected until drained")

	// ErrRPC wraps a transient remote-RPC failure after retries are
	// exhausted for a single poll tick (the tick itself keeps retrying
	// with backoff on the next tick).
	ErrRPC = errors.New("chainmonitor: remote RPC error")
)

// ChainMonitor is the interface over the per-chain implementations
// (btc-family Monitor, EthMonitor), selected at startup from ChainId.
type ChainMonitor interface {
	Chain() chainmodel.ChainId

	// WatchHTLC registers interest in a payment hash's HTLC. Idempotent.
	WatchHTLC(paymentHash htlc.PaymentHash, algorithm htlc.HashAlgorithm, recipientPubkey, refundPubkey []byte, locktime uint64) error
	// StopWatching removes a registration.
	StopWatching(paymentHash htlc.PaymentHash)

	GetCurrentHeight(ctx context.Context) (uint64, error)
	GetConfirmations(ctx context.Context, txHash chainmodel.Hash256) (uint32, error)
	IsSpent(ctx context.Context, txHash chainmodel.Hash256, vout uint32) (bool, error)
	BroadcastTransaction(ctx context.Context, rawHex string) (chainmodel.Hash256, error)

	// WaitForConfirmations blocks until txHash reaches n confirmations or
	// ctx is done. Built atop GetConfirmations so callers (the swap
	// coordinator) don't hand-roll polling loops.
	WaitForConfirmations(ctx context.Context, txHash chainmodel.Hash256, n uint32) error

	// Events returns the receive end of this monitor's notification
	// channel; Run must be started for events to flow.
	Events() <-chan Event

	// Ledger tracks the cumulative native amount locked in watched HTLCs
	// and bridge deposits on this chain, the chain-side observation the
	// bridge monitor's supply-consistency check compares against.
	Ledger() *LockedLedger

	// Run starts the polling loop and blocks until ctx is cancelled or an
	// unrecoverable error occurs.
	Run(ctx context.Context) error
}

// Broadcaster multiplexes BroadcastTransaction across every registered
// chain, satisfying bridge.Broadcaster (package bridge calls into it
// without knowing chainmonitor's concrete monitor types).
type Broadcaster interface {
	BroadcastTransaction(chain chainmodel.ChainId, rawHex string) (chainmodel.Hash256, error)
}
