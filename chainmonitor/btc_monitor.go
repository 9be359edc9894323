package chainmonitor

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
	"github.com/intcoin/bridge/txscript"
)

// RPCChain is the subset of a remote chain's JSON-RPC surface the
// polling loop needs: getblockcount, getblockhash, getblock,
// getrawtransaction, gettxout, sendrawtransaction. Both this module's
// rpcclient.Client and btcd's own rpcclient.Client satisfy it directly;
// a fake implementation backs btc_monitor_test.go.
type RPCChain interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockVerboseTx(hash *chainhash.Hash) (*btcjson.GetBlockVerboseTxResult, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)
	GetTxOut(txHash *chainhash.Hash, index uint32, mempool bool) (*btcjson.GetTxOutResult, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
}

// watch is a single registered HTLC interest, plus the funding outpoint
// once observed so spends of it can be recognized.
type watch struct {
	paymentHash htlc.PaymentHash
	algorithm   htlc.HashAlgorithm
	recipientPK []byte
	refundPK    []byte
	locktime    uint64

	// fundingSeen records the first matching outpoint at any depth, so
	// later fundings are ignored and spends of it are recognized even
	// before the notification threshold. funded flips only once the
	// htlc_funded event has actually been delivered at required depth.
	fundingSeen   bool
	fundingTxid   chainhash.Hash
	fundingVout   uint32
	funded        bool
	spentNotified bool
}

// Monitor implements ChainMonitor for a Bitcoin-family chain (Bitcoin,
// Litecoin, or INTcoin's own btcd-derived RPC surface): a single polling
// task rescans the last RescanDepth blocks every PollInterval, matching
// output scripts against registered payment-hash watches and scanning
// spending witnesses for revealed preimages.
type Monitor struct {
	mu sync.Mutex

	chain        chainmodel.ChainId
	rpc          RPCChain
	rescanDepth  int64
	pollInterval time.Duration

	// requiredConfirmations is the depth a funding output must reach
	// before htlc_funded is emitted. The rescan window re-visits the
	// funding tx every poll until then, so the notification fires with
	// the depth its consumers gate on rather than at first sighting.
	requiredConfirmations uint32

	watches map[string]*watch // keyed by hex(paymentHash)

	events      chan Event
	overflowed  bool
	lastScanned int64
	backoff     time.Duration

	ledger *LockedLedger
}

// NewMonitor constructs a Bitcoin-family chain monitor. rescanDepth and
// pollInterval should be one of the RescanDepth*/PollInterval* constants
// for the target chain.
func NewMonitor(chain chainmodel.ChainId, rpc RPCChain, rescanDepth int64, pollInterval time.Duration) *Monitor {
	return &Monitor{
		chain:                 chain,
		rpc:                   rpc,
		rescanDepth:           rescanDepth,
		pollInterval:          pollInterval,
		requiredConfirmations: 1,
		watches:               make(map[string]*watch),
		events:                make(chan Event, defaultEventQueue),
		ledger:                NewLockedLedger(),
	}
}

// SetRequiredConfirmations sets the funding depth htlc_funded waits for.
// The rescan window is widened to cover it if necessary, since a funding
// tx must still be inside the window when it reaches that depth.
func (m *Monitor) SetRequiredConfirmations(n uint32) {
	if n == 0 {
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requiredConfirmations = n
	if int64(n) > m.rescanDepth {
		m.rescanDepth = int64(n)
	}
}

func (m *Monitor) Chain() chainmodel.ChainId { return m.chain }

func (m *Monitor) Events() <-chan Event { return m.events }

// Ledger exposes the monitor's observed-deposit tracker, consumed by the
// bridge monitor's LockedAmountView.
func (m *Monitor) Ledger() *LockedLedger { return m.ledger }

func watchKey(h htlc.PaymentHash) string { return hex.EncodeToString(h) }

// WatchHTLC registers interest in an HTLC's payment hash. Idempotent: a
// second call with the same payment hash is a no-op rather than an
// error.
func (m *Monitor) WatchHTLC(paymentHash htlc.PaymentHash, algorithm htlc.HashAlgorithm, recipientPubkey, refundPubkey []byte, locktime uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.overflowed {
		return ErrQueueOverflow
	}

	key := watchKey(paymentHash)
	if _, exists := m.watches[key]; exists {
		return nil
	}
	m.watches[key] = &watch{
		paymentHash: paymentHash,
		algorithm:   algorithm,
		recipientPK: recipientPubkey,
		refundPK:    refundPubkey,
		locktime:    locktime,
	}
	return nil
}

// StopWatching removes a registration; a no-op if not registered.
func (m *Monitor) StopWatching(paymentHash htlc.PaymentHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, watchKey(paymentHash))
}

func (m *Monitor) GetCurrentHeight(ctx context.Context) (uint64, error) {
	h, err := m.rpc.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("%w: getblockcount: %v", ErrRPC, err)
	}
	return uint64(h), nil
}

func (m *Monitor) GetConfirmations(ctx context.Context, txHash chainmodel.Hash256) (uint32, error) {
	hash, err := toChainHash(txHash)
	if err != nil {
		return 0, err
	}
	tx, err := m.rpc.GetRawTransactionVerbose(hash)
	if err != nil {
		return 0, fmt.Errorf("%w: getrawtransaction: %v", ErrRPC, err)
	}
	return uint32(tx.Confirmations), nil
}

// IsSpent answers a yes/no liveness question for a single output: gettxout returns nil for an already-spent output.
func (m *Monitor) IsSpent(ctx context.Context, txHash chainmodel.Hash256, vout uint32) (bool, error) {
	hash, err := toChainHash(txHash)
	if err != nil {
		return false, err
	}
	out, err := m.rpc.GetTxOut(hash, vout, false)
	if err != nil {
		return false, fmt.Errorf("%w: gettxout: %v", ErrRPC, err)
	}
	return out == nil, nil
}

func (m *Monitor) BroadcastTransaction(ctx context.Context, rawHex string) (chainmodel.Hash256, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("chainmonitor: invalid raw tx hex: %w", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("chainmonitor: decode raw tx: %w", err)
	}
	hash, err := m.rpc.SendRawTransaction(&tx, false)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("%w: sendrawtransaction: %v", ErrRPC, err)
	}
	return fromChainHash(*hash), nil
}

// WaitForConfirmations polls GetConfirmations until txHash reaches n
// confirmations or ctx is cancelled.
func (m *Monitor) WaitForConfirmations(ctx context.Context, txHash chainmodel.Hash256, n uint32) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		confs, err := m.GetConfirmations(ctx, txHash)
		if err == nil && confs >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run starts the polling loop: every pollInterval, rescan the last
// rescanDepth blocks for watched HTLC funding/spend activity and emit a
// new_block event for the tip. RPC errors are retried with exponential
// backoff capped at maxBackoff; the loop never exits on
// transient error, only on ctx cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.pollOnce(ctx); err != nil {
				m.backoffSleep(ctx, err)
			} else {
				m.resetBackoff()
			}
		}
	}
}

func (m *Monitor) backoffSleep(ctx context.Context, err error) {
	m.mu.Lock()
	if m.backoff == 0 {
		m.backoff = time.Second
	} else {
		m.backoff *= 2
		if m.backoff > maxBackoff {
			m.backoff = maxBackoff
		}
	}
	wait := m.backoff
	m.mu.Unlock()

	log.Warnf("chainmonitor(%s): poll failed, retrying in %s: %v", m.chain, wait, err)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (m *Monitor) resetBackoff() {
	m.mu.Lock()
	m.backoff = 0
	m.mu.Unlock()
}

func (m *Monitor) pollOnce(ctx context.Context) error {
	tip, err := m.rpc.GetBlockCount()
	if err != nil {
		return fmt.Errorf("%w: getblockcount: %v", ErrRPC, err)
	}

	m.mu.Lock()
	start := m.lastScanned - m.rescanDepth + 1
	if start < 0 || m.lastScanned == 0 {
		start = tip - m.rescanDepth + 1
		if start < 0 {
			start = 0
		}
	}
	m.mu.Unlock()

	for height := start; height <= tip; height++ {
		hash, err := m.rpc.GetBlockHash(height)
		if err != nil {
			return fmt.Errorf("%w: getblockhash(%d): %v", ErrRPC, height, err)
		}
		block, err := m.rpc.GetBlockVerboseTx(hash)
		if err != nil {
			return fmt.Errorf("%w: getblock(%s): %v", ErrRPC, hash, err)
		}
		confirmations := uint32(tip - height + 1)
		if err := m.scanBlock(block, confirmations); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.lastScanned = tip
	m.mu.Unlock()

	tipHash, err := m.rpc.GetBlockHash(tip)
	if err != nil {
		return fmt.Errorf("%w: getblockhash(tip): %v", ErrRPC, err)
	}
	return m.emit(Event{Kind: EventNewBlock, Chain: m.chain, Height: uint64(tip), BlockHash: fromChainHash(*tipHash)})
}

func (m *Monitor) scanBlock(block *btcjson.GetBlockVerboseTxResult, confirmations uint32) error {
	for _, tx := range block.Tx {
		txHash, err := chainhash.NewHashFromStr(tx.Txid)
		if err != nil {
			continue
		}
		if err := m.scanOutputs(tx, *txHash, confirmations); err != nil {
			return err
		}
		if err := m.scanInputs(tx, confirmations); err != nil {
			return err
		}
	}
	return nil
}

// scanOutputs matches each output's script against registered watches.
// Bare HTLC scripts are parsed exactly (txscript.ExtractHTLCParams) so
// the comparison is against the actual hash push; scripts that don't
// parse as the HTLC template (P2SH/P2WSH wrappers, where only the
// script hash is visible on-chain) fall back to a contiguous-substring
// search for the payment hash.
func (m *Monitor) scanOutputs(tx btcjson.TxRawResult, txHash chainhash.Hash, confirmations uint32) error {
	for _, vout := range tx.Vout {
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			continue
		}
		w := m.matchScript(script)
		if w == nil {
			continue
		}

		m.mu.Lock()
		// Double-funding: ignore any output other than the first one
		// observed for this watch.
		if w.fundingSeen && (w.fundingTxid != txHash || w.fundingVout != uint32(vout.N)) {
			m.mu.Unlock()
			continue
		}
		if !w.fundingSeen {
			w.fundingSeen = true
			w.fundingTxid = txHash
			w.fundingVout = uint32(vout.N)
		}
		required := m.requiredConfirmations
		m.mu.Unlock()

		// Hold the notification until the funding reaches required
		// depth; the rescan window re-visits it every poll until then.
		if confirmations < required {
			continue
		}

		amount, err := btcToSatoshi(vout.Value)
		if err != nil {
			continue
		}

		if err := m.emit(Event{
			Kind:          EventHTLCFunded,
			Chain:         m.chain,
			TxHash:        fromChainHash(txHash),
			Vout:          uint32(vout.N),
			Amount:        amount,
			Script:        script,
			Confirmations: confirmations,
			PaymentHash:   w.paymentHash,
		}); err != nil {
			// Not marked funded: the next poll retries the delivery.
			return err
		}

		m.mu.Lock()
		w.funded = true
		m.mu.Unlock()
	}
	return nil
}

// scanInputs looks for spends of a previously-matched funding output and,
// if found, scans the witness stack for a preimage whose hash under the
// watch's registered algorithm equals the watched payment hash.
func (m *Monitor) scanInputs(tx btcjson.TxRawResult, confirmations uint32) error {
	for _, vin := range tx.Vin {
		if vin.Txid == "" {
			continue
		}
		prevHash, err := chainhash.NewHashFromStr(vin.Txid)
		if err != nil {
			continue
		}

		w := m.findWatchForOutpoint(*prevHash, vin.Vout)
		if w == nil {
			continue
		}

		m.mu.Lock()
		alreadyNotified := w.spentNotified
		m.mu.Unlock()
		if alreadyNotified {
			continue
		}

		preimage := extractPreimage(vin.Witness, w.paymentHash, w.algorithm)

		if err := m.emit(Event{
			Kind:          EventHTLCSpent,
			Chain:         m.chain,
			TxHash:        fromChainHash(*prevHash),
			Vout:          vin.Vout,
			Confirmations: confirmations,
			PaymentHash:   w.paymentHash,
			Preimage:      preimage,
		}); err != nil {
			// Not marked notified: the next poll retries the delivery.
			return err
		}

		m.mu.Lock()
		w.spentNotified = true
		m.mu.Unlock()
	}
	return nil
}

func (m *Monitor) matchScript(script []byte) *watch {
	var parsedHash []byte
	if params, err := txscript.ExtractHTLCParams(script); err == nil {
		parsedHash = params.PaymentHash
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		// Watches already notified (or spent) no longer match; a watch
		// whose funding is still below required depth does, so each
		// rescan re-evaluates its confirmations.
		if w.funded || w.spentNotified {
			continue
		}
		if parsedHash != nil {
			if bytes.Equal(parsedHash, w.paymentHash) {
				return w
			}
			continue
		}
		if bytes.Contains(script, w.paymentHash) {
			return w
		}
	}
	return nil
}

func (m *Monitor) findWatchForOutpoint(txid chainhash.Hash, vout uint32) *watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		if w.fundingSeen && w.fundingTxid == txid && w.fundingVout == vout && !w.spentNotified {
			return w
		}
	}
	return nil
}

// extractPreimage scans witness elements (hex strings, as btcjson
// reports them) for a 32-byte value whose hash under algorithm equals
// expected, returning nil if none is found (e.g. a refund spend, which
// carries no preimage).
func extractPreimage(witness []string, expected htlc.PaymentHash, algorithm htlc.HashAlgorithm) *htlc.Preimage {
	for _, w := range witness {
		raw, err := hex.DecodeString(w)
		if err != nil || len(raw) != 32 {
			continue
		}
		var candidate htlc.Preimage
		copy(candidate[:], raw)
		ok, err := htlc.VerifyPreimage(candidate, expected, algorithm)
		if err == nil && ok {
			return &candidate
		}
	}
	return nil
}

// emit delivers an event. On a full queue it reports a health error and
// the monitor stops accepting new watches until drained, rather than
// dropping the notification.
func (m *Monitor) emit(ev Event) error {
	select {
	case m.events <- ev:
		m.mu.Lock()
		m.overflowed = false
		m.mu.Unlock()
		return nil
	default:
		m.mu.Lock()
		m.overflowed = true
		m.mu.Unlock()
		return ErrQueueOverflow
	}
}

func toChainHash(h chainmodel.Hash256) (*chainhash.Hash, error) {
	ch, err := chainhash.NewHash(h[:])
	if err != nil {
		return nil, fmt.Errorf("chainmonitor: invalid tx hash: %w", err)
	}
	return ch, nil
}

func fromChainHash(h chainhash.Hash) chainmodel.Hash256 {
	return chainmodel.Hash256(h)
}

// btcToSatoshi converts a BTC-denominated JSON-RPC amount (as reported by
// getblock's verbose tx output) into the integer satoshi amount used
// throughout this package's Amount fields.
func btcToSatoshi(btc float64) (uint64, error) {
	const satPerBTC = 1e8
	if btc < 0 {
		return 0, fmt.Errorf("chainmonitor: negative amount %f", btc)
	}
	return uint64(btc*satPerBTC + 0.5), nil
}
