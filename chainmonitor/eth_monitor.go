package chainmonitor

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

// EthClient is the subset of *ethclient.Client the Ethereum monitor
// needs.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ EthClient = (*ethclient.Client)(nil)

// EthMonitor implements ChainMonitor for Ethereum: HTLC funding/spend
// notifications come from scanning contract event logs (rather than
// pattern-matching scripts, since Ethereum HTLCs are calldata-driven
// smart-contract calls per htlc.buildEthereumCalldata) within the last
// RescanDepthETH blocks, polled every pollInterval.
type EthMonitor struct {
	mu sync.Mutex

	client          EthClient
	contractAddress common.Address
	rescanDepth     uint64
	pollInterval    time.Duration

	// requiredConfirmations is the depth a funding log must reach before
	// htlc_funded is emitted; the log filter window re-visits it every
	// poll until then.
	requiredConfirmations uint32

	watches     map[string]*watch
	lastScanned uint64

	events     chan Event
	overflowed bool
	backoff    time.Duration

	ledger *LockedLedger
}

// NewEthMonitor constructs an Ethereum chain monitor watching a single
// reference HTLC contract address.
func NewEthMonitor(client EthClient, contractAddress common.Address, pollInterval time.Duration) *EthMonitor {
	return &EthMonitor{
		client:                client,
		contractAddress:       contractAddress,
		rescanDepth:           RescanDepthETH,
		pollInterval:          pollInterval,
		requiredConfirmations: 1,
		watches:               make(map[string]*watch),
		events:                make(chan Event, defaultEventQueue),
		ledger:                NewLockedLedger(),
	}
}

// SetRequiredConfirmations sets the funding depth htlc_funded waits for,
// widening the log-filter window if necessary.
func (m *EthMonitor) SetRequiredConfirmations(n uint32) {
	if n == 0 {
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requiredConfirmations = n
	if uint64(n) > m.rescanDepth {
		m.rescanDepth = uint64(n)
	}
}

func (m *EthMonitor) Chain() chainmodel.ChainId { return chainmodel.ChainEthereum }
func (m *EthMonitor) Events() <-chan Event      { return m.events }
func (m *EthMonitor) Ledger() *LockedLedger     { return m.ledger }

func (m *EthMonitor) WatchHTLC(paymentHash htlc.PaymentHash, algorithm htlc.HashAlgorithm, recipientPubkey, refundPubkey []byte, locktime uint64) error {
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

func (m *EthMonitor) StopWatching(paymentHash htlc.PaymentHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, watchKey(paymentHash))
}

func (m *EthMonitor) GetCurrentHeight(ctx context.Context) (uint64, error) {
	h, err := m.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %v", ErrRPC, err)
	}
	return h, nil
}

func (m *EthMonitor) GetConfirmations(ctx context.Context, txHash chainmodel.Hash256) (uint32, error) {
	receipt, err := m.client.TransactionReceipt(ctx, common.Hash(txHash))
	if err != nil {
		return 0, fmt.Errorf("%w: eth_getTransactionReceipt: %v", ErrRPC, err)
	}
	tip, err := m.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %v", ErrRPC, err)
	}
	if receipt.BlockNumber == nil || receipt.BlockNumber.Uint64() > tip {
		return 0, nil
	}
	return uint32(tip-receipt.BlockNumber.Uint64()) + 1, nil
}

// IsSpent is not a native Ethereum concept (accounts aren't UTXOs); an
// Ethereum HTLC is "spent" once its claim/refund transaction has any
// receipt, which this reports via success status.
func (m *EthMonitor) IsSpent(ctx context.Context, txHash chainmodel.Hash256, vout uint32) (bool, error) {
	receipt, err := m.client.TransactionReceipt(ctx, common.Hash(txHash))
	if err != nil {
		return false, fmt.Errorf("%w: eth_getTransactionReceipt: %v", ErrRPC, err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

func (m *EthMonitor) BroadcastTransaction(ctx context.Context, rawHex string) (chainmodel.Hash256, error) {
	var tx types.Transaction
	raw, err := decodeHex(rawHex)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("chainmonitor: invalid raw tx hex: %w", err)
	}
	if err := tx.UnmarshalBinary(raw); err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("chainmonitor: decode raw tx: %w", err)
	}
	if err := m.client.SendTransaction(ctx, &tx); err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("%w: eth_sendRawTransaction: %v", ErrRPC, err)
	}
	return chainmodel.Hash256(tx.Hash()), nil
}

func (m *EthMonitor) WaitForConfirmations(ctx context.Context, txHash chainmodel.Hash256, n uint32) error {
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

func (m *EthMonitor) Run(ctx context.Context) error {
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
				m.mu.Lock()
				m.backoff = 0
				m.mu.Unlock()
			}
		}
	}
}

func (m *EthMonitor) backoffSleep(ctx context.Context, err error) {
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
	log.Warnf("chainmonitor(ethereum): poll failed, retrying in %s: %v", wait, err)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (m *EthMonitor) pollOnce(ctx context.Context) error {
	tip, err := m.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: eth_blockNumber: %v", ErrRPC, err)
	}

	m.mu.Lock()
	from := m.lastScanned
	m.mu.Unlock()
	if from == 0 || tip-from > m.rescanDepth {
		if tip > m.rescanDepth {
			from = tip - m.rescanDepth
		} else {
			from = 0
		}
	}

	logs, err := m.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(tip),
		Addresses: []common.Address{m.contractAddress},
	})
	if err != nil {
		return fmt.Errorf("%w: eth_getLogs: %v", ErrRPC, err)
	}

	for _, lg := range logs {
		confirmations := uint32(tip-lg.BlockNumber) + 1
		m.scanLog(lg, confirmations)
	}

	m.mu.Lock()
	m.lastScanned = tip
	m.mu.Unlock()

	return m.emit(Event{Kind: EventNewBlock, Chain: chainmodel.ChainEthereum, Height: tip})
}

// scanLog matches a contract log's data against registered watches using
// the same documented substring heuristic as the Bitcoin-family monitor
// heuristic: Ethereum event data for this reference HTLC
// contract carries the 32-byte payment hash as one of its log topics/
// data words.
func (m *EthMonitor) scanLog(lg types.Log, confirmations uint32) {
	w := m.matchLog(lg)
	if w == nil {
		return
	}

	m.mu.Lock()
	if !w.fundingSeen {
		w.fundingSeen = true
		w.fundingTxid = chainhash.Hash(lg.TxHash)
	}
	fundingTx := w.fundingTxid
	funded := w.funded
	spentNotified := w.spentNotified
	required := m.requiredConfirmations
	m.mu.Unlock()

	if chainhash.Hash(lg.TxHash) != fundingTx {
		// A later log matching the same payment hash is the spend of the
		// recorded funding; scan its data for a revealed preimage.
		if spentNotified {
			return
		}
		preimage := extractPreimageFromData(lg.Data, w.paymentHash, w.algorithm)
		if preimage == nil {
			return
		}
		if err := m.emit(Event{
			Kind:          EventHTLCSpent,
			Chain:         chainmodel.ChainEthereum,
			TxHash:        chainmodel.Hash256(lg.TxHash),
			Confirmations: confirmations,
			PaymentHash:   w.paymentHash,
			Preimage:      preimage,
		}); err != nil {
			// Not marked notified: the next poll retries the delivery.
			return
		}
		m.mu.Lock()
		w.spentNotified = true
		m.mu.Unlock()
		return
	}

	// Funding log: hold the notification until it reaches required depth.
	if funded || confirmations < required {
		return
	}

	if err := m.emit(Event{
		Kind:          EventHTLCFunded,
		Chain:         chainmodel.ChainEthereum,
		TxHash:        chainmodel.Hash256(lg.TxHash),
		Script:        lg.Data,
		Confirmations: confirmations,
		PaymentHash:   w.paymentHash,
	}); err != nil {
		// Not marked funded: the next poll retries the delivery.
		return
	}
	m.mu.Lock()
	w.funded = true
	m.mu.Unlock()
}

func (m *EthMonitor) matchLog(lg types.Log) *watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		if bytes.Contains(lg.Data, w.paymentHash) {
			return w
		}
		for _, topic := range lg.Topics {
			if bytes.Equal(topic.Bytes(), w.paymentHash) {
				return w
			}
		}
	}
	return nil
}

func extractPreimageFromData(data []byte, expected htlc.PaymentHash, algorithm htlc.HashAlgorithm) *htlc.Preimage {
	for i := 0; i+32 <= len(data); i += 32 {
		var candidate htlc.Preimage
		copy(candidate[:], data[i:i+32])
		ok, err := htlc.VerifyPreimage(candidate, expected, algorithm)
		if err == nil && ok {
			c := candidate
			return &c
		}
	}
	return nil
}

func (m *EthMonitor) emit(ev Event) error {
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

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
