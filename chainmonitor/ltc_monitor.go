package chainmonitor

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ltcjson "github.com/ltcsuite/ltcd/btcjson"
	ltcchainhash "github.com/ltcsuite/ltcd/chaincfg/chainhash"
	ltcwire "github.com/ltcsuite/ltcd/wire"

	"github.com/intcoin/bridge/chainmodel"
)

// LtcRPCChain is the subset of an ltcd rpcclient.Client the Litecoin
// polling loop needs. It mirrors RPCChain with ltcsuite types; the
// adapter below folds the two type families together so Litecoin reuses
// the shared Bitcoin-family Monitor unchanged.
type LtcRPCChain interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*ltcchainhash.Hash, error)
	GetBlockVerboseTx(hash *ltcchainhash.Hash) (*ltcjson.GetBlockVerboseTxResult, error)
	GetRawTransactionVerbose(txHash *ltcchainhash.Hash) (*ltcjson.TxRawResult, error)
	GetTxOut(txHash *ltcchainhash.Hash, index uint32, mempool bool) (*ltcjson.GetTxOutResult, error)
	SendRawTransaction(tx *ltcwire.MsgTx, allowHighFees bool) (*ltcchainhash.Hash, error)
}

// NewLtcMonitor constructs the Litecoin chain monitor: the shared
// Bitcoin-family Monitor behind an adapter that translates ltcsuite RPC
// types. rescan depth and poll interval default to the Litecoin
// constants.
func NewLtcMonitor(chain chainmodel.ChainId, rpc LtcRPCChain) (*Monitor, error) {
	if chain.Mainnet() != chainmodel.ChainLitecoin {
		return nil, fmt.Errorf("chainmonitor: NewLtcMonitor requires a Litecoin chain id, got %s", chain)
	}
	return NewMonitor(chain, &ltcRPCAdapter{c: rpc}, RescanDepthLTC, PollIntervalBTCFamily), nil
}

// ltcRPCAdapter adapts LtcRPCChain to RPCChain, converting hashes and
// the handful of btcjson result fields the scanner reads.
type ltcRPCAdapter struct {
	c LtcRPCChain
}

func (a *ltcRPCAdapter) GetBlockCount() (int64, error) {
	return a.c.GetBlockCount()
}

func (a *ltcRPCAdapter) GetBlockHash(height int64) (*chainhash.Hash, error) {
	h, err := a.c.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	return ltcToBtcHash(h)
}

func (a *ltcRPCAdapter) GetBlockVerboseTx(hash *chainhash.Hash) (*btcjson.GetBlockVerboseTxResult, error) {
	lh, err := btcToLtcHash(hash)
	if err != nil {
		return nil, err
	}
	block, err := a.c.GetBlockVerboseTx(lh)
	if err != nil {
		return nil, err
	}
	out := &btcjson.GetBlockVerboseTxResult{
		Hash:          block.Hash,
		Confirmations: block.Confirmations,
		Height:        block.Height,
		Time:          block.Time,
		PreviousHash:  block.PreviousHash,
		NextHash:      block.NextHash,
		Tx:            make([]btcjson.TxRawResult, len(block.Tx)),
	}
	for i := range block.Tx {
		out.Tx[i] = ltcToBtcTx(&block.Tx[i])
	}
	return out, nil
}

func (a *ltcRPCAdapter) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	lh, err := btcToLtcHash(txHash)
	if err != nil {
		return nil, err
	}
	tx, err := a.c.GetRawTransactionVerbose(lh)
	if err != nil {
		return nil, err
	}
	converted := ltcToBtcTx(tx)
	return &converted, nil
}

func (a *ltcRPCAdapter) GetTxOut(txHash *chainhash.Hash, index uint32, mempool bool) (*btcjson.GetTxOutResult, error) {
	lh, err := btcToLtcHash(txHash)
	if err != nil {
		return nil, err
	}
	out, err := a.c.GetTxOut(lh, index, mempool)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &btcjson.GetTxOutResult{
		BestBlock:     out.BestBlock,
		Confirmations: out.Confirmations,
		Value:         out.Value,
		Coinbase:      out.Coinbase,
	}, nil
}

func (a *ltcRPCAdapter) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	// Litecoin's wire format for the fields HTLC transactions carry is
	// byte-compatible with Bitcoin's, so re-decode the serialization
	// into the ltcsuite type.
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("chainmonitor: serialize tx for litecoin: %w", err)
	}
	var ltx ltcwire.MsgTx
	if err := ltx.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("chainmonitor: re-decode tx for litecoin: %w", err)
	}
	h, err := a.c.SendRawTransaction(&ltx, allowHighFees)
	if err != nil {
		return nil, err
	}
	return ltcToBtcHash(h)
}

func ltcToBtcTx(tx *ltcjson.TxRawResult) btcjson.TxRawResult {
	out := btcjson.TxRawResult{
		Txid:          tx.Txid,
		Hash:          tx.Hash,
		Confirmations: tx.Confirmations,
		Vin:           make([]btcjson.Vin, len(tx.Vin)),
		Vout:          make([]btcjson.Vout, len(tx.Vout)),
	}
	for i, vin := range tx.Vin {
		out.Vin[i] = btcjson.Vin{
			Coinbase: vin.Coinbase,
			Txid:     vin.Txid,
			Vout:     vin.Vout,
			Sequence: vin.Sequence,
			Witness:  vin.Witness,
		}
	}
	for i, vout := range tx.Vout {
		out.Vout[i] = btcjson.Vout{
			Value: vout.Value,
			N:     vout.N,
			ScriptPubKey: btcjson.ScriptPubKeyResult{
				Hex: vout.ScriptPubKey.Hex,
			},
		}
	}
	return out
}

func ltcToBtcHash(h *ltcchainhash.Hash) (*chainhash.Hash, error) {
	return chainhash.NewHash(h[:])
}

func btcToLtcHash(h *chainhash.Hash) (*ltcchainhash.Hash, error) {
	return ltcchainhash.NewHash(h[:])
}
