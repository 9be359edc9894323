package chainmonitor

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

// fakeRPCChain is a minimal in-memory stand-in for RPCChain, letting
// tests drive the polling loop without a live node.
type fakeRPCChain struct {
	height int64
	hashes map[int64]*chainhash.Hash
	blocks map[chainhash.Hash]*btcjson.GetBlockVerboseTxResult
	txs    map[chainhash.Hash]*btcjson.TxRawResult
}

func newFakeRPCChain() *fakeRPCChain {
	return &fakeRPCChain{
		hashes: make(map[int64]*chainhash.Hash),
		blocks: make(map[chainhash.Hash]*btcjson.GetBlockVerboseTxResult),
		txs:    make(map[chainhash.Hash]*btcjson.TxRawResult),
	}
}

func (f *fakeRPCChain) GetBlockCount() (int64, error) { return f.height, nil }

func (f *fakeRPCChain) GetBlockHash(height int64) (*chainhash.Hash, error) {
	h, ok := f.hashes[height]
	if !ok {
		return nil, errUnknownHeight
	}
	return h, nil
}

func (f *fakeRPCChain) GetBlockVerboseTx(hash *chainhash.Hash) (*btcjson.GetBlockVerboseTxResult, error) {
	return f.blocks[*hash], nil
}

func (f *fakeRPCChain) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	return f.txs[*txHash], nil
}

func (f *fakeRPCChain) GetTxOut(txHash *chainhash.Hash, index uint32, mempool bool) (*btcjson.GetTxOutResult, error) {
	return nil, nil
}

func (f *fakeRPCChain) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	h := tx.TxHash()
	return &h, nil
}

var errUnknownHeight = errors.New("fake: unknown block height")

func (f *fakeRPCChain) addBlock(height int64, txs []btcjson.TxRawResult) chainhash.Hash {
	// Fill any gap below height with empty blocks so a rescan window
	// that extends before the first real block doesn't hit unknown
	// heights.
	for h := int64(0); h < height; h++ {
		if _, ok := f.hashes[h]; !ok {
			f.fillEmpty(h)
		}
	}

	var blockHash chainhash.Hash
	blockHash[0] = byte(height)
	blockHash[1] = byte(height >> 8)
	blockHash[2] = 0xff // avoid colliding with the all-zero empty-block hash
	f.hashes[height] = &blockHash
	f.blocks[blockHash] = &btcjson.GetBlockVerboseTxResult{
		Hash:   blockHash.String(),
		Height: height,
		Tx:     txs,
	}
	for _, tx := range txs {
		h, _ := chainhash.NewHashFromStr(tx.Txid)
		f.txs[*h] = &tx
	}
	if height > f.height {
		f.height = height
	}
	return blockHash
}

func (f *fakeRPCChain) fillEmpty(height int64) {
	var blockHash chainhash.Hash
	blockHash[0] = byte(height)
	blockHash[1] = byte(height >> 8)
	f.hashes[height] = &blockHash
	f.blocks[blockHash] = &btcjson.GetBlockVerboseTxResult{
		Hash:   blockHash.String(),
		Height: height,
	}
}

func mkTxid(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestMonitor_WatchHTLC_IsIdempotent(t *testing.T) {
	m := NewMonitor(chainmodel.ChainBitcoin, newFakeRPCChain(), RescanDepthBTC, PollIntervalBTCFamily)
	var ph htlc.PaymentHash = []byte{1, 2, 3}
	require.NoError(t, m.WatchHTLC(ph, htlc.HashSHA256, []byte("r"), []byte("f"), 100))
	require.NoError(t, m.WatchHTLC(ph, htlc.HashSHA256, []byte("r"), []byte("f"), 100))
	require.Len(t, m.watches, 1)
}

func TestMonitor_PollOnce_DetectsHTLCFunded(t *testing.T) {
	rpc := newFakeRPCChain()
	m := NewMonitor(chainmodel.ChainBitcoin, rpc, 6, time.Millisecond)

	preimage := htlc.Preimage{0xAA}
	paymentHash, err := htlc.HashPreimage(preimage, htlc.HashSHA256)
	require.NoError(t, err)
	require.NoError(t, m.WatchHTLC(paymentHash, htlc.HashSHA256, []byte("recipient"), []byte("refund"), 700000))

	txid := mkTxid(0x01)
	script := append([]byte{0x76, 0xa9}, paymentHash...)
	rpc.addBlock(100, []btcjson.TxRawResult{
		{
			Txid: txid.String(),
			Vout: []btcjson.Vout{
				{
					Value: 0.5,
					N:     0,
					ScriptPubKey: btcjson.ScriptPubKeyResult{
						Hex: hex.EncodeToString(script),
					},
				},
			},
		},
	})

	require.NoError(t, m.pollOnce(context.Background()))

	var funded Event
	found := false
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventHTLCFunded {
				funded = ev
				found = true
			}
		default:
			goto done
		}
	}
done:
	require.True(t, found, "expected an htlc_funded event")
	require.Equal(t, uint64(50000000), funded.Amount)
	require.Equal(t, uint32(0), funded.Vout)
}

func TestMonitor_HoldsFundedEventUntilRequiredDepth(t *testing.T) {
	rpc := newFakeRPCChain()
	m := NewMonitor(chainmodel.ChainBitcoin, rpc, 6, time.Millisecond)
	m.SetRequiredConfirmations(3)

	preimage := htlc.Preimage{0xCC}
	paymentHash, err := htlc.HashPreimage(preimage, htlc.HashSHA256)
	require.NoError(t, err)
	require.NoError(t, m.WatchHTLC(paymentHash, htlc.HashSHA256, []byte("recipient"), []byte("refund"), 700000))

	script := append([]byte{0x76, 0xa9}, paymentHash...)
	rpc.addBlock(100, []btcjson.TxRawResult{{
		Txid: mkTxid(0x03).String(),
		Vout: []btcjson.Vout{{Value: 1, N: 0, ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: hex.EncodeToString(script)}}},
	}})

	drainFunded := func() []Event {
		var out []Event
		for {
			select {
			case ev := <-m.Events():
				if ev.Kind == EventHTLCFunded {
					out = append(out, ev)
				}
			default:
				return out
			}
		}
	}

	// At depth 1 and 2 the notification is held.
	require.NoError(t, m.pollOnce(context.Background()))
	require.Empty(t, drainFunded())

	rpc.addBlock(101, nil)
	require.NoError(t, m.pollOnce(context.Background()))
	require.Empty(t, drainFunded())

	// Depth 3: the one delivered event carries the gated-on depth.
	rpc.addBlock(102, nil)
	require.NoError(t, m.pollOnce(context.Background()))
	funded := drainFunded()
	require.Len(t, funded, 1)
	require.Equal(t, uint32(3), funded[0].Confirmations)

	// Later polls do not re-emit.
	rpc.addBlock(103, nil)
	require.NoError(t, m.pollOnce(context.Background()))
	require.Empty(t, drainFunded())
}

func TestMonitor_PollOnce_IgnoresSecondFunding(t *testing.T) {
	rpc := newFakeRPCChain()
	m := NewMonitor(chainmodel.ChainBitcoin, rpc, 6, time.Millisecond)

	preimage := htlc.Preimage{0xBB}
	paymentHash, err := htlc.HashPreimage(preimage, htlc.HashSHA256)
	require.NoError(t, err)
	require.NoError(t, m.WatchHTLC(paymentHash, htlc.HashSHA256, nil, nil, 700000))

	script := append([]byte{0x76, 0xa9}, paymentHash...)
	mkVout := func(txid string) btcjson.TxRawResult {
		return btcjson.TxRawResult{
			Txid: txid,
			Vout: []btcjson.Vout{{Value: 1, N: 0, ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: hex.EncodeToString(script)}}},
		}
	}
	rpc.addBlock(100, []btcjson.TxRawResult{mkVout(mkTxid(0x01).String())})
	require.NoError(t, m.pollOnce(context.Background()))
	rpc.addBlock(101, []btcjson.TxRawResult{mkVout(mkTxid(0x02).String())})
	require.NoError(t, m.pollOnce(context.Background()))

	count := 0
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventHTLCFunded {
				count++
			}
		default:
			require.Equal(t, 1, count, "double-funding must only be observed once")
			return
		}
	}
}
