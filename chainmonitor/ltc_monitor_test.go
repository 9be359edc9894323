package chainmonitor

import (
	"testing"

	ltcjson "github.com/ltcsuite/ltcd/btcjson"
	ltcchainhash "github.com/ltcsuite/ltcd/chaincfg/chainhash"
	ltcwire "github.com/ltcsuite/ltcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/chainmodel"
)

type fakeLtcRPC struct {
	height int64
	block  *ltcjson.GetBlockVerboseTxResult
}

func (f *fakeLtcRPC) GetBlockCount() (int64, error) { return f.height, nil }

func (f *fakeLtcRPC) GetBlockHash(height int64) (*ltcchainhash.Hash, error) {
	var h ltcchainhash.Hash
	h[0] = byte(height)
	return &h, nil
}

func (f *fakeLtcRPC) GetBlockVerboseTx(hash *ltcchainhash.Hash) (*ltcjson.GetBlockVerboseTxResult, error) {
	return f.block, nil
}

func (f *fakeLtcRPC) GetRawTransactionVerbose(txHash *ltcchainhash.Hash) (*ltcjson.TxRawResult, error) {
	return &ltcjson.TxRawResult{Txid: txHash.String(), Confirmations: 3}, nil
}

func (f *fakeLtcRPC) GetTxOut(txHash *ltcchainhash.Hash, index uint32, mempool bool) (*ltcjson.GetTxOutResult, error) {
	return nil, nil
}

func (f *fakeLtcRPC) SendRawTransaction(tx *ltcwire.MsgTx, allowHighFees bool) (*ltcchainhash.Hash, error) {
	h := tx.TxHash()
	return &h, nil
}

func TestNewLtcMonitor_RequiresLitecoinChain(t *testing.T) {
	_, err := NewLtcMonitor(chainmodel.ChainBitcoin, &fakeLtcRPC{})
	require.Error(t, err)

	m, err := NewLtcMonitor(chainmodel.ChainLitecoin, &fakeLtcRPC{})
	require.NoError(t, err)
	require.Equal(t, chainmodel.ChainLitecoin, m.Chain())
}

func TestLtcAdapter_ConvertsBlockAndTxFields(t *testing.T) {
	rpc := &fakeLtcRPC{
		height: 42,
		block: &ltcjson.GetBlockVerboseTxResult{
			Hash:   "00ab",
			Height: 42,
			Tx: []ltcjson.TxRawResult{{
				Txid: "11ee",
				Vin: []ltcjson.Vin{{
					Txid:    "22cc",
					Vout:    1,
					Witness: []string{"aa", "bb"},
				}},
				Vout: []ltcjson.Vout{{
					Value: 1.5,
					N:     0,
					ScriptPubKey: ltcjson.ScriptPubKeyResult{
						Hex: "51",
					},
				}},
			}},
		},
	}
	a := &ltcRPCAdapter{c: rpc}

	height, err := a.GetBlockCount()
	require.NoError(t, err)
	require.Equal(t, int64(42), height)

	hash, err := a.GetBlockHash(42)
	require.NoError(t, err)

	block, err := a.GetBlockVerboseTx(hash)
	require.NoError(t, err)
	require.Equal(t, int64(42), block.Height)
	require.Len(t, block.Tx, 1)
	require.Equal(t, "11ee", block.Tx[0].Txid)
	require.Equal(t, "22cc", block.Tx[0].Vin[0].Txid)
	require.Equal(t, []string{"aa", "bb"}, block.Tx[0].Vin[0].Witness)
	require.Equal(t, 1.5, block.Tx[0].Vout[0].Value)
	require.Equal(t, "51", block.Tx[0].Vout[0].ScriptPubKey.Hex)

	out, err := a.GetTxOut(hash, 0, false)
	require.NoError(t, err)
	require.Nil(t, out)
}
