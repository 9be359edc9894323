package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

func TestSwapConfig_HashAlgorithmValue(t *testing.T) {
	c := SwapConfig{HashAlgorithm: "ripemd160"}
	algo, err := c.HashAlgorithmValue()
	require.NoError(t, err)
	require.Equal(t, htlc.HashRIPEMD160, algo)

	_, err = SwapConfig{HashAlgorithm: "bogus"}.HashAlgorithmValue()
	require.Error(t, err)
}

func TestBridgeConfig_ToBridgeConfig(t *testing.T) {
	c := BridgeConfig{
		MinValidators:   2,
		TotalValidators: 3,
		FeeBasisPoints:  10,
		SignatureScheme: "musig2",
		TreasuryAddress: "treasury",
	}
	bc, err := c.ToBridgeConfig()
	require.NoError(t, err)
	require.Equal(t, bridge.SignatureSchemeMuSig2, bc.SignatureScheme)
	require.Equal(t, uint32(2), bc.MinValidators)
	require.NoError(t, bc.Validate())
}

func TestChainMonitorConfig_ResolveEndpoints(t *testing.T) {
	c := ChainMonitorConfig{
		Chains: map[string]string{
			"bitcoin.url":                   "localhost:8332",
			"bitcoin.user":                  "rpcuser",
			"bitcoin.password":              "rpcpass",
			"bitcoin.poll_interval_seconds": "15",
			"ethereum.url":                  "localhost:8545",
			"ethereum.tls":                  "true",
		},
	}
	resolved, err := c.ResolveEndpoints()
	require.NoError(t, err)

	btc := resolved[chainmodel.ChainBitcoin]
	require.Equal(t, "localhost:8332", btc.RPCHost)
	require.Equal(t, "rpcuser", btc.RPCUser)
	require.Equal(t, 15*time.Second, btc.PollInterval)

	eth := resolved[chainmodel.ChainEthereum]
	require.Equal(t, "localhost:8545", eth.RPCHost)
	require.True(t, eth.UseTLS)
}

func TestChainMonitorConfig_ResolveEndpoints_Errors(t *testing.T) {
	_, err := ChainMonitorConfig{Chains: map[string]string{"bitcoin": "x"}}.ResolveEndpoints()
	require.Error(t, err)

	_, err = ChainMonitorConfig{Chains: map[string]string{"bitcoin.bogus": "x"}}.ResolveEndpoints()
	require.Error(t, err)

	_, err = ChainMonitorConfig{Chains: map[string]string{"bitcoin.user": "u"}}.ResolveEndpoints()
	require.Error(t, err) // url missing
}

func TestSPVConfig_ResolveCheckpoints(t *testing.T) {
	c := SPVConfig{Checkpoints: map[string]string{"100": "abc123", "not-a-number": "x"}}
	_, err := c.ResolveCheckpoints()
	require.Error(t, err)

	c = SPVConfig{Checkpoints: map[string]string{"100": "abc123"}}
	resolved, err := c.ResolveCheckpoints()
	require.NoError(t, err)
	require.Equal(t, "abc123", resolved[100])
}
