package rpc

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
	"github.com/intcoin/bridge/swap"
)

type nopVerifier struct{}

func (nopVerifier) Verify(pubkey, message, signature []byte) bool { return true }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := bridge.Config{MinValidators: 1, TotalValidators: 1, FeeBasisPoints: 0, WithdrawalTimeout: 3600}
	engine, err := bridge.NewEngine(cfg, nopVerifier{})
	require.NoError(t, err)
	require.NoError(t, engine.RegisterWrappedToken(bridge.WrappedToken{Symbol: "wBTC", OriginChain: chainmodel.ChainBitcoin, Decimals: 8}))
	require.NoError(t, engine.AddValidator(bridge.Validator{PublicKey: []byte("validator-1"), Stake: 1}))

	var key [32]byte
	coordinator := swap.NewCoordinator(swap.Config{HashAlgorithm: htlc.HashSHA256}, nil, nil, swap.NewMemoryPreimageStore(key))

	return NewServer(engine, coordinator)
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestServer_BridgeDepositAndBalance(t *testing.T) {
	s := newTestServer(t)

	depositCmd := BridgeDepositCmd{
		Chain:       "bitcoin",
		Token:       "wBTC",
		TxHash:      hex.EncodeToString(make([]byte, 32)),
		BlockNumber: 100,
		Depositor:   hex.EncodeToString([]byte("depositor")),
		Recipient:   hex.EncodeToString([]byte("recipient")),
		Amount:      5000,
		ValidatorSigs: []ValidatorSigParam{
			{ValidatorPubkeyHex: hex.EncodeToString([]byte("validator-1")), SignatureHex: "00"},
		},
	}
	resp := s.Dispatch(Request{Jsonrpc: "2.0", Method: "bridge.deposit", Params: mustMarshal(t, depositCmd), ID: 1})
	require.Nil(t, resp.Error)
	depositResult, ok := resp.Result.(BridgeDepositResult)
	require.True(t, ok)
	require.Equal(t, "validated", depositResult.Status)

	// Submitting a deposit proof does not itself mint; balance stays zero
	// until a separate bridge.Mint call consumes the proof.
	balCmd := GetBridgeBalanceCmd{Address: hex.EncodeToString([]byte("recipient")), Tokens: []string{"wBTC"}}
	resp = s.Dispatch(Request{Jsonrpc: "2.0", Method: "bridge.get_balance", Params: mustMarshal(t, balCmd), ID: 2})
	require.Nil(t, resp.Error)
	balResult, ok := resp.Result.(GetBridgeBalanceResult)
	require.True(t, ok)
	require.Equal(t, uint64(0), balResult.Balances["wBTC"]) // not yet minted
}

func TestServer_BridgeInfo(t *testing.T) {
	s := newTestServer(t)

	resp := s.Dispatch(Request{Jsonrpc: "2.0", Method: "bridge.info", ID: 1})
	require.Nil(t, resp.Error)
	info, ok := resp.Result.(GetBridgeInfoResult)
	require.True(t, ok)
	require.Equal(t, "active", info.Status)
	require.Equal(t, 1, info.Validators.Total)
	require.Equal(t, 1, info.Validators.Active)
	require.Equal(t, uint32(1), info.Validators.Threshold)
	require.Equal(t, []string{"wBTC"}, info.Tokens)
	require.Equal(t, uint64(3600), info.WithdrawalTimeout)
}

func TestServer_UnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := s.Dispatch(Request{Jsonrpc: "2.0", Method: "bridge.nonexistent", ID: 1})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_SwapOfferLifecycle(t *testing.T) {
	s := newTestServer(t)

	createCmd := CreateOfferCmd{
		InitiatorChain:    "bitcoin",
		ParticipantChain:  "ethereum",
		InitiatorAmount:   1000,
		ParticipantAmount: 2000,
		InitiatorPubkey:   hex.EncodeToString([]byte("initiator-pubkey")),
		LocktimeHours:     72,
	}
	resp := s.Dispatch(Request{Jsonrpc: "2.0", Method: "swap.create_offer", Params: mustMarshal(t, createCmd), ID: 1})
	require.Nil(t, resp.Error)
	created, ok := resp.Result.(CreateOfferResult)
	require.True(t, ok)
	require.NotEmpty(t, created.SwapID)

	infoCmd := GetSwapInfoCmd{SwapID: created.SwapID}
	resp = s.Dispatch(Request{Jsonrpc: "2.0", Method: "swap.get_info", Params: mustMarshal(t, infoCmd), ID: 2})
	require.Nil(t, resp.Error)
	info, ok := resp.Result.(GetSwapInfoResult)
	require.True(t, ok)
	require.Equal(t, "OfferCreated", info.Swap.State)

	resp = s.Dispatch(Request{Jsonrpc: "2.0", Method: "swap.list_active", ID: 3})
	require.Nil(t, resp.Error)
	list, ok := resp.Result.(ListActiveResult)
	require.True(t, ok)
	require.Len(t, list.Swaps, 1)
}
