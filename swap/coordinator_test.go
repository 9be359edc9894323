package swap

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/chainmonitor"
	"github.com/intcoin/bridge/htlc"
)

// fakeMonitor is a minimal ChainMonitor test double: it records every
// watch and broadcast call and lets the test inject Events directly.
type fakeMonitor struct {
	mu         sync.Mutex
	chain      chainmodel.ChainId
	events     chan chainmonitor.Event
	watches    []htlc.PaymentHash
	broadcasts []string
	height     uint64
}

func newFakeMonitor(chain chainmodel.ChainId) *fakeMonitor {
	return &fakeMonitor{chain: chain, events: make(chan chainmonitor.Event, 16)}
}

func (m *fakeMonitor) Chain() chainmodel.ChainId { return m.chain }

func (m *fakeMonitor) WatchHTLC(paymentHash htlc.PaymentHash, algorithm htlc.HashAlgorithm, recipientPubkey, refundPubkey []byte, locktime uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches = append(m.watches, paymentHash)
	return nil
}

func (m *fakeMonitor) StopWatching(paymentHash htlc.PaymentHash) {}

func (m *fakeMonitor) GetCurrentHeight(ctx context.Context) (uint64, error) { return m.height, nil }

func (m *fakeMonitor) GetConfirmations(ctx context.Context, txHash chainmodel.Hash256) (uint32, error) {
	return 6, nil
}

func (m *fakeMonitor) IsSpent(ctx context.Context, txHash chainmodel.Hash256, vout uint32) (bool, error) {
	return false, nil
}

func (m *fakeMonitor) BroadcastTransaction(ctx context.Context, rawHex string) (chainmodel.Hash256, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, rawHex)
	var h chainmodel.Hash256
	h[0] = byte(len(m.broadcasts))
	return h, nil
}

func (m *fakeMonitor) WaitForConfirmations(ctx context.Context, txHash chainmodel.Hash256, n uint32) error {
	return nil
}

func (m *fakeMonitor) Events() <-chan chainmonitor.Event { return m.events }

func (m *fakeMonitor) Ledger() *chainmonitor.LockedLedger { return chainmonitor.NewLockedLedger() }

func (m *fakeMonitor) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeMonitor) push(ev chainmonitor.Event) { m.events <- ev }

// fakeMonitorSource implements monitorSource over a fixed chain->monitor map.
type fakeMonitorSource struct {
	monitors map[chainmodel.ChainId]*fakeMonitor
}

func (s *fakeMonitorSource) Get(chain chainmodel.ChainId) (chainmonitor.ChainMonitor, bool) {
	mon, ok := s.monitors[chain.Mainnet()]
	return mon, ok
}

// fakeTxBuilder returns deterministic placeholder hex for every build call.
type fakeTxBuilder struct{}

func (fakeTxBuilder) BuildFundingTransaction(chain chainmodel.ChainId, script htlc.Script, amount uint64) (string, error) {
	return "fundtx", nil
}

func (fakeTxBuilder) BuildClaimTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.ClaimWitness) (string, error) {
	return "claimtx", nil
}

func (fakeTxBuilder) BuildRefundTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.RefundWitness) (string, error) {
	return "refundtx", nil
}

func newTestCoordinator(t *testing.T, btcMon, ethMon *fakeMonitor) *Coordinator {
	t.Helper()
	src := &fakeMonitorSource{monitors: map[chainmodel.ChainId]*fakeMonitor{
		chainmodel.ChainBitcoin:  btcMon,
		chainmodel.ChainEthereum: ethMon,
	}}
	var key [32]byte
	copy(key[:], sha256.New().Sum([]byte("test-key")))
	cfg := Config{
		HashAlgorithm: htlc.HashSHA256,
		ConfirmationsRequired: map[chainmodel.ChainId]uint32{
			chainmodel.ChainBitcoin:  1,
			chainmodel.ChainEthereum: 1,
		},
	}
	return NewCoordinator(cfg, src, fakeTxBuilder{}, NewMemoryPreimageStore(key))
}

func TestCoordinator_HappyPath(t *testing.T) {
	btcMon := newFakeMonitor(chainmodel.ChainBitcoin)
	ethMon := newFakeMonitor(chainmodel.ChainEthereum)
	c := newTestCoordinator(t, btcMon, ethMon)

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixedNow }

	offer, err := c.CreateOffer(chainmodel.ChainBitcoin, chainmodel.ChainEthereum, 100000, 500000, []byte("initiator-pubkey"), 72*time.Hour)
	require.NoError(t, err)

	info, err := c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, OfferCreated, info.State)
	require.Equal(t, RoleInitiator, info.Role)

	accepted, err := c.AcceptOffer(offer, []byte("participant-pubkey"))
	require.NoError(t, err)
	info, err = c.GetSwapInfo(accepted.SwapID)
	require.NoError(t, err)
	require.Equal(t, OfferAccepted, info.State)

	ctx := context.Background()

	// Participant funds their leg on Ethereum (the participant chain).
	// The coordinator used here plays both roles for test simplicity, so
	// force the record into the participant's shoes before calling.
	c.mu.Lock()
	c.swaps[offer.SwapID].info.Role = RoleParticipant
	c.mu.Unlock()
	_, err = c.FundParticipantLeg(ctx, offer.SwapID)
	require.NoError(t, err)
	require.Len(t, ethMon.watches, 1)

	// Observe the participant's funding at sufficient depth, from the
	// initiator's perspective.
	c.mu.Lock()
	c.swaps[offer.SwapID].info.Role = RoleInitiator
	c.swaps[offer.SwapID].info.State = OfferAccepted
	c.mu.Unlock()
	c.handleEvent(chainmonitor.Event{
		Kind:          chainmonitor.EventHTLCFunded,
		Chain:         chainmodel.ChainEthereum,
		PaymentHash:   offer.PaymentHash,
		Confirmations: 6,
		TxHash:        chainmodel.Hash256{0x01},
		Vout:          0,
	})
	info, err = c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, ParticipantHtlcFunded, info.State)

	// Initiator funds their leg on Bitcoin.
	_, err = c.FundInitiatorLeg(ctx, offer.SwapID)
	require.NoError(t, err)
	require.Len(t, btcMon.watches, 1)

	info, err = c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, InitiatorHtlcFunded, info.State)

	// Participant (simulated) spends the initiator's Bitcoin HTLC,
	// revealing the preimage; the coordinator captures it.
	preimage, found, err := c.preimages.Get(offer.SwapID)
	require.NoError(t, err)
	require.True(t, found)

	c.handleEvent(chainmonitor.Event{
		Kind:        chainmonitor.EventHTLCSpent,
		Chain:       chainmodel.ChainBitcoin,
		PaymentHash: offer.PaymentHash,
		Preimage:    &preimage,
	})
	info, err = c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, ParticipantClaimed, info.State)
	require.NotNil(t, info.Preimage)
	require.Equal(t, preimage, *info.Preimage)

	// Initiator claims the participant's Ethereum HTLC with the captured preimage.
	_, err = c.ClaimParticipantLeg(ctx, offer.SwapID, []byte("sig"))
	require.NoError(t, err)
	info, err = c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, InitiatorClaimed, info.State)
	require.Len(t, ethMon.broadcasts, 2) // funding + claim

	// Observing the claim spend on the participant chain completes the swap.
	c.handleEvent(chainmonitor.Event{
		Kind:        chainmonitor.EventHTLCSpent,
		Chain:       chainmodel.ChainEthereum,
		PaymentHash: offer.PaymentHash,
	})
	info, err = c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, Completed, info.State)
	require.True(t, info.State.Terminal())
}

func TestCoordinator_ParticipantRefund(t *testing.T) {
	btcMon := newFakeMonitor(chainmodel.ChainBitcoin)
	ethMon := newFakeMonitor(chainmodel.ChainEthereum)
	c := newTestCoordinator(t, btcMon, ethMon)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	c.now = func() time.Time { return clock }

	offer, err := c.CreateOffer(chainmodel.ChainBitcoin, chainmodel.ChainEthereum, 100000, 500000, []byte("initiator-pubkey"), 72*time.Hour)
	require.NoError(t, err)
	_, err = c.AcceptOffer(offer, []byte("participant-pubkey"))
	require.NoError(t, err)

	c.mu.Lock()
	c.swaps[offer.SwapID].info.Role = RoleParticipant
	c.mu.Unlock()

	ctx := context.Background()
	_, err = c.FundParticipantLeg(ctx, offer.SwapID)
	require.NoError(t, err)

	// The initiator never funds their own leg. Once we're past
	// participant_locktime, the participant can reclaim their funds.
	clock = offer.ParticipantLocktime.Add(time.Minute)

	_, err = c.RefundLeg(ctx, offer.SwapID, []byte("refund-sig"))
	require.NoError(t, err)

	info, err := c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, Refunded, info.State)
	require.True(t, info.State.Terminal())
	require.Len(t, ethMon.broadcasts, 2) // funding + refund
}

func TestCoordinator_InitiatorFundingDeadlineExpires(t *testing.T) {
	btcMon := newFakeMonitor(chainmodel.ChainBitcoin)
	ethMon := newFakeMonitor(chainmodel.ChainEthereum)
	c := newTestCoordinator(t, btcMon, ethMon)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	c.now = func() time.Time { return clock }

	offer, err := c.CreateOffer(chainmodel.ChainBitcoin, chainmodel.ChainEthereum, 100000, 500000, []byte("initiator-pubkey"), 72*time.Hour)
	require.NoError(t, err)
	_, err = c.AcceptOffer(offer, []byte("participant-pubkey"))
	require.NoError(t, err)

	// Jump past participant_locktime - 48h without the initiator funding.
	clock = offer.ParticipantLocktime.Add(-InitiatorFundingDeadline).Add(time.Minute)
	c.checkExpirations()

	info, err := c.GetSwapInfo(offer.SwapID)
	require.NoError(t, err)
	require.Equal(t, Failed, info.State)
	require.NotEmpty(t, info.FailureReason)
}

func TestSwapOffer_ValidateRejectsNarrowSafetyBuffer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offer := SwapOffer{
		InitiatorAmount:     1,
		ParticipantAmount:   1,
		PaymentHash:         htlc.PaymentHash{0x01},
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Hour),
		ParticipantLocktime: now.Add(48 * time.Hour),
		InitiatorLocktime:   now.Add(60 * time.Hour), // only 12h gap, < SafetyBuffer
	}
	require.ErrorIs(t, offer.Validate(), ErrInvalidOffer)
}
