package bridge

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/intcoin/bridge/crypto/musig2"
)

// fundRequester mints a balance for a withdrawal test via a quorum-signed
// deposit proof.
func fundRequester(t *testing.T, e *Engine, validators []testValidator, requester []byte, amount uint64) {
	t.Helper()
	proof := DepositProof{
		SourceTxHash:       [32]byte{0xab},
		SourceChain:        e.tokens["wBTC-INT"].OriginChain,
		BlockNumber:        800001,
		Depositor:          []byte("depositor"),
		RecipientOnIntcoin: requester,
		Amount:             amount,
		Token:              "wBTC-INT",
	}
	msg := depositProofMessage(proof)
	proof.ValidatorSigs = []ValidatorSignature{
		validators[0].sign(t, msg),
		validators[1].sign(t, msg),
	}
	proofID, err := e.SubmitDepositProof(proof)
	require.NoError(t, err)
	require.NoError(t, e.Mint(proofID, requester, amount, "wBTC-INT"))
}

func pendingWithdrawal(t *testing.T, e *Engine, validators []testValidator) uuid.UUID {
	t.Helper()
	requester := newTestValidator(t, 0) // reuse key generation for the requester identity
	fundRequester(t, e, validators, requester.val.PublicKey, 1_00000000)

	msg := withdrawalRequestMessage(requester.val.PublicKey, []byte("dest"), 50_000_000, "wBTC-INT")
	sig := requester.sign(t, msg)

	id, err := e.RequestWithdrawal(requester.val.PublicKey, []byte("dest"), 50_000_000, "wBTC-INT", sig.Signature)
	require.NoError(t, err)
	return id
}

func TestNewWithdrawalSigningSession(t *testing.T) {
	e, validators := newEngine(t)
	id := pendingWithdrawal(t, e, validators)

	session, err := e.NewWithdrawalSigningSession(id)
	require.NoError(t, err)
	require.Equal(t, 3, len(session.Signers))
	require.Equal(t, 2, session.Threshold)
	require.Equal(t, musig2.SessionInitialized, session.State)
	require.NotNil(t, session.AggregatedKey)

	// The signer set order is pinned, so a second session derives the
	// same aggregate key.
	again, err := e.NewWithdrawalSigningSession(id)
	require.NoError(t, err)
	require.Equal(t,
		session.AggregatedKey.SerializeCompressed(),
		again.AggregatedKey.SerializeCompressed())
}

func TestNewWithdrawalSigningSession_UnknownWithdrawal(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.NewWithdrawalSigningSession(uuid.New())
	require.ErrorIs(t, err, ErrWithdrawalNotFound)
}

func TestNewWithdrawalSigningSession_NotPending(t *testing.T) {
	e, validators := newEngine(t)
	id := pendingWithdrawal(t, e, validators)

	msg := withdrawalSignMessage(id)
	require.NoError(t, e.SignWithdrawal(id, validators[0].sign(t, msg)))
	require.NoError(t, e.SignWithdrawal(id, validators[1].sign(t, msg)))

	_, err := e.NewWithdrawalSigningSession(id)
	require.Error(t, err)
}
