package musig2

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionCreation tests basic session creation
func TestSessionCreation(t *testing.T) {
	signers, signerIDs := generateTestSigners(t, 5)
	message := []byte("withdrawal wd-42: 20000000 wBTC to 0xff")

	t.Run("ValidSession", func(t *testing.T) {
		session, err := NewSession(signers, signerIDs, 3, message, time.Hour)
		require.NoError(t, err)
		assert.NotNil(t, session)

		assert.Equal(t, 5, len(session.Signers))
		assert.Equal(t, 3, session.Threshold)
		assert.Equal(t, message, session.Message)
		assert.Equal(t, SessionInitialized, session.State)
		assert.NotNil(t, session.AggregatedKey)
		assert.True(t, session.ExpiresAt.After(time.Now()))
	})

	t.Run("MismatchedSigners", func(t *testing.T) {
		wrongIDs := signerIDs[:3]
		_, err := NewSession(signers, wrongIDs, 3, message, time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "signer count mismatch")
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		_, err := NewSession(signers, signerIDs, 6, message, time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "threshold 6 exceeds signers")

		_, err = NewSession(signers, signerIDs, 0, message, time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "threshold must be at least 1")
	})
}

// TestSessionWorkflow tests the complete three-phase signing workflow
func TestSessionWorkflow(t *testing.T) {
	signers, signerIDs := generateTestSigners(t, 5)
	message := []byte("withdrawal wd-7: 50000000 wBTC")

	session, err := NewSession(signers, signerIDs, 3, message, time.Hour)
	require.NoError(t, err)

	nonces := make(map[string]*testNoncePair)

	t.Run("Phase1_NonceCommitments", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			id := signerIDs[i]
			pair := generateTestNoncePair(t)
			nonces[id] = pair

			err := session.AddNonceCommitment(id, pair.commitment)
			require.NoError(t, err)

			signer := session.Signers[i]
			assert.Equal(t, SignerNonceCommitted, signer.Status)
		}

		state, completed, threshold := session.GetSessionStatus()
		assert.Equal(t, SessionNonceRevealPhase, state)
		assert.Equal(t, 0, completed)
		assert.Equal(t, 3, threshold)
	})

	t.Run("Phase2_NonceReveals", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			id := signerIDs[i]
			pair := nonces[id]

			err := session.AddNonceReveal(id, pair.r1, pair.r2)
			require.NoError(t, err)

			signer := session.Signers[i]
			assert.Equal(t, SignerNonceRevealed, signer.Status)
		}

		state, _, _ := session.GetSessionStatus()
		assert.Equal(t, SessionSigningPhase, state)
	})

	t.Run("Phase3_PartialSignatures", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			id := signerIDs[i]
			partial := generateTestPartialSig(t, id)

			// Partial signatures here are synthetic, so finalization may
			// verify or fail; either way every signer's contribution must
			// be recorded.
			_ = session.AddPartialSignature(id, partial)

			signer := session.Signers[i]
			assert.Equal(t, SignerSignatureProvided, signer.Status)
		}

		state, completed, threshold := session.GetSessionStatus()
		assert.True(t, state == SessionCompleted || state == SessionFailed)
		assert.Equal(t, 3, completed)
		assert.Equal(t, 3, threshold)
	})
}

// TestParallelSigning exercises concurrent phase submissions from every
// signer at once
func TestParallelSigning(t *testing.T) {
	signers, signerIDs := generateTestSigners(t, 8)
	message := []byte("withdrawal wd-99: parallel signing")

	session, err := NewSession(signers, signerIDs, 8, message, time.Hour)
	require.NoError(t, err)

	nonces := make(map[string]*testNoncePair)
	var noncesMu sync.Mutex

	t.Run("ParallelCommitments", func(t *testing.T) {
		var wg sync.WaitGroup
		for _, id := range signerIDs {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				pair := generateTestNoncePair(t)
				noncesMu.Lock()
				nonces[id] = pair
				noncesMu.Unlock()
				err := session.AddNonceCommitment(id, pair.commitment)
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		state, _, _ := session.GetSessionStatus()
		assert.Equal(t, SessionNonceRevealPhase, state)
		assert.Equal(t, 8, len(session.NonceCommitments))
	})

	t.Run("ParallelReveals", func(t *testing.T) {
		var wg sync.WaitGroup
		for _, id := range signerIDs {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				noncesMu.Lock()
				pair := nonces[id]
				noncesMu.Unlock()
				err := session.AddNonceReveal(id, pair.r1, pair.r2)
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		state, _, _ := session.GetSessionStatus()
		assert.Equal(t, SessionSigningPhase, state)
		assert.Equal(t, 8, len(session.NonceReveals))
	})
}

// TestFaultTolerance covers expiry, out-of-order phases and commitment
// mismatches
func TestFaultTolerance(t *testing.T) {
	signers, signerIDs := generateTestSigners(t, 5)
	message := []byte("withdrawal wd-13: fault tolerance")

	t.Run("SessionExpiry", func(t *testing.T) {
		session, err := NewSession(signers, signerIDs, 3, message, time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		pair := generateTestNoncePair(t)
		err = session.AddNonceCommitment(signerIDs[0], pair.commitment)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session expired")
	})

	t.Run("OutOfOrderPhases", func(t *testing.T) {
		session, err := NewSession(signers, signerIDs, 3, message, time.Hour)
		require.NoError(t, err)

		pair := generateTestNoncePair(t)
		err = session.AddNonceReveal(signerIDs[0], pair.r1, pair.r2)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid state")

		err = session.AddPartialSignature(signerIDs[0], big.NewInt(1))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid state")
	})

	t.Run("NonceCommitmentMismatch", func(t *testing.T) {
		session, err := NewSession(signers, signerIDs, 3, message, time.Hour)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			pair := generateTestNoncePair(t)
			err := session.AddNonceCommitment(signerIDs[i], pair.commitment)
			require.NoError(t, err)
		}

		// Reveal nonces that do not match the earlier commitment.
		other := generateTestNoncePair(t)
		err = session.AddNonceReveal(signerIDs[0], other.r1, other.r2)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "nonce reveal does not match commitment")

		assert.Greater(t, len(session.Errors), 0)
		assert.Equal(t, "NONCE_MISMATCH", session.Errors[len(session.Errors)-1].ErrorType)
	})

	t.Run("UnknownSigner", func(t *testing.T) {
		session, err := NewSession(signers, signerIDs, 3, message, time.Hour)
		require.NoError(t, err)

		pair := generateTestNoncePair(t)
		err = session.AddNonceCommitment("not-a-validator", pair.commitment)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

// TestFederationSession tests the bridge-federation parameterization
func TestFederationSession(t *testing.T) {
	validators, validatorIDs := generateTestSigners(t, 3)
	message := []byte("withdrawal wd-1: federation quorum")

	t.Run("ValidFederation", func(t *testing.T) {
		session, err := FederationSession(validators, validatorIDs, 2, message, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, len(session.Signers))
		assert.Equal(t, 2, session.Threshold)
	})

	t.Run("EmptyFederation", func(t *testing.T) {
		_, err := FederationSession(nil, nil, 1, message, time.Hour)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one validator")
	})
}

// TestKeyAgg verifies key aggregation properties
func TestKeyAgg(t *testing.T) {
	t.Run("SingleKey", func(t *testing.T) {
		signers, _ := generateTestSigners(t, 1)
		agg, err := KeyAgg(signers)
		require.NoError(t, err)
		assert.Equal(t, signers[0].SerializeCompressed(), agg.SerializeCompressed())
	})

	t.Run("Deterministic", func(t *testing.T) {
		signers, _ := generateTestSigners(t, 4)
		agg1, err := KeyAgg(signers)
		require.NoError(t, err)
		agg2, err := KeyAgg(signers)
		require.NoError(t, err)
		assert.Equal(t, agg1.SerializeCompressed(), agg2.SerializeCompressed())
	})

	t.Run("OrderSensitive", func(t *testing.T) {
		signers, _ := generateTestSigners(t, 4)
		reversed := make([]btcec.PublicKey, len(signers))
		for i := range signers {
			reversed[len(signers)-1-i] = signers[i]
		}
		agg1, err := KeyAgg(signers)
		require.NoError(t, err)
		agg2, err := KeyAgg(reversed)
		require.NoError(t, err)
		assert.NotEqual(t, agg1.SerializeCompressed(), agg2.SerializeCompressed())
	})

	t.Run("NoKeys", func(t *testing.T) {
		_, err := KeyAgg(nil)
		assert.Error(t, err)
	})
}

// Test helpers

type testNoncePair struct {
	r1, r2     *btcec.PublicKey
	commitment [32]byte
}

func generateTestSigners(t *testing.T, n int) ([]btcec.PublicKey, []string) {
	t.Helper()
	signers := make([]btcec.PublicKey, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		signers[i] = *priv.PubKey()
		ids[i] = fmt.Sprintf("validator-%d", i)
	}
	return signers, ids
}

func generateTestNoncePair(t *testing.T) *testNoncePair {
	t.Helper()
	k1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	k2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	r1, r2 := k1.PubKey(), k2.PubKey()
	h := sha256.New()
	h.Write(r1.SerializeCompressed())
	h.Write(r2.SerializeCompressed())
	var commitment [32]byte
	copy(commitment[:], h.Sum(nil))

	return &testNoncePair{r1: r1, r2: r2, commitment: commitment}
}

func generateTestPartialSig(t *testing.T, signerID string) *big.Int {
	t.Helper()
	digest := sha256.Sum256([]byte("partial-" + signerID))
	s := new(big.Int).SetBytes(digest[:])
	s.Mod(s, btcec.S256().N)
	return s
}
