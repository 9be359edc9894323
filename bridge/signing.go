package bridge

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/intcoin/bridge/crypto/musig2"
)

// NewWithdrawalSigningSession opens a MuSig2 session over withdrawalID's
// signing message for the currently-active validator set. Used when the
// bridge instance is configured with SignatureSchemeMuSig2: validators
// run the session out of band (nonce commit, reveal, partial sign) and
// submit the single aggregate signature via SignWithdrawal, where
// MuSig2Verifier checks it against the set's aggregated key.
// The session threshold is min_validators and its expiry is the
// withdrawal's remaining lifetime, so a quorum that cannot assemble the
// signature before the withdrawal expires abandons the session with it.
func (e *Engine) NewWithdrawalSigningSession(withdrawalID uuid.UUID) (*musig2.Session, error) {
	e.mu.Lock()
	w, ok := e.withdrawals[withdrawalID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrWithdrawalNotFound
	}
	if w.Status != WithdrawalPending {
		e.mu.Unlock()
		return nil, fmt.Errorf("bridge: withdrawal %s not awaiting signatures (is %s)", withdrawalID, w.Status)
	}
	expiresAt := w.ExpiresAt

	// Key aggregation is order-sensitive, so the signer set is sorted by
	// public key: every validator derives the same aggregate key.
	var active []*Validator
	for _, v := range e.validators {
		if v.Active {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return bytes.Compare(active[i].PublicKey, active[j].PublicKey) < 0
	})

	var (
		keys []btcec.PublicKey
		ids  []string
	)
	for _, v := range active {
		pk, err := btcec.ParsePubKey(v.PublicKey)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("bridge: validator %x has malformed public key: %w", v.PublicKey, err)
		}
		keys = append(keys, *pk)
		ids = append(ids, fmt.Sprintf("%x", v.PublicKey))
	}
	minValidators := int(e.cfg.MinValidators)
	now := e.now()
	e.mu.Unlock()

	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return nil, ErrExpired
	}

	return musig2.FederationSession(keys, ids, minValidators, withdrawalSignMessage(withdrawalID), remaining)
}

// SigningSessionTimeout bounds a standalone signing session that is not
// tied to a specific withdrawal (e.g. governance messages).
const SigningSessionTimeout = 24 * time.Hour
