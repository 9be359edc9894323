package bridge

import (
	"github.com/google/uuid"

	"github.com/intcoin/bridge/chainmodel"
)

// BalanceEntry is one (address, token) balance cell in a Snapshot.
type BalanceEntry struct {
	Address []byte `json:"address"`
	Token   string `json:"token"`
	Amount  uint64 `json:"amount"`
}

// FeeEntry is one token's accrued treasury fees in a Snapshot.
type FeeEntry struct {
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

// Snapshot is the engine's full durable state, taken atomically under
// the engine lock. Package storage serializes it under the bridge/
// namespace; restoring it reconstructs an equivalent engine.
type Snapshot struct {
	Paused      bool                `json:"paused"`
	Tokens      []WrappedToken      `json:"tokens"`
	Balances    []BalanceEntry      `json:"balances"`
	Validators  []Validator         `json:"validators"`
	Proofs      []DepositProof      `json:"proofs"`
	Withdrawals []WithdrawalRequest `json:"withdrawals"`
	Fees        []FeeEntry          `json:"fees"`
}

// Snapshot captures the engine's current state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Paused: e.paused}
	for _, t := range e.tokens {
		snap.Tokens = append(snap.Tokens, *t)
	}
	for k, amount := range e.balances {
		snap.Balances = append(snap.Balances, BalanceEntry{
			Address: []byte(k.address),
			Token:   k.token,
			Amount:  amount,
		})
	}
	for _, v := range e.validators {
		snap.Validators = append(snap.Validators, *v)
	}
	for _, p := range e.proofsByID {
		snap.Proofs = append(snap.Proofs, *p)
	}
	for _, w := range e.withdrawals {
		snap.Withdrawals = append(snap.Withdrawals, *w)
	}
	for token, amount := range e.feesAccrued {
		snap.Fees = append(snap.Fees, FeeEntry{Token: token, Amount: amount})
	}
	return snap
}

// Restore replaces the engine's state with snap, typically right after
// construction at startup. Derived indexes (proofs by source tx) are
// rebuilt rather than persisted.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.paused = snap.Paused
	e.tokens = make(map[string]*WrappedToken, len(snap.Tokens))
	for i := range snap.Tokens {
		t := snap.Tokens[i]
		e.tokens[t.Symbol] = &t
	}
	e.balances = make(map[balanceKey]uint64, len(snap.Balances))
	for _, b := range snap.Balances {
		e.balances[balanceKey{address: string(b.Address), token: b.Token}] = b.Amount
	}
	e.validators = make(map[string]*Validator, len(snap.Validators))
	for i := range snap.Validators {
		v := snap.Validators[i]
		e.validators[pubkeyKey(v.PublicKey)] = &v
	}
	e.proofsByID = make(map[uuid.UUID]*DepositProof, len(snap.Proofs))
	e.proofsBySourceTx = make(map[chainmodel.Hash256]*DepositProof, len(snap.Proofs))
	for i := range snap.Proofs {
		p := snap.Proofs[i]
		e.proofsByID[p.ProofID] = &p
		e.proofsBySourceTx[p.SourceTxHash] = &p
	}
	e.withdrawals = make(map[uuid.UUID]*WithdrawalRequest, len(snap.Withdrawals))
	for i := range snap.Withdrawals {
		w := snap.Withdrawals[i]
		e.withdrawals[w.WithdrawalID] = &w
	}
	e.feesAccrued = make(map[string]uint64, len(snap.Fees))
	for _, f := range snap.Fees {
		e.feesAccrued[f.Token] = f.Amount
	}
}
