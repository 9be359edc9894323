package storage

import (
	"errors"

	"github.com/intcoin/bridge/bridge"
)

// bridgeSnapshotKey holds the engine snapshot; individual record keys
// (bridge/tokens/<symbol>, bridge/withdrawals/<id>, ...) are written
// alongside it for external inspection, but the snapshot is the
// authoritative restore source.
const bridgeSnapshotKey = "bridge/state"

// SaveBridgeState persists the engine snapshot plus the per-record
// browse keys of the bridge/ namespace.
func (s *Store) SaveBridgeState(snap bridge.Snapshot) error {
	if err := s.PutJSON(bridgeSnapshotKey, snap); err != nil {
		return err
	}
	for _, t := range snap.Tokens {
		if err := s.PutJSON(BridgeTokenKey(t.Symbol), t); err != nil {
			return err
		}
	}
	for _, w := range snap.Withdrawals {
		if err := s.PutJSON(BridgeWithdrawalKey(w.WithdrawalID.String()), w); err != nil {
			return err
		}
	}
	for _, p := range snap.Proofs {
		if err := s.PutJSON(BridgeProofKey(p.ProofID.String()), p); err != nil {
			return err
		}
	}
	return nil
}

// LoadBridgeState returns the persisted engine snapshot, or false when
// the store holds none.
func (s *Store) LoadBridgeState() (bridge.Snapshot, bool, error) {
	var snap bridge.Snapshot
	err := s.GetJSON(bridgeSnapshotKey, &snap)
	if errors.Is(err, ErrNotFound) {
		return bridge.Snapshot{}, false, nil
	}
	if err != nil {
		return bridge.Snapshot{}, false, err
	}
	return snap, true, nil
}
