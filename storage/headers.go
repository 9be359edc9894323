package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/spv"
)

// HeaderStore persists header chains under the headers/<chain>/...
// namespace, implementing spv.Persister.
type HeaderStore struct {
	store *Store
}

// NewHeaderStore wraps store for header persistence.
func NewHeaderStore(store *Store) *HeaderStore {
	return &HeaderStore{store: store}
}

// SaveHeader writes the header record and its by-height index entry.
func (hs *HeaderStore) SaveHeader(chain chainmodel.ChainId, hash chainmodel.Hash256, header spv.BlockHeader) error {
	name := chainKeyName(chain)
	if err := hs.store.Put(HeaderKey(name, hash.String()), header.Bytes()); err != nil {
		return err
	}
	return hs.store.Put(HeaderByHeightKey(name, header.Height), []byte(hash.String()))
}

// SaveTip records the current best-chain tip.
func (hs *HeaderStore) SaveTip(chain chainmodel.ChainId, hash chainmodel.Hash256) error {
	return hs.store.Put(HeaderTipKey(chainKeyName(chain)), []byte(hash.String()))
}

// LoadTip returns the persisted tip header for chain, or false if the
// store holds no chain state yet.
func (hs *HeaderStore) LoadTip(chain chainmodel.ChainId) (spv.BlockHeader, bool, error) {
	name := chainKeyName(chain)
	tipHex, err := hs.store.Get(HeaderTipKey(name))
	if errors.Is(err, ErrNotFound) {
		return spv.BlockHeader{}, false, nil
	}
	if err != nil {
		return spv.BlockHeader{}, false, err
	}
	h, err := hs.LoadHeader(chain, string(tipHex))
	if err != nil {
		return spv.BlockHeader{}, false, fmt.Errorf("storage: tip header missing: %w", err)
	}
	return h, true, nil
}

// LoadHeader returns the persisted header with the given display-order
// hex hash.
func (hs *HeaderStore) LoadHeader(chain chainmodel.ChainId, hashHex string) (spv.BlockHeader, error) {
	raw, err := hs.store.Get(HeaderKey(chainKeyName(chain), hashHex))
	if err != nil {
		return spv.BlockHeader{}, err
	}
	return spv.HeaderFromBytes(raw)
}

// LoadChain walks the persisted chain backward from the tip, returning
// headers oldest-first so they can be replayed into a fresh
// spv.HeaderChain after the genesis seed. Walks at most limit headers
// (0 means no limit).
func (hs *HeaderStore) LoadChain(chain chainmodel.ChainId, limit int) ([]spv.BlockHeader, error) {
	tip, ok, err := hs.LoadTip(chain)
	if err != nil || !ok {
		return nil, err
	}

	var reversed []spv.BlockHeader
	cur := tip
	for {
		reversed = append(reversed, cur)
		if limit > 0 && len(reversed) >= limit {
			break
		}
		if cur.Height == 0 {
			break
		}
		prev, err := hs.LoadHeader(chain, cur.PrevHash.String())
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		cur = prev
	}

	out := make([]spv.BlockHeader, len(reversed))
	for i, h := range reversed {
		out[len(reversed)-1-i] = h
	}
	return out, nil
}

// chainKeyName renders a chain id as a stable, lowercase key segment.
func chainKeyName(chain chainmodel.ChainId) string {
	return strings.ToLower(chain.String())
}
