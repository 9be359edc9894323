package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/intcoin/bridge/htlc"
	"github.com/intcoin/bridge/swap"
)

// PersistentPreimageStore is the leveldb-backed counterpart to
// swap.NewMemoryPreimageStore, persisting each swap's secret under
// swaps/preimages/<swap_id> with the same AES-GCM envelope
// so a node restart does not lose an in-flight swap's claim secret.
type PersistentPreimageStore struct {
	store *Store
	key   [32]byte
}

// NewPersistentPreimageStore wraps store with AES-GCM-at-rest encryption
// keyed by key, which callers derive from node configuration.
func NewPersistentPreimageStore(store *Store, key [32]byte) *PersistentPreimageStore {
	return &PersistentPreimageStore{store: store, key: key}
}

var _ swap.PreimageStore = (*PersistentPreimageStore)(nil)

func (p *PersistentPreimageStore) Put(swapID uuid.UUID, preimage htlc.Preimage) error {
	sealed, err := sealPreimage(p.key, preimage[:])
	if err != nil {
		return fmt.Errorf("storage: seal preimage: %w", err)
	}
	return p.store.Put(SwapPreimageKey(swapID.String()), sealed)
}

func (p *PersistentPreimageStore) Get(swapID uuid.UUID) (htlc.Preimage, bool, error) {
	sealed, err := p.store.Get(SwapPreimageKey(swapID.String()))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return htlc.Preimage{}, false, nil
		}
		return htlc.Preimage{}, false, err
	}
	raw, err := openPreimage(p.key, sealed)
	if err != nil {
		return htlc.Preimage{}, false, fmt.Errorf("storage: open preimage: %w", err)
	}
	var preimage htlc.Preimage
	copy(preimage[:], raw)
	return preimage, true, nil
}

func (p *PersistentPreimageStore) Delete(swapID uuid.UUID) {
	_ = p.store.Delete(SwapPreimageKey(swapID.String()))
}

func sealPreimage(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openPreimage(key [32]byte, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed preimage too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
