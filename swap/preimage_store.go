package swap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/intcoin/bridge/htlc"
)

// PreimageStore persists a swap's secret preimage, encrypted at rest
// with stdlib crypto/aes in GCM mode.
type PreimageStore interface {
	Put(swapID uuid.UUID, preimage htlc.Preimage) error
	Get(swapID uuid.UUID) (htlc.Preimage, bool, error)
	Delete(swapID uuid.UUID)
}

// memoryPreimageStore is the in-process PreimageStore;
// storage.PersistentPreimageStore provides the leveldb-backed counterpart
// using the same AES-GCM envelope.
type memoryPreimageStore struct {
	mu     sync.Mutex
	key    [32]byte
	sealed map[uuid.UUID][]byte
}

// NewMemoryPreimageStore builds a process-local encrypted preimage
// store. key is the at-rest encryption key (32 bytes); callers derive it
// from node configuration, never from swap data itself.
func NewMemoryPreimageStore(key [32]byte) PreimageStore {
	return &memoryPreimageStore{key: key, sealed: make(map[uuid.UUID][]byte)}
}

func (s *memoryPreimageStore) Put(swapID uuid.UUID, preimage htlc.Preimage) error {
	sealed, err := seal(s.key, preimage[:])
	if err != nil {
		return fmt.Errorf("swap: seal preimage: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[swapID] = sealed
	return nil
}

func (s *memoryPreimageStore) Get(swapID uuid.UUID) (htlc.Preimage, bool, error) {
	s.mu.Lock()
	sealed, ok := s.sealed[swapID]
	s.mu.Unlock()
	if !ok {
		return htlc.Preimage{}, false, nil
	}
	raw, err := open(s.key, sealed)
	if err != nil {
		return htlc.Preimage{}, false, fmt.Errorf("swap: open preimage: %w", err)
	}
	var p htlc.Preimage
	copy(p[:], raw)
	return p, true, nil
}

func (s *memoryPreimageStore) Delete(swapID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sealed, swapID)
}

func seal(key [32]byte, plaintext []byte) ([]byte, error) {
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

func open(key [32]byte, sealed []byte) ([]byte, error) {
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
