// Package storage persists header chains, swap state and bridge ledger
// records to a local goleveldb database under namespaced string keys.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// schemaVersion is prepended to every stored record. Bumping it is a
// signal to migration code, never read by Store itself.
const schemaVersion byte = 1

// ErrNotFound is returned when a key has no record, in place of
// leveldb.ErrNotFound so callers never import goleveldb directly.
var ErrNotFound = errors.New("storage: key not found")

// Store is a namespaced key-value wrapper around a goleveldb handle.
// Key namespaces (headers/, swaps/, bridge/) are plain string prefixes;
// Store itself is namespace-agnostic and leaves prefix construction to
// its callers (package spv, swap, bridge) via the helpers below.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key, prefixed with the current schema version.
func (s *Store) Put(key string, value []byte) error {
	record := make([]byte, 0, len(value)+1)
	record = append(record, schemaVersion)
	record = append(record, value...)
	if err := s.db.Put([]byte(key), record, nil); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Get reads the value stored under key, stripping the schema-version
// byte. Returns ErrNotFound if no record exists.
func (s *Store) Get(key string) ([]byte, error) {
	record, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if len(record) == 0 {
		return nil, fmt.Errorf("storage: get %s: empty record", key)
	}
	return record[1:], nil
}

// Delete removes key, a no-op if it does not exist.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// PutJSON stores v as its JSON encoding under key. The byte format is
// implementation-defined; JSON is used rather than a
// third-party codec since no domain package here needs binary
// compactness and every stored record already flows through
// encoding/json at the rpc package's boundary.
func (s *Store) PutJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return s.Put(key, data)
}

// GetJSON reads and unmarshals the record stored under key into v.
func (s *Store) GetJSON(key string, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return nil
}

// IteratePrefix calls fn for every key under prefix in lexical order,
// stopping early if fn returns false, so a namespace can be enumerated
// without holding every record in memory at once.
func (s *Store) IteratePrefix(prefix string, fn func(key string, value []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		record := iter.Value()
		if len(record) == 0 {
			continue
		}
		key := string(iter.Key())
		value := append([]byte(nil), record[1:]...)
		if !fn(key, value) {
			break
		}
	}
	return iter.Error()
}
