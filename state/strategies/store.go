// Package strategies persists strategy records as RLP over the key-value
// store. Writes are buffered in memory and flushed on Commit so a failed
// transition never reaches disk.
package strategies

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"gardenchain/native/strategy"
	"gardenchain/storage"
)

var indexKey = ethcrypto.Keccak256([]byte("strategy:index"))

func recordKey(addr common.Address) []byte {
	return ethcrypto.Keccak256(append([]byte("strategy:"), addr.Bytes()...))
}

// Store holds every strategy record.
type Store struct {
	mu      sync.RWMutex
	db      storage.Database
	records map[common.Address]*strategy.Strategy
	order   []common.Address
	dirty   map[common.Address]struct{}
}

// NewStore loads previously committed strategies from db. A nil db yields a
// purely in-memory store.
func NewStore(db storage.Database) (*Store, error) {
	s := &Store{
		db:      db,
		records: make(map[common.Address]*strategy.Strategy),
		dirty:   make(map[common.Address]struct{}),
	}
	if db == nil {
		return s, nil
	}
	data, err := db.Get(indexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategies: load index: %w", err)
	}
	var index []common.Address
	if err := rlp.DecodeBytes(data, &index); err != nil {
		return nil, fmt.Errorf("strategies: decode index: %w", err)
	}
	for _, addr := range index {
		raw, err := db.Get(recordKey(addr))
		if err != nil {
			return nil, fmt.Errorf("strategies: load %s: %w", addr.Hex(), err)
		}
		var stored storedStrategy
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, fmt.Errorf("strategies: decode %s: %w", addr.Hex(), err)
		}
		s.records[addr] = decodeStrategy(&stored)
		s.order = append(s.order, addr)
	}
	return s, nil
}

// Put stages a record for the next commit.
func (s *Store) Put(rec *strategy.Strategy) error {
	if rec == nil {
		return fmt.Errorf("strategies: nil record")
	}
	if rec.Address == (common.Address{}) {
		return fmt.Errorf("strategies: record without address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Address]; !exists {
		s.order = append(s.order, rec.Address)
	}
	s.records[rec.Address] = rec.Clone()
	s.dirty[rec.Address] = struct{}{}
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(addr common.Address) (*strategy.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[addr]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns every address in insertion order.
func (s *Store) List() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.order...)
}

// Checkpoint captures the staged records. Records are replaced, never
// mutated, so a shallow copy of the map suffices.
func (s *Store) Checkpoint() func() {
	s.mu.RLock()
	records := make(map[common.Address]*strategy.Strategy, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	order := append([]common.Address(nil), s.order...)
	dirty := make(map[common.Address]struct{}, len(s.dirty))
	for k := range s.dirty {
		dirty[k] = struct{}{}
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.records = records
		s.order = order
		s.dirty = dirty
		s.mu.Unlock()
	}
}

// Commit writes every staged record and the index.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || len(s.dirty) == 0 {
		s.dirty = make(map[common.Address]struct{})
		return nil
	}
	for addr := range s.dirty {
		encoded, err := rlp.EncodeToBytes(encodeStrategy(s.records[addr]))
		if err != nil {
			return fmt.Errorf("strategies: encode %s: %w", addr.Hex(), err)
		}
		if err := s.db.Put(recordKey(addr), encoded); err != nil {
			return fmt.Errorf("strategies: write %s: %w", addr.Hex(), err)
		}
	}
	index, err := rlp.EncodeToBytes(s.order)
	if err != nil {
		return fmt.Errorf("strategies: encode index: %w", err)
	}
	if err := s.db.Put(indexKey, index); err != nil {
		return fmt.Errorf("strategies: write index: %w", err)
	}
	s.dirty = make(map[common.Address]struct{})
	return nil
}
