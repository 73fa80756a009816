package blockchain

import (
	"sync"
	"time"

	"github.com/coppernet/copperd/util/chainhash"
)

// BlockValidationData is the per-block validation stamp recorded when a
// block wins its organize attempt. It lives in a side table keyed by block
// hash so the shared immutable block is never mutated.
type BlockValidationData struct {
	// Height is the blockchain height assigned to the block.
	Height uint64

	// Err is the terminal validation result of the block.
	Err error

	// StartNotify is when subscriber notification for the block began.
	StartNotify time.Time
}

// ValidationStore holds validation stamps for blocks that have completed an
// organize attempt.
//
// This type is safe for concurrent access.
type ValidationStore struct {
	mtx sync.RWMutex
	m   map[chainhash.Hash]*BlockValidationData
}

// NewValidationStore returns an empty validation store.
func NewValidationStore() *ValidationStore {
	return &ValidationStore{
		m: make(map[chainhash.Hash]*BlockValidationData),
	}
}

// Set records the validation stamp for the given block hash.
func (s *ValidationStore) Set(hash *chainhash.Hash, data *BlockValidationData) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.m[*hash] = data
}

// Get returns the validation stamp for the given block hash, or nil when
// the block has not completed an organize attempt.
func (s *ValidationStore) Get(hash *chainhash.Hash) *BlockValidationData {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.m[*hash]
}

// Remove discards the validation stamp for the given block hash.
func (s *ValidationStore) Remove(hash *chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.m, *hash)
}
