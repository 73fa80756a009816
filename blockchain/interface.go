package blockchain

import (
	"math/big"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
	"github.com/coppernet/copperd/wire"
)

// OutputEntry describes a transaction output resolved from the persistent
// chain for prevout population.
type OutputEntry struct {
	// Output is the referenced transaction output.
	Output *wire.TxOut

	// Height is the height of the block containing the output.
	Height uint64

	// Coinbase indicates the output belongs to a coinbase transaction.
	Coinbase bool
}

// ReorganizeCompleteHandler is called by the store once a reorganization
// attempt settles. On success outgoing carries the replaced main chain
// blocks ordered so the last element is the old top of the popped range as
// seen bottom up, that is, ascending by height.
type ReorganizeCompleteHandler func(outgoing []*util.Block, err error)

// FastChain is the persistent chain store consumed by the organizer and the
// populator. Store access from the organize sequence is limited to block
// existence, fork point height, fork difficulty, reorganize, the flush lock
// and the populator queries.
//
// Reorganize must be atomic with respect to readers: until it completes
// successfully, readers see the old segment, afterwards they see the new
// one.
type FastChain interface {
	// GetBlockExists returns whether a block with the given hash exists
	// in the main chain.
	GetBlockExists(hash *chainhash.Hash) (bool, error)

	// GetHeight returns the main chain height of the block with the
	// given hash. The second return is false when the hash is unknown.
	GetHeight(hash *chainhash.Hash) (uint64, bool, error)

	// GetForkDifficulty returns the cumulative claimed work of main
	// chain blocks at heights greater than or equal to firstHeight. The
	// query may stop accumulating as soon as the total exceeds maximum.
	GetForkDifficulty(maximum *big.Int, firstHeight uint64) (*big.Int, error)

	// GetTransactionExists returns whether a confirmed transaction with
	// the given hash exists in the main chain.
	GetTransactionExists(hash *chainhash.Hash) (bool, error)

	// GetOutput resolves an outpoint against the main chain, returning
	// nil when the outpoint is unknown.
	GetOutput(outpoint wire.Outpoint) (*OutputEntry, error)

	// IsSpent returns whether the outpoint is consumed by a confirmed
	// transaction on the main chain.
	IsSpent(outpoint wire.Outpoint) (bool, error)

	// Reorganize atomically pops the main chain blocks at heights above
	// the fork point into the outgoing list and pushes the fork blocks.
	// When flush is set the swap is synced to durable storage before the
	// completion fires. The completion is delivered through the given
	// dispatcher.
	Reorganize(fork *Fork, flush bool, dispatch *threadpool.Pool,
		complete ReorganizeCompleteHandler)

	// BeginWrites acquires the session flush lock.
	BeginWrites() error

	// EndWrites releases the session flush lock.
	EndWrites() error
}

// Validator performs the staged validation of candidate blocks. Check is
// synchronous and independent of chain state. Accept and Connect validate
// the top block of a fork in context and deliver their result through the
// handler, possibly from another goroutine.
type Validator interface {
	Check(block *util.Block) error
	Accept(fork *Fork, handler func(error))
	Connect(fork *Fork, handler func(error))
	Stop()
}
