package blockchain

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// BlockExistsFunc is the duplicate block predicate consulted before a
// candidate is organized.
type BlockExistsFunc func(hash *chainhash.Hash) (bool, error)

// OrganizerConfig supplies the collaborators of an Organizer.
type OrganizerConfig struct {
	// Chain is the persistent chain store.
	Chain FastChain

	// BlockPool caches candidate blocks between organize attempts.
	BlockPool *BlockPool

	// Validator performs staged block validation.
	Validator Validator

	// PriorityPool executes CPU-bound validation and the store swap.
	PriorityPool *threadpool.Pool

	// DispatchPool executes continuations and notifications so the
	// priority pool capacity is preserved.
	DispatchPool *threadpool.Pool

	// FlushReorganizations selects per-reorganization flushing over a
	// session-wide flush lock.
	FlushReorganizations bool

	// BlockExists overrides the duplicate block predicate. The default
	// consults the store globally, which mirrors the same check performed
	// by satoshi, yet it will produce a chain split in the case of a hash
	// collision because it is not applied at the fork point. The
	// predicate is pluggable so the check scope can be corrected once the
	// block pool tolerates hash collisions.
	BlockExists BlockExistsFunc
}

// Organizer decides whether a candidate block, possibly extending a side
// branch, displaces the current main chain, and performs the swap when it
// does. One organize attempt runs at a time, serialized end to end across
// its asynchronous stages.
type Organizer struct {
	// mtx guards the chain against concurrent organizations. It is held
	// from organize entry until the terminal reply through a scope lock
	// passed along the continuation chain.
	mtx sync.Mutex

	stopped int32

	chain                FastChain
	pool                 *BlockPool
	validator            Validator
	priority             *threadpool.Pool
	dispatch             *threadpool.Pool
	subscriber           *ReorganizeSubscriber
	validation           *ValidationStore
	flushReorganizations bool
	blockExists          BlockExistsFunc
}

// NewOrganizer returns a stopped organizer for the given configuration.
func NewOrganizer(cfg *OrganizerConfig) *Organizer {
	blockExists := cfg.BlockExists
	if blockExists == nil {
		blockExists = cfg.Chain.GetBlockExists
	}

	return &Organizer{
		stopped:              1,
		chain:                cfg.Chain,
		pool:                 cfg.BlockPool,
		validator:            cfg.Validator,
		priority:             cfg.PriorityPool,
		dispatch:             cfg.DispatchPool,
		subscriber:           NewReorganizeSubscriber(cfg.DispatchPool),
		validation:           NewValidationStore(),
		flushReorganizations: cfg.FlushReorganizations,
		blockExists:          blockExists,
	}
}

// Stopped returns whether the organizer is accepting blocks.
func (o *Organizer) Stopped() bool {
	return atomic.LoadInt32(&o.stopped) != 0
}

// ValidationData returns the validation stamp side table.
func (o *Organizer) ValidationData() *ValidationStore {
	return o.validation
}

// Start enables organization and, unless each reorganization flushes
// itself, acquires the session flush lock on the store.
func (o *Organizer) Start() error {
	atomic.StoreInt32(&o.stopped, 0)
	o.subscriber.Start()

	// Don't begin the flush lock if flushing on each reorganization.
	if o.flushReorganizations {
		return nil
	}
	return o.chain.BeginWrites()
}

// Stop disables organization and releases the session flush lock. The call
// blocks until an in-progress organize attempt has completed so that no
// write is in flight when the flush lock is cleared.
func (o *Organizer) Stop() error {
	o.validator.Stop()
	o.subscriber.Stop()
	o.subscriber.Invoke(ruleError(ErrServiceStopped, "organizer stopped"),
		0, nil, nil)

	// Taking the mutex here ensures this call blocks until store writes
	// are complete and that no new validation will begin after this stop.
	// Terminating the thread pools earlier would corrupt the store.
	o.mtx.Lock()
	defer o.mtx.Unlock()
	atomic.StoreInt32(&o.stopped, 1)

	// Don't end the flush lock if flushing on each reorganization.
	if o.flushReorganizations {
		return nil
	}
	return o.chain.EndWrites()
}

// SubscribeReorganize registers a handler for the next reorganize
// notification.
func (o *Organizer) SubscribeReorganize(handler ReorganizeHandler) {
	o.subscriber.Subscribe(handler)
}

// Organize runs one candidate block through the organize sequence. The
// result is reported to handler exactly once: nil after a successful
// reorganization, or a RuleError describing why the block did not
// reorganize the chain. Store write failure is reported verbatim and must
// be treated as fatal, the store is presumed corrupted.
//
// Attempts are serialized. Organize blocks while a previous attempt is in
// flight.
func (o *Organizer) Organize(block *util.Block, handler func(error)) {
	// Use a scope lock to guard the chain against concurrent
	// organizations. If a reorganization started after stop it will stop
	// before writing.
	o.mtx.Lock()
	lock := newScopeLock(&o.mtx)

	if o.Stopped() {
		o.complete(ruleError(ErrServiceStopped, "organizer stopped"), lock,
			handler)
		return
	}

	// Checks that are independent of chain state.
	if err := o.validator.Check(block); err != nil {
		o.complete(err, lock, handler)
		return
	}

	lockedHandler := func(err error) {
		o.complete(err, lock, handler)
	}

	// Get the path through the block forest to the new block.
	fork := o.pool.GetPath(block)

	if fork.Empty() {
		str := fmt.Sprintf("already have block %s", block.Hash())
		lockedHandler(ruleError(ErrDuplicateBlock, str))
		return
	}
	exists, err := o.blockExists(block.Hash())
	if err != nil {
		lockedHandler(ruleError(ErrOperationFailed, err.Error()))
		return
	}
	if exists {
		str := fmt.Sprintf("already have block %s", block.Hash())
		lockedHandler(ruleError(ErrDuplicateBlock, str))
		return
	}

	ok, err := o.setForkHeight(fork)
	if err != nil {
		lockedHandler(ruleError(ErrOperationFailed, err.Error()))
		return
	}
	if !ok {
		str := fmt.Sprintf("fork point %s of block %s is unknown",
			fork.Hash(), block.Hash())
		lockedHandler(ruleError(ErrOrphanBlock, str))
		return
	}

	// Verify the last fork block (all others are verified). The accept
	// handler returns on a dispatch thread to preserve the validation
	// priority pool and to protect the stack from recursion.
	acceptHandler := o.deferred(func(err error) {
		o.handleAccept(err, fork, lockedHandler)
	})

	// Checks that are dependent on chain state and prevouts. The fork may
	// not have sufficient work to reorganize at this point, but we must
	// at least know if the work required is sufficient in order to
	// retain it.
	o.validator.Accept(fork, acceptHandler)
}

// complete releases the organize mutex and replies to the caller. This is
// the end of the organize sequence.
func (o *Organizer) complete(err error, lock *scopeLock, handler func(error)) {
	lock.release()
	handler(err)
}

// deferred wraps a continuation so it resumes on the dispatch pool rather
// than on the worker that completed the previous stage. If the dispatch
// pool has shut down the continuation runs inline so the terminal reply is
// still delivered.
func (o *Organizer) deferred(continuation func(error)) func(error) {
	return func(err error) {
		spawnErr := o.dispatch.Spawn(func() {
			continuation(err)
		})
		if spawnErr != nil {
			continuation(err)
		}
	}
}

func (o *Organizer) handleAccept(err error, fork *Fork, handler func(error)) {
	if o.Stopped() {
		handler(ruleError(ErrServiceStopped, "organizer stopped"))
		return
	}

	if err != nil {
		handler(err)
		return
	}

	// Checks that include script validation. The connect handler returns
	// on a dispatch thread for the same reasons as the accept handler.
	connectHandler := o.deferred(func(err error) {
		o.handleConnect(err, fork, handler)
	})

	o.validator.Connect(fork, connectHandler)
}

func (o *Organizer) handleConnect(err error, fork *Fork, handler func(error)) {
	if o.Stopped() {
		handler(ruleError(ErrServiceStopped, "organizer stopped"))
		return
	}

	if err != nil {
		handler(err)
		return
	}

	firstHeight := checkedAdd(fork.Height(), 1)
	maximum := fork.Difficulty()

	// The chain query will stop if it reaches the maximum.
	threshold, err := o.chain.GetForkDifficulty(maximum, firstHeight)
	if err != nil {
		handler(ruleError(ErrOperationFailed, err.Error()))
		return
	}

	if fork.Difficulty().Cmp(threshold) <= 0 {
		// The top block is valid, only the segment work is insufficient,
		// so the block is retained as a candidate.
		o.pool.Add(fork.Top(), fork.TopHeight())
		str := fmt.Sprintf("fork of %s does not exceed work of the "+
			"confirmed chain", fork.Hash())
		handler(ruleError(ErrInsufficientWork, str))
		return
	}

	// The top block is valid.
	top := fork.Top()
	o.validation.Set(top.Hash(), &BlockValidationData{
		Height:      fork.TopHeight(),
		Err:         nil,
		StartNotify: time.Now(),
	})

	complete := func(outgoing []*util.Block, err error) {
		o.handleReorganized(err, fork, outgoing, handler)
	}

	// Replace! Switch!
	o.chain.Reorganize(fork, o.flushReorganizations, o.priority, complete)
}

func (o *Organizer) handleReorganized(err error, fork *Fork,
	outgoing []*util.Block, handler func(error)) {

	if err != nil {
		log.Criticalf("Failure writing block to store, is now corrupted: %v",
			err)
		handler(err)
		return
	}

	o.pool.Remove(fork.Blocks())
	o.pool.Prune(fork.TopHeight())
	o.pool.AddAll(outgoing, checkedAdd(fork.Height(), 1))

	// Reorg block order makes the last outgoing element the old top.
	o.notifyReorganize(fork.Height(), fork.Blocks(), outgoing)

	// This is the end of the verify sub-sequence.
	handler(nil)
}

// notifyReorganize hands the reorganize event to the subscribers, which
// deliver it to each handler on the dispatch pool so that subscription
// processing cannot create an insurmountable backlog during catch-up sync.
func (o *Organizer) notifyReorganize(forkHeight uint64,
	forkBlocks, originalBlocks []*util.Block) {

	o.subscriber.Invoke(nil, forkHeight, forkBlocks, originalBlocks)
}

// setForkHeight anchors the fork to the persistent chain by resolving the
// height of its fork point hash. It reports false when the hash is unknown,
// making the fork an orphan.
func (o *Organizer) setForkHeight(fork *Fork) (bool, error) {
	forkPoint := fork.Hash()

	// Get the blockchain parent of the oldest fork block.
	height, ok, err := o.chain.GetHeight(&forkPoint)
	if err != nil || !ok {
		return false, err
	}

	// Guard against chain size overflow. The sum is unused, the check
	// must not be elided.
	_ = checkedAdd(height, uint64(fork.Size()))

	fork.SetHeight(height)
	return true, nil
}

// scopeLock releases a held mutex exactly once, no matter how many paths
// of the continuation chain reach a terminal reply.
type scopeLock struct {
	mtx  *sync.Mutex
	once sync.Once
}

func newScopeLock(mtx *sync.Mutex) *scopeLock {
	return &scopeLock{mtx: mtx}
}

func (l *scopeLock) release() {
	l.once.Do(l.mtx.Unlock)
}
