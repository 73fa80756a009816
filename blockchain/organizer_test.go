package blockchain

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// organizerHarness bundles an organizer with its collaborators for tests.
type organizerHarness struct {
	organizer *Organizer
	chain     *fakeChain
	pool      *BlockPool
	validator *fakeValidator
	priority  *threadpool.Pool
	dispatch  *threadpool.Pool
}

func newOrganizerHarness(t *testing.T, flush bool) *organizerHarness {
	t.Helper()

	chain := newFakeChain()
	pool := NewBlockPool(50)
	validator := &fakeValidator{}
	priority := threadpool.New("test-priority", 2, false)
	dispatch := threadpool.New("test-dispatch", 2, false)

	organizer := NewOrganizer(&OrganizerConfig{
		Chain:                chain,
		BlockPool:            pool,
		Validator:            validator,
		PriorityPool:         priority,
		DispatchPool:         dispatch,
		FlushReorganizations: flush,
	})

	t.Cleanup(func() {
		priority.Shutdown()
		dispatch.Shutdown()
	})

	return &organizerHarness{
		organizer: organizer,
		chain:     chain,
		pool:      pool,
		validator: validator,
		priority:  priority,
		dispatch:  dispatch,
	}
}

// organize runs one block through the organizer and waits for the reply.
func (h *organizerHarness) organize(t *testing.T, block *util.Block) error {
	t.Helper()

	done := make(chan error, 1)
	h.organizer.Organize(block, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("organize did not complete")
		return nil
	}
}

// TestOrganizeServiceStopped verifies a stopped organizer rejects blocks.
func TestOrganizeServiceStopped(t *testing.T) {
	harness := newOrganizerHarness(t, true)

	block := newTestBlock(0, &chainhash.ZeroHash, 0)
	err := harness.organize(t, block)
	if !IsErrorCode(err, ErrServiceStopped) {
		t.Errorf("organize: got %v, want ErrServiceStopped", err)
	}
}

// TestOrganizeCheckFailure verifies context-free check errors propagate.
func TestOrganizeCheckFailure(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	harness.validator.checkErr = ruleError(ErrHighHash, "hash above target")

	block := newTestBlock(0, &chainhash.ZeroHash, 0)
	err := harness.organize(t, block)
	if !IsErrorCode(err, ErrHighHash) {
		t.Errorf("organize: got %v, want ErrHighHash", err)
	}
}

// TestOrganizeDuplicate verifies pooled and stored blocks are rejected as
// duplicates.
func TestOrganizeDuplicate(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A block already in the candidate pool yields an empty path.
	pooled := newTestBlock(0, &chainhash.ZeroHash, 0)
	harness.pool.Add(pooled, 1)
	err := harness.organize(t, pooled)
	if !IsErrorCode(err, ErrDuplicateBlock) {
		t.Errorf("organize pooled: got %v, want ErrDuplicateBlock", err)
	}

	// A block already in the store is a duplicate as well.
	stored := newTestBlock(1, &chainhash.ZeroHash, 1)
	harness.chain.exists[*stored.Hash()] = true
	err = harness.organize(t, stored)
	if !IsErrorCode(err, ErrDuplicateBlock) {
		t.Errorf("organize stored: got %v, want ErrDuplicateBlock", err)
	}
}

// TestOrganizeOrphan verifies an unknown fork point is reported as an
// orphan.
func TestOrganizeOrphan(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The parent hash is not registered with the fake chain.
	parent := chainhash.DoubleHashH([]byte("unknown parent"))
	block := newTestBlock(0, &parent, 0)
	err := harness.organize(t, block)
	if !IsErrorCode(err, ErrOrphanBlock) {
		t.Errorf("organize: got %v, want ErrOrphanBlock", err)
	}
}

// TestOrganizeInsufficientWork verifies equal cumulative work does not
// reorganize and the candidate is retained.
func TestOrganizeInsufficientWork(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	parent := chainhash.DoubleHashH([]byte("chain tip"))
	block := newTestBlock(0x1d00ffff, &parent, 0)
	harness.chain.heights[parent] = 10

	// The competing segment carries exactly the fork's work.
	harness.chain.forkDifficulty = util.CalcWork(0x1d00ffff)

	err := harness.organize(t, block)
	if !IsErrorCode(err, ErrInsufficientWork) {
		t.Fatalf("organize: got %v, want ErrInsufficientWork", err)
	}

	// The top block is retained as a candidate.
	if !harness.pool.Exists(block.Hash()) {
		t.Error("organize: losing candidate not added to the pool")
	}
	if harness.chain.reorganized {
		t.Error("organize: store reorganized despite insufficient work")
	}
}

// TestOrganizeSuccess verifies the full reorganization path: store swap,
// pool bookkeeping and subscriber notification.
func TestOrganizeSuccess(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	parent := chainhash.DoubleHashH([]byte("fork point"))
	block := newTestBlock(0x1c00ffff, &parent, 0)
	harness.chain.heights[parent] = 10

	// The competing segment carries strictly less work.
	harness.chain.forkDifficulty = util.CalcWork(0x1d00ffff)

	// The store will report one replaced block.
	replaced := newTestBlock(0x1d00ffff, &parent, 9)
	harness.chain.outgoing = []*util.Block{replaced}

	events := make(chan subscriberEvent, 1)
	harness.organizer.SubscribeReorganize(
		func(err error, height uint64, fork, original []*util.Block) {
			events <- subscriberEvent{err, height, fork, original}
		})

	err := harness.organize(t, block)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}

	if !harness.chain.reorganized {
		t.Fatal("organize: store not reorganized")
	}
	if harness.chain.reorganizedTo.Top() != block {
		t.Error("organize: wrong fork handed to the store")
	}

	// The winning block left the pool, the replaced block entered it.
	if harness.pool.Exists(block.Hash()) {
		t.Error("organize: winning block still pooled")
	}
	if !harness.pool.Exists(replaced.Hash()) {
		t.Error("organize: replaced block not pooled")
	}

	// The validation stamp records the new height.
	data := harness.organizer.ValidationData().Get(block.Hash())
	if data == nil || data.Height != 11 {
		t.Errorf("organize: validation stamp %s", spew.Sdump(data))
	}

	select {
	case event := <-events:
		if event.err != nil {
			t.Errorf("notify: err %v, want nil", event.err)
		}
		if event.height != 10 {
			t.Errorf("notify: fork height %d, want 10", event.height)
		}
		if len(event.fork) != 1 || event.fork[0] != block {
			t.Error("notify: wrong fork blocks")
		}
		if len(event.original) != 1 || event.original[0] != replaced {
			t.Error("notify: wrong original blocks")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notify: reorganize notification not delivered")
	}
}

// TestOrganizeStoreFailure verifies a store write failure is reported
// verbatim to the caller.
func TestOrganizeStoreFailure(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	parent := chainhash.DoubleHashH([]byte("fork point"))
	block := newTestBlock(0x1c00ffff, &parent, 0)
	harness.chain.heights[parent] = 10
	harness.chain.forkDifficulty = util.CalcWork(0x1d00ffff)
	harness.chain.reorganizeErr = ruleError(ErrOperationFailed, "disk gone")

	err := harness.organize(t, block)
	if !IsErrorCode(err, ErrOperationFailed) {
		t.Errorf("organize: got %v, want store failure", err)
	}
}

// TestOrganizeSerialized verifies attempts do not interleave: the second
// organize observes the pool state left by the first.
func TestOrganizeSerialized(t *testing.T) {
	harness := newOrganizerHarness(t, true)
	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	parent := chainhash.DoubleHashH([]byte("chain tip"))
	harness.chain.heights[parent] = 10
	harness.chain.forkDifficulty = util.CalcWork(0x1d00ffff)

	blockA := newTestBlock(0x1d00ffff, &parent, 0)
	blockB := newTestBlock(0x1d00ffff, blockA.Hash(), 1)

	if err := harness.organize(t, blockA); !IsErrorCode(err,
		ErrInsufficientWork) {
		t.Fatalf("organize A: got %v, want ErrInsufficientWork", err)
	}

	// The second block extends the pooled candidate, so its fork carries
	// both blocks and now out-works the main chain segment.
	if err := harness.organize(t, blockB); err != nil {
		t.Fatalf("organize B: %v", err)
	}
	if harness.chain.reorganizedTo.Size() != 2 {
		t.Errorf("organize B: fork size %d, want 2",
			harness.chain.reorganizedTo.Size())
	}
}

// TestOrganizerStartStop verifies flush lock management and stop behavior.
func TestOrganizerStartStop(t *testing.T) {
	harness := newOrganizerHarness(t, false)

	if err := harness.organizer.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if harness.chain.beginWrites != 1 {
		t.Errorf("Start: beginWrites %d, want 1", harness.chain.beginWrites)
	}

	if err := harness.organizer.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if harness.chain.endWrites != 1 {
		t.Errorf("Stop: endWrites %d, want 1", harness.chain.endWrites)
	}
	if !harness.validator.stopped {
		t.Error("Stop: validator not stopped")
	}
	if !harness.organizer.Stopped() {
		t.Error("Stop: organizer still accepting")
	}

	// Blocks after stop are rejected.
	block := newTestBlock(0, &chainhash.ZeroHash, 0)
	if err := harness.organize(t, block); !IsErrorCode(err,
		ErrServiceStopped) {
		t.Errorf("organize after stop: got %v, want ErrServiceStopped", err)
	}
}
