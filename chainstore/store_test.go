package chainstore

import (
	"math/big"
	"testing"
	"time"

	"github.com/coppernet/copperd/blockchain"
	"github.com/coppernet/copperd/database/ldb"
	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
	"github.com/coppernet/copperd/wire"
)

// testBits carries nonzero claimed work without requiring valid proof of
// work in test blocks.
const testBits = 0x1d00ffff

var testTimestamp = time.Unix(0x495fab29, 0)

// storeHarness bundles a chain store with its database and a dispatcher.
type storeHarness struct {
	store    *ChainStore
	dispatch *threadpool.Pool
}

func newStoreHarness(t *testing.T) *storeHarness {
	t.Helper()

	db, err := ldb.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	dispatch := threadpool.New("test-dispatch", 1, false)

	t.Cleanup(func() {
		dispatch.Shutdown()
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	return &storeHarness{
		store:    New(db),
		dispatch: dispatch,
	}
}

// newStoreBlock returns a block with a coinbase and optional extra
// transactions.
func newStoreBlock(prev *chainhash.Hash, nonce uint32,
	extra ...*wire.MsgTx) *util.Block {

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewCoinBaseOutpoint(),
		[]byte{byte(nonce)}))
	coinbase.AddTxOut(wire.NewTxOut(50, []byte{0x51}))

	header := &wire.BlockHeader{
		Version:   1,
		PrevBlock: *prev,
		Timestamp: testTimestamp,
		Bits:      testBits,
		Nonce:     nonce,
	}
	msgBlock := wire.NewMsgBlock(header)
	msgBlock.AddTransaction(coinbase)
	for _, tx := range extra {
		msgBlock.AddTransaction(tx)
	}
	return util.NewBlock(msgBlock)
}

// newFork links blocks into a fork anchored at parentHeight.
func newFork(parentHeight uint64, blocks ...*util.Block) *blockchain.Fork {
	fork := blockchain.NewFork()
	for i := len(blocks) - 1; i >= 0; i-- {
		if !fork.PushFront(blocks[i]) {
			panic("newFork: blocks are not linked")
		}
	}
	fork.SetHeight(parentHeight)
	return fork
}

// reorganize runs a swap through the store and waits for the completion.
func (h *storeHarness) reorganize(t *testing.T, fork *blockchain.Fork,
	flush bool) []*util.Block {

	t.Helper()

	type result struct {
		outgoing []*util.Block
		err      error
	}
	done := make(chan result, 1)
	h.store.Reorganize(fork, flush, h.dispatch,
		func(outgoing []*util.Block, err error) {
			done <- result{outgoing, err}
		})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Reorganize: %v", r.err)
		}
		return r.outgoing
	case <-time.After(10 * time.Second):
		t.Fatal("Reorganize did not complete")
		return nil
	}
}

// TestStoreInit verifies genesis initialization and idempotence.
func TestStoreInit(t *testing.T) {
	harness := newStoreHarness(t)
	genesis := newStoreBlock(&chainhash.ZeroHash, 0)

	if err := harness.store.Init(genesis); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := harness.store.Init(genesis); err != nil {
		t.Fatalf("Init second call: %v", err)
	}

	exists, err := harness.store.GetBlockExists(genesis.Hash())
	if err != nil || !exists {
		t.Errorf("GetBlockExists: %v/%v, want true", exists, err)
	}

	height, ok, err := harness.store.GetHeight(genesis.Hash())
	if err != nil || !ok || height != 0 {
		t.Errorf("GetHeight: %d/%v/%v, want 0", height, ok, err)
	}

	tip, ok, err := harness.store.GetTipHeight()
	if err != nil || !ok || tip != 0 {
		t.Errorf("GetTipHeight: %d/%v/%v, want 0", tip, ok, err)
	}
}

// TestStoreExtendAndReorganize verifies the atomic swap semantics.
func TestStoreExtendAndReorganize(t *testing.T) {
	harness := newStoreHarness(t)
	genesis := newStoreBlock(&chainhash.ZeroHash, 0)
	if err := harness.store.Init(genesis); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Extending the tip pops nothing.
	blockA := newStoreBlock(genesis.Hash(), 1)
	outgoing := harness.reorganize(t, newFork(0, blockA), true)
	if len(outgoing) != 0 {
		t.Fatalf("extend: %d outgoing blocks, want 0", len(outgoing))
	}

	tip, _, err := harness.store.GetTipHeight()
	if err != nil || tip != 1 {
		t.Fatalf("GetTipHeight: %d/%v, want 1", tip, err)
	}

	// A two block fork from the fork point displaces blockA. The old top
	// is the last outgoing element.
	blockB1 := newStoreBlock(genesis.Hash(), 2)
	blockB2 := newStoreBlock(blockB1.Hash(), 3)
	outgoing = harness.reorganize(t, newFork(0, blockB1, blockB2), true)

	if len(outgoing) != 1 {
		t.Fatalf("reorganize: %d outgoing blocks, want 1", len(outgoing))
	}
	if *outgoing[0].Hash() != *blockA.Hash() {
		t.Error("reorganize: wrong outgoing block")
	}

	exists, err := harness.store.GetBlockExists(blockA.Hash())
	if err != nil || exists {
		t.Errorf("GetBlockExists(a): %v/%v, want false", exists, err)
	}
	for _, block := range []*util.Block{blockB1, blockB2} {
		exists, err := harness.store.GetBlockExists(block.Hash())
		if err != nil || !exists {
			t.Errorf("GetBlockExists(%s): %v/%v, want true", block.Hash(),
				exists, err)
		}
	}

	tip, _, err = harness.store.GetTipHeight()
	if err != nil || tip != 2 {
		t.Errorf("GetTipHeight: %d/%v, want 2", tip, err)
	}

	// The transaction index follows the swap.
	oldCoinbase := outgoing[0].Transactions()[0]
	exists, err = harness.store.GetTransactionExists(oldCoinbase.Hash())
	if err != nil || exists {
		t.Errorf("GetTransactionExists(old): %v/%v, want false", exists, err)
	}
	newCoinbase := blockB1.Transactions()[0]
	exists, err = harness.store.GetTransactionExists(newCoinbase.Hash())
	if err != nil || !exists {
		t.Errorf("GetTransactionExists(new): %v/%v, want true", exists, err)
	}
}

// TestStoreOutputsAndSpends verifies the populator queries.
func TestStoreOutputsAndSpends(t *testing.T) {
	harness := newStoreHarness(t)
	genesis := newStoreBlock(&chainhash.ZeroHash, 0)
	if err := harness.store.Init(genesis); err != nil {
		t.Fatalf("Init: %v", err)
	}

	genesisCoinbase := genesis.Transactions()[0]
	spent := *wire.NewOutpoint(genesisCoinbase.Hash(), 0)

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(wire.NewTxIn(&spent, []byte{0x00}))
	spend.AddTxOut(wire.NewTxOut(40, []byte{0x52}))

	blockA := newStoreBlock(genesis.Hash(), 1, spend)
	harness.reorganize(t, newFork(0, blockA), true)

	// The genesis coinbase output resolves with coinbase flagged.
	entry, err := harness.store.GetOutput(spent)
	if err != nil || entry == nil {
		t.Fatalf("GetOutput: %v/%v", entry, err)
	}
	if !entry.Coinbase || entry.Height != 0 || entry.Output.Value != 50 {
		t.Errorf("GetOutput: got %+v", entry)
	}

	// The spend is indexed.
	isSpent, err := harness.store.IsSpent(spent)
	if err != nil || !isSpent {
		t.Errorf("IsSpent: %v/%v, want true", isSpent, err)
	}

	// An out of range output index does not resolve.
	entry, err = harness.store.GetOutput(*wire.NewOutpoint(
		genesisCoinbase.Hash(), 9))
	if err != nil || entry != nil {
		t.Errorf("GetOutput out of range: %v/%v, want nil", entry, err)
	}

	// An unknown outpoint does not resolve.
	unknown := chainhash.DoubleHashH([]byte("unknown"))
	entry, err = harness.store.GetOutput(*wire.NewOutpoint(&unknown, 0))
	if err != nil || entry != nil {
		t.Errorf("GetOutput unknown: %v/%v, want nil", entry, err)
	}
}

// TestStoreForkDifficulty verifies accumulation and the early stop.
func TestStoreForkDifficulty(t *testing.T) {
	harness := newStoreHarness(t)
	genesis := newStoreBlock(&chainhash.ZeroHash, 0)
	if err := harness.store.Init(genesis); err != nil {
		t.Fatalf("Init: %v", err)
	}

	blockA := newStoreBlock(genesis.Hash(), 1)
	blockB := newStoreBlock(blockA.Hash(), 2)
	harness.reorganize(t, newFork(0, blockA, blockB), true)

	perBlock := util.CalcWork(testBits)
	expected := new(big.Int).Mul(perBlock, big.NewInt(2))

	// Heights 1 and 2 accumulate in full against a large maximum.
	maximum := new(big.Int).Lsh(big.NewInt(1), 255)
	total, err := harness.store.GetForkDifficulty(maximum, 1)
	if err != nil {
		t.Fatalf("GetForkDifficulty: %v", err)
	}
	if total.Cmp(expected) != 0 {
		t.Errorf("GetForkDifficulty: got %v, want %v", total, expected)
	}

	// With maximum zero the query stops after the first block.
	total, err = harness.store.GetForkDifficulty(big.NewInt(0), 1)
	if err != nil {
		t.Fatalf("GetForkDifficulty: %v", err)
	}
	if total.Cmp(perBlock) != 0 {
		t.Errorf("GetForkDifficulty early stop: got %v, want %v", total,
			perBlock)
	}

	// Above the tip there is nothing to accumulate.
	total, err = harness.store.GetForkDifficulty(maximum, 3)
	if err != nil {
		t.Fatalf("GetForkDifficulty: %v", err)
	}
	if total.Sign() != 0 {
		t.Errorf("GetForkDifficulty above tip: got %v, want 0", total)
	}
}

// TestStoreFlushLock verifies the session flush lock marker.
func TestStoreFlushLock(t *testing.T) {
	harness := newStoreHarness(t)

	dirty, err := harness.store.IsDirty()
	if err != nil || dirty {
		t.Fatalf("IsDirty: %v/%v, want false", dirty, err)
	}

	if err := harness.store.BeginWrites(); err != nil {
		t.Fatalf("BeginWrites: %v", err)
	}
	dirty, err = harness.store.IsDirty()
	if err != nil || !dirty {
		t.Errorf("IsDirty after begin: %v/%v, want true", dirty, err)
	}

	if err := harness.store.EndWrites(); err != nil {
		t.Fatalf("EndWrites: %v", err)
	}
	dirty, err = harness.store.IsDirty()
	if err != nil || dirty {
		t.Errorf("IsDirty after end: %v/%v, want false", dirty, err)
	}
}
