package blockchain

import (
	"testing"

	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// TestBlockPoolGetPath verifies path assembly through the candidate
// forest.
func TestBlockPoolGetPath(t *testing.T) {
	pool := NewBlockPool(50)

	block0 := newTestBlock(0, &chainhash.ZeroHash, 0)
	block1 := newTestBlock(1, block0.Hash(), 1)
	block2 := newTestBlock(2, block1.Hash(), 2)

	// With an empty pool the path is just the new block.
	fork := pool.GetPath(block2)
	if fork.Size() != 1 || fork.BlockAt(0) != block2 {
		t.Fatalf("GetPath: got size %d, want single block", fork.Size())
	}

	// Pooled ancestors are walked back to the persistent chain.
	pool.Add(block0, 1)
	pool.Add(block1, 2)

	fork = pool.GetPath(block2)
	if fork.Size() != 3 {
		t.Fatalf("GetPath: got size %d, want 3", fork.Size())
	}
	if fork.BlockAt(0) != block0 || fork.BlockAt(1) != block1 ||
		fork.BlockAt(2) != block2 {
		t.Error("GetPath: wrong block ordering")
	}
	if fork.Hash() != chainhash.ZeroHash {
		t.Errorf("GetPath: fork point got %v, want zero hash", fork.Hash())
	}

	// A block already pooled yields an empty path.
	fork = pool.GetPath(block1)
	if !fork.Empty() {
		t.Errorf("GetPath: pooled block path size %d, want empty", fork.Size())
	}
}

// TestBlockPoolRemove verifies accepted blocks leave the pool.
func TestBlockPoolRemove(t *testing.T) {
	pool := NewBlockPool(50)

	block0 := newTestBlock(0, &chainhash.ZeroHash, 0)
	block1 := newTestBlock(1, block0.Hash(), 1)
	pool.Add(block0, 1)
	pool.Add(block1, 2)

	pool.Remove([]*util.Block{block0, block1})
	if pool.Size() != 0 {
		t.Errorf("Remove: pool size %d, want 0", pool.Size())
	}
}

// TestBlockPoolPrune verifies only uncompetitive candidates are dropped.
func TestBlockPoolPrune(t *testing.T) {
	pool := NewBlockPool(10)

	low := newTestBlock(0, &chainhash.ZeroHash, 0)
	high := newTestBlock(1, &chainhash.ZeroHash, 1)
	pool.Add(low, 5)
	pool.Add(high, 95)

	// Top height of 100 keeps candidates at height 90 and above.
	pool.Prune(100)
	if pool.Exists(low.Hash()) {
		t.Error("Prune: uncompetitive candidate retained")
	}
	if !pool.Exists(high.Hash()) {
		t.Error("Prune: competitive candidate dropped")
	}

	// A shallow chain prunes nothing.
	pool.Add(low, 5)
	pool.Prune(10)
	if !pool.Exists(low.Hash()) {
		t.Error("Prune: shallow chain dropped a candidate")
	}
}

// TestBlockPoolAddAll verifies replaced segments re-enter ascending from
// the first height.
func TestBlockPoolAddAll(t *testing.T) {
	pool := NewBlockPool(50)

	block0 := newTestBlock(0, &chainhash.ZeroHash, 0)
	block1 := newTestBlock(1, block0.Hash(), 1)
	pool.AddAll([]*util.Block{block0, block1}, 7)

	if pool.Size() != 2 {
		t.Fatalf("AddAll: pool size %d, want 2", pool.Size())
	}
	if pool.blocks[*block0.Hash()].height != 7 {
		t.Errorf("AddAll: first height %d, want 7",
			pool.blocks[*block0.Hash()].height)
	}
	if pool.blocks[*block1.Hash()].height != 8 {
		t.Errorf("AddAll: second height %d, want 8",
			pool.blocks[*block1.Hash()].height)
	}
}
