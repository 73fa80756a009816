package blockchain

import (
	"sync"

	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// poolEntry is a pooled candidate block together with the blockchain height
// it would occupy if its branch won.
type poolEntry struct {
	block  *util.Block
	height uint64
}

// BlockPool caches validated candidate blocks whose branches lack
// sufficient work to reorganize, forming the forest the organizer assembles
// fork paths from. All pool blocks are valid, lacking only sufficient work
// for reorganization.
//
// This type is safe for concurrent access.
type BlockPool struct {
	// maximumDepth is how far below the main chain top a candidate may
	// sit before it is no longer competitive.
	maximumDepth uint64

	mtx    sync.RWMutex
	blocks map[chainhash.Hash]*poolEntry
}

// NewBlockPool returns an empty pool that prunes candidates more than
// maximumDepth below the main chain top.
func NewBlockPool(maximumDepth uint64) *BlockPool {
	return &BlockPool{
		maximumDepth: maximumDepth,
		blocks:       make(map[chainhash.Hash]*poolEntry),
	}
}

// Add inserts a newly-validated candidate block at the given height.
func (p *BlockPool) Add(block *util.Block, height uint64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.blocks[*block.Hash()] = &poolEntry{block: block, height: height}
}

// AddAll inserts a root path of replaced blocks, ordered ascending by
// height starting at firstHeight. This is how the losing segment of a
// reorganization re-enters the candidate forest.
func (p *BlockPool) AddAll(blocks []*util.Block, firstHeight uint64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for i, block := range blocks {
		height := checkedAdd(firstHeight, uint64(i))
		p.blocks[*block.Hash()] = &poolEntry{block: block, height: height}
	}
}

// Remove discards the path of accepted blocks from the pool.
func (p *BlockPool) Remove(blocks []*util.Block) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, block := range blocks {
		delete(p.blocks, *block.Hash())
	}
}

// Prune discards candidates rooted more than the maximum depth below the
// given main chain top.
func (p *BlockPool) Prune(topHeight uint64) {
	minimum := saturatingSub(topHeight, p.maximumDepth)
	if minimum == 0 {
		return
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	for hash, entry := range p.blocks {
		if entry.height < minimum {
			delete(p.blocks, hash)
		}
	}
}

// Size returns the number of pooled candidates.
func (p *BlockPool) Size() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return len(p.blocks)
}

// Exists returns whether the pool holds a candidate with the given hash.
func (p *BlockPool) Exists(hash *chainhash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	_, ok := p.blocks[*hash]
	return ok
}

// GetPath returns the root path through the candidate forest to and
// including the new block. The path is empty if the block already exists in
// the pool.
func (p *BlockPool) GetPath(block *util.Block) *Fork {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	fork := NewFork()
	if _, ok := p.blocks[*block.Hash()]; ok {
		return fork
	}

	fork.PushFront(block)
	for {
		previous := fork.Hash()
		entry, ok := p.blocks[previous]
		if !ok {
			break
		}
		fork.PushFront(entry.block)
	}

	return fork
}
