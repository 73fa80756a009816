package blockchain

import (
	"math/big"

	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// Fork is a contiguous chain segment descending from a known parent in the
// persistent chain. Front is the top of the chain plus one, back is the top
// of the fork.
//
// A fork is owned by a single organize attempt at a time and is not safe
// for concurrent mutation.
type Fork struct {
	// parentHeight is the height in the persistent chain of the block
	// immediately preceding the first fork block.
	parentHeight uint64

	blocks []*util.Block
}

// NewFork returns an empty fork with a parent height of zero. The block
// list is allocated for the common single new block case.
func NewFork() *Fork {
	return &Fork{
		blocks: make([]*util.Block, 0, 1),
	}
}

// SetHeight overwrites the parent height. The caller must ensure the height
// matches the fork point hash in the persistent chain.
func (f *Fork) SetHeight(height uint64) {
	f.parentHeight = height
}

// PushFront prepends block if the fork is empty or the current front links
// to it, and returns whether the block was added.
func (f *Fork) PushFront(block *util.Block) bool {
	linked := func(block *util.Block) bool {
		front := &f.blocks[0].MsgBlock().Header
		return front.PrevBlock == *block.Hash()
	}

	if f.Empty() || linked(block) {
		f.blocks = append([]*util.Block{block}, f.blocks...)
		return true
	}

	return false
}

// Top returns the last (highest) block of the fork, or nil when empty.
func (f *Fork) Top() *util.Block {
	if f.Empty() {
		return nil
	}
	return f.blocks[len(f.blocks)-1]
}

// TopHeight returns the blockchain height of the top block, or zero when
// the fork is empty.
func (f *Fork) TopHeight() uint64 {
	if f.Empty() {
		return 0
	}
	return checkedAdd(f.parentHeight, uint64(f.Size()))
}

// Blocks returns the fork blocks ordered from the fork point upward. The
// returned slice is a copy to protect the block list from the caller.
func (f *Fork) Blocks() []*util.Block {
	blocks := make([]*util.Block, len(f.blocks))
	copy(blocks, f.blocks)
	return blocks
}

// Empty returns whether the fork holds no blocks.
func (f *Fork) Empty() bool {
	return len(f.blocks) == 0
}

// Size returns the number of blocks in the fork.
func (f *Fork) Size() int {
	return len(f.blocks)
}

// Height returns the parent height of the fork.
func (f *Fork) Height() uint64 {
	return f.parentHeight
}

// Hash returns the fork point hash, the previous block hash of the first
// fork block, or the zero hash when the fork is empty.
func (f *Fork) Hash() chainhash.Hash {
	if f.Empty() {
		return chainhash.ZeroHash
	}
	return f.blocks[0].MsgBlock().Header.PrevBlock
}

// IndexOf returns the fork index of the block at the given blockchain
// height. The caller must ensure that the height is above the fork point.
func (f *Fork) IndexOf(height uint64) uint64 {
	return saturatingSub(saturatingSub(height, f.parentHeight), 1)
}

// HeightAt returns the blockchain height of the block at the given fork
// index. The index is unguarded, the caller must verify.
func (f *Fork) HeightAt(index uint64) uint64 {
	// The height of the blockchain fork point plus zero-based fork index.
	return checkedAdd(checkedAdd(f.parentHeight, index), 1)
}

// BlockAt returns the block at the given fork index, or nil when the index
// is out of range.
func (f *Fork) BlockAt(index uint64) *util.Block {
	if index < uint64(f.Size()) {
		return f.blocks[index]
	}
	return nil
}

// The fork difficulty check is both a consensus check and denial of service
// protection. It is necessary here that total claimed work exceeds that of
// the competing chain segment (consensus), and that the work has actually
// been expended (denial of service protection). The latter ensures we don't
// query the chain for total segment difficulty past the fork
// competitiveness. Once work is proven sufficient the blocks are validated,
// requiring each to have the work required by the header accept check. It
// is possible that a longer chain of lower work blocks could meet both
// above criteria. However this requires the same amount of work as a
// shorter segment, so an attacker gains no advantage from that option, and
// it will be caught in validation.

// Difficulty returns the sum of the claimed work of all fork blocks, the
// work implied by each header's bits field.
func (f *Fork) Difficulty() *big.Int {
	total := big.NewInt(0)

	for _, block := range f.blocks {
		total.Add(total, util.CalcWork(block.MsgBlock().Header.Bits))
	}

	return total
}

// GetBits returns the bits of the block at the given height in the fork.
func (f *Fork) GetBits(height uint64) (uint32, bool) {
	if height <= f.parentHeight {
		return 0, false
	}

	block := f.BlockAt(f.IndexOf(height))
	if block == nil {
		return 0, false
	}

	return block.MsgBlock().Header.Bits, true
}

// GetVersion returns the version of the block at the given height in the
// fork.
func (f *Fork) GetVersion(height uint64) (int32, bool) {
	if height <= f.parentHeight {
		return 0, false
	}

	block := f.BlockAt(f.IndexOf(height))
	if block == nil {
		return 0, false
	}

	return block.MsgBlock().Header.Version, true
}

// GetTimestamp returns the timestamp of the block at the given height in
// the fork.
func (f *Fork) GetTimestamp(height uint64) (uint32, bool) {
	if height <= f.parentHeight {
		return 0, false
	}

	block := f.BlockAt(f.IndexOf(height))
	if block == nil {
		return 0, false
	}

	return uint32(block.MsgBlock().Header.Timestamp.Unix()), true
}

// GetBlockHash returns the hash of the block at the given height if it
// exists in the fork.
func (f *Fork) GetBlockHash(height uint64) (*chainhash.Hash, bool) {
	if height <= f.parentHeight {
		return nil, false
	}

	block := f.BlockAt(f.IndexOf(height))
	if block == nil {
		return nil, false
	}

	return block.Hash(), true
}

// saturatingSub returns a - b, clamped at zero.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// checkedAdd returns a + b and panics on overflow. Chain height arithmetic
// overflowing indicates an irrecoverable internal error.
func checkedAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		panic("chain height overflow")
	}
	return sum
}
