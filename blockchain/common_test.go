package blockchain

import (
	"math/big"
	"sync"
	"time"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
	"github.com/coppernet/copperd/wire"
)

// testTimestamp is a fixed timestamp so test block hashes are stable.
var testTimestamp = time.Unix(0x495fab29, 0)

// newTestBlock returns a block with the given bits and previous block
// hash. The nonce disambiguates otherwise identical headers.
func newTestBlock(bits uint32, prev *chainhash.Hash, nonce uint32) *util.Block {
	header := &wire.BlockHeader{
		Version:   1,
		PrevBlock: *prev,
		Timestamp: testTimestamp,
		Bits:      bits,
		Nonce:     nonce,
	}
	return util.NewBlock(wire.NewMsgBlock(header))
}

// newTestBlockWithTxs returns a linked block carrying the given
// transactions with a consistent merkle commitment.
func newTestBlockWithTxs(bits uint32, prev *chainhash.Hash, nonce uint32,
	txs ...*wire.MsgTx) *util.Block {

	header := &wire.BlockHeader{
		Version:   1,
		PrevBlock: *prev,
		Timestamp: testTimestamp,
		Bits:      bits,
		Nonce:     nonce,
	}
	msgBlock := wire.NewMsgBlock(header)
	for _, tx := range txs {
		msgBlock.AddTransaction(tx)
	}
	block := util.NewBlock(msgBlock)
	msgBlock.Header.MerkleRoot = CalcMerkleRoot(block.Transactions())
	return util.NewBlock(msgBlock)
}

// newCoinbaseTx returns a coinbase transaction paying the given value. The
// nonce makes the hash unique across test blocks.
func newCoinbaseTx(value uint64, nonce byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewCoinBaseOutpoint(), []byte{nonce}))
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x51}))
	return tx
}

// newSpendTx returns a transaction spending the given outpoint.
func newSpendTx(outpoint wire.Outpoint, value uint64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&outpoint, []byte{0x00}))
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x52}))
	return tx
}

// buildFork links the given blocks into a fork anchored at parentHeight.
func buildFork(parentHeight uint64, blocks ...*util.Block) *Fork {
	fork := NewFork()
	for i := len(blocks) - 1; i >= 0; i-- {
		if !fork.PushFront(blocks[i]) {
			panic("buildFork: blocks are not linked")
		}
	}
	fork.SetHeight(parentHeight)
	return fork
}

// fakeChain is a configurable FastChain double.
type fakeChain struct {
	mtx sync.Mutex

	exists  map[chainhash.Hash]bool
	heights map[chainhash.Hash]uint64
	txs     map[chainhash.Hash]bool
	outputs map[wire.Outpoint]*OutputEntry
	spent   map[wire.Outpoint]bool

	forkDifficulty    *big.Int
	forkDifficultyErr error

	outgoing      []*util.Block
	reorganizeErr error
	reorganized   bool
	reorganizedTo *Fork

	beginWrites int
	endWrites   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		exists:         make(map[chainhash.Hash]bool),
		heights:        make(map[chainhash.Hash]uint64),
		txs:            make(map[chainhash.Hash]bool),
		outputs:        make(map[wire.Outpoint]*OutputEntry),
		spent:          make(map[wire.Outpoint]bool),
		forkDifficulty: big.NewInt(0),
	}
}

func (c *fakeChain) GetBlockExists(hash *chainhash.Hash) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.exists[*hash], nil
}

func (c *fakeChain) GetHeight(hash *chainhash.Hash) (uint64, bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	height, ok := c.heights[*hash]
	return height, ok, nil
}

func (c *fakeChain) GetForkDifficulty(maximum *big.Int,
	firstHeight uint64) (*big.Int, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.forkDifficultyErr != nil {
		return nil, c.forkDifficultyErr
	}
	return new(big.Int).Set(c.forkDifficulty), nil
}

func (c *fakeChain) GetTransactionExists(hash *chainhash.Hash) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.txs[*hash], nil
}

func (c *fakeChain) GetOutput(outpoint wire.Outpoint) (*OutputEntry, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.outputs[outpoint], nil
}

func (c *fakeChain) IsSpent(outpoint wire.Outpoint) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.spent[outpoint], nil
}

func (c *fakeChain) Reorganize(fork *Fork, flush bool,
	dispatch *threadpool.Pool, complete ReorganizeCompleteHandler) {

	c.mtx.Lock()
	err := c.reorganizeErr
	outgoing := c.outgoing
	if err == nil {
		c.reorganized = true
		c.reorganizedTo = fork
	}
	c.mtx.Unlock()

	// Completing synchronously exercises the organizer's tolerance for
	// stores that do not defer the callback.
	if err != nil {
		complete(nil, err)
		return
	}
	complete(outgoing, nil)
}

func (c *fakeChain) BeginWrites() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.beginWrites++
	return nil
}

func (c *fakeChain) EndWrites() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.endWrites++
	return nil
}

// fakeValidator is a configurable Validator double. Accept and Connect
// complete synchronously on the caller.
type fakeValidator struct {
	checkErr   error
	acceptErr  error
	connectErr error
	stopped    bool
}

func (v *fakeValidator) Check(block *util.Block) error {
	return v.checkErr
}

func (v *fakeValidator) Accept(fork *Fork, handler func(error)) {
	handler(v.acceptErr)
}

func (v *fakeValidator) Connect(fork *Fork, handler func(error)) {
	handler(v.connectErr)
}

func (v *fakeValidator) Stop() {
	v.stopped = true
}
