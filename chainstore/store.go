package chainstore

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/coppernet/copperd/blockchain"
	"github.com/coppernet/copperd/database/ldb"
	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
	"github.com/coppernet/copperd/wire"
)

// Keyspace prefixes. Every main chain block is indexed four ways: by hash
// to its serialized bytes, by height to its hash, by hash to its height,
// and per transaction for the populator queries.
var (
	blockKeyPrefix  = []byte("b:")
	heightKeyPrefix = []byte("h:")
	metaKeyPrefix   = []byte("m:")
	txKeyPrefix     = []byte("t:")
	spendKeyPrefix  = []byte("s:")
	tipKey          = []byte("c")
	flushLockKey    = []byte("f")
)

var (
	errStoreEmptyTip  = errors.New("chain store has no tip")
	errStoreBadRecord = errors.New("malformed chain store record")
)

// ChainStore is a persistent main chain over LevelDB. It implements the
// blockchain.FastChain interface consumed by the organizer and populator.
//
// All mutations of the main chain go through a single atomic batch per
// reorganization, so readers observe either the old segment or the new one,
// never a mix.
type ChainStore struct {
	mtx sync.RWMutex
	db  *ldb.LevelDB
}

// New returns a chain store over the given database.
func New(db *ldb.LevelDB) *ChainStore {
	return &ChainStore{db: db}
}

// Init stores the genesis block at height zero when the store is empty.
func (s *ChainStore) Init(genesis *util.Block) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, ok, err := s.tip()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	batch := s.db.Batch()
	err = s.stageBlock(batch, genesis, 0)
	if err != nil {
		return err
	}
	stageTip(batch, 0, genesis.Hash())
	return batch.Write(true)
}

// IsDirty returns whether a previous session left the flush lock in place,
// indicating the store may have unsynced writes.
func (s *ChainStore) IsDirty() (bool, error) {
	return s.db.Has(flushLockKey)
}

// GetBlockExists returns whether the block with the given hash is on the
// main chain.
func (s *ChainStore) GetBlockExists(hash *chainhash.Hash) (bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.db.Has(metaKey(hash))
}

// GetHeight returns the main chain height of the block with the given
// hash, or false when the hash is unknown.
func (s *ChainStore) GetHeight(hash *chainhash.Hash) (uint64, bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.height(hash)
}

func (s *ChainStore) height(hash *chainhash.Hash) (uint64, bool, error) {
	data, err := s.db.Get(metaKey(hash))
	if err != nil {
		if ldb.IsNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, errors.WithStack(errStoreBadRecord)
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// GetTipHeight returns the height of the main chain top, or false when the
// store is empty.
func (s *ChainStore) GetTipHeight() (uint64, bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.tip()
}

func (s *ChainStore) tip() (uint64, bool, error) {
	data, err := s.db.Get(tipKey)
	if err != nil {
		if ldb.IsNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(data) != 8+chainhash.HashSize {
		return 0, false, errors.WithStack(errStoreBadRecord)
	}
	return binary.BigEndian.Uint64(data[:8]), true, nil
}

// GetBlockByHeight returns the main chain block at the given height, or
// nil when the height is above the top.
func (s *ChainStore) GetBlockByHeight(height uint64) (*util.Block, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.blockByHeight(height)
}

func (s *ChainStore) blockByHeight(height uint64) (*util.Block, error) {
	hashData, err := s.db.Get(heightKey(height))
	if err != nil {
		if ldb.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}

	hash, err := chainhash.NewHash(hashData)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return s.block(hash)
}

func (s *ChainStore) block(hash *chainhash.Hash) (*util.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	return util.NewBlockFromBytes(data)
}

// GetForkDifficulty returns the cumulative claimed work of main chain
// blocks at heights greater than or equal to firstHeight. Accumulation
// stops early once the total exceeds maximum, which bounds the work done
// for forks that cannot win.
func (s *ChainStore) GetForkDifficulty(maximum *big.Int,
	firstHeight uint64) (*big.Int, error) {

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	total := big.NewInt(0)
	tipHeight, ok, err := s.tip()
	if err != nil {
		return nil, err
	}
	if !ok || firstHeight > tipHeight {
		return total, nil
	}

	for height := firstHeight; height <= tipHeight; height++ {
		hashData, err := s.db.Get(heightKey(height))
		if err != nil {
			return nil, err
		}
		blockData, err := s.db.Get(blockKeyRaw(hashData))
		if err != nil {
			return nil, err
		}

		var header wire.BlockHeader
		err = header.Deserialize(bytes.NewReader(blockData))
		if err != nil {
			return nil, errors.WithStack(err)
		}

		total.Add(total, util.CalcWork(header.Bits))
		if total.Cmp(maximum) > 0 {
			break
		}
	}

	return total, nil
}

// GetTransactionExists returns whether a confirmed transaction with the
// given hash exists on the main chain.
func (s *ChainStore) GetTransactionExists(hash *chainhash.Hash) (bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.db.Has(txKey(hash))
}

// GetOutput resolves an outpoint against the main chain transaction index.
func (s *ChainStore) GetOutput(outpoint wire.Outpoint) (*blockchain.OutputEntry, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	data, err := s.db.Get(txKey(&outpoint.TxID))
	if err != nil {
		if ldb.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) != chainhash.HashSize+4+8 {
		return nil, errors.WithStack(errStoreBadRecord)
	}

	blockHash, err := chainhash.NewHash(data[:chainhash.HashSize])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	txIndex := binary.BigEndian.Uint32(data[chainhash.HashSize : chainhash.HashSize+4])
	height := binary.BigEndian.Uint64(data[chainhash.HashSize+4:])

	block, err := s.block(blockHash)
	if err != nil {
		return nil, err
	}

	tx, err := block.Tx(int(txIndex))
	if err != nil {
		return nil, err
	}
	if outpoint.Index >= uint32(len(tx.MsgTx().TxOut)) {
		return nil, nil
	}

	return &blockchain.OutputEntry{
		Output:   tx.MsgTx().TxOut[outpoint.Index],
		Height:   height,
		Coinbase: txIndex == util.CoinbaseTransactionIndex,
	}, nil
}

// IsSpent returns whether the outpoint is consumed by a confirmed
// transaction on the main chain.
func (s *ChainStore) IsSpent(outpoint wire.Outpoint) (bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.db.Has(spendKey(outpoint))
}

// Reorganize atomically replaces the main chain suffix above the fork
// point with the fork blocks. The replaced blocks are delivered to the
// completion ordered ascending by height, so the last element is the old
// top. The swap runs on the given dispatcher and the completion fires from
// the same worker.
func (s *ChainStore) Reorganize(fork *blockchain.Fork, flush bool,
	dispatch *threadpool.Pool, complete blockchain.ReorganizeCompleteHandler) {

	task := func() {
		outgoing, err := s.reorganize(fork, flush)
		complete(outgoing, err)
	}

	if err := dispatch.Spawn(task); err != nil {
		// The dispatcher has shut down, run the swap inline so the
		// completion is still delivered.
		task()
	}
}

func (s *ChainStore) reorganize(fork *blockchain.Fork,
	flush bool) ([]*util.Block, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	forkHeight := fork.Height()
	firstHeight := forkHeight + 1

	tipHeight, ok, err := s.tip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WithStack(errStoreEmptyTip)
	}

	batch := s.db.Batch()

	// Pop the main chain blocks above the fork point, ascending, so the
	// last outgoing element is the old top.
	var outgoing []*util.Block
	for height := firstHeight; height <= tipHeight; height++ {
		block, err := s.blockByHeight(height)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errors.WithStack(errStoreBadRecord)
		}
		outgoing = append(outgoing, block)
		s.unstageBlock(batch, block, height)
	}

	// Push the fork blocks.
	for i, block := range fork.Blocks() {
		err := s.stageBlock(batch, block, firstHeight+uint64(i))
		if err != nil {
			return nil, err
		}
	}

	top := fork.Top()
	stageTip(batch, fork.TopHeight(), top.Hash())

	err = batch.Write(flush)
	if err != nil {
		return nil, err
	}

	log.Debugf("Reorganized chain at height %d: %d blocks out, %d blocks in",
		forkHeight, len(outgoing), fork.Size())
	return outgoing, nil
}

// BeginWrites acquires the session flush lock by writing a synced crash
// marker. A session that skips per-reorganization flushing is detectable
// as dirty if it does not release the lock.
func (s *ChainStore) BeginWrites() error {
	batch := s.db.Batch()
	batch.Put(flushLockKey, []byte{1})
	return batch.Write(true)
}

// EndWrites releases the session flush lock with a synced delete.
func (s *ChainStore) EndWrites() error {
	batch := s.db.Batch()
	batch.Delete(flushLockKey)
	return batch.Write(true)
}

// stageBlock adds all index records of a block at the given height to the
// batch.
func (s *ChainStore) stageBlock(batch *ldb.Batch, block *util.Block,
	height uint64) error {

	serialized, err := block.Bytes()
	if err != nil {
		return err
	}

	hash := block.Hash()
	batch.Put(blockKey(hash), serialized)
	batch.Put(heightKey(height), hash.CloneBytes())

	var heightData [8]byte
	binary.BigEndian.PutUint64(heightData[:], height)
	batch.Put(metaKey(hash), heightData[:])

	for i, tx := range block.Transactions() {
		record := make([]byte, chainhash.HashSize+4+8)
		copy(record, hash.CloneBytes())
		binary.BigEndian.PutUint32(record[chainhash.HashSize:], uint32(i))
		binary.BigEndian.PutUint64(record[chainhash.HashSize+4:], height)
		batch.Put(txKey(tx.Hash()), record)

		if tx.IsCoinBase() {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			batch.Put(spendKey(txIn.PreviousOutpoint), tx.Hash().CloneBytes())
		}
	}

	return nil
}

// unstageBlock adds the removal of all index records of a block to the
// batch.
func (s *ChainStore) unstageBlock(batch *ldb.Batch, block *util.Block,
	height uint64) {

	hash := block.Hash()
	batch.Delete(blockKey(hash))
	batch.Delete(heightKey(height))
	batch.Delete(metaKey(hash))

	for _, tx := range block.Transactions() {
		batch.Delete(txKey(tx.Hash()))

		if tx.IsCoinBase() {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			batch.Delete(spendKey(txIn.PreviousOutpoint))
		}
	}
}

// stageTip adds the tip record update to the batch.
func stageTip(batch *ldb.Batch, height uint64, hash *chainhash.Hash) {
	record := make([]byte, 8+chainhash.HashSize)
	binary.BigEndian.PutUint64(record[:8], height)
	copy(record[8:], hash[:])
	batch.Put(tipKey, record)
}

func blockKey(hash *chainhash.Hash) []byte {
	return blockKeyRaw(hash[:])
}

func blockKeyRaw(hash []byte) []byte {
	return prefixedKey(blockKeyPrefix, hash)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(heightKeyPrefix)+8)
	copy(key, heightKeyPrefix)
	binary.BigEndian.PutUint64(key[len(heightKeyPrefix):], height)
	return key
}

func metaKey(hash *chainhash.Hash) []byte {
	return prefixedKey(metaKeyPrefix, hash[:])
}

func txKey(hash *chainhash.Hash) []byte {
	return prefixedKey(txKeyPrefix, hash[:])
}

func prefixedKey(prefix, suffix []byte) []byte {
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}

func spendKey(outpoint wire.Outpoint) []byte {
	key := make([]byte, len(spendKeyPrefix)+chainhash.HashSize+4)
	copy(key, spendKeyPrefix)
	copy(key[len(spendKeyPrefix):], outpoint.TxID[:])
	binary.BigEndian.PutUint32(key[len(spendKeyPrefix)+chainhash.HashSize:],
		outpoint.Index)
	return key
}
