package blockchain

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
)

const (
	// maxTimeOffset is the maximum duration a block timestamp is allowed
	// to be ahead of the current time.
	maxTimeOffset = 2 * time.Hour

	// defaultCoinbaseMaturity is the number of blocks required before
	// newly mined coins can be spent.
	defaultCoinbaseMaturity = 100
)

// mainPowLimit is the highest proof of work target a block may claim when
// no limit is configured, 2^224 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224),
	big.NewInt(1))

// ValidatorConfig parameterizes a ChainValidator.
type ValidatorConfig struct {
	// Chain is consulted for prevouts and confirmed transactions not
	// resolvable within the fork.
	Chain FastChain

	// PriorityPool executes the CPU-bound accept and connect stages.
	PriorityPool *threadpool.Pool

	// PowLimit is the highest permitted proof of work target. Nil means
	// the main network limit.
	PowLimit *big.Int

	// CoinbaseMaturity is the required depth before a coinbase output
	// may be spent. Zero means the default of 100.
	CoinbaseMaturity uint64
}

// ChainValidator performs staged validation of candidate blocks: Check is
// independent of chain state, Accept validates the top block in fork
// context, and Connect resolves every input against the fork and the store.
// Script evaluation is delegated to the input resolution pass.
type ChainValidator struct {
	chain            FastChain
	priority         *threadpool.Pool
	populate         *populator
	powLimit         *big.Int
	coinbaseMaturity uint64
	stopped          int32
}

// NewChainValidator returns a validator for the given configuration.
func NewChainValidator(cfg *ValidatorConfig) *ChainValidator {
	powLimit := cfg.PowLimit
	if powLimit == nil {
		powLimit = mainPowLimit
	}
	maturity := cfg.CoinbaseMaturity
	if maturity == 0 {
		maturity = defaultCoinbaseMaturity
	}

	return &ChainValidator{
		chain:            cfg.Chain,
		priority:         cfg.PriorityPool,
		populate:         newPopulator(cfg.Chain),
		powLimit:         powLimit,
		coinbaseMaturity: maturity,
	}
}

// Stop aborts pending validation. Stages observing the stop report
// ErrServiceStopped through their handlers.
func (v *ChainValidator) Stop() {
	atomic.StoreInt32(&v.stopped, 1)
}

func (v *ChainValidator) isStopped() bool {
	return atomic.LoadInt32(&v.stopped) != 0
}

// Check performs the validation checks that are independent of chain state:
// block structure, merkle commitment, timestamp sanity and proof of work.
func (v *ChainValidator) Check(block *util.Block) error {
	msgBlock := block.MsgBlock()
	header := &msgBlock.Header

	// A block must have at least one transaction.
	transactions := block.Transactions()
	if len(transactions) == 0 {
		return ruleError(ErrNoTransactions, "block does not contain any "+
			"transactions")
	}

	// The first transaction in a block must be a coinbase.
	if !transactions[util.CoinbaseTransactionIndex].IsCoinBase() {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in "+
			"block is not a coinbase")
	}

	// A block must not have more than one coinbase.
	for i, tx := range transactions[1:] {
		if tx.IsCoinBase() {
			str := fmt.Sprintf("block contains second coinbase at index %d",
				i+1)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	// The merkle root in the header must commit to the transactions.
	merkleRoot := CalcMerkleRoot(transactions)
	if header.MerkleRoot != merkleRoot {
		str := fmt.Sprintf("block merkle root is invalid - header indicates "+
			"%s, but calculated value is %s", header.MerkleRoot, merkleRoot)
		return ruleError(ErrBadMerkleRoot, str)
	}

	// The timestamp must not be too far in the future.
	maxTimestamp := time.Now().Add(maxTimeOffset)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %s is too far in the future",
			header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	return v.checkProofOfWork(block)
}

// checkProofOfWork ensures the block hash is below the target claimed by
// the header bits and that the claimed target is within the valid range.
func (v *ChainValidator) checkProofOfWork(block *util.Block) error {
	header := &block.MsgBlock().Header

	// The target difficulty must be larger than zero.
	target := util.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too low",
			target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(v.powLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is higher "+
			"than max of %064x", target, v.powLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The block hash must not exceed the claimed target.
	hashNum := util.HashToBig(block.Hash()[:])
	if hashNum.Cmp(target) > 0 {
		str := fmt.Sprintf("block hash of %064x is higher than expected "+
			"max of %064x", hashNum, target)
		return ruleError(ErrHighHash, str)
	}

	return nil
}

// Accept validates the fork's top block against the fork and store context:
// transaction hash duplication per BIP30 and double spend detection. The
// result is delivered through handler from a priority pool worker.
func (v *ChainValidator) Accept(fork *Fork, handler func(error)) {
	err := v.priority.Spawn(func() {
		handler(v.acceptBlock(fork))
	})
	if err != nil {
		handler(ruleError(ErrServiceStopped, "validation pool stopped"))
	}
}

func (v *ChainValidator) acceptBlock(fork *Fork) error {
	if v.isStopped() {
		return ruleError(ErrServiceStopped, "validator stopped")
	}

	context, err := v.populate.populateBlockState(fork)
	if err != nil {
		return ruleError(ErrOperationFailed, err.Error())
	}

	for _, tx := range fork.Top().Transactions() {
		// A transaction hash that already occurs in the fork or in the
		// chain would shadow or be shadowed by the existing transaction.
		if context.duplicates[*tx.Hash()] || context.stored[*tx.Hash()] {
			str := fmt.Sprintf("transaction %s would overwrite an "+
				"existing transaction", tx.Hash())
			return ruleError(ErrOverwriteTx, str)
		}

		if tx.IsCoinBase() {
			continue
		}

		for _, txIn := range tx.MsgTx().TxIn {
			prevout := context.prevouts[txIn.PreviousOutpoint]
			if prevout != nil && prevout.Spent {
				str := fmt.Sprintf("transaction %s spends outpoint %s "+
					"which is already spent", tx.Hash(),
					txIn.PreviousOutpoint)
				return ruleError(ErrDoubleSpend, str)
			}
		}
	}

	return nil
}

// Connect validates the fork's top block inputs: every prevout must
// resolve, coinbase spends must be mature and the output value must not
// exceed the input value. The result is delivered through handler from a
// priority pool worker.
func (v *ChainValidator) Connect(fork *Fork, handler func(error)) {
	err := v.priority.Spawn(func() {
		handler(v.connectBlock(fork))
	})
	if err != nil {
		handler(ruleError(ErrServiceStopped, "validation pool stopped"))
	}
}

func (v *ChainValidator) connectBlock(fork *Fork) error {
	if v.isStopped() {
		return ruleError(ErrServiceStopped, "validator stopped")
	}

	context, err := v.populate.populateBlockState(fork)
	if err != nil {
		return ruleError(ErrOperationFailed, err.Error())
	}

	spendHeight := fork.TopHeight()
	for _, tx := range fork.Top().Transactions() {
		if tx.IsCoinBase() {
			continue
		}

		var totalIn, totalOut uint64
		for _, txIn := range tx.MsgTx().TxIn {
			prevout := context.prevouts[txIn.PreviousOutpoint]
			if prevout == nil || prevout.Cache == nil {
				str := fmt.Sprintf("output %s referenced from transaction "+
					"%s does not exist", txIn.PreviousOutpoint, tx.Hash())
				return ruleError(ErrMissingTxOut, str)
			}

			// The height of the prevout is set iff the prevout is a
			// coinbase output.
			if prevout.Height != HeightNotSpecified {
				blocksSincePrev := saturatingSub(spendHeight, prevout.Height)
				if blocksSincePrev < v.coinbaseMaturity {
					str := fmt.Sprintf("tried to spend coinbase of height "+
						"%d at height %d before required maturity of %d",
						prevout.Height, spendHeight, v.coinbaseMaturity)
					return ruleError(ErrImmatureSpend, str)
				}
			}

			totalIn += prevout.Cache.Value
		}

		for _, txOut := range tx.MsgTx().TxOut {
			totalOut += txOut.Value
		}

		if totalOut > totalIn {
			str := fmt.Sprintf("total value of all transaction outputs "+
				"for transaction %s is %d which is higher than the input "+
				"value of %d", tx.Hash(), totalOut, totalIn)
			return ruleError(ErrSpendTooHigh, str)
		}
	}

	return nil
}
