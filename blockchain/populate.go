package blockchain

import (
	"math"

	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
	"github.com/coppernet/copperd/wire"
)

// HeightNotSpecified marks a prevout height that carries no information.
// The height of a prevout is populated iff the prevout is a coinbase
// output, which is what downstream maturity checks key off.
const HeightNotSpecified = math.MaxUint64

// PrevoutData is the validation state resolved for one previous output
// reference. It lives in a side table owned by the active organize attempt
// rather than on the shared immutable block.
type PrevoutData struct {
	// Cache is the referenced output, or nil when the prevout could not
	// be resolved in the fork or the store.
	Cache *wire.TxOut

	// Height is the height of the block containing the prevout iff the
	// prevout is a coinbase output, otherwise HeightNotSpecified.
	Height uint64

	// Spent indicates the outpoint is consumed by more than one input.
	Spent bool

	// Confirmed mirrors Spent for fork-resolved outpoints. The flag is
	// fork-local: it reports a spend observed in the candidate segment,
	// not a spend confirmed on the main chain.
	Confirmed bool
}

// PopulateTx reports whether the transaction hash occurs more than once
// across all transactions in all fork blocks. The count includes the
// transaction itself, so the transaction must be part of the fork.
func (f *Fork) PopulateTx(tx *util.Tx) bool {
	// Counting all is easier than excluding self and terminating early.
	count := 0
	for _, block := range f.blocks {
		for _, blockTx := range block.Transactions() {
			if blockTx.Hash().IsEqual(tx.Hash()) {
				count++
			}
		}
	}

	if count == 0 {
		panic("populated transaction is not in the fork")
	}

	return count > 1
}

// PopulateSpent reports whether the outpoint is consumed by more than one
// input across all transactions in all fork blocks. The count includes the
// spending input itself, so the outpoint must be spent by a fork
// transaction.
func (f *Fork) PopulateSpent(outpoint wire.Outpoint) bool {
	// Counting all is easier than excluding self and terminating early.
	spent := 0
	for _, block := range f.blocks {
		for _, tx := range block.Transactions() {
			for _, txIn := range tx.MsgTx().TxIn {
				if txIn.PreviousOutpoint == outpoint {
					spent++
				}
			}
		}
	}

	if spent == 0 {
		panic("populated outpoint is not spent in the fork")
	}

	return spent > 1
}

// PopulatePrevout resolves the outpoint against the fork blocks. The scan
// runs from the highest fork index down so that later duplicate
// transactions shadow earlier ones (BIP30). A nil Cache in the result means
// the prevout was not found in the fork and the store must be consulted.
func (f *Fork) PopulatePrevout(outpoint wire.Outpoint) *PrevoutData {
	// In case this input is a coinbase or the prevout is spent.
	prevout := &PrevoutData{
		Height: HeightNotSpecified,
	}

	// The input is a coinbase, so there is no prevout to populate.
	if outpoint.IsNull() {
		return prevout
	}

	// We continue even if the prevout is spent and/or missing.
	count := uint64(f.Size())
	for forward := uint64(0); forward < count; forward++ {
		index := count - forward - 1
		txs := f.blocks[index].Transactions()

		for position, tx := range txs {
			if outpoint.TxID.IsEqual(tx.Hash()) &&
				outpoint.Index < uint32(len(tx.MsgTx().TxOut)) {

				// Found the prevout at or below the indexed block.
				prevout.Cache = tx.MsgTx().TxOut[outpoint.Index]

				// Set height iff the prevout is coinbase (first tx is
				// coinbase).
				if position == 0 {
					prevout.Height = f.HeightAt(index)
				}
				return prevout
			}
		}
	}

	return prevout
}

// blockContext carries the validation state resolved for the top block of a
// fork: duplicate transaction flags and resolved prevouts, keyed so the
// accept and connect stages can share one population pass.
type blockContext struct {
	// duplicates holds hashes of top block transactions that occur more
	// than once in the fork.
	duplicates map[chainhash.Hash]bool

	// stored holds hashes of top block transactions that already exist
	// in the persistent chain.
	stored map[chainhash.Hash]bool

	// prevouts maps each outpoint spent by the top block to its resolved
	// validation state.
	prevouts map[wire.Outpoint]*PrevoutData
}

// populator resolves block validation context against a fork first and the
// persistent store second. The fork's job is strictly the in-flight
// segment.
type populator struct {
	chain FastChain
}

func newPopulator(chain FastChain) *populator {
	return &populator{chain: chain}
}

// populateBlockState resolves the validation context for the fork's top
// block. All other fork blocks have already been validated on a previous
// organize attempt.
func (p *populator) populateBlockState(fork *Fork) (*blockContext, error) {
	top := fork.Top()
	context := &blockContext{
		duplicates: make(map[chainhash.Hash]bool),
		stored:     make(map[chainhash.Hash]bool),
		prevouts:   make(map[wire.Outpoint]*PrevoutData),
	}

	for _, tx := range top.Transactions() {
		if fork.PopulateTx(tx) {
			context.duplicates[*tx.Hash()] = true
		}

		// The store is consulted independently of the fork so a hash
		// that collides with a confirmed transaction is caught as well.
		exists, err := p.chain.GetTransactionExists(tx.Hash())
		if err != nil {
			return nil, err
		}
		if exists {
			context.stored[*tx.Hash()] = true
		}

		if tx.IsCoinBase() {
			continue
		}

		for _, txIn := range tx.MsgTx().TxIn {
			outpoint := txIn.PreviousOutpoint
			if _, ok := context.prevouts[outpoint]; ok {
				// A repeated outpoint within the block is still marked
				// spent by the counting pass below.
				continue
			}

			prevout := fork.PopulatePrevout(outpoint)
			if fork.PopulateSpent(outpoint) {
				prevout.Spent = true
				prevout.Confirmed = prevout.Spent
			}

			if prevout.Cache == nil {
				// Not in the fork, fall back to the persistent chain.
				err := p.populateFromStore(outpoint, prevout)
				if err != nil {
					return nil, err
				}
			}

			context.prevouts[outpoint] = prevout
		}
	}

	return context, nil
}

// populateFromStore resolves an outpoint against the persistent chain and
// merges the result into prevout.
func (p *populator) populateFromStore(outpoint wire.Outpoint,
	prevout *PrevoutData) error {

	entry, err := p.chain.GetOutput(outpoint)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	prevout.Cache = entry.Output
	if entry.Coinbase {
		prevout.Height = entry.Height
	}

	spent, err := p.chain.IsSpent(outpoint)
	if err != nil {
		return err
	}
	if spent {
		prevout.Spent = true
		prevout.Confirmed = true
	}

	return nil
}
