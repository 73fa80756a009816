// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/coppernet/copperd/util/chainhash"
)

// testBlock returns a small block with a coinbase and one spending
// transaction for serialization tests.
func testBlock() *MsgBlock {
	coinbase := NewMsgTx(TxVersion)
	coinbase.AddTxIn(NewTxIn(NewCoinBaseOutpoint(), []byte{0x04, 0xff}))
	coinbase.AddTxOut(NewTxOut(5000000000, []byte{0x51}))

	spend := NewMsgTx(TxVersion)
	prev := coinbase.TxHash()
	spend.AddTxIn(NewTxIn(NewOutpoint(&prev, 0), []byte{0x00}))
	spend.AddTxOut(NewTxOut(4000000000, []byte{0x52}))

	header := NewBlockHeader(1, &chainhash.ZeroHash, &chainhash.ZeroHash,
		0x1d00ffff, 42)
	header.Timestamp = time.Unix(0x495fab29, 0)

	block := NewMsgBlock(header)
	block.AddTransaction(coinbase)
	block.AddTransaction(spend)
	return block
}

// TestBlockHash ensures the block hash is derived from the header alone and
// is stable across serialization.
func TestBlockHash(t *testing.T) {
	block := testBlock()

	if block.BlockHash() != block.Header.BlockHash() {
		t.Fatal("BlockHash: block and header hashes differ")
	}

	// The hash must not depend on the transaction list.
	withoutTxs := NewMsgBlock(&block.Header)
	if block.BlockHash() != withoutTxs.BlockHash() {
		t.Fatal("BlockHash: hash depends on transactions")
	}
}

// TestBlockSerialize performs a round trip through the storage encoding.
func TestBlockSerialize(t *testing.T) {
	block := testBlock()

	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != block.SerializeSize() {
		t.Errorf("SerializeSize: got %d, want %d", block.SerializeSize(),
			buf.Len())
	}

	var decoded MsgBlock
	if err := decoded.Deserialize(&buf); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if decoded.BlockHash() != block.BlockHash() {
		t.Errorf("Deserialize: header hash mismatch - got %v, want %v",
			decoded.BlockHash(), block.BlockHash())
	}
	if len(decoded.Transactions) != len(block.Transactions) {
		t.Fatalf("Deserialize: tx count mismatch - got %d, want %d",
			len(decoded.Transactions), len(block.Transactions))
	}
	for i, tx := range decoded.Transactions {
		if tx.TxHash() != block.Transactions[i].TxHash() {
			t.Errorf("Deserialize: tx %d hash mismatch", i)
		}
	}
}

// TestOutpointIsNull verifies coinbase outpoint detection.
func TestOutpointIsNull(t *testing.T) {
	if !NewCoinBaseOutpoint().IsNull() {
		t.Error("IsNull: coinbase outpoint not detected")
	}

	hash := chainhash.DoubleHashH([]byte("tx"))
	if NewOutpoint(&hash, 0).IsNull() {
		t.Error("IsNull: regular outpoint reported null")
	}
	if NewOutpoint(&chainhash.ZeroHash, 0).IsNull() {
		t.Error("IsNull: zero hash with index 0 reported null")
	}
}
