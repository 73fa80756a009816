// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/coppernet/copperd/util"
	"github.com/coppernet/copperd/util/chainhash"
)

// hashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the hash of their concatenation. This is a helper
// function used to aid in the generation of a merkle tree.
func hashMerkleBranches(left *chainhash.Hash, right *chainhash.Hash) *chainhash.Hash {
	// Concatenate the left and right nodes.
	var hash [chainhash.HashSize * 2]byte
	copy(hash[:chainhash.HashSize], left[:])
	copy(hash[chainhash.HashSize:], right[:])

	newHash := chainhash.DoubleHashH(hash[:])
	return &newHash
}

// CalcMerkleRoot computes the merkle root of the given transactions using
// the bitcoin pairing rule: when there is an odd number of nodes at a
// level, the last node is paired with itself.
func CalcMerkleRoot(transactions []*util.Tx) chainhash.Hash {
	if len(transactions) == 0 {
		return chainhash.ZeroHash
	}

	level := make([]*chainhash.Hash, 0, len(transactions))
	for _, tx := range transactions {
		level = append(level, tx.Hash())
	}

	for len(level) > 1 {
		next := make([]*chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashMerkleBranches(left, right))
		}
		level = next
	}

	return *level[0]
}
