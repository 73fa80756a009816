// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrServiceStopped indicates the organizer has been stopped and no
	// further blocks are accepted.
	ErrServiceStopped ErrorCode = iota

	// ErrDuplicateBlock indicates a block with the same hash already
	// exists in the chain or in the candidate pool.
	ErrDuplicateBlock

	// ErrOrphanBlock indicates the fork point of the candidate segment is
	// not present in the persistent chain.
	ErrOrphanBlock

	// ErrInsufficientWork indicates the candidate segment does not carry
	// strictly more cumulative work than the competing main chain
	// segment.
	ErrInsufficientWork

	// ErrOperationFailed indicates a store query failed while organizing
	// a block.
	ErrOperationFailed

	// ErrNoTransactions indicates the block does not have at least one
	// transaction. A valid block must have at least the coinbase
	// transaction.
	ErrNoTransactions

	// ErrFirstTxNotCoinbase indicates the first transaction in a block
	// is not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrBadMerkleRoot indicates the calculated merkle root does not
	// match the expected value in the block header.
	ErrBadMerkleRoot

	// ErrUnexpectedDifficulty indicates specified bits do not align with
	// the expected value either because it doesn't match the calculated
	// value based on difficulty rules or it is out of the valid range.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the block hashes to a value which is higher
	// than the required target difficultly.
	ErrHighHash

	// ErrTimeTooNew indicates the time is too far in the future as
	// compared to the current time.
	ErrTimeTooNew

	// ErrMissingTxOut indicates a transaction output referenced by an
	// input either does not exist or has already been spent.
	ErrMissingTxOut

	// ErrDoubleSpend indicates a transaction spends an output that has
	// already been spent, either within the candidate segment or on the
	// main chain.
	ErrDoubleSpend

	// ErrOverwriteTx indicates a block contains a transaction that has
	// the same hash as an existing transaction that is not fully spent.
	ErrOverwriteTx

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase that has not yet reached the required maturity.
	ErrImmatureSpend

	// ErrSpendTooHigh indicates a transaction is attempting to spend
	// more value than the sum of all of its inputs.
	ErrSpendTooHigh
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrServiceStopped:       "ErrServiceStopped",
	ErrDuplicateBlock:       "ErrDuplicateBlock",
	ErrOrphanBlock:          "ErrOrphanBlock",
	ErrInsufficientWork:     "ErrInsufficientWork",
	ErrOperationFailed:      "ErrOperationFailed",
	ErrNoTransactions:       "ErrNoTransactions",
	ErrFirstTxNotCoinbase:   "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:    "ErrMultipleCoinbases",
	ErrBadMerkleRoot:        "ErrBadMerkleRoot",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrHighHash:             "ErrHighHash",
	ErrTimeTooNew:           "ErrTimeTooNew",
	ErrMissingTxOut:         "ErrMissingTxOut",
	ErrDoubleSpend:          "ErrDoubleSpend",
	ErrOverwriteTx:          "ErrOverwriteTx",
	ErrImmatureSpend:        "ErrImmatureSpend",
	ErrSpendTooHigh:         "ErrSpendTooHigh",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block failed due to one of the many validation rules or
// one of the terminal organize outcomes. The caller can use type assertions
// to determine if a failure was specifically due to a rule violation and
// access the ErrorCode field to ascertain the specific reason for the rule
// violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is a RuleError carrying the given code,
// unwrapping as needed.
func IsErrorCode(err error, c ErrorCode) bool {
	var ruleErr RuleError
	if ok := errors.As(err, &ruleErr); ok {
		return ruleErr.ErrorCode == c
	}
	return false
}
