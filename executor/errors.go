package executor

import (
	"fmt"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
)

// ValidationKind discriminates BlockValidationError's closed variant set.
type ValidationKind int

const (
	ValidationEVM ValidationKind = iota
	ValidationBlockGasUsed
	ValidationIncrementBalanceFailed
)

// BlockValidationError is returned when block-level execution fails in a
// way that aborts the block. The shared state is left with
// unmerged pending transitions; callers must discard it by rebuilding the
// executor rather than retrying in place.
type BlockValidationError struct {
	Kind ValidationKind

	// EVM
	Hash libcommon.Hash
	Err  error

	// BlockGasUsed
	Got, Expected uint64
	GasSpentByTx  []uint64
}

func (e *BlockValidationError) Error() string {
	switch e.Kind {
	case ValidationEVM:
		return fmt.Sprintf("executor: evm failure for tx %s: %v", e.Hash, e.Err)
	case ValidationBlockGasUsed:
		return fmt.Sprintf("executor: block gas used mismatch: got %d, expected %d", e.Got, e.Expected)
	case ValidationIncrementBalanceFailed:
		return fmt.Sprintf("executor: increment balance failed: %v", e.Err)
	default:
		return "executor: block validation error"
	}
}

func (e *BlockValidationError) Unwrap() error { return e.Err }

// ReceiptRootMismatchError is returned by ExecuteAndVerifyReceipts when the
// computed receipts root or logs bloom doesn't match the header.
type ReceiptRootMismatchError struct {
	GotRoot, ExpectedRoot libcommon.Hash
}

func (e *ReceiptRootMismatchError) Error() string {
	return fmt.Sprintf("executor: receipts root mismatch: got %s, expected %s", e.GotRoot, e.ExpectedRoot)
}
