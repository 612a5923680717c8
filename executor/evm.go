package executor

import (
	"context"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
)

// ExecutionResult is the per-transaction outcome an EVM invocation
// returns, enough to build a Receipt.
type ExecutionResult struct {
	Success bool
	GasUsed uint64
	Logs    []Log
}

// EVM is the single-transaction interpreter contract the batch executor
// fans work out to. This package depends only on the interface, never on
// a concrete interpreter.
//
// Implementations must treat db as read-only: the batch executor commits
// the returned StateDiff itself, once per batch, in tx-index order.
type EVM interface {
	ExecuteTx(ctx context.Context, db DatabaseRef, env BlockEnv, tx Transaction, sender libcommon.Address) (ExecutionResult, StateDiff, error)
}

// BeaconRootCaller executes the EIP-4788 pre-block system call that
// writes the parent beacon block root to its predeployed contract
//. Like EVM, the actual interpreter is
// out of scope; BlockExecutor only depends on this narrow contract, and a
// nil caller simply skips the pre-call.
type BeaconRootCaller interface {
	Call(ctx context.Context, db DatabaseRef, env BlockEnv, parentBeaconBlockRoot libcommon.Hash) (StateDiff, error)
}
