package executor

import (
	"context"
	"sync"
	"time"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"

	"github.com/dgravesa/go-parallel/parallel"
)

// TxResult pairs a transaction index with its execution result, the unit
// BlockExecutor sorts and walks to build receipts.
type TxResult struct {
	TxIdx  int
	Result ExecutionResult
}

// BatchExecutor fans a batch's transactions out onto a worker pool,
// collects (result, state-diff) pairs into a fixed-size, position-indexed
// slice, then commits all diffs atomically under SharedState's lock, in
// tx-index order.
//
// Workers is the pool size; zero selects go-parallel's default, the
// number of logical CPUs.
type BatchExecutor struct {
	evm     EVM
	workers int
	stats   *Stats
}

// NewBatchExecutor builds a BatchExecutor around evm. workers <= 0 selects
// parallel.DefaultNumGoroutines().
func NewBatchExecutor(evm EVM, workers int, stats *Stats) *BatchExecutor {
	if workers <= 0 {
		workers = parallel.DefaultNumGoroutines()
	}
	return &BatchExecutor{evm: evm, workers: workers, stats: stats}
}

// ExecuteBatch runs every transaction index in batch concurrently against
// shared's read-only view, then commits the collected diffs in tx-index
// order under shared's single writer lock.
//
// Concurrency invariant: batch is trusted to be conflict-free. Conflict
// detection is the queue store's responsibility; this method never
// inspects cross-index dependencies.
func (b *BatchExecutor) ExecuteBatch(ctx context.Context, shared *SharedState, env BlockEnv, batch TransactionBatch, body []Transaction, senders []libcommon.Address) ([]TxResult, error) {
	start := time.Now()
	ordered := batch.sorted()

	results := make([]TxResult, len(ordered))
	diffs := make([]TxState, len(ordered))
	errs := make([]error, len(ordered))

	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	for pos, txIdx := range ordered {
		pos, txIdx := pos, txIdx
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			tx := body[txIdx]
			sender := senders[txIdx]
			result, diff, err := b.evm.ExecuteTx(ctx, shared, env, tx, sender)
			if err != nil {
				errs[pos] = &BlockValidationError{Kind: ValidationEVM, Hash: tx.Hash, Err: err}
				return
			}
			results[pos] = TxResult{TxIdx: txIdx, Result: result}
			diffs[pos] = TxState{TxIdx: txIdx, Diff: diff}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	shared.Commit(diffs)
	b.stats.observeBatch(len(ordered), time.Since(start))
	return results, nil
}
