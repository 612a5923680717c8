package executor

import "sort"

// TransactionBatch is a conflict-free subset of a block's transaction
// indices, safe to execute concurrently. The block-queue
// store, not this package, is responsible for the conflict-free
// declaration; BatchExecutor trusts it.
type TransactionBatch []int

// sorted returns a copy of b sorted ascending, so commit order can be
// derived from it regardless of the order the store declared it in.
func (b TransactionBatch) sorted() TransactionBatch {
	cp := make(TransactionBatch, len(b))
	copy(cp, b)
	sort.Ints(cp)
	return cp
}

// BlockQueue is the ordered list of batches for one block.
// Batches execute strictly in slice order; transactions within a batch
// may execute concurrently.
type BlockQueue []TransactionBatch

// SequentialQueue returns the fully-sequential fallback queue for a body
// of n transactions: one singleton batch per index, in order.
func SequentialQueue(n int) BlockQueue {
	q := make(BlockQueue, n)
	for i := 0; i < n; i++ {
		q[i] = TransactionBatch{i}
	}
	return q
}

// BlockQueueStore provides pre-computed dependency schedules. GetQueue
// returns false when no schedule exists for blockNumber; the
// BlockExecutor then falls back to SequentialQueue.
type BlockQueueStore interface {
	GetQueue(blockNumber uint64) (BlockQueue, bool)
}

// StaticBlockQueueStore is a read-only-after-construction BlockQueueStore
// backed by a plain map.
type StaticBlockQueueStore struct {
	queues map[uint64]BlockQueue
}

// NewStaticBlockQueueStore builds a store from a fixed block-number ->
// queue mapping.
func NewStaticBlockQueueStore(queues map[uint64]BlockQueue) *StaticBlockQueueStore {
	cp := make(map[uint64]BlockQueue, len(queues))
	for k, v := range queues {
		cp[k] = v
	}
	return &StaticBlockQueueStore{queues: cp}
}

// GetQueue implements BlockQueueStore.
func (s *StaticBlockQueueStore) GetQueue(blockNumber uint64) (BlockQueue, bool) {
	q, ok := s.queues[blockNumber]
	return q, ok
}
