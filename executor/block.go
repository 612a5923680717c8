package executor

import (
	"context"
	"sort"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"

	"github.com/ledgerwatch/nodecore/chain"
)

// PruneModes controls how far back per-block receipts are retained. A nil
// KeepReceiptsFrom keeps every block's receipts; otherwise blocks before
// it are pruned to nil entries.
type PruneModes struct {
	KeepReceiptsFrom *uint64
}

// ExecutionData is the executor's own book-keeping across many blocks:
// the immutable chain spec, retention policy, accumulated per-block
// receipts, and the first block executed.
type ExecutionData struct {
	ChainSpec  *chain.Config
	Tip        *uint64
	PruneModes PruneModes

	// Receipts is vector-of-vector-of-option<Receipt>: one slice per
	// executed block, each entry nil if pruned.
	Receipts   [][]*Receipt
	FirstBlock *uint64
}

// NewExecutionData builds ExecutionData for chainSpec, with no blocks
// executed yet.
func NewExecutionData(chainSpec *chain.Config) *ExecutionData {
	return &ExecutionData{ChainSpec: chainSpec}
}

// pushReceipts appends blockNumber's receipts, enforcing the invariant
// receipts.len() == (current_block - first_block + 1) once first_block is
// set.
func (d *ExecutionData) pushReceipts(blockNumber uint64, receipts []Receipt) {
	if d.FirstBlock == nil {
		fb := blockNumber
		d.FirstBlock = &fb
	}
	tip := blockNumber
	d.Tip = &tip
	boxed := make([]*Receipt, len(receipts))
	for i := range receipts {
		r := receipts[i]
		boxed[i] = &r
	}
	if d.PruneModes.KeepReceiptsFrom != nil && blockNumber < *d.PruneModes.KeepReceiptsFrom {
		boxed = nil
	}
	d.Receipts = append(d.Receipts, boxed)
}

// BundleStateWithReceipts is the output handed to callers by
// BlockExecutor.TakeOutputState.
type BundleStateWithReceipts struct {
	Bundle     BundleState
	Receipts   [][]*Receipt
	FirstBlock uint64
}

// BlockExecutor runs the per-block schedule of transaction batches
// concurrently against SharedState, with deterministic commit ordering,
// pre/post-block state changes, and gas/receipt accounting.
type BlockExecutor struct {
	data   *ExecutionData
	store  BlockQueueStore
	state  *SharedState
	batch  *BatchExecutor
	beacon BeaconRootCaller
	stats  *Stats
	logger log.Logger
}

// NewBlockExecutor wires the components the block executor orchestrates.
// beacon may be nil to skip the beacon-root pre-call entirely (e.g. in
// tests, or pre-Cancun chains).
func NewBlockExecutor(data *ExecutionData, store BlockQueueStore, state *SharedState, batch *BatchExecutor, beacon BeaconRootCaller, stats *Stats, logger log.Logger) *BlockExecutor {
	return &BlockExecutor{data: data, store: store, state: state, batch: batch, beacon: beacon, stats: stats, logger: logger}
}

// Execute runs block through the batched execution pipeline and records
// its receipts.
func (e *BlockExecutor) Execute(ctx context.Context, block *Block, totalDifficulty *uint256.Int, senders []libcommon.Address) ([]Receipt, error) {
	receipts, err := e.executeInner(ctx, block, totalDifficulty, senders)
	if err != nil {
		return nil, err
	}
	e.data.pushReceipts(block.Header.Number, receipts)
	e.stats.observeBlock()
	return receipts, nil
}

// ExecuteAndVerifyReceipts additionally checks the computed receipts root
// and logs bloom against the header once Byzantium is active. verify is
// supplied by the caller: computing a receipts trie root is
// storage/encoding machinery outside this module, so this package depends
// on it only through a narrow function value.
func (e *BlockExecutor) ExecuteAndVerifyReceipts(ctx context.Context, block *Block, totalDifficulty *uint256.Int, senders []libcommon.Address, verify func([]Receipt) (root libcommon.Hash, bloom [256]byte)) ([]Receipt, error) {
	receipts, err := e.executeInner(ctx, block, totalDifficulty, senders)
	if err != nil {
		return nil, err
	}
	if e.data.ChainSpec.ActiveAtBlock(chain.Byzantium, block.Header.Number) && verify != nil {
		root, bloom := verify(receipts)
		if root != block.Header.ReceiptsRoot || bloom != block.Header.LogsBloom {
			return nil, &ReceiptRootMismatchError{GotRoot: root, ExpectedRoot: block.Header.ReceiptsRoot}
		}
	}
	e.data.pushReceipts(block.Header.Number, receipts)
	e.stats.observeBlock()
	return receipts, nil
}

func (e *BlockExecutor) executeInner(ctx context.Context, block *Block, totalDifficulty *uint256.Int, senders []libcommon.Address) ([]Receipt, error) {
	// Step 1: state-clear flag per the active hardfork.
	e.state.SetStateClearFlag(e.data.ChainSpec.StateClearActivated(block.Header.Number))

	// Step 2: execution environment.
	chainID := uint256.NewInt(0)
	if e.data.ChainSpec.ChainID != nil {
		chainID, _ = uint256.FromBig(e.data.ChainSpec.ChainID)
	}
	env := BlockEnv{
		ChainID:         chainID,
		Number:          block.Header.Number,
		Timestamp:       block.Header.Time,
		Difficulty:      block.Header.Difficulty,
		GasLimit:        block.Header.GasLimit,
		BaseFee:         block.Header.BaseFee,
		Coinbase:        block.Header.Beneficiary,
		TotalDifficulty: totalDifficulty,
	}

	// Step 3: beacon-root pre-call, committed in its own step before any
	// batch runs, so it never aliases transaction index 0 in the per-block
	// commit sequence.
	if e.beacon != nil && block.Header.ParentBeaconBlockRoot != nil {
		diff, err := e.beacon.Call(ctx, e.state, env, *block.Header.ParentBeaconBlockRoot)
		if err != nil {
			return nil, err
		}
		if len(diff) > 0 {
			e.state.CommitOne(diff)
		}
	}

	// Step 4: empty-body fast path.
	if len(block.Body) == 0 {
		return nil, nil
	}

	// Step 5: block queue, or sequential fallback.
	queue, ok := e.store.GetQueue(block.Header.Number)
	if !ok {
		queue = SequentialQueue(len(block.Body))
		e.logDebug("no block queue for block, falling back to sequential execution", "block", block.Header.Number)
	}

	// Step 6: run batches in order, accumulating results.
	all := make([]TxResult, 0, len(block.Body))
	for _, batch := range queue {
		results, err := e.batch.ExecuteBatch(ctx, e.state, env, batch, block.Body, senders)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}

	// Step 7: defensive sort; already ordered by construction per batch.
	sort.Slice(all, func(i, j int) bool { return all[i].TxIdx < all[j].TxIdx })

	// Step 8: receipts, walking the body in index order.
	receipts := make([]Receipt, len(block.Body))
	var cumulativeGasUsed uint64
	for i, tr := range all {
		cumulativeGasUsed += tr.Result.GasUsed
		receipts[i] = Receipt{
			TxType:            block.Body[tr.TxIdx].TxType,
			Success:           tr.Result.Success,
			CumulativeGasUsed: cumulativeGasUsed,
			Logs:              tr.Result.Logs,
		}
	}

	// Step 9: gas totality check.
	if cumulativeGasUsed != block.Header.GasUsed {
		spentByTx := make([]uint64, len(all))
		for i, tr := range all {
			spentByTx[i] = tr.Result.GasUsed
		}
		return nil, &BlockValidationError{
			Kind:         ValidationBlockGasUsed,
			Got:          cumulativeGasUsed,
			Expected:     block.Header.GasUsed,
			GasSpentByTx: spentByTx,
		}
	}

	// Step 10: post-block state change.
	if err := e.applyPostBlockStateChange(block, totalDifficulty); err != nil {
		return nil, err
	}

	// Step 11: merge transitions per retention policy.
	e.state.MergeTransitions(e.data.ChainSpec.RetentionForBlock(block.Header.Number))

	return receipts, nil
}

// applyPostBlockStateChange computes block/ommer/withdrawal increments
// plus the DAO drain, and applies them atomically.
func (e *BlockExecutor) applyPostBlockStateChange(block *Block, totalDifficulty *uint256.Int) error {
	increments := e.postBlockBalanceIncrements(block)

	if e.data.ChainSpec.TransitionsAtBlock(chain.DAO, block.Header.Number) {
		drained, err := e.state.DrainBalances(chain.DAOHardforkAccounts)
		if err != nil {
			return &BlockValidationError{Kind: ValidationIncrementBalanceFailed, Err: err}
		}
		sum := uint256.NewInt(0)
		for _, d := range drained {
			sum.Add(sum, d)
		}
		existing, ok := increments[chain.DAOHardforkBeneficiary]
		if !ok {
			existing = uint256.NewInt(0)
		}
		increments[chain.DAOHardforkBeneficiary] = new(uint256.Int).Add(existing, sum)
	}

	if err := e.state.IncrementBalances(increments); err != nil {
		return &BlockValidationError{Kind: ValidationIncrementBalanceFailed, Err: err}
	}
	return nil
}

// postBlockBalanceIncrements computes the block reward to the
// beneficiary, ommer rewards, and post-Shanghai withdrawal credits.
func (e *BlockExecutor) postBlockBalanceIncrements(block *Block) map[libcommon.Address]*uint256.Int {
	increments := make(map[libcommon.Address]*uint256.Int)
	add := func(addr libcommon.Address, amount *uint256.Int) {
		if amount == nil || amount.IsZero() {
			return
		}
		existing, ok := increments[addr]
		if !ok {
			existing = uint256.NewInt(0)
		}
		increments[addr] = new(uint256.Int).Add(existing, amount)
	}

	baseReward := e.data.ChainSpec.BlockReward(block.Header.Number)

	// Ommer (uncle) rewards: 1/32 of the full reward to the block
	// beneficiary per included ommer, plus a reward to each ommer's own
	// beneficiary scaled by how close it was to the including block.
	for _, ommer := range block.Ommers {
		ommerReward := new(uint256.Int).Mul(baseReward, uint256.NewInt(8+ommer.Number-block.Header.Number))
		ommerReward.Div(ommerReward, uint256.NewInt(8))
		add(ommer.Beneficiary, ommerReward)

		inclusionReward := new(uint256.Int).Div(baseReward, uint256.NewInt(32))
		add(block.Header.Beneficiary, inclusionReward)
	}
	add(block.Header.Beneficiary, baseReward)

	if e.data.ChainSpec.ActiveAtTime(chain.Shanghai, block.Header.Time) {
		for _, w := range block.Withdrawals {
			// Consensus-layer withdrawal amounts are denominated in gwei;
			// credit wei.
			amount := new(uint256.Int).Mul(uint256.NewInt(w.AmountGwei), uint256.NewInt(1e9))
			add(w.Address, amount)
		}
	}

	return increments
}

// TakeOutputState drains the accumulated bundle and this block executor's
// receipt history into one BundleStateWithReceipts.
func (e *BlockExecutor) TakeOutputState() BundleStateWithReceipts {
	bundle := e.state.TakeBundle()
	receipts := e.data.Receipts
	e.data.Receipts = nil
	var firstBlock uint64
	if e.data.FirstBlock != nil {
		firstBlock = *e.data.FirstBlock
	}
	return BundleStateWithReceipts{Bundle: bundle, Receipts: receipts, FirstBlock: firstBlock}
}

func (e *BlockExecutor) logDebug(msg string, ctx ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, ctx...)
	}
}

// Stats returns the Prometheus-backed execution stats this executor
// reports to.
func (e *BlockExecutor) Stats() *Stats { return e.stats }

// SizeHint reports SharedState's pending+bundled entry count.
func (e *BlockExecutor) SizeHint() int { return e.state.SizeHint() }
