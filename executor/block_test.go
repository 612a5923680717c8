package executor

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/nodecore/chain"
)

func newTestBlock(n int) (*Block, []libcommon.Address) {
	body := make([]Transaction, n)
	senders := make([]libcommon.Address, n)
	for i := 0; i < n; i++ {
		body[i] = Transaction{Hash: libcommon.BytesToHash([]byte(fmt.Sprintf("tx-%d", i))), TxType: 2}
		senders[i] = addrN(byte(i + 1))
	}
	return &Block{
		Header: Header{Number: 100, GasUsed: uint64(n) * 21000, Beneficiary: addrN(250)},
		Body:   body,
	}, senders
}

func newTestExecutor(cfg *chain.Config, store BlockQueueStore, gasUsed uint64) (*BlockExecutor, *SharedState) {
	db := newFakeDB()
	state := NewSharedState(db)
	evm := &fakeEVM{gasUsed: gasUsed}
	batch := NewBatchExecutor(evm, 4, nil)
	data := NewExecutionData(cfg)
	return NewBlockExecutor(data, store, state, batch, nil, nil, nil), state
}

func TestSequentialFallbackEquivalence(t *testing.T) {
	cfg := &chain.Config{}
	block, senders := newTestBlock(4)

	// No BlockQueueStore entry: falls back to one singleton batch per tx.
	noQueue := NewStaticBlockQueueStore(nil)
	e1, _ := newTestExecutor(cfg, noQueue, 21000)
	receiptsSeq, err := e1.Execute(context.Background(), block, uint256.NewInt(0), senders)
	require.NoError(t, err)

	// Explicit parallel queue grouping the same 4 independent txs.
	parallelQueue := NewStaticBlockQueueStore(map[uint64]BlockQueue{
		100: {TransactionBatch{0, 1}, TransactionBatch{2, 3}},
	})
	e2, _ := newTestExecutor(cfg, parallelQueue, 21000)
	receiptsParallel, err := e2.Execute(context.Background(), block, uint256.NewInt(0), senders)
	require.NoError(t, err)

	require.Equal(t, receiptsSeq, receiptsParallel)
}

func TestGasTotalityMismatchFails(t *testing.T) {
	cfg := &chain.Config{}
	block, senders := newTestBlock(2)
	block.Header.GasUsed = 42001 // off by one from the true sum of 42000

	e, _ := newTestExecutor(cfg, NewStaticBlockQueueStore(nil), 21000)
	_, err := e.Execute(context.Background(), block, uint256.NewInt(0), senders)
	require.Error(t, err)

	var verr *BlockValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ValidationBlockGasUsed, verr.Kind)
	require.Equal(t, uint64(42000), verr.Got)
	require.Equal(t, uint64(42001), verr.Expected)
	require.Equal(t, []uint64{21000, 21000}, verr.GasSpentByTx)
}

func TestEmptyBodyFastPath(t *testing.T) {
	cfg := &chain.Config{}
	e, state := newTestExecutor(cfg, NewStaticBlockQueueStore(nil), 21000)
	block := &Block{Header: Header{Number: 5, GasUsed: 0}}

	receipts, err := e.Execute(context.Background(), block, uint256.NewInt(0), nil)
	require.NoError(t, err)
	require.Empty(t, receipts)
	require.Zero(t, state.SizeHint(), "empty block must not mutate state beyond the (absent) beacon-root call")
}

func TestDAOForkDrainSumsIntoBeneficiary(t *testing.T) {
	daoBlock := uint64(200)
	cfg := &chain.Config{DAOForkBlock: new(big.Int).SetUint64(daoBlock), DAOForkSupport: true}

	db := newFakeDB()
	for _, addr := range chain.DAOHardforkAccounts {
		db.accounts[addr] = &Account{Balance: uint256.NewInt(10)}
	}
	state := NewSharedState(db)
	evm := &fakeEVM{gasUsed: 21000}
	batchExec := NewBatchExecutor(evm, 2, nil)
	data := NewExecutionData(cfg)
	e := NewBlockExecutor(data, NewStaticBlockQueueStore(nil), state, batchExec, nil, nil, nil)

	// One real transaction, so execution runs past the empty-body fast path
	// and reaches the post-block state change where the drain happens.
	block := &Block{
		Header: Header{Number: daoBlock, GasUsed: 21000, Beneficiary: addrN(1)},
		Body:   []Transaction{{Hash: libcommon.BytesToHash([]byte("dao-tx")), TxType: 2}},
	}
	senders := []libcommon.Address{addrN(7)}
	_, err := e.Execute(context.Background(), block, uint256.NewInt(0), senders)
	require.NoError(t, err)

	// Execute ends by merging the journal, so the drain's effect lives in
	// the merged bundle.
	bundle := state.TakeBundle()
	ben := bundle[chain.DAOHardforkBeneficiary]
	require.NotNil(t, ben, "DAO beneficiary must be credited")
	want := uint256.NewInt(10 * uint64(len(chain.DAOHardforkAccounts)))
	require.Equal(t, want, ben.Balance, "beneficiary credit must equal the sum of drained balances")
	for _, addr := range chain.DAOHardforkAccounts {
		upd := bundle[addr]
		require.NotNil(t, upd, "drained account %s must carry a balance update", addr)
		require.True(t, upd.Balance.IsZero(), "drained account %s must end at zero", addr)
	}
}
