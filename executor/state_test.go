package executor

import (
	"testing"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/nodecore/chain"
)

// fakeDB is a trivial in-memory DatabaseRef for tests.
type fakeDB struct {
	accounts map[libcommon.Address]*Account
	storage  map[libcommon.Address]map[libcommon.Hash]uint256.Int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		accounts: make(map[libcommon.Address]*Account),
		storage:  make(map[libcommon.Address]map[libcommon.Hash]uint256.Int),
	}
}

func (f *fakeDB) Basic(addr libcommon.Address) (*Account, error) {
	acc, ok := f.accounts[addr]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeDB) CodeByHash(libcommon.Hash) ([]byte, error) { return nil, nil }

func (f *fakeDB) Storage(addr libcommon.Address, key libcommon.Hash) (uint256.Int, error) {
	return f.storage[addr][key], nil
}

func (f *fakeDB) BlockHash(uint64) (libcommon.Hash, error) { return libcommon.Hash{}, nil }

var addrA = libcommon.HexToAddress("0x0000000000000000000000000000000000000a")
var addrB = libcommon.HexToAddress("0x0000000000000000000000000000000000000b")

func TestSharedStateCommitOverlaysJournal(t *testing.T) {
	db := newFakeDB()
	db.accounts[addrA] = &Account{Balance: uint256.NewInt(100)}

	s := NewSharedState(db)
	acc, err := s.Basic(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), acc.Balance, "underlying balance before commit")

	newBal := uint256.NewInt(250)
	s.Commit([]TxState{{TxIdx: 0, Diff: StateDiff{addrA: {Balance: newBal}}}})

	acc, err = s.Basic(addrA)
	require.NoError(t, err)
	require.Equal(t, newBal, acc.Balance, "journal overlay balance after commit")
}

func TestSharedStateCommitOrderLastWriterWins(t *testing.T) {
	db := newFakeDB()
	db.accounts[addrA] = &Account{Balance: uint256.NewInt(0)}
	s := NewSharedState(db)

	// Two diffs for the same address in one Commit call, given in tx-index
	// order (as BatchExecutor passes them): Commit applies them in slice
	// order, so the later index's write is the final value.
	diffs := []TxState{
		{TxIdx: 0, Diff: StateDiff{addrA: {Balance: uint256.NewInt(1)}}},
		{TxIdx: 1, Diff: StateDiff{addrA: {Balance: uint256.NewInt(2)}}},
	}
	s.Commit(diffs)

	acc, err := s.Basic(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(2), acc.Balance, "tx index 1's write must win")
}

func TestDrainBalancesZeroesAndSums(t *testing.T) {
	db := newFakeDB()
	db.accounts[addrA] = &Account{Balance: uint256.NewInt(40)}
	db.accounts[addrB] = &Account{Balance: uint256.NewInt(60)}
	s := NewSharedState(db)

	drained, err := s.DrainBalances([]libcommon.Address{addrA, addrB})
	require.NoError(t, err)
	sum := uint256.NewInt(0)
	for _, d := range drained {
		sum.Add(sum, d)
	}
	require.Equal(t, uint256.NewInt(100), sum)

	accA, err := s.Basic(addrA)
	require.NoError(t, err)
	require.True(t, accA.Balance.IsZero(), "addrA must be zeroed after drain")
}

func TestIncrementBalancesAtomic(t *testing.T) {
	db := newFakeDB()
	db.accounts[addrA] = &Account{Balance: uint256.NewInt(10)}
	s := NewSharedState(db)

	err := s.IncrementBalances(map[libcommon.Address]*uint256.Int{
		addrA: uint256.NewInt(5),
		addrB: uint256.NewInt(7),
	})
	require.NoError(t, err)

	accA, err := s.Basic(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(15), accA.Balance)
	accB, err := s.Basic(addrB)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(7), accB.Balance)
}

func TestMergeTransitionsMovesJournalToBundle(t *testing.T) {
	db := newFakeDB()
	s := NewSharedState(db)
	s.Commit([]TxState{{TxIdx: 0, Diff: StateDiff{addrA: {Balance: uint256.NewInt(9)}}}})

	s.MergeTransitions(chain.RetainAll)
	bundle := s.TakeBundle()
	upd := bundle[addrA]
	require.NotNil(t, upd, "merged bundle must carry addrA's update")
	require.Equal(t, uint256.NewInt(9), upd.Balance)

	// TakeBundle drains; a second call sees nothing new.
	require.Empty(t, s.TakeBundle())
}

func TestStateClearRemovesEmptyAccountOnMerge(t *testing.T) {
	db := newFakeDB()
	db.accounts[addrA] = &Account{Balance: uint256.NewInt(5)}
	s := NewSharedState(db)
	s.SetStateClearFlag(true)

	zero := uint256.NewInt(0)
	s.Commit([]TxState{{TxIdx: 0, Diff: StateDiff{addrA: {Balance: zero}}}})
	s.MergeTransitions(chain.RetainAll)

	bundle := s.TakeBundle()
	upd := bundle[addrA]
	require.NotNil(t, upd)
	require.True(t, upd.SelfDestructed, "empty account must be marked removed under state clearing")
}
