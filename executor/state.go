package executor

import (
	"sync"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"

	"github.com/ledgerwatch/nodecore/chain"
)

// Account is the minimal account shape DatabaseRef exposes.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash libcommon.Hash
}

// DatabaseRef is the read-only state provider the executor core consumes
//. Errors propagate; this module never swallows a database
// error.
type DatabaseRef interface {
	Basic(addr libcommon.Address) (*Account, error)
	CodeByHash(hash libcommon.Hash) ([]byte, error)
	Storage(addr libcommon.Address, key libcommon.Hash) (uint256.Int, error)
	BlockHash(number uint64) (libcommon.Hash, error)
}

// AccountUpdate is a per-address state diff: the fields a transaction (or
// system call, or post-block increment) changed. A nil pointer field
// means "unchanged"; Storage only carries the slots that changed.
type AccountUpdate struct {
	Balance        *uint256.Int
	Nonce          *uint64
	CodeHash       *libcommon.Hash
	Code           []byte
	Storage        map[libcommon.Hash]uint256.Int
	SelfDestructed bool
}

// StateDiff is the state change produced by one transaction (or system
// call): per-address account/storage updates.
type StateDiff map[libcommon.Address]*AccountUpdate

// TxState pairs a transaction index with the diff it produced, the unit
// SharedState.Commit applies atomically and in index order.
type TxState struct {
	TxIdx int
	Diff  StateDiff
}

// SharedState wraps an immutable DatabaseRef behind a single writer lock
// plus an in-memory pending-transitions journal, generalizing
// erigon-lib/kv/membatch/mapmutation.go's "puts map + RWMutex + batch then
// commit" shape from raw KV tables to per-account state diffs.
//
// SharedState itself implements DatabaseRef: batch workers read through a
// SharedState reference directly (RLock per call), so every read observes
// every previously committed batch's diffs without ever touching the
// journal's internals directly. Invariant: within one batch a worker never
// observes another in-flight worker's uncommitted result, because
// Commit is only called once, after every worker in the batch has
// returned (see BatchExecutor.ExecuteBatch).
type SharedState struct {
	mu sync.RWMutex

	db DatabaseRef

	// journal holds transitions merged so far this block, keyed by
	// address. bundle accumulates transitions merged across blocks,
	// until TakeBundle drains it.
	journal map[libcommon.Address]*AccountUpdate
	bundle  map[libcommon.Address]*AccountUpdate

	stateClear bool
}

// NewSharedState wraps db in a fresh SharedState with an empty journal.
func NewSharedState(db DatabaseRef) *SharedState {
	return &SharedState{
		db:      db,
		journal: make(map[libcommon.Address]*AccountUpdate),
		bundle:  make(map[libcommon.Address]*AccountUpdate),
	}
}

// SetStateClearFlag sets whether EIP-161 empty-account removal applies to
// the block currently being merged.
func (s *SharedState) SetStateClearFlag(clear bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateClear = clear
}

// Basic implements DatabaseRef: journal overlay over the underlying
// database.
func (s *SharedState) Basic(addr libcommon.Address) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basicLocked(addr)
}

func (s *SharedState) basicLocked(addr libcommon.Address) (*Account, error) {
	base, err := s.db.Basic(addr)
	if err != nil {
		return nil, err
	}
	upd, ok := s.journal[addr]
	if !ok {
		return base, nil
	}
	acc := &Account{}
	if base != nil {
		*acc = *base
	}
	if acc.Balance == nil {
		acc.Balance = uint256.NewInt(0)
	}
	if upd.Balance != nil {
		acc.Balance = upd.Balance
	}
	if upd.Nonce != nil {
		acc.Nonce = *upd.Nonce
	}
	if upd.CodeHash != nil {
		acc.CodeHash = *upd.CodeHash
	}
	if upd.SelfDestructed {
		return nil, nil
	}
	return acc, nil
}

// CodeByHash implements DatabaseRef. Newly set code in the journal is
// preferred over the underlying database's copy.
func (s *SharedState) CodeByHash(hash libcommon.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, upd := range s.journal {
		if upd.CodeHash != nil && *upd.CodeHash == hash && upd.Code != nil {
			return upd.Code, nil
		}
	}
	return s.db.CodeByHash(hash)
}

// Storage implements DatabaseRef: journal slot overlay over the
// underlying database.
func (s *SharedState) Storage(addr libcommon.Address, key libcommon.Hash) (uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if upd, ok := s.journal[addr]; ok {
		if v, ok := upd.Storage[key]; ok {
			return v, nil
		}
	}
	return s.db.Storage(addr, key)
}

// BlockHash implements DatabaseRef, passing straight through; block
// hashes are never part of a pending diff.
func (s *SharedState) BlockHash(number uint64) (libcommon.Hash, error) {
	return s.db.BlockHash(number)
}

// Commit applies diffs to the journal in a single critical section, in
// the order given by the caller. Callers (BatchExecutor) are responsible
// for sorting by TxIdx first, so that "commit order = tx-index order"
// holds regardless of worker completion order.
func (s *SharedState) Commit(diffs []TxState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range diffs {
		s.mergeLocked(ts.Diff)
	}
}

// CommitOne is a convenience for committing a single diff outside of a
// batch (used for the beacon-root pre-call and post-block increments).
func (s *SharedState) CommitOne(diff StateDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(diff)
}

func (s *SharedState) mergeLocked(diff StateDiff) {
	for addr, upd := range diff {
		existing, ok := s.journal[addr]
		if !ok {
			cp := *upd
			if upd.Storage != nil {
				cp.Storage = make(map[libcommon.Hash]uint256.Int, len(upd.Storage))
				for k, v := range upd.Storage {
					cp.Storage[k] = v
				}
			}
			s.journal[addr] = &cp
			continue
		}
		if upd.Balance != nil {
			existing.Balance = upd.Balance
		}
		if upd.Nonce != nil {
			existing.Nonce = upd.Nonce
		}
		if upd.CodeHash != nil {
			existing.CodeHash = upd.CodeHash
			existing.Code = upd.Code
		}
		if upd.SelfDestructed {
			existing.SelfDestructed = true
		}
		if len(upd.Storage) > 0 {
			if existing.Storage == nil {
				existing.Storage = make(map[libcommon.Hash]uint256.Int, len(upd.Storage))
			}
			for k, v := range upd.Storage {
				existing.Storage[k] = v
			}
		}
	}
}

// DrainBalances zeroes the balance of every address in addrs and returns
// the balance each one held beforehand, summed by the caller into the DAO
// beneficiary's increment.
func (s *SharedState) DrainBalances(addrs []libcommon.Address) ([]*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := make([]*uint256.Int, len(addrs))
	for i, addr := range addrs {
		acc, err := s.basicLocked(addr)
		if err != nil {
			return nil, err
		}
		bal := uint256.NewInt(0)
		if acc != nil && acc.Balance != nil {
			bal = acc.Balance.Clone()
		}
		drained[i] = bal
		zero := uint256.NewInt(0)
		s.mergeLocked(StateDiff{addr: {Balance: zero}})
	}
	return drained, nil
}

// IncrementBalances applies increments atomically. A nil or negative
// increment for an address is a programming error; the schedule producing
// increments is trusted.
func (s *SharedState) IncrementBalances(increments map[libcommon.Address]*uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, incr := range increments {
		if incr == nil || incr.IsZero() {
			continue
		}
		acc, err := s.basicLocked(addr)
		if err != nil {
			return err
		}
		bal := uint256.NewInt(0)
		if acc != nil && acc.Balance != nil {
			bal = acc.Balance.Clone()
		}
		newBal := new(uint256.Int).Add(bal, incr)
		s.mergeLocked(StateDiff{addr: {Balance: newBal}})
	}
	return nil
}

// MergeTransitions folds the current block's journal into the
// cross-block bundle and resets the journal, per the block's retention
// policy: RetainNone drops the bundle's pre-merge history instead of
// accumulating it, keeping memory bounded for a non-archive node.
func (s *SharedState) MergeTransitions(retention chain.Retention) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if retention == chain.RetainNone {
		s.bundle = make(map[libcommon.Address]*AccountUpdate, len(s.journal))
	}
	for addr, upd := range s.journal {
		if s.stateClear && isEmptyAfter(upd) {
			s.bundle[addr] = &AccountUpdate{SelfDestructed: true}
			continue
		}
		s.bundle[addr] = upd
	}
	s.journal = make(map[libcommon.Address]*AccountUpdate)
}

// isEmptyAfter reports whether upd leaves its account in the EIP-161
// "empty" state (zero balance, zero nonce, no code) eligible for removal
// once state clearing is active.
func isEmptyAfter(upd *AccountUpdate) bool {
	if upd.SelfDestructed {
		return true
	}
	balEmpty := upd.Balance == nil || upd.Balance.IsZero()
	nonceEmpty := upd.Nonce == nil || *upd.Nonce == 0
	codeEmpty := upd.CodeHash == nil || *upd.CodeHash == (libcommon.Hash{})
	return balEmpty && nonceEmpty && codeEmpty
}

// BundleState is the accumulated, merged state diff handed to a caller
// between MergeTransitions calls.
type BundleState map[libcommon.Address]*AccountUpdate

// TakeBundle drains and returns the accumulated bundle, resetting it to
// empty.
func (s *SharedState) TakeBundle() BundleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.bundle
	s.bundle = make(map[libcommon.Address]*AccountUpdate)
	return taken
}

// SizeHint reports an approximate count of pending+bundled account
// entries, used by callers sizing their own buffers.
func (s *SharedState) SizeHint() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.journal) + len(s.bundle)
}
