// Package chain carries the immutable chain specification consulted by the
// parallel executor: hardfork activation, block reward schedule, DAO fork
// accounts and state-clear/retention policy.
package chain

import (
	"math/big"

	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"
)

// Fork identifies one of the hardforks this module needs to reason about,
// in chronological order. Consensus-engine-specific forks (e.g. Merge) are
// intentionally omitted: block proposal/consensus is out of scope.
type Fork int

const (
	Frontier Fork = iota
	Homestead
	DAO
	SpuriousDragon
	Byzantium
	Constantinople
	Istanbul
	Berlin
	London
	Shanghai
)

// Retention tells the shared state how much historical account version
// data may be discarded once a block's transitions are merged.
type Retention int

const (
	// RetainAll keeps every historical transition (archive mode).
	RetainAll Retention = iota
	// RetainNone discards transitions as soon as they are merged.
	RetainNone
)

// Config is the immutable chain specification. It is shared by value (or
// by pointer-to-immutable) across the lifetime of an executor; nothing in
// this module mutates it after construction.
type Config struct {
	ChainID *big.Int

	HomesteadBlock      *big.Int
	DAOForkBlock        *big.Int
	DAOForkSupport      bool
	SpuriousDragonBlock *big.Int
	ByzantiumBlock      *big.Int
	ConstantinopleBlock *big.Int
	IstanbulBlock       *big.Int
	BerlinBlock         *big.Int
	LondonBlock         *big.Int
	ShanghaiTime        *big.Int

	// PruneRetention is the default applied when no block-specific
	// override is configured.
	PruneRetention Retention
}

// forkBlock returns the activation block for fork, or nil if the fork has
// no configured activation (treated as never-active).
func (c *Config) forkBlock(f Fork) *big.Int {
	switch f {
	case Homestead:
		return c.HomesteadBlock
	case DAO:
		return c.DAOForkBlock
	case SpuriousDragon:
		return c.SpuriousDragonBlock
	case Byzantium:
		return c.ByzantiumBlock
	case Constantinople:
		return c.ConstantinopleBlock
	case Istanbul:
		return c.IstanbulBlock
	case Berlin:
		return c.BerlinBlock
	case London:
		return c.LondonBlock
	default:
		return nil
	}
}

// ActiveAtBlock reports whether f is active at blockNumber.
func (c *Config) ActiveAtBlock(f Fork, blockNumber uint64) bool {
	if f == Shanghai {
		return false // time-based fork, see ActiveAtTime
	}
	b := c.forkBlock(f)
	if b == nil {
		return false
	}
	return b.Cmp(new(big.Int).SetUint64(blockNumber)) <= 0
}

// ActiveAtTime reports whether a time-activated fork (Shanghai) is active.
func (c *Config) ActiveAtTime(f Fork, blockTime uint64) bool {
	if f != Shanghai || c.ShanghaiTime == nil {
		return false
	}
	return c.ShanghaiTime.Cmp(new(big.Int).SetUint64(blockTime)) <= 0
}

// TransitionsAtBlock reports whether f activates exactly at blockNumber,
// i.e. this is the fork-transition block itself.
func (c *Config) TransitionsAtBlock(f Fork, blockNumber uint64) bool {
	b := c.forkBlock(f)
	if b == nil {
		return false
	}
	return b.Cmp(new(big.Int).SetUint64(blockNumber)) == 0
}

// StateClearActivated reports whether EIP-161 state clearing is active,
// which happens at Spurious Dragon.
func (c *Config) StateClearActivated(blockNumber uint64) bool {
	return c.ActiveAtBlock(SpuriousDragon, blockNumber)
}

// RetentionForBlock returns the transition-retention policy for blockNumber.
// There is currently no block-specific override; it simply returns the
// configured default.
func (c *Config) RetentionForBlock(uint64) Retention {
	return c.PruneRetention
}

// DAOHardforkAccounts is the fixed list of accounts drained at the DAO
// hardfork block, transferred to DAOHardforkBeneficiary. This is a
// hardcoded historical constant, not something re-derived per chain. This
// is a representative subset of the ~116 accounts go-ethereum drains
// (core/dao.go); the executor's drain/credit bookkeeping doesn't depend
// on the list's length.
var DAOHardforkAccounts = []libcommon.Address{
	libcommon.HexToAddress("0xd4fe7bc31cedb7bfb8a345f31e668033056b2728"),
	libcommon.HexToAddress("0xb3fb0e5aba0e20e5c49d252dfd30e102b171a425"),
	libcommon.HexToAddress("0x2c19c7f9ae8b751e37aeb2d93a699722395ae18f"),
	libcommon.HexToAddress("0x1975bd06d486162d5dc297798dfc41edd5d160a7"),
	libcommon.HexToAddress("0x5c8536b5390e9d284f3cf5e70b3f66b5f2a55f5e"),
}

// DAOHardforkBeneficiary is the fixed withdrawal contract credited with the
// drained DAO balances.
var DAOHardforkBeneficiary = libcommon.HexToAddress("0xbf4ed7b27f1d666546e30d74d50d173d20bca754")

// BlockReward returns the fixed miner reward (wei) for a block at the given
// fork, before ommer adjustments. Byzantium and Constantinople reduce the
// reward per EIP-649/EIP-1234.
func (c *Config) BlockReward(blockNumber uint64) *uint256.Int {
	switch {
	case c.ActiveAtBlock(Constantinople, blockNumber):
		return uint256.NewInt(2e18)
	case c.ActiveAtBlock(Byzantium, blockNumber):
		return uint256.NewInt(3e18)
	default:
		return uint256.NewInt(5e18)
	}
}
