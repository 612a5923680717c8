// Package executor implements the parallel block executor: a per-block
// schedule of transaction batches run concurrently against a shared,
// versioned account state, with deterministic commit ordering, pre/post
// block state changes, and gas/receipt accounting.
//
// The single-transaction EVM interpreter lives outside this package,
// reached only through the EVM and BeaconRootCaller interfaces.
package executor

import (
	libcommon "github.com/gateway-fm/cdk-erigon-lib/common"
	"github.com/holiman/uint256"
)

// Header carries the subset of block-header fields the executor needs to
// build an execution environment and check post-execution invariants.
type Header struct {
	Number                uint64
	Time                  uint64
	Difficulty            *uint256.Int
	GasLimit              uint64
	GasUsed               uint64
	BaseFee               *uint256.Int
	Beneficiary           libcommon.Address
	ParentBeaconBlockRoot *libcommon.Hash
	ReceiptsRoot          libcommon.Hash
	LogsBloom             [256]byte
}

// Ommer is a stale-block reference eligible for an ommer reward.
type Ommer struct {
	Beneficiary libcommon.Address
	Number      uint64
}

// Withdrawal is a post-Shanghai validator withdrawal credit (EIP-4895).
// AmountGwei matches the consensus-layer unit; the executor converts to
// wei before crediting balances.
type Withdrawal struct {
	Address    libcommon.Address
	AmountGwei uint64
}

// Transaction is the minimal per-transaction data the executor needs:
// enough to build an EVM environment and a receipt. Signature recovery is
// out of scope; callers supply the recovered sender alongside the block.
type Transaction struct {
	Hash     libcommon.Hash
	TxType   uint8
	Nonce    uint64
	To       *libcommon.Address
	Value    *uint256.Int
	GasLimit uint64
	Data     []byte
}

// Block is the executor's view of a block: header, ordered body, ommers
// and withdrawals.
type Block struct {
	Header      Header
	Body        []Transaction
	Ommers      []Ommer
	Withdrawals []Withdrawal
}

// Log is the canonical log representation receipts carry.
type Log struct {
	Address libcommon.Address
	Topics  []libcommon.Hash
	Data    []byte
}

// Receipt is the per-transaction execution receipt.
type Receipt struct {
	TxType            uint8
	Success           bool
	CumulativeGasUsed uint64
	Logs              []Log
}

// BlockEnv is the execution environment built once per block and cloned
// per transaction by the batch executor.
type BlockEnv struct {
	ChainID         *uint256.Int
	Number          uint64
	Timestamp       uint64
	Difficulty      *uint256.Int
	GasLimit        uint64
	BaseFee         *uint256.Int
	Coinbase        libcommon.Address
	TotalDifficulty *uint256.Int
}
