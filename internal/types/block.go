package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block - block as delivered by chain node client
type Block struct {
	Height       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Timestamp    time.Time
	Transactions []Transaction
}

// Transaction - decoded transaction of block in canonical order
type Transaction struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Data     []byte
	Nonce    uint64

	// ContractAddress is set from receipt for deployments when node provides it.
	ContractAddress *common.Address
	// DeployedCode is runtime bytecode of deployed contract if node provides it.
	DeployedCode []byte
}

// IsDeployment -
func (tx Transaction) IsDeployment() bool {
	return tx.To == nil
}

// Reorg - notification that canonical chain changed starting from OldHeight
type Reorg struct {
	OldHeight uint64
	OldHash   common.Hash
	NewHeight uint64
	NewHash   common.Hash
}
