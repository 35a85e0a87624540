package storage

import (
	"context"
	"time"

	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ITransaction -
type ITransaction interface {
	storage.Table[*Transaction]

	ByBlock(ctx context.Context, blockID uint64) ([]Transaction, error)
}

// Transaction - generic record of every ingested transaction
type Transaction struct {
	bun.BaseModel `bun:"table:tx" comment:"Table with generic transaction records"`

	ID        uint64          `bun:"id,pk,notnull" comment:"Identity of transaction hash (identifier id)"`
	BlockID   uint64          `bun:",notnull" comment:"Block identity"`
	Height    uint64          `bun:",notnull" comment:"Block height"`
	Position  uint32          `comment:"Index of transaction in block"`
	Category  Category        `bun:",type:tx_category,notnull" comment:"Semantic category"`
	Value     decimal.Decimal `bun:",type:numeric" comment:"Native value in base units"`
	FromID    uint64          `bun:",notnull" comment:"Sender identity"`
	ToID      uint64          `bun:",nullzero" comment:"Receiver identity (deployed contract for deployments)"`
	GasLimit  uint64          `comment:"Gas limit"`
	GasPrice  decimal.Decimal `bun:",type:numeric" comment:"Gas price"`
	MethodID  []byte          `bun:",nullzero" comment:"Method selector of generic call"`
	Params    []byte          `bun:",nullzero" comment:"Raw unresolved parameters of generic call"`
	Timestamp time.Time       `comment:"Block time"`
}

// TableName -
func (Transaction) TableName() string {
	return "tx"
}

// EthTransfer - plain native value transfer
type EthTransfer struct {
	bun.BaseModel `bun:"table:eth_transfer" comment:"Table with native value transfers"`

	ID     uint64          `bun:"id,pk,notnull" comment:"Transaction identity"`
	Value  decimal.Decimal `bun:",type:numeric" comment:"Transferred value"`
	FromID uint64          `bun:",notnull" comment:"Sender identity"`
	ToID   uint64          `bun:",notnull" comment:"Receiver identity"`
}

// TableName -
func (EthTransfer) TableName() string {
	return "eth_transfer"
}

// Erc20Transfer - decoded ERC20 transfer invocation
type Erc20Transfer struct {
	bun.BaseModel `bun:"table:erc20_transfer" comment:"Table with decoded ERC20 transfer calls"`

	ID      uint64          `bun:"id,pk,notnull" comment:"Transaction identity"`
	TokenID uint64          `bun:",notnull" comment:"Token contract identity"`
	FromID  uint64          `bun:",notnull" comment:"Sender identity"`
	ToID    uint64          `bun:",notnull" comment:"Recipient identity"`
	Value   decimal.Decimal `bun:",type:numeric" comment:"Amount in token base units"`
}

// TableName -
func (Erc20Transfer) TableName() string {
	return "erc20_transfer"
}

// ContractDeployment -
type ContractDeployment struct {
	bun.BaseModel `bun:"table:contract_deployment" comment:"Table with contract deployments"`

	ID         uint64 `bun:"id,pk,notnull" comment:"Transaction identity"`
	ContractID uint64 `bun:",notnull" comment:"Deployed contract identity"`
	DeployerID uint64 `bun:",notnull" comment:"Deployer identity"`
	Bytecode   []byte `comment:"Contract bytecode"`
}

// TableName -
func (ContractDeployment) TableName() string {
	return "contract_deployment"
}
