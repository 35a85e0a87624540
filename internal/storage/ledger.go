package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// LedgerEntry - applied transfer event. Entries are never deleted: reorgs mark them retracted.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:transfer_ledger" comment:"Append-only ledger of transfer events applied to statistics"`

	ID        uint64          `bun:"id,pk,autoincrement" comment:"Unique internal identity"`
	BlockID   uint64          `bun:",notnull" comment:"Block identity"`
	Height    uint64          `bun:",notnull" comment:"Block height"`
	TxID      uint64          `bun:",notnull" comment:"Transaction identity"`
	TokenID   uint64          `bun:",notnull" comment:"Token identity, 0 is native asset"`
	FromID    uint64          `bun:",notnull" comment:"Sender identity, 0 is mint"`
	ToID      uint64          `bun:",notnull" comment:"Receiver identity, 0 is burn"`
	Amount    decimal.Decimal `bun:",type:numeric" comment:"Transferred amount"`
	Timestamp time.Time       `bun:",notnull" comment:"Block time"`
	Retracted bool            `bun:",notnull" comment:"Entry was retracted by reorg"`
}

// TableName -
func (LedgerEntry) TableName() string {
	return "transfer_ledger"
}
