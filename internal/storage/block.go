package storage

import (
	"context"
	"time"

	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/uptrace/bun"
)

// IBlock -
type IBlock interface {
	storage.Table[*Block]

	ByHeight(ctx context.Context, height uint64) (Block, error)
	Above(ctx context.Context, height uint64) ([]Block, error)
}

// Block -
type Block struct {
	bun.BaseModel `bun:"table:block" comment:"Table with ingested blocks"`

	ID         uint64      `bun:"id,pk,notnull" comment:"Identity of block hash (identifier id)"`
	Height     uint64      `bun:",notnull" comment:"Block height"`
	Hash       []byte      `bun:",notnull" comment:"Block hash"`
	ParentHash []byte      `comment:"Parent block hash"`
	Timestamp  time.Time   `comment:"Block time"`
	TxCount    int         `comment:"Count of stored transactions"`
	Status     BlockStatus `bun:",type:block_status,notnull" comment:"Block is canonical (committed) or superseded by reorg (retracted)"`
}

// TableName -
func (Block) TableName() string {
	return "block"
}

// IsCommitted -
func (b Block) IsCommitted() bool {
	return b.Status == BlockStatusCommitted
}
