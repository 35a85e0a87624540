package postgres

import (
	"context"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
)

// Block -
type Block struct {
	*postgres.Table[*storage.Block]
}

// NewBlock -
func NewBlock(db *database.Bun) *Block {
	return &Block{
		Table: postgres.NewTable[*storage.Block](db),
	}
}

// ByHeight - committed block at height
func (b *Block) ByHeight(ctx context.Context, height uint64) (block storage.Block, err error) {
	err = b.DB().NewSelect().
		Model(&block).
		Where("height = ?", height).
		Where("status = ?", storage.BlockStatusCommitted).
		Limit(1).
		Scan(ctx)
	return
}

// Above - committed blocks at height and above, highest first
func (b *Block) Above(ctx context.Context, height uint64) (blocks []storage.Block, err error) {
	err = b.DB().NewSelect().
		Model(&blocks).
		Where("height >= ?", height).
		Where("status = ?", storage.BlockStatusCommitted).
		Order("height desc").
		Scan(ctx)
	return
}
