package postgres

import (
	"context"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
)

// Tx -
type Tx struct {
	*postgres.Table[*storage.Transaction]
}

// NewTx -
func NewTx(db *database.Bun) *Tx {
	return &Tx{
		Table: postgres.NewTable[*storage.Transaction](db),
	}
}

// ByBlock -
func (t *Tx) ByBlock(ctx context.Context, blockID uint64) (txs []storage.Transaction, err error) {
	err = t.DB().NewSelect().
		Model(&txs).
		Where("block_id = ?", blockID).
		Order("position asc").
		Scan(ctx)
	return
}
