package postgres

import (
	"context"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
)

// Nickname -
type Nickname struct {
	*postgres.Table[*storage.Nickname]
}

// NewNickname -
func NewNickname(db *database.Bun) *Nickname {
	return &Nickname{
		Table: postgres.NewTable[*storage.Nickname](db),
	}
}

// ByIdentifier -
func (n *Nickname) ByIdentifier(ctx context.Context, identifierID uint64) (response []storage.Nickname, err error) {
	err = n.DB().NewSelect().
		Model(&response).
		Where("identifier_id = ?", identifierID).
		Order("id asc").
		Scan(ctx)
	return
}
