package postgres

import (
	"context"
	"database/sql"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
	"github.com/pkg/errors"
)

// Identifier -
type Identifier struct {
	*postgres.Table[*storage.Identifier]
}

// NewIdentifier -
func NewIdentifier(db *database.Bun) *Identifier {
	return &Identifier{
		Table: postgres.NewTable[*storage.Identifier](db),
	}
}

// ByPrefix -
func (i *Identifier) ByPrefix(ctx context.Context, kind storage.IdentifierKind, prefix int64) (response []storage.Identifier, err error) {
	err = i.DB().NewSelect().
		Model(&response).
		Where("kind = ?", kind).
		Where("prefix = ?", prefix).
		Order("id asc").
		Scan(ctx)
	return
}

// Insert - inserts identifier if the same (kind, prefix, remainder) does not exist.
// Returns false when another writer has already inserted it.
func (i *Identifier) Insert(ctx context.Context, identifier *storage.Identifier) (bool, error) {
	err := i.DB().QueryRowContext(ctx,
		`INSERT INTO identifier (kind, prefix, remainder) VALUES (?, ?, ?)
		ON CONFLICT (kind, prefix, remainder) DO NOTHING
		RETURNING id`,
		identifier.Kind, identifier.Prefix, identifier.Remainder,
	).Scan(&identifier.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}
