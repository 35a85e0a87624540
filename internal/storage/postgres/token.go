package postgres

import (
	"context"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
)

// Token -
type Token struct {
	*postgres.Table[*storage.Token]
}

// NewToken -
func NewToken(db *database.Bun) *Token {
	return &Token{
		Table: postgres.NewTable[*storage.Token](db),
	}
}

// Upsert -
func (t *Token) Upsert(ctx context.Context, token *storage.Token) error {
	_, err := t.DB().NewInsert().
		Model(token).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("symbol = EXCLUDED.symbol").
		Set("decimals = EXCLUDED.decimals").
		Set("total_supply = EXCLUDED.total_supply").
		Set("status = EXCLUDED.status").
		Set("attempts = EXCLUDED.attempts").
		Set("error = EXCLUDED.error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// GetByStatus -
func (t *Token) GetByStatus(ctx context.Context, status storage.Status, limit, offset, attempts, delay int) (response []storage.Token, err error) {
	if delay < 0 {
		delay = 0
	}
	query := t.DB().NewSelect().
		Model(&response).
		Where("status = ?", status).
		Where("updated_at < (extract(epoch from current_timestamp) - ? * attempts)", delay).
		OrderExpr("attempts asc, updated_at desc")

	if limit < 1 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	if attempts > 0 {
		query.Where("attempts < ?", attempts)
	}
	err = query.Limit(limit).Offset(offset).Scan(ctx)
	return
}
