package postgres

import (
	"context"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/go-lib/database"
)

// Stats -
type Stats struct {
	db *database.Bun
}

// NewStats -
func NewStats(db *database.Bun) *Stats {
	return &Stats{db}
}

// Get -
func (s *Stats) Get(ctx context.Context, addressID, tokenID uint64) (stats storage.AddressTokenStats, err error) {
	err = s.db.DB().NewSelect().
		Model(&stats).
		Where("address_id = ?", addressID).
		Where("token_id = ?", tokenID).
		Limit(1).
		Scan(ctx)
	return
}

// ByAddress -
func (s *Stats) ByAddress(ctx context.Context, addressID uint64) (stats []storage.AddressTokenStats, err error) {
	err = s.db.DB().NewSelect().
		Model(&stats).
		Where("address_id = ?", addressID).
		Order("token_id asc").
		Scan(ctx)
	return
}
