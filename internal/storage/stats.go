package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// IStats -
type IStats interface {
	Get(ctx context.Context, addressID, tokenID uint64) (AddressTokenStats, error)
	ByAddress(ctx context.Context, addressID uint64) ([]AddressTokenStats, error)
}

// AddressTokenStats - running balance and activity of address in token
type AddressTokenStats struct {
	bun.BaseModel `bun:"table:address_token_stats" comment:"Table with running per-address per-token statistics"`

	AddressID     uint64          `bun:",pk,notnull" comment:"Address identity"`
	TokenID       uint64          `bun:",pk,notnull" comment:"Token identity, 0 is native asset"`
	Balance       decimal.Decimal `bun:",type:numeric" comment:"Sum of applied transfer deltas"`
	FirstIn       time.Time       `bun:",nullzero" comment:"Time of first incoming transfer"`
	LastIn        time.Time       `bun:",nullzero" comment:"Time of last incoming transfer"`
	FirstOut      time.Time       `bun:",nullzero" comment:"Time of first outgoing transfer"`
	LastOut       time.Time       `bun:",nullzero" comment:"Time of last outgoing transfer"`
	UpdatedHeight uint64          `comment:"Height of last applied or retracted transfer"`
}

// TableName -
func (AddressTokenStats) TableName() string {
	return "address_token_stats"
}

// StatsKey -
type StatsKey struct {
	AddressID uint64
	TokenID   uint64
}

// Key -
func (s AddressTokenStats) Key() StatsKey {
	return StatsKey{s.AddressID, s.TokenID}
}

// Activity - first/last timestamps of key recomputed from surviving ledger entries
type Activity struct {
	FirstIn  time.Time
	LastIn   time.Time
	FirstOut time.Time
	LastOut  time.Time
	Events   int
}
