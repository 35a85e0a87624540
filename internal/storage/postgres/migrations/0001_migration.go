package migrations

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

var statsConstraints = []struct {
	name  string
	check string
}{
	{"address_token_stats_zero_address_chk", "address_id <> 0"},
	{"address_token_stats_in_order_chk", "first_in <= last_in"},
	{"address_token_stats_out_order_chk", "first_out <= last_out"},
}

// stats rows never belong to the zero address and keep floors below ceilings
func init() {
	DbMigrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, constraint := range statsConstraints {
				if _, err := tx.ExecContext(ctx,
					"ALTER TABLE address_token_stats ADD CONSTRAINT ? CHECK ("+constraint.check+")",
					bun.Ident(constraint.name),
				); err != nil {
					return err
				}
			}
			log.Info().Int("constraints", len(statsConstraints)).Msg("migration applied")
			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, constraint := range statsConstraints {
				if _, err := tx.ExecContext(ctx,
					"ALTER TABLE address_token_stats DROP CONSTRAINT IF EXISTS ?",
					bun.Ident(constraint.name),
				); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
