package postgres

import (
	"context"
	"database/sql"
	"fmt"

	models "github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/storage/postgres/migrations"
	"github.com/dipdup-net/go-lib/config"
	"github.com/dipdup-net/go-lib/database"
	"github.com/dipdup-net/indexer-sdk/pkg/storage/postgres"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Storage -
type Storage struct {
	*postgres.Storage

	Identifiers  models.IIdentifier
	Nicknames    models.INickname
	Tokens       models.IToken
	Blocks       models.IBlock
	Transactions models.ITransaction
	Stats        models.IStats
	States       models.IState
}

// Create -
func Create(ctx context.Context, cfg config.Database) (Storage, error) {
	strg, err := postgres.Create(ctx, cfg, initDatabase)
	if err != nil {
		return Storage{}, err
	}

	s := Storage{
		Storage:      strg,
		Identifiers:  NewIdentifier(strg.Connection()),
		Nicknames:    NewNickname(strg.Connection()),
		Tokens:       NewToken(strg.Connection()),
		Blocks:       NewBlock(strg.Connection()),
		Transactions: NewTx(strg.Connection()),
		Stats:        NewStats(strg.Connection()),
		States:       NewState(strg.Connection()),
	}

	return s, nil
}

// BeginBlockTransaction -
func (s Storage) BeginBlockTransaction(ctx context.Context) (models.BlockTransaction, error) {
	tx, err := BeginTransaction(ctx, s.Transactable)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Block - block by identity
func (s Storage) Block(ctx context.Context, id uint64) (models.Block, error) {
	block, err := s.Blocks.GetByID(ctx, id)
	if err != nil {
		return models.Block{}, err
	}
	return *block, nil
}

// CommittedAt -
func (s Storage) CommittedAt(ctx context.Context, height uint64) (models.Block, error) {
	return s.Blocks.ByHeight(ctx, height)
}

// CommittedAbove -
func (s Storage) CommittedAbove(ctx context.Context, height uint64) ([]models.Block, error) {
	return s.Blocks.Above(ctx, height)
}

// State -
func (s Storage) State(ctx context.Context, name string) (models.State, error) {
	return s.States.ByName(ctx, name)
}

func initDatabase(ctx context.Context, conn *database.Bun) error {
	if err := createTypes(ctx, conn); err != nil {
		return err
	}

	for _, data := range models.Models {
		if _, err := conn.DB().NewCreateTable().IfNotExists().Model(data).Exec(ctx); err != nil {
			if err := conn.Close(); err != nil {
				return err
			}
			return err
		}
	}

	data := make([]any, len(models.Models))
	for i := range models.Models {
		data[i] = models.Models[i]
	}
	if err := database.MakeComments(ctx, conn, data...); err != nil {
		return errors.Wrap(err, "make comments")
	}

	if err := applyMigrations(ctx, conn); err != nil {
		return err
	}

	return createIndices(ctx, conn)
}

func createIndices(ctx context.Context, conn *database.Bun) error {
	log.Info().Msg("creating indexes...")
	return conn.DB().RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Identifier
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Unique().
			Model((*models.Identifier)(nil)).
			Index("identifier_raw_idx").
			Column("kind", "prefix", "remainder").
			Exec(ctx); err != nil {
			return err
		}

		// Nickname
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.Nickname)(nil)).
			Index("nickname_identifier_id_idx").
			Column("identifier_id").
			Exec(ctx); err != nil {
			return err
		}

		// Token
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.Token)(nil)).
			Index("token_status_idx").
			Column("status").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.Token)(nil)).
			Index("token_attempts_idx").
			Column("attempts").
			Exec(ctx); err != nil {
			return err
		}

		// Block
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Unique().
			Model((*models.Block)(nil)).
			Index("block_committed_height_idx").
			Column("height").
			Where("status = ?", models.BlockStatusCommitted).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.Block)(nil)).
			Index("block_height_idx").
			Column("height").
			Exec(ctx); err != nil {
			return err
		}

		// Tx
		for _, column := range []string{"block_id", "from_id", "to_id"} {
			if _, err := tx.NewCreateIndex().
				IfNotExists().
				Model((*models.Transaction)(nil)).
				Index(fmt.Sprintf("tx_%s_idx", column)).
				Column(column).
				Exec(ctx); err != nil {
				return err
			}
		}

		// Erc20Transfer
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.Erc20Transfer)(nil)).
			Index("erc20_transfer_token_id_idx").
			Column("token_id").
			Exec(ctx); err != nil {
			return err
		}

		// LedgerEntry
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.LedgerEntry)(nil)).
			Index("transfer_ledger_block_id_idx").
			Column("block_id").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.LedgerEntry)(nil)).
			Index("transfer_ledger_from_idx").
			Column("token_id", "from_id").
			Where("retracted = false").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewCreateIndex().
			IfNotExists().
			Model((*models.LedgerEntry)(nil)).
			Index("transfer_ledger_to_idx").
			Column("token_id", "to_id").
			Where("retracted = false").
			Exec(ctx); err != nil {
			return err
		}

		return nil
	})
}

func createTypes(ctx context.Context, conn *database.Bun) error {
	log.Info().Msg("creating custom types...")
	return conn.DB().RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, typ := range []struct {
			name   string
			values string
		}{
			{"identifier_kind", `'eoa', 'contract', 'tx_hash', 'block_hash'`},
			{"tx_category", `'eth_transfer', 'erc20_transfer', 'contract_deployment', 'generic_call'`},
			{"block_status", `'committed', 'retracted'`},
			{"label_kind", `'manual', 'ens', 'contract_name'`},
			{"status", `'new', 'success', 'failed'`},
		} {
			if _, err := tx.ExecContext(
				ctx,
				fmt.Sprintf(`DO $$
				BEGIN
					IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = '%s') THEN
						CREATE TYPE %s AS ENUM (%s);
					END IF;
				END$$;`, typ.name, typ.name, typ.values),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyMigrations(ctx context.Context, conn *database.Bun) error {
	migrator := migrate.NewMigrator(conn.DB(), migrations.DbMigrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	_, err := migrator.Migrate(ctx)
	return err
}
