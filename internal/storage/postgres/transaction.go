package postgres

import (
	"context"
	"database/sql"

	models "github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/pkg/errors"
)

var _ models.BlockTransaction = Transaction{}

// Transaction -
type Transaction struct {
	storage.Transaction
}

// BeginTransaction -
func BeginTransaction(ctx context.Context, tx storage.Transactable) (Transaction, error) {
	t, err := tx.BeginTransaction(ctx)
	return Transaction{t}, err
}

// SaveBlock - inserts block or revives the retracted one with the same hash
func (t Transaction) SaveBlock(ctx context.Context, block *models.Block) error {
	_, err := t.Tx().NewInsert().
		Model(block).
		On("CONFLICT (id) DO UPDATE").
		Set("height = EXCLUDED.height").
		Set("parent_hash = EXCLUDED.parent_hash").
		Set("timestamp = EXCLUDED.timestamp").
		Set("tx_count = EXCLUDED.tx_count").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	return err
}

// RetractBlock -
func (t Transaction) RetractBlock(ctx context.Context, blockID uint64) error {
	result, err := t.Tx().NewUpdate().
		Model((*models.Block)(nil)).
		Set("status = ?", models.BlockStatusRetracted).
		Where("id = ?", blockID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if count, err := result.RowsAffected(); err == nil && count == 0 {
		return errors.Wrapf(sql.ErrNoRows, "block %d", blockID)
	}
	return nil
}

// SaveTransactions -
func (t Transaction) SaveTransactions(ctx context.Context, txs ...*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	_, err := t.Tx().NewInsert().Model(&txs).Exec(ctx)
	return err
}

// SaveEthTransfers -
func (t Transaction) SaveEthTransfers(ctx context.Context, transfers ...*models.EthTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	_, err := t.Tx().NewInsert().Model(&transfers).Exec(ctx)
	return err
}

// SaveErc20Transfers -
func (t Transaction) SaveErc20Transfers(ctx context.Context, transfers ...*models.Erc20Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	_, err := t.Tx().NewInsert().Model(&transfers).Exec(ctx)
	return err
}

// SaveDeployments -
func (t Transaction) SaveDeployments(ctx context.Context, deployments ...*models.ContractDeployment) error {
	if len(deployments) == 0 {
		return nil
	}
	_, err := t.Tx().NewInsert().Model(&deployments).Exec(ctx)
	return err
}

// DeleteBlockTransactions - removes generic and category rows of block
func (t Transaction) DeleteBlockTransactions(ctx context.Context, blockID uint64) error {
	for _, model := range []any{
		(*models.EthTransfer)(nil),
		(*models.Erc20Transfer)(nil),
		(*models.ContractDeployment)(nil),
	} {
		if _, err := t.Tx().NewDelete().
			Model(model).
			Where("id IN (SELECT id FROM tx WHERE block_id = ?)", blockID).
			Exec(ctx); err != nil {
			return err
		}
	}
	_, err := t.Tx().NewDelete().
		Model((*models.Transaction)(nil)).
		Where("block_id = ?", blockID).
		Exec(ctx)
	return err
}

// AddTokens - token placeholders. Known tokens are left untouched.
func (t Transaction) AddTokens(ctx context.Context, tokens ...*models.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := t.Tx().NewInsert().
		Model(&tokens).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	return err
}

// UpdateState -
func (t Transaction) UpdateState(ctx context.Context, state *models.State) error {
	_, err := t.Tx().NewInsert().
		Model(state).
		On("CONFLICT (name) DO UPDATE").
		Set("last_height = EXCLUDED.last_height").
		Set("last_hash = EXCLUDED.last_hash").
		Set("last_time = EXCLUDED.last_time").
		Exec(ctx)
	return err
}

// Stats - returns sql.ErrNoRows if row is absent
func (t Transaction) Stats(ctx context.Context, addressID, tokenID uint64) (stats models.AddressTokenStats, err error) {
	err = t.Tx().NewSelect().
		Model(&stats).
		Where("address_id = ?", addressID).
		Where("token_id = ?", tokenID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	return
}

// SaveStats -
func (t Transaction) SaveStats(ctx context.Context, stats *models.AddressTokenStats) error {
	_, err := t.Tx().NewInsert().
		Model(stats).
		On("CONFLICT (address_id, token_id) DO UPDATE").
		Set("balance = EXCLUDED.balance").
		Set("first_in = EXCLUDED.first_in").
		Set("last_in = EXCLUDED.last_in").
		Set("first_out = EXCLUDED.first_out").
		Set("last_out = EXCLUDED.last_out").
		Set("updated_height = EXCLUDED.updated_height").
		Exec(ctx)
	return err
}

// DeleteStats -
func (t Transaction) DeleteStats(ctx context.Context, addressID, tokenID uint64) error {
	_, err := t.Tx().NewDelete().
		Model((*models.AddressTokenStats)(nil)).
		Where("address_id = ?", addressID).
		Where("token_id = ?", tokenID).
		Exec(ctx)
	return err
}

// AppendLedger -
func (t Transaction) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := t.Tx().NewInsert().Model(entry).Returning("id").Exec(ctx)
	return err
}

// LedgerByBlock - not retracted entries of block in application order
func (t Transaction) LedgerByBlock(ctx context.Context, blockID uint64) (entries []models.LedgerEntry, err error) {
	err = t.Tx().NewSelect().
		Model(&entries).
		Where("block_id = ?", blockID).
		Where("retracted = false").
		Order("id asc").
		Scan(ctx)
	return
}

// RetractLedger -
func (t Transaction) RetractLedger(ctx context.Context, entryID uint64) error {
	result, err := t.Tx().NewUpdate().
		Model((*models.LedgerEntry)(nil)).
		Set("retracted = true").
		Where("id = ?", entryID).
		Where("retracted = false").
		Exec(ctx)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrapf(models.ErrReorgConflict, "ledger entry %d is absent or already retracted", entryID)
	}
	return nil
}

// Activity - first/last in/out over not retracted ledger entries of (address, token)
func (t Transaction) Activity(ctx context.Context, addressID, tokenID uint64) (models.Activity, error) {
	var activity models.Activity
	var firstIn, lastIn, firstOut, lastOut sql.NullTime

	err := t.Tx().QueryRowContext(ctx,
		`SELECT
			min(timestamp) FILTER (WHERE to_id = ?0),
			max(timestamp) FILTER (WHERE to_id = ?0),
			min(timestamp) FILTER (WHERE from_id = ?0),
			max(timestamp) FILTER (WHERE from_id = ?0),
			count(*) FILTER (WHERE to_id = ?0) + count(*) FILTER (WHERE from_id = ?0)
		FROM transfer_ledger
		WHERE token_id = ?1 AND retracted = false AND (from_id = ?0 OR to_id = ?0)`,
		addressID, tokenID,
	).Scan(&firstIn, &lastIn, &firstOut, &lastOut, &activity.Events)
	if err != nil {
		return activity, err
	}
	activity.FirstIn = firstIn.Time
	activity.LastIn = lastIn.Time
	activity.FirstOut = firstOut.Time
	activity.LastOut = lastOut.Time
	return activity, nil
}

// Close - rolls back the transaction if it was not flushed
func (t Transaction) Close(ctx context.Context) error {
	if err := t.Rollback(ctx); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return t.Transaction.Close(ctx)
}
