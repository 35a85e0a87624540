package aggregator

import (
	"context"
	"database/sql"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Transfer - value movement between two identities in one token
type Transfer struct {
	BlockID   uint64
	Height    uint64
	TxID      uint64
	TokenID   uint64
	From      uint64
	To        uint64
	Amount    decimal.Decimal
	Timestamp time.Time
}

// StatsReader -
type StatsReader interface {
	Get(ctx context.Context, addressID, tokenID uint64) (storage.AddressTokenStats, error)
}

// Aggregator - maintains running per-address per-token statistics. Every applied transfer is
// recorded in the ledger so its effect can be exactly reverted on reorg.
type Aggregator struct {
	stats StatsReader
	locks *locker
}

// New -
func New(stats StatsReader) *Aggregator {
	return &Aggregator{
		stats: stats,
		locks: newLocker(),
	}
}

// Apply - applies transfer to sender and receiver stats inside block transaction
func (a *Aggregator) Apply(ctx context.Context, tx storage.BlockTransaction, transfer Transfer) (storage.LedgerEntry, error) {
	if transfer.Amount.IsNegative() {
		return storage.LedgerEntry{}, errors.Wrapf(storage.ErrInvalidInput, "negative transfer amount: %s", transfer.Amount)
	}

	entry := storage.LedgerEntry{
		BlockID:   transfer.BlockID,
		Height:    transfer.Height,
		TxID:      transfer.TxID,
		TokenID:   transfer.TokenID,
		FromID:    transfer.From,
		ToID:      transfer.To,
		Amount:    transfer.Amount,
		Timestamp: transfer.Timestamp,
	}

	unlock := a.locks.lock(keysOf(entry)...)
	defer unlock()

	if err := tx.AppendLedger(ctx, &entry); err != nil {
		return entry, errors.Wrap(err, "append ledger")
	}

	if transfer.From != storage.ZeroAddress {
		stats, err := a.load(ctx, tx, transfer.From, transfer.TokenID)
		if err != nil {
			return entry, err
		}
		stats.Balance = stats.Balance.Sub(transfer.Amount)
		if stats.FirstOut.IsZero() || transfer.Timestamp.Before(stats.FirstOut) {
			stats.FirstOut = transfer.Timestamp
		}
		if transfer.Timestamp.After(stats.LastOut) {
			stats.LastOut = transfer.Timestamp
		}

		// self transfer: both sides land on the same row
		if transfer.To == transfer.From {
			stats.Balance = stats.Balance.Add(transfer.Amount)
			applyIn(&stats, transfer.Timestamp)
		}
		stats.UpdatedHeight = transfer.Height
		if err := tx.SaveStats(ctx, &stats); err != nil {
			return entry, errors.Wrap(err, "save sender stats")
		}
	}

	if transfer.To != storage.ZeroAddress && transfer.To != transfer.From {
		stats, err := a.load(ctx, tx, transfer.To, transfer.TokenID)
		if err != nil {
			return entry, err
		}
		stats.Balance = stats.Balance.Add(transfer.Amount)
		applyIn(&stats, transfer.Timestamp)
		stats.UpdatedHeight = transfer.Height
		if err := tx.SaveStats(ctx, &stats); err != nil {
			return entry, errors.Wrap(err, "save receiver stats")
		}
	}

	return entry, nil
}

// Retract - reverts applied ledger entry. Floors and ceilings are recomputed
// from the surviving ledger entries of the touched keys.
func (a *Aggregator) Retract(ctx context.Context, tx storage.BlockTransaction, entry storage.LedgerEntry) error {
	if entry.Retracted {
		return errors.Wrapf(storage.ErrReorgConflict, "ledger entry %d is already retracted", entry.ID)
	}

	keys := keysOf(entry)
	unlock := a.locks.lock(keys...)
	defer unlock()

	if err := tx.RetractLedger(ctx, entry.ID); err != nil {
		return errors.Wrap(err, "retract ledger")
	}

	for _, key := range uniqueSorted(keys) {
		stats, err := tx.Stats(ctx, key.AddressID, key.TokenID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(storage.ErrReorgConflict, "no stats of address %d in token %d for ledger entry %d", key.AddressID, key.TokenID, entry.ID)
			}
			return errors.Wrap(err, "receive stats")
		}

		if entry.FromID == key.AddressID {
			stats.Balance = stats.Balance.Add(entry.Amount)
		}
		if entry.ToID == key.AddressID {
			stats.Balance = stats.Balance.Sub(entry.Amount)
		}

		activity, err := tx.Activity(ctx, key.AddressID, key.TokenID)
		if err != nil {
			return errors.Wrap(err, "receive activity")
		}

		if activity.Events == 0 {
			if !stats.Balance.IsZero() {
				return errors.Wrapf(storage.ErrReorgConflict, "address %d keeps balance %s in token %d without transfers", key.AddressID, stats.Balance, key.TokenID)
			}
			if err := tx.DeleteStats(ctx, key.AddressID, key.TokenID); err != nil {
				return errors.Wrap(err, "delete stats")
			}
			continue
		}

		stats.FirstIn = activity.FirstIn
		stats.LastIn = activity.LastIn
		stats.FirstOut = activity.FirstOut
		stats.LastOut = activity.LastOut
		stats.UpdatedHeight = entry.Height
		if err := tx.SaveStats(ctx, &stats); err != nil {
			return errors.Wrap(err, "save stats")
		}
	}
	return nil
}

// StatsOf - committed stats of address in token. Addresses without transfers have zero stats.
func (a *Aggregator) StatsOf(ctx context.Context, addressID, tokenID uint64) (storage.AddressTokenStats, error) {
	stats, err := a.stats.Get(ctx, addressID, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AddressTokenStats{
				AddressID: addressID,
				TokenID:   tokenID,
			}, nil
		}
		return stats, err
	}
	return stats, nil
}

func (a *Aggregator) load(ctx context.Context, tx storage.BlockTransaction, addressID, tokenID uint64) (storage.AddressTokenStats, error) {
	stats, err := tx.Stats(ctx, addressID, tokenID)
	switch {
	case err == nil:
		return stats, nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.AddressTokenStats{
			AddressID: addressID,
			TokenID:   tokenID,
			Balance:   decimal.Zero,
		}, nil
	default:
		return stats, errors.Wrap(err, "receive stats")
	}
}

func applyIn(stats *storage.AddressTokenStats, ts time.Time) {
	if stats.FirstIn.IsZero() || ts.Before(stats.FirstIn) {
		stats.FirstIn = ts
	}
	if ts.After(stats.LastIn) {
		stats.LastIn = ts
	}
}

func keysOf(entry storage.LedgerEntry) []storage.StatsKey {
	keys := make([]storage.StatsKey, 0, 2)
	if entry.FromID != storage.ZeroAddress {
		keys = append(keys, storage.StatsKey{AddressID: entry.FromID, TokenID: entry.TokenID})
	}
	if entry.ToID != storage.ZeroAddress {
		keys = append(keys, storage.StatsKey{AddressID: entry.ToID, TokenID: entry.TokenID})
	}
	return keys
}
