package aggregator

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/storage/memory"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	alice uint64 = 1
	bob   uint64 = 2
	token uint64 = 10
)

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func applyAll(t *testing.T, db *memory.Storage, agg *Aggregator, transfers ...Transfer) []storage.LedgerEntry {
	ctx := context.Background()
	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	entries := make([]storage.LedgerEntry, 0, len(transfers))
	for _, transfer := range transfers {
		entry, err := agg.Apply(ctx, tx, transfer)
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	require.NoError(t, tx.Flush(ctx))
	return entries
}

func TestApplyErc20Transfer(t *testing.T) {
	db := memory.New()
	agg := New(db)

	applyAll(t, db, agg, Transfer{
		BlockID:   100,
		Height:    7,
		TxID:      1,
		TokenID:   token,
		From:      alice,
		To:        bob,
		Amount:    decimal.NewFromInt(1000),
		Timestamp: ts(1000),
	})

	sender, err := agg.StatsOf(context.Background(), alice, token)
	require.NoError(t, err)
	require.True(t, sender.Balance.Equal(decimal.NewFromInt(-1000)), sender.Balance.String())
	require.Equal(t, ts(1000), sender.FirstOut)
	require.Equal(t, ts(1000), sender.LastOut)
	require.True(t, sender.FirstIn.IsZero())
	require.EqualValues(t, 7, sender.UpdatedHeight)

	receiver, err := agg.StatsOf(context.Background(), bob, token)
	require.NoError(t, err)
	require.True(t, receiver.Balance.Equal(decimal.NewFromInt(1000)), receiver.Balance.String())
	require.Equal(t, ts(1000), receiver.FirstIn)
	require.Equal(t, ts(1000), receiver.LastIn)
	require.True(t, receiver.LastOut.IsZero())

	native, err := agg.StatsOf(context.Background(), bob, storage.NativeToken)
	require.NoError(t, err)
	require.True(t, native.Balance.IsZero())
}

func TestApplyFloorsAndCeilings(t *testing.T) {
	db := memory.New()
	agg := New(db)

	applyAll(t, db, agg,
		Transfer{TxID: 1, From: alice, To: bob, Amount: decimal.NewFromInt(1), Timestamp: ts(200)},
		Transfer{TxID: 2, From: alice, To: bob, Amount: decimal.NewFromInt(2), Timestamp: ts(100)},
		Transfer{TxID: 3, From: bob, To: alice, Amount: decimal.NewFromInt(5), Timestamp: ts(300)},
	)

	stats, err := agg.StatsOf(context.Background(), alice, storage.NativeToken)
	require.NoError(t, err)
	require.True(t, stats.Balance.Equal(decimal.NewFromInt(2)))
	require.Equal(t, ts(100), stats.FirstOut)
	require.Equal(t, ts(200), stats.LastOut)
	require.Equal(t, ts(300), stats.FirstIn)
	require.Equal(t, ts(300), stats.LastIn)
}

func TestApplyZeroAddress(t *testing.T) {
	db := memory.New()
	agg := New(db)

	applyAll(t, db, agg,
		Transfer{TxID: 1, TokenID: token, From: storage.ZeroAddress, To: alice, Amount: decimal.NewFromInt(50), Timestamp: ts(10)},
		Transfer{TxID: 2, TokenID: token, From: alice, To: storage.ZeroAddress, Amount: decimal.NewFromInt(20), Timestamp: ts(20)},
	)

	_, err := db.Get(context.Background(), storage.ZeroAddress, token)
	require.ErrorIs(t, err, sql.ErrNoRows)

	stats, err := agg.StatsOf(context.Background(), alice, token)
	require.NoError(t, err)
	require.True(t, stats.Balance.Equal(decimal.NewFromInt(30)))
}

func TestApplySelfTransfer(t *testing.T) {
	db := memory.New()
	agg := New(db)

	applyAll(t, db, agg, Transfer{TxID: 1, From: alice, To: alice, Amount: decimal.NewFromInt(9), Timestamp: ts(5)})

	stats, err := agg.StatsOf(context.Background(), alice, storage.NativeToken)
	require.NoError(t, err)
	require.True(t, stats.Balance.IsZero())
	require.Equal(t, ts(5), stats.FirstIn)
	require.Equal(t, ts(5), stats.FirstOut)

	all, err := db.ByAddress(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestApplyNegativeAmount(t *testing.T) {
	db := memory.New()
	agg := New(db)

	ctx := context.Background()
	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = agg.Apply(ctx, tx, Transfer{From: alice, To: bob, Amount: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRetractRestoresPreviousState(t *testing.T) {
	db := memory.New()
	agg := New(db)
	ctx := context.Background()

	applyAll(t, db, agg, Transfer{TxID: 1, TokenID: token, From: alice, To: bob, Amount: decimal.NewFromInt(10), Timestamp: ts(10)})
	entries := applyAll(t, db, agg, Transfer{TxID: 2, TokenID: token, From: bob, To: alice, Amount: decimal.NewFromInt(4), Timestamp: ts(20)})

	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, agg.Retract(ctx, tx, entries[0]))
	require.NoError(t, tx.Flush(ctx))
	require.NoError(t, tx.Close(ctx))

	stats, err := agg.StatsOf(ctx, bob, token)
	require.NoError(t, err)
	require.True(t, stats.Balance.Equal(decimal.NewFromInt(10)))
	require.True(t, stats.FirstOut.IsZero())
	require.True(t, stats.LastOut.IsZero())
	require.Equal(t, ts(10), stats.LastIn)

	stats, err = agg.StatsOf(ctx, alice, token)
	require.NoError(t, err)
	require.True(t, stats.Balance.Equal(decimal.NewFromInt(-10)))
	require.True(t, stats.LastIn.IsZero())
}

func TestRetractDeletesRowWithoutEvents(t *testing.T) {
	db := memory.New()
	agg := New(db)
	ctx := context.Background()

	entries := applyAll(t, db, agg, Transfer{TxID: 1, From: alice, To: bob, Amount: decimal.NewFromInt(3), Timestamp: ts(1)})

	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, agg.Retract(ctx, tx, entries[0]))
	require.NoError(t, tx.Flush(ctx))
	require.NoError(t, tx.Close(ctx))

	for _, address := range []uint64{alice, bob} {
		_, err := db.Get(ctx, address, storage.NativeToken)
		require.ErrorIs(t, err, sql.ErrNoRows)
	}

	ledger, err := db.Ledger(ctx)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.True(t, ledger[0].Retracted)
}

func TestRetractTwice(t *testing.T) {
	db := memory.New()
	agg := New(db)
	ctx := context.Background()

	entries := applyAll(t, db, agg, Transfer{TxID: 1, From: alice, To: bob, Amount: decimal.NewFromInt(3), Timestamp: ts(1)})

	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	require.NoError(t, agg.Retract(ctx, tx, entries[0]))
	err = agg.Retract(ctx, tx, entries[0])
	require.ErrorIs(t, err, storage.ErrReorgConflict)

	entries[0].Retracted = true
	err = agg.Retract(ctx, tx, entries[0])
	require.ErrorIs(t, err, storage.ErrReorgConflict)
}

func TestRetractWithBalanceButNoEvents(t *testing.T) {
	db := memory.New()
	agg := New(db)
	ctx := context.Background()

	entries := applyAll(t, db, agg, Transfer{TxID: 1, From: storage.ZeroAddress, To: bob, Amount: decimal.NewFromInt(3), Timestamp: ts(1)})

	tx, err := db.BeginBlockTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	// corrupt the row so that reverting the only event leaves a balance behind
	stats, err := tx.Stats(ctx, bob, storage.NativeToken)
	require.NoError(t, err)
	stats.Balance = decimal.NewFromInt(100)
	require.NoError(t, tx.SaveStats(ctx, &stats))

	err = agg.Retract(ctx, tx, entries[0])
	require.ErrorIs(t, err, storage.ErrReorgConflict)
}

func TestApplyRetractRoundTrip(t *testing.T) {
	type snapshot map[storage.StatsKey]storage.AddressTokenStats

	take := func(db *memory.Storage) (snapshot, error) {
		result := make(snapshot)
		for address := uint64(1); address <= 4; address++ {
			all, err := db.ByAddress(context.Background(), address)
			if err != nil {
				return nil, err
			}
			for _, stats := range all {
				result[stats.Key()] = stats
			}
		}
		return result, nil
	}

	equal := func(a, b snapshot) bool {
		if len(a) != len(b) {
			return false
		}
		for key, x := range a {
			y, ok := b[key]
			if !ok {
				return false
			}
			if !x.Balance.Equal(y.Balance) ||
				!x.FirstIn.Equal(y.FirstIn) || !x.LastIn.Equal(y.LastIn) ||
				!x.FirstOut.Equal(y.FirstOut) || !x.LastOut.Equal(y.LastOut) {
				return false
			}
		}
		return true
	}

	run := func(db *memory.Storage, fn func(ctx context.Context, tx storage.BlockTransaction) error) error {
		ctx := context.Background()
		tx, err := db.BeginBlockTransaction(ctx)
		if err != nil {
			return err
		}
		defer tx.Close(ctx)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Flush(ctx)
	}

	genTransfer := gopter.CombineGens(
		gen.UInt64Range(0, 4),
		gen.UInt64Range(0, 4),
		gen.UInt64Range(0, 2),
		gen.Int64Range(0, 1000),
		gen.Int64Range(1, 1000),
	).Map(func(values []interface{}) Transfer {
		return Transfer{
			From:      values[0].(uint64),
			To:        values[1].(uint64),
			TokenID:   values[2].(uint64),
			Amount:    decimal.NewFromInt(values[3].(int64)),
			Timestamp: ts(values[4].(int64)),
		}
	})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("retracting applied transfers in reverse restores stats", prop.ForAll(
		func(transfers []Transfer, split int) bool {
			split %= len(transfers) + 1

			db := memory.New()
			agg := New(db)

			if err := run(db, func(ctx context.Context, tx storage.BlockTransaction) error {
				for _, transfer := range transfers[:split] {
					if _, err := agg.Apply(ctx, tx, transfer); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return false
			}

			before, err := take(db)
			if err != nil {
				return false
			}

			entries := make([]storage.LedgerEntry, 0)
			if err := run(db, func(ctx context.Context, tx storage.BlockTransaction) error {
				for i, transfer := range transfers[split:] {
					transfer.TxID = uint64(i + 1)
					entry, err := agg.Apply(ctx, tx, transfer)
					if err != nil {
						return err
					}
					entries = append(entries, entry)
				}
				return nil
			}); err != nil {
				return false
			}

			if err := run(db, func(ctx context.Context, tx storage.BlockTransaction) error {
				for i := len(entries) - 1; i >= 0; i-- {
					if err := agg.Retract(ctx, tx, entries[i]); err != nil {
						return errors.Wrapf(err, "entry %d", entries[i].ID)
					}
				}
				return nil
			}); err != nil {
				return false
			}

			after, err := take(db)
			if err != nil {
				return false
			}
			return equal(before, after)
		},
		gen.SliceOf(genTransfer),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestLockerReleasesKeys(t *testing.T) {
	l := newLocker()
	keys := []storage.StatsKey{{AddressID: 2, TokenID: 1}, {AddressID: 1, TokenID: 1}, {AddressID: 2, TokenID: 1}}

	var (
		wg      sync.WaitGroup
		mx      sync.Mutex
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock(keys...)
			defer unlock()

			mx.Lock()
			counter++
			mx.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Zero(t, l.size())
}

func TestUniqueSorted(t *testing.T) {
	got := uniqueSorted([]storage.StatsKey{
		{AddressID: 3, TokenID: 0},
		{AddressID: 1, TokenID: 2},
		{AddressID: 1, TokenID: 1},
		{AddressID: 3, TokenID: 0},
	})
	require.Equal(t, []storage.StatsKey{
		{AddressID: 1, TokenID: 1},
		{AddressID: 1, TokenID: 2},
		{AddressID: 3, TokenID: 0},
	}, got)
}
