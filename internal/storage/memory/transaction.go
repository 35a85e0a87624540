package memory

import (
	"context"
	"database/sql"
	"sort"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/pkg/errors"
)

var _ storage.BlockTransaction = (*Transaction)(nil)

// Transaction - block transaction working on a private snapshot of chain tables
type Transaction struct {
	storage *Storage
	chain   *chain
	tokens  []storage.Token
	flushed bool
	closed  bool
}

func (t *Transaction) check(ctx context.Context) error {
	if t.closed {
		return errors.New("transaction is closed")
	}
	if t.flushed {
		return errors.New("transaction is already flushed")
	}
	return ctx.Err()
}

// SaveBlock - stores block or revives retracted one with the same hash
func (t *Transaction) SaveBlock(ctx context.Context, block *storage.Block) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if block.IsCommitted() {
		for id, b := range t.chain.blocks {
			if id != block.ID && b.Height == block.Height && b.IsCommitted() {
				return errors.Wrapf(storage.ErrStorageConflict, "block %d is already committed at height %d", id, block.Height)
			}
		}
	}
	t.chain.blocks[block.ID] = *block
	return nil
}

// RetractBlock -
func (t *Transaction) RetractBlock(ctx context.Context, blockID uint64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	block, ok := t.chain.blocks[blockID]
	if !ok {
		return errors.Wrapf(sql.ErrNoRows, "block %d", blockID)
	}
	block.Status = storage.BlockStatusRetracted
	t.chain.blocks[blockID] = block
	return nil
}

// SaveTransactions -
func (t *Transaction) SaveTransactions(ctx context.Context, txs ...*storage.Transaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for i := range txs {
		if _, ok := t.chain.txs[txs[i].ID]; ok {
			return errors.Wrapf(storage.ErrStorageConflict, "transaction %d already exists", txs[i].ID)
		}
		t.chain.txs[txs[i].ID] = *txs[i]
	}
	return nil
}

// SaveEthTransfers -
func (t *Transaction) SaveEthTransfers(ctx context.Context, transfers ...*storage.EthTransfer) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for i := range transfers {
		t.chain.eth[transfers[i].ID] = *transfers[i]
	}
	return nil
}

// SaveErc20Transfers -
func (t *Transaction) SaveErc20Transfers(ctx context.Context, transfers ...*storage.Erc20Transfer) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for i := range transfers {
		t.chain.erc20[transfers[i].ID] = *transfers[i]
	}
	return nil
}

// SaveDeployments -
func (t *Transaction) SaveDeployments(ctx context.Context, deployments ...*storage.ContractDeployment) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for i := range deployments {
		t.chain.deployments[deployments[i].ID] = *deployments[i]
	}
	return nil
}

// DeleteBlockTransactions - removes generic and category rows of block
func (t *Transaction) DeleteBlockTransactions(ctx context.Context, blockID uint64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for id, tx := range t.chain.txs {
		if tx.BlockID != blockID {
			continue
		}
		delete(t.chain.txs, id)
		delete(t.chain.eth, id)
		delete(t.chain.erc20, id)
		delete(t.chain.deployments, id)
	}
	return nil
}

// AddTokens - token placeholders. Existing tokens are kept as is.
func (t *Transaction) AddTokens(ctx context.Context, tokens ...*storage.Token) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	for i := range tokens {
		t.tokens = append(t.tokens, *tokens[i])
	}
	return nil
}

// UpdateState -
func (t *Transaction) UpdateState(ctx context.Context, state *storage.State) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.chain.states[state.Name] = *state
	return nil
}

// Stats - returns sql.ErrNoRows if row is absent
func (t *Transaction) Stats(ctx context.Context, addressID, tokenID uint64) (storage.AddressTokenStats, error) {
	if err := t.check(ctx); err != nil {
		return storage.AddressTokenStats{}, err
	}
	stats, ok := t.chain.stats[storage.StatsKey{AddressID: addressID, TokenID: tokenID}]
	if !ok {
		return stats, sql.ErrNoRows
	}
	return stats, nil
}

// SaveStats -
func (t *Transaction) SaveStats(ctx context.Context, stats *storage.AddressTokenStats) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.chain.stats[stats.Key()] = *stats
	return nil
}

// DeleteStats -
func (t *Transaction) DeleteStats(ctx context.Context, addressID, tokenID uint64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	delete(t.chain.stats, storage.StatsKey{AddressID: addressID, TokenID: tokenID})
	return nil
}

// AppendLedger -
func (t *Transaction) AppendLedger(ctx context.Context, entry *storage.LedgerEntry) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	entry.ID = uint64(len(t.chain.ledger)) + 1
	t.chain.ledger = append(t.chain.ledger, *entry)
	return nil
}

// LedgerByBlock - not retracted entries of block in application order
func (t *Transaction) LedgerByBlock(ctx context.Context, blockID uint64) ([]storage.LedgerEntry, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	result := make([]storage.LedgerEntry, 0)
	for i := range t.chain.ledger {
		if t.chain.ledger[i].BlockID == blockID && !t.chain.ledger[i].Retracted {
			result = append(result, t.chain.ledger[i])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// RetractLedger -
func (t *Transaction) RetractLedger(ctx context.Context, entryID uint64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if entryID == 0 || entryID > uint64(len(t.chain.ledger)) {
		return errors.Wrapf(sql.ErrNoRows, "ledger entry %d", entryID)
	}
	entry := &t.chain.ledger[entryID-1]
	if entry.Retracted {
		return errors.Wrapf(storage.ErrReorgConflict, "ledger entry %d is already retracted", entryID)
	}
	entry.Retracted = true
	return nil
}

// Activity - first/last in/out over not retracted ledger entries of (address, token)
func (t *Transaction) Activity(ctx context.Context, addressID, tokenID uint64) (storage.Activity, error) {
	var activity storage.Activity
	if err := t.check(ctx); err != nil {
		return activity, err
	}
	for _, entry := range t.chain.ledger {
		if entry.Retracted || entry.TokenID != tokenID {
			continue
		}
		if entry.ToID == addressID {
			activity.Events++
			if activity.FirstIn.IsZero() || entry.Timestamp.Before(activity.FirstIn) {
				activity.FirstIn = entry.Timestamp
			}
			if entry.Timestamp.After(activity.LastIn) {
				activity.LastIn = entry.Timestamp
			}
		}
		if entry.FromID == addressID {
			activity.Events++
			if activity.FirstOut.IsZero() || entry.Timestamp.Before(activity.FirstOut) {
				activity.FirstOut = entry.Timestamp
			}
			if entry.Timestamp.After(activity.LastOut) {
				activity.LastOut = entry.Timestamp
			}
		}
	}
	return activity, nil
}

// Flush - publishes all writes of transaction
func (t *Transaction) Flush(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	t.storage.mx.Lock()
	t.storage.chain = t.chain
	for _, token := range t.tokens {
		if _, ok := t.storage.tokens[token.ID]; !ok {
			t.storage.tokens[token.ID] = token
		}
	}
	t.storage.mx.Unlock()

	t.flushed = true
	return nil
}

// Close - discards unflushed writes and releases storage for the next block transaction
func (t *Transaction) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.chain = nil
	t.tokens = nil
	t.storage.txMx.Unlock()
	return nil
}
