package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dipdup-io/evm-indexer/internal/aggregator"
	"github.com/dipdup-io/evm-indexer/internal/classifier"
	"github.com/dipdup-io/evm-indexer/internal/registry"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Storage - storage of indexed chain. Reads see committed data only.
type Storage interface {
	BeginBlockTransaction(ctx context.Context) (storage.BlockTransaction, error)
	Block(ctx context.Context, id uint64) (storage.Block, error)
	CommittedAt(ctx context.Context, height uint64) (storage.Block, error)
	CommittedAbove(ctx context.Context, height uint64) ([]storage.Block, error)
	State(ctx context.Context, name string) (storage.State, error)
}

// Registry -
type Registry interface {
	Intern(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error)
	IdentifierOf(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error)
}

// TokenHandler - receives identities of ERC20 contracts found in committed block
type TokenHandler func(ctx context.Context, tokenID uint64)

// Pipeline - writes blocks one by one in chain order. Every block is written in one storage transaction.
type Pipeline struct {
	name       string
	storage    Storage
	registry   Registry
	aggregator *aggregator.Aggregator
	metrics    *Metrics
	onToken    TokenHandler

	workers       int
	maxRetries    uint64
	retryInterval time.Duration

	cause *atomic.Pointer[error]
}

// New -
func New(name string, strg Storage, reg Registry, agg *aggregator.Aggregator, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:          name,
		storage:       strg,
		registry:      reg,
		aggregator:    agg,
		workers:       8,
		maxRetries:    5,
		retryInterval: 500 * time.Millisecond,
		cause:         new(atomic.Pointer[error]),
	}
	for i := range opts {
		opts[i](p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Halted - true after storage stayed unavailable for all retries or a reorg conflict was found.
// Ingestion stays halted until restart.
func (p *Pipeline) Halted() bool {
	return p.cause.Load() != nil
}

// Cause - error which halted ingestion. Nil while pipeline is running.
func (p *Pipeline) Cause() error {
	if cause := p.cause.Load(); cause != nil {
		return *cause
	}
	return nil
}

func (p *Pipeline) halt(err error) {
	p.cause.CompareAndSwap(nil, &err)
}

// Process - ingests block. Re-delivered committed block is a no-op.
// A committed block at the same height with another hash is retracted with everything above it first.
func (p *Pipeline) Process(ctx context.Context, block types.Block) (Stage, error) {
	if p.Halted() {
		return StageFetched, errors.Wrap(p.Cause(), "ingestion is halted")
	}

	start := time.Now()
	stage := StageFetched
	err := p.retry(ctx, func() error {
		var err error
		stage, err = p.process(ctx, block)
		return err
	})
	if err != nil {
		return stage, err
	}

	if stage == StageCommitted {
		p.metrics.latency.Observe(time.Since(start).Seconds())
	}
	return stage, nil
}

// Reorg - retracts committed blocks starting from the notification's old height.
// The committed block at that height must carry the notification's old hash.
// A conflicting notification halts ingestion.
func (p *Pipeline) Reorg(ctx context.Context, reorg types.Reorg) (Stage, error) {
	if p.Halted() {
		return StageFetched, errors.Wrap(p.Cause(), "ingestion is halted")
	}

	err := p.retry(ctx, func() error {
		oldID, err := p.registry.IdentifierOf(ctx, reorg.OldHash.Bytes(), storage.KindBlockHash)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return errors.Wrapf(storage.ErrReorgConflict, "unknown block %s at height %d", reorg.OldHash.Hex(), reorg.OldHeight)
			}
			return errors.Wrap(err, "receive block identity")
		}

		committed, err := p.storage.CommittedAt(ctx, reorg.OldHeight)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(storage.ErrReorgConflict, "no committed block at height %d", reorg.OldHeight)
			}
			return errors.Wrap(err, "receive committed block")
		}
		if committed.ID != oldID {
			return errors.Wrapf(storage.ErrReorgConflict, "committed block at height %d is %x, not %s", reorg.OldHeight, committed.Hash, reorg.OldHash.Hex())
		}

		log.Info().
			Uint64("old_height", reorg.OldHeight).
			Str("old_hash", reorg.OldHash.Hex()).
			Uint64("new_height", reorg.NewHeight).
			Str("new_hash", reorg.NewHash.Hex()).
			Msg("reorg")
		return p.retractFrom(ctx, reorg.OldHeight)
	})
	if err != nil {
		return StageFetched, err
	}
	return StageRetracted, nil
}

func (p *Pipeline) process(ctx context.Context, block types.Block) (Stage, error) {
	blockID, err := p.registry.Intern(ctx, block.Hash.Bytes(), storage.KindBlockHash)
	if err != nil {
		return StageFetched, errors.Wrap(err, "intern block hash")
	}

	existing, err := p.storage.Block(ctx, blockID)
	switch {
	case err == nil:
		if existing.IsCommitted() {
			p.metrics.duplicates.Inc()
			log.Debug().Uint64("height", block.Height).Str("hash", block.Hash.Hex()).Msg("block is already committed")
			return StageCommitted, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return StageFetched, errors.Wrap(err, "receive block")
	}

	if _, err := p.storage.CommittedAt(ctx, block.Height); err == nil {
		log.Warn().Uint64("height", block.Height).Str("hash", block.Hash.Hex()).Msg("another block is committed at the same height, retracting")
		if err := p.retractFrom(ctx, block.Height); err != nil {
			return StageFetched, err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return StageFetched, errors.Wrap(err, "receive committed block")
	}

	state, err := p.state(ctx)
	if err != nil {
		return StageFetched, err
	}
	if err := p.checkOrder(state, block); err != nil {
		return StageFetched, err
	}

	prepared, err := p.intern(ctx, block)
	if err != nil {
		return StageInterning, err
	}

	stage, err := p.write(ctx, blockID, block, state, prepared)
	if err != nil {
		return stage, err
	}

	p.metrics.committed.Inc()
	p.metrics.height.Set(float64(block.Height))
	log.Info().
		Uint64("height", block.Height).
		Str("hash", block.Hash.Hex()).
		Int("txs", len(prepared)).
		Msg("block committed")

	if p.onToken != nil {
		for _, tokenID := range tokensOf(prepared) {
			p.onToken(ctx, tokenID)
		}
	}
	return StageCommitted, nil
}

func (p *Pipeline) state(ctx context.Context) (storage.State, error) {
	state, err := p.storage.State(ctx, p.name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.State{Name: p.name}, nil
		}
		return state, errors.Wrap(err, "receive state")
	}
	return state, nil
}

func (p *Pipeline) checkOrder(state storage.State, block types.Block) error {
	if state.ID == 0 && len(state.LastHash) == 0 {
		return nil
	}
	if block.Height != state.LastHeight+1 {
		return errors.Wrapf(storage.ErrInvalidInput, "expected block %d, got %d", state.LastHeight+1, block.Height)
	}
	if len(state.LastHash) > 0 && !bytes.Equal(state.LastHash, block.ParentHash.Bytes()) {
		return errors.Wrapf(storage.ErrInvalidInput, "block %d does not extend %x", block.Height, state.LastHash)
	}
	return nil
}

type prepared struct {
	position uint32
	tx       types.Transaction
	result   classifier.Result

	id       uint64
	fromID   uint64
	toID     uint64
	tokenID  uint64
	targetID uint64
}

// intern - classifies transactions and interns their identifiers in parallel.
// Transactions with invalid input are dropped, the others keep block order.
func (p *Pipeline) intern(ctx context.Context, block types.Block) ([]*prepared, error) {
	result := make([]*prepared, len(block.Transactions))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range block.Transactions {
		g.Go(func() error {
			item, err := p.prepare(gCtx, uint32(i), block.Transactions[i])
			if err != nil {
				if errors.Is(err, storage.ErrInvalidInput) {
					p.metrics.rejected.Inc()
					log.Warn().Err(err).
						Uint64("height", block.Height).
						Int("position", i).
						Str("tx", block.Transactions[i].Hash.Hex()).
						Msg("transaction is skipped")
					return nil
				}
				return err
			}
			result[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := make([]*prepared, 0, len(result))
	seen := make(map[uint64]struct{}, len(result))
	for _, item := range result {
		if item == nil {
			continue
		}
		if _, ok := seen[item.id]; ok {
			p.metrics.rejected.Inc()
			log.Warn().Uint64("height", block.Height).Str("tx", item.tx.Hash.Hex()).Msg("duplicate transaction is skipped")
			continue
		}
		seen[item.id] = struct{}{}
		filtered = append(filtered, item)
	}
	return filtered, nil
}

func (p *Pipeline) prepare(ctx context.Context, position uint32, tx types.Transaction) (*prepared, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	item := &prepared{
		position: position,
		tx:       tx,
		result:   classifier.Classify(tx),
	}

	var err error
	if item.id, err = p.registry.Intern(ctx, tx.Hash.Bytes(), storage.KindTxHash); err != nil {
		return nil, errors.Wrap(err, "intern tx hash")
	}
	if item.fromID, err = p.registry.Intern(ctx, tx.From.Bytes(), storage.KindEOA); err != nil {
		return nil, errors.Wrap(err, "intern sender")
	}

	switch item.result.Category {
	case storage.CategoryContractDeployment:
		item.targetID, err = p.address(ctx, item.result.Deployment.Contract, storage.KindContract)
		item.toID = item.targetID
	case storage.CategoryEthTransfer:
		item.toID, err = p.address(ctx, item.result.EthTransfer.To, storage.KindEOA)
	case storage.CategoryErc20Transfer:
		if item.tokenID, err = p.address(ctx, item.result.Erc20Transfer.Token, storage.KindContract); err != nil {
			break
		}
		item.toID = item.tokenID
		item.targetID, err = p.address(ctx, item.result.Erc20Transfer.Recipient, storage.KindEOA)
	case storage.CategoryGenericCall:
		item.toID, err = p.address(ctx, item.result.GenericCall.To, storage.KindContract)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// address - interns address. The all-zero EOA is the mint/burn counterparty and maps to the sentinel identity.
func (p *Pipeline) address(ctx context.Context, address common.Address, kind storage.IdentifierKind) (uint64, error) {
	if kind == storage.KindEOA && address == (common.Address{}) {
		return storage.ZeroAddress, nil
	}
	id, err := p.registry.Intern(ctx, address.Bytes(), kind)
	if err != nil {
		return 0, errors.Wrapf(err, "intern %s %s", kind, address.Hex())
	}
	return id, nil
}

func (p *Pipeline) write(ctx context.Context, blockID uint64, block types.Block, state storage.State, items []*prepared) (Stage, error) {
	tx, err := p.storage.BeginBlockTransaction(ctx)
	if err != nil {
		return StageWriting, errors.Wrap(err, "begin block transaction")
	}
	defer tx.Close(ctx)

	if err := tx.SaveBlock(ctx, &storage.Block{
		ID:         blockID,
		Height:     block.Height,
		Hash:       block.Hash.Bytes(),
		ParentHash: block.ParentHash.Bytes(),
		Timestamp:  block.Timestamp,
		TxCount:    len(items),
		Status:     storage.BlockStatusCommitted,
	}); err != nil {
		return StageWriting, errors.Wrap(err, "save block")
	}

	var (
		txs         = make([]*storage.Transaction, 0, len(items))
		eth         = make([]*storage.EthTransfer, 0)
		erc20       = make([]*storage.Erc20Transfer, 0)
		deployments = make([]*storage.ContractDeployment, 0)
		tokens      = make([]*storage.Token, 0)
	)
	for _, item := range items {
		record := &storage.Transaction{
			ID:        item.id,
			BlockID:   blockID,
			Height:    block.Height,
			Position:  item.position,
			Category:  item.result.Category,
			Value:     amount(item.tx.Value),
			FromID:    item.fromID,
			ToID:      item.toID,
			GasLimit:  item.tx.GasLimit,
			GasPrice:  amount(item.tx.GasPrice),
			Timestamp: block.Timestamp,
		}

		switch item.result.Category {
		case storage.CategoryContractDeployment:
			deployments = append(deployments, &storage.ContractDeployment{
				ID:         item.id,
				ContractID: item.targetID,
				DeployerID: item.fromID,
				Bytecode:   item.result.Deployment.Bytecode,
			})
		case storage.CategoryEthTransfer:
			eth = append(eth, &storage.EthTransfer{
				ID:     item.id,
				Value:  amount(item.result.EthTransfer.Value),
				FromID: item.fromID,
				ToID:   item.toID,
			})
		case storage.CategoryErc20Transfer:
			erc20 = append(erc20, &storage.Erc20Transfer{
				ID:      item.id,
				TokenID: item.tokenID,
				FromID:  item.fromID,
				ToID:    item.targetID,
				Value:   amount(item.result.Erc20Transfer.Amount),
			})
		case storage.CategoryGenericCall:
			record.MethodID = item.result.GenericCall.Selector
			record.Params = item.result.GenericCall.Params
		}
		txs = append(txs, record)
	}
	for _, tokenID := range tokensOf(items) {
		tokens = append(tokens, &storage.Token{
			ID:     tokenID,
			Status: storage.StatusNew,
		})
	}

	if len(txs) > 0 {
		if err := tx.SaveTransactions(ctx, txs...); err != nil {
			return StageWriting, errors.Wrap(err, "save transactions")
		}
	}
	if len(eth) > 0 {
		if err := tx.SaveEthTransfers(ctx, eth...); err != nil {
			return StageWriting, errors.Wrap(err, "save eth transfers")
		}
	}
	if len(erc20) > 0 {
		if err := tx.SaveErc20Transfers(ctx, erc20...); err != nil {
			return StageWriting, errors.Wrap(err, "save erc20 transfers")
		}
	}
	if len(deployments) > 0 {
		if err := tx.SaveDeployments(ctx, deployments...); err != nil {
			return StageWriting, errors.Wrap(err, "save deployments")
		}
	}
	if len(tokens) > 0 {
		if err := tx.AddTokens(ctx, tokens...); err != nil {
			return StageWriting, errors.Wrap(err, "add tokens")
		}
	}

	for _, item := range items {
		transfer, ok := transferOf(blockID, block, item)
		if !ok {
			continue
		}
		if _, err := p.aggregator.Apply(ctx, tx, transfer); err != nil {
			return StageAggregating, errors.Wrap(err, "apply transfer")
		}
	}

	state.LastHeight = block.Height
	state.LastHash = block.Hash.Bytes()
	state.LastTime = block.Timestamp
	if err := tx.UpdateState(ctx, &state); err != nil {
		return StageAggregating, errors.Wrap(err, "update state")
	}

	if err := tx.Flush(ctx); err != nil {
		return StageAggregating, errors.Wrap(err, "flush")
	}
	return StageCommitted, nil
}

// retractFrom - retracts committed blocks at height and above, highest first.
// Every block is retracted in its own storage transaction.
func (p *Pipeline) retractFrom(ctx context.Context, height uint64) error {
	blocks, err := p.storage.CommittedAbove(ctx, height)
	if err != nil {
		return errors.Wrap(err, "receive blocks to retract")
	}
	for i := range blocks {
		if err := p.retract(ctx, blocks[i]); err != nil {
			return errors.Wrapf(err, "retract block %d", blocks[i].Height)
		}
	}
	return nil
}

func (p *Pipeline) retract(ctx context.Context, block storage.Block) error {
	state, err := p.state(ctx)
	if err != nil {
		return err
	}
	state.LastHeight = block.Height - 1
	state.LastHash = block.ParentHash
	state.LastTime = time.Time{}
	if parent, err := p.storage.CommittedAt(ctx, block.Height-1); err == nil {
		state.LastTime = parent.Timestamp
	} else if !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, "receive parent block")
	}

	tx, err := p.storage.BeginBlockTransaction(ctx)
	if err != nil {
		return errors.Wrap(err, "begin block transaction")
	}
	defer tx.Close(ctx)

	entries, err := tx.LedgerByBlock(ctx, block.ID)
	if err != nil {
		return errors.Wrap(err, "receive ledger")
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if err := p.aggregator.Retract(ctx, tx, entries[i]); err != nil {
			return err
		}
	}
	if err := tx.DeleteBlockTransactions(ctx, block.ID); err != nil {
		return errors.Wrap(err, "delete block transactions")
	}
	if err := tx.RetractBlock(ctx, block.ID); err != nil {
		return errors.Wrap(err, "retract block")
	}
	if err := tx.UpdateState(ctx, &state); err != nil {
		return errors.Wrap(err, "update state")
	}
	if err := tx.Flush(ctx); err != nil {
		return errors.Wrap(err, "flush")
	}

	p.metrics.retracted.Inc()
	log.Info().Uint64("height", block.Height).Hex("hash", block.Hash).Int("transfers", len(entries)).Msg("block retracted")
	return nil
}

// retry - repeats storage operations with exponential backoff. Invalid input, reorg conflicts
// and cancellation are not retried. Reorg conflicts and exhausted retries halt the pipeline.
func (p *Pipeline) retry(ctx context.Context, operation func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryInterval
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(
		func() error {
			err := operation()
			if err == nil {
				return nil
			}
			if isPermanent(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, p.maxRetries), ctx),
		func(err error, next time.Duration) {
			p.metrics.retries.Inc()
			log.Warn().Err(err).Str("next", next.String()).Msg("storage operation failed, retrying")
		},
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrReorgConflict):
		p.halt(err)
		log.Error().Err(err).Msg("reorg conflict, ingestion is halted")
		return err
	case isPermanent(ctx, err):
		return err
	}

	err = errors.Wrap(storage.ErrStorageUnavailable, err.Error())
	p.halt(err)
	log.Error().Err(err).Msg("storage is unavailable, ingestion is halted")
	return err
}

func isPermanent(ctx context.Context, err error) bool {
	return errors.Is(err, storage.ErrInvalidInput) ||
		errors.Is(err, storage.ErrReorgConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}

func validate(tx types.Transaction) error {
	if tx.Hash == (common.Hash{}) {
		return errors.Wrap(storage.ErrInvalidInput, "empty transaction hash")
	}
	if tx.Value != nil && tx.Value.Sign() < 0 {
		return errors.Wrapf(storage.ErrInvalidInput, "negative value: %s", tx.Value)
	}
	if tx.GasPrice != nil && tx.GasPrice.Sign() < 0 {
		return errors.Wrapf(storage.ErrInvalidInput, "negative gas price: %s", tx.GasPrice)
	}
	return nil
}

func transferOf(blockID uint64, block types.Block, item *prepared) (aggregator.Transfer, bool) {
	transfer := aggregator.Transfer{
		BlockID:   blockID,
		Height:    block.Height,
		TxID:      item.id,
		Timestamp: block.Timestamp,
	}
	switch item.result.Category {
	case storage.CategoryEthTransfer:
		transfer.TokenID = storage.NativeToken
		transfer.From = item.fromID
		transfer.To = item.toID
		transfer.Amount = amount(item.result.EthTransfer.Value)
	case storage.CategoryErc20Transfer:
		transfer.TokenID = item.tokenID
		transfer.From = item.fromID
		transfer.To = item.targetID
		transfer.Amount = amount(item.result.Erc20Transfer.Amount)
	default:
		return transfer, false
	}
	return transfer, true
}

func tokensOf(items []*prepared) []uint64 {
	result := make([]uint64, 0)
	seen := make(map[uint64]struct{})
	for _, item := range items {
		if item.result.Category != storage.CategoryErc20Transfer {
			continue
		}
		if _, ok := seen[item.tokenID]; ok {
			continue
		}
		seen[item.tokenID] = struct{}{}
		result = append(result, item.tokenID)
	}
	return result
}

func amount(value *big.Int) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, 0)
}
