package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/caller"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/dipdup-io/workerpool"
	"github.com/dipdup-net/go-lib/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/karlseguin/ccache/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// errors
var (
	ErrViewExecution   = errors.New("view execution")
	ErrInvalidContract = errors.New("identifier is not a contract")
)

// TokenTasks -
type TokenTasks interface {
	GetByStatus(ctx context.Context, status storage.Status, limit, offset, attempts, delay int) ([]storage.Token, error)
}

// TokenRegistry -
type TokenRegistry interface {
	Resolve(ctx context.Context, id uint64) (storage.Identifier, error)
	UpsertToken(ctx context.Context, token *storage.Token) error
	AttachNickname(ctx context.Context, id uint64, label string, labelKind storage.LabelKind) error
}

func newCaller(ctx context.Context, name string, datasources map[string]config.DataSource) (caller.Caller, error) {
	if cfg, ok := datasources[name]; ok {
		return caller.NewNodeRpcCaller(ctx, cfg)
	}
	return nil, errors.Errorf("unknown datasource: %s", name)
}

// Filler - fills token rows with ERC20 metadata received from node
type Filler struct {
	caller       caller.Caller
	tasks        TokenTasks
	registry     TokenRegistry
	pool         *workerpool.Pool[storage.Token]
	cache        *ccache.Cache
	workersCount int
	delay        int
	queue        *types.Queue
	maxAttempts  uint
	wake         chan struct{}
	wg           *sync.WaitGroup
}

// NewFiller -
func NewFiller(cfg FillerConfig, c caller.Caller, tasks TokenTasks, registry TokenRegistry) Filler {
	var (
		workersCount = 10
		maxAttempts  = 5
		delay        = 10
	)

	if cfg.WorkersCount > 0 {
		workersCount = cfg.WorkersCount
	}
	if cfg.MaxAttempts > 0 {
		maxAttempts = cfg.MaxAttempts
	}
	if cfg.Delay > 0 {
		delay = cfg.Delay
	}

	f := Filler{
		caller:       c,
		tasks:        tasks,
		registry:     registry,
		cache:        ccache.New(ccache.Configure().MaxSize(1000)),
		workersCount: workersCount,
		delay:        delay,
		queue:        types.NewQueue(),
		maxAttempts:  uint(maxAttempts),
		wake:         make(chan struct{}, 1),
		wg:           new(sync.WaitGroup),
	}

	f.pool = workerpool.NewPool(f.worker, workersCount)
	return f
}

// Start -
func (f Filler) Start(ctx context.Context) {
	f.pool.Start(ctx)

	f.wg.Add(1)
	go f.work(ctx)
}

// Notify - token placeholder was committed, poll without waiting for the ticker
func (f Filler) Notify(_ context.Context, tokenID uint64) {
	if tokenID == storage.NativeToken {
		return
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f Filler) work(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
			f.poll(ctx)
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f Filler) poll(ctx context.Context) {
	if f.pool.QueueSize() > f.workersCount {
		return
	}
	tasks, err := f.tasks.GetByStatus(ctx, storage.StatusNew, 100, 0, int(f.maxAttempts), f.delay)
	if err != nil {
		log.Err(err).Msg("receiving filler tasks")
		return
	}

	for i := range tasks {
		if f.queue.Contains(tasks[i].ID) {
			continue
		}
		f.queue.Add(tasks[i].ID)
		f.pool.AddTask(tasks[i])
	}
}

// Close -
func (f Filler) Close() error {
	f.wg.Wait()

	if err := f.pool.Close(); err != nil {
		return err
	}

	return nil
}

func (f Filler) worker(ctx context.Context, task storage.Token) {
	defer f.queue.Delete(task.ID)

	task.Attempts += 1

	log.Info().
		Uint64("id", task.ID).
		Uint("attempt", task.Attempts).
		Msg("try to fill token metadata")

	if err := f.fill(ctx, &task); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		taskErr := err.Error()
		task.Error = &taskErr

		switch {
		case errors.Is(err, ErrInvalidContract):
			task.Status = storage.StatusFailed
			task.Attempts = f.maxAttempts
		case task.Attempts >= f.maxAttempts:
			task.Status = storage.StatusFailed
		}

		log.Err(err).Uint64("id", task.ID).Msg("Filler.worker")
	} else {
		task.Attempts = 0
		task.Error = nil
		task.Status = storage.StatusSuccess
	}

	if err := f.registry.UpsertToken(ctx, &task); err != nil {
		log.Err(err).Uint64("id", task.ID).Msg("saving token metadata")
		return
	}

	if task.Status == storage.StatusSuccess && task.Name != "" {
		if err := f.registry.AttachNickname(ctx, task.ID, task.Name, storage.LabelKindContractName); err != nil {
			log.Err(err).Uint64("id", task.ID).Msg("saving contract name")
		}
	}
}

func (f Filler) fill(ctx context.Context, task *storage.Token) error {
	identifier, err := f.registry.Resolve(ctx, task.ID)
	if err != nil {
		return err
	}
	if identifier.Kind != storage.KindContract {
		return errors.Wrapf(ErrInvalidContract, "%d is %s", task.ID, identifier.Kind)
	}
	address := common.BytesToAddress(identifier.Raw())

	cacheKey := fmt.Sprintf("%x:erc20", address.Bytes())
	item, err := f.cache.Fetch(cacheKey, time.Hour, func() (interface{}, error) {
		metadata, err := caller.Erc20Metadata(ctx, f.caller, address)
		if err != nil {
			return nil, handlerFillerError(err)
		}
		return metadata, nil
	})
	if err != nil {
		return err
	}

	metadata := item.Value().(caller.Metadata)
	task.Name = metadata.Name
	task.Symbol = metadata.Symbol
	task.Decimals = int16(metadata.Decimals)
	task.TotalSupply = decimal.NewFromBigInt(metadata.TotalSupply, 0)
	return nil
}

func handlerFillerError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errors.Wrap(ErrViewExecution, err.Error())
	}
}
