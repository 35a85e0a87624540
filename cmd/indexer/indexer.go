package main

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dipdup-io/evm-indexer/internal/pipeline"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/dipdup-net/indexer-sdk/pkg/modules"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// input name
const (
	InputName = "input"
)

// IndexerName -
const IndexerName = "Indexer"

// StateReader -
type StateReader interface {
	State(ctx context.Context, name string) (storage.State, error)
}

// Indexer - consumes blocks and reorg notifications and passes them to the pipeline one by one
type Indexer struct {
	modules.BaseModule

	name       string
	startLevel uint64
	states     StateReader
	pipeline   *pipeline.Pipeline
	receiver   *Receiver
	filler     *Filler

	wg *sync.WaitGroup
}

// NewIndexer -
func NewIndexer(cfg IndexerConfig, states StateReader, p *pipeline.Pipeline, receiver *Receiver, filler *Filler) *Indexer {
	indexer := &Indexer{
		BaseModule: modules.New(IndexerName),
		name:       cfg.Name,
		startLevel: cfg.StartLevel,
		states:     states,
		pipeline:   p,
		receiver:   receiver,
		filler:     filler,
		wg:         new(sync.WaitGroup),
	}
	indexer.CreateInputWithCapacity(InputName, 1024)
	return indexer
}

// Start -
func (indexer *Indexer) Start(ctx context.Context) {
	if err := indexer.init(ctx); err != nil {
		log.Err(err).Msg("state initialization")
		return
	}

	indexer.wg.Add(1)
	go indexer.listen(ctx)

	if indexer.filler != nil {
		indexer.filler.Start(ctx)
	}
	indexer.receiver.Start(ctx)
}

func (indexer *Indexer) init(ctx context.Context) error {
	state, err := indexer.states.State(ctx, indexer.name)
	switch {
	case err == nil:
		log.Info().
			Str("name", state.Name).
			Uint64("height", state.LastHeight).
			Msg("resuming from state")
		indexer.receiver.Init(state.LastHeight, common.BytesToHash(state.LastHash))
	case errors.Is(err, sql.ErrNoRows):
		level := indexer.startLevel
		if level > 0 {
			level--
		}
		log.Info().Uint64("level", indexer.startLevel).Msg("starting from the beginning")
		indexer.receiver.Init(level, common.Hash{})
	default:
		return err
	}
	return nil
}

func (indexer *Indexer) listen(ctx context.Context) {
	defer indexer.wg.Done()

	input, err := indexer.Input(InputName)
	if err != nil {
		log.Err(err).Msg("unknown input")
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("close listen thread")
			return

		case msg, ok := <-input.Listen():
			if !ok {
				return
			}
			indexer.handle(ctx, msg)
		}
	}
}

func (indexer *Indexer) handle(ctx context.Context, msg any) {
	if indexer.pipeline.Halted() {
		return
	}

	switch typ := msg.(type) {
	case *types.Block:
		stage, err := indexer.pipeline.Process(ctx, *typ)
		if err != nil {
			indexer.logError(err).
				Uint64("height", typ.Height).
				Stringer("stage", stage).
				Msg("block processing")
		}
	case *types.Reorg:
		stage, err := indexer.pipeline.Reorg(ctx, *typ)
		if err != nil {
			indexer.logError(err).
				Uint64("height", typ.OldHeight).
				Stringer("stage", stage).
				Msg("reorg processing")
		}
	default:
		log.Info().Msgf("unknown message: %T", typ)
	}
}

func (indexer *Indexer) logError(err error) *zerolog.Event {
	if indexer.pipeline.Halted() {
		return log.Error().Err(err).Bool("halted", true)
	}
	return log.Err(err)
}

// Close - gracefully stops module
func (indexer *Indexer) Close() error {
	indexer.wg.Wait()

	if err := indexer.receiver.Close(); err != nil {
		return err
	}

	if indexer.filler != nil {
		if err := indexer.filler.Close(); err != nil {
			return err
		}
	}

	return nil
}
