package main

import (
	"context"
	"sync"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/dipdup-net/indexer-sdk/pkg/modules"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// output name
const (
	OutputName = "output"
)

// ReceiverName -
const ReceiverName = "Receiver"

// ErrForkTooDeep - fork point is older than the remembered hashes
var ErrForkTooDeep = errors.New("fork is deeper than reorg depth")

// BlockSource -
type BlockSource interface {
	Head(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) (types.Block, error)
}

// Receiver - polls node head and emits blocks in order. Reorgs are detected by parent hash mismatch.
type Receiver struct {
	modules.BaseModule

	node         BlockSource
	pollInterval time.Duration
	depth        int

	level  uint64
	hashes map[uint64]common.Hash
	emit   func(msg any)

	wg *sync.WaitGroup
}

// NewReceiver -
func NewReceiver(node BlockSource, pollInterval time.Duration, depth int) *Receiver {
	if pollInterval <= 0 {
		pollInterval = time.Second * 2
	}
	if depth <= 0 {
		depth = 64
	}
	r := &Receiver{
		BaseModule:   modules.New(ReceiverName),
		node:         node,
		pollInterval: pollInterval,
		depth:        depth,
		hashes:       make(map[uint64]common.Hash),
		wg:           new(sync.WaitGroup),
	}
	r.CreateOutput(OutputName)
	r.emit = r.push
	return r
}

// Init - sets the last processed block. Receiving continues from the next height.
func (r *Receiver) Init(level uint64, hash common.Hash) {
	r.level = level
	if hash != (common.Hash{}) {
		r.hashes[level] = hash
	}
}

// Start -
func (r *Receiver) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.work(ctx)
}

func (r *Receiver) work(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sync(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Err(err).Uint64("level", r.level).Msg("receiving blocks")
			}
		}
	}
}

func (r *Receiver) sync(ctx context.Context) error {
	head, err := r.node.Head(ctx)
	if err != nil {
		return errors.Wrap(err, "head")
	}

	for r.level < head {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		block, err := r.node.Block(ctx, r.level+1)
		if err != nil {
			return err
		}

		if last, ok := r.hashes[r.level]; ok && last != block.ParentHash {
			if err := r.rollback(ctx, block); err != nil {
				return err
			}
			continue
		}

		r.emit(&block)
		r.remember(block.Height, block.Hash)
		r.level = block.Height
	}
	return nil
}

// rollback - walks back to the last height where remembered hash equals node's one and emits reorg for the next height.
func (r *Receiver) rollback(ctx context.Context, next types.Block) error {
	for height := r.level; ; height-- {
		remembered, ok := r.hashes[height]
		if !ok {
			return errors.Wrapf(ErrForkTooDeep, "height %d", height)
		}

		canonical, err := r.node.Block(ctx, height)
		if err != nil {
			return err
		}
		if canonical.Hash == remembered {
			if height == r.level {
				// node switched branch between requests
				return nil
			}
			oldHash := r.hashes[height+1]
			reorg := types.Reorg{
				OldHeight: height + 1,
				OldHash:   oldHash,
				NewHeight: height + 1,
			}
			if height+1 == next.Height {
				reorg.NewHash = next.Hash
			}

			log.Warn().
				Uint64("height", reorg.OldHeight).
				Stringer("old_hash", reorg.OldHash).
				Msg("reorg detected")

			for h := height + 1; h <= r.level; h++ {
				delete(r.hashes, h)
			}
			r.level = height
			r.emit(&reorg)
			return nil
		}
		if height == 0 {
			return errors.Wrap(ErrForkTooDeep, "genesis mismatch")
		}
	}
}

func (r *Receiver) remember(height uint64, hash common.Hash) {
	r.hashes[height] = hash
	if height >= uint64(r.depth) {
		delete(r.hashes, height-uint64(r.depth))
	}
}

func (r *Receiver) push(msg any) {
	output, err := r.Output(OutputName)
	if err != nil {
		log.Err(err).Msg("unknown output")
		return
	}
	output.Push(msg)
}

// Close -
func (r *Receiver) Close() error {
	r.wg.Wait()
	return nil
}
