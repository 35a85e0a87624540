package main

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/aggregator"
	"github.com/dipdup-io/evm-indexer/internal/classifier"
	"github.com/dipdup-io/evm-indexer/internal/pipeline"
	"github.com/dipdup-io/evm-indexer/internal/registry"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/storage/memory"
	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type indexerEnv struct {
	db       *memory.Storage
	registry *registry.Registry
	agg      *aggregator.Aggregator
	chain    *fakeChain
	recorder *recorder
	indexer  *Indexer
}

func newIndexerEnv(t *testing.T, db *memory.Storage, chain *fakeChain, startLevel uint64) *indexerEnv {
	env := &indexerEnv{
		db:    db,
		chain: chain,
	}
	env.registry = registry.New(db, db, db)
	env.agg = aggregator.New(db)

	p := pipeline.New("test", db, env.registry, env.agg, pipeline.WithRetryInterval(time.Millisecond))
	receiver, rec := newTestReceiver(chain, 10)
	env.recorder = rec
	env.indexer = NewIndexer(IndexerConfig{Name: "test", StartLevel: startLevel}, db, p, receiver, nil)
	require.NoError(t, env.indexer.init(context.Background()))
	return env
}

// deliver - passes everything the receiver has emitted to the indexer
func (env *indexerEnv) deliver(t *testing.T) {
	require.NoError(t, env.indexer.receiver.sync(context.Background()))
	for _, msg := range env.recorder.messages {
		env.indexer.handle(context.Background(), msg)
	}
	env.recorder.messages = nil
}

func withTransfer(chain *fakeChain, height uint64, from, to common.Address, value int64) {
	block := chain.blocks[height]
	block.Timestamp = time.Unix(int64(height)*12, 0).UTC()
	block.Transactions = []types.Transaction{{
		Hash:     common.BigToHash(new(big.Int).SetUint64(height*1000 + uint64(len(block.Transactions)))),
		From:     from,
		To:       &to,
		Value:    big.NewInt(value),
		GasLimit: 21000,
		GasPrice: big.NewInt(1),
	}}
	chain.blocks[height] = block
}

func TestIndexerCommitsReceivedBlocks(t *testing.T) {
	chain := newFakeChain(0xa, 1, 3, common.Hash{})
	withTransfer(chain, 2, alice, bob, 10)

	env := newIndexerEnv(t, memory.New(), chain, 1)
	env.deliver(t)

	state, err := env.db.State(context.Background(), "test")
	require.NoError(t, err)
	require.EqualValues(t, 3, state.LastHeight)
	require.Equal(t, chain.blocks[3].Hash.Bytes(), state.LastHash)

	response, err := statsOf(context.Background(), env.registry, env.agg, bob.Hex(), nativeToken)
	require.NoError(t, err)
	require.Equal(t, "10", response.Balance)
	require.NotNil(t, response.FirstIn)
	require.Nil(t, response.FirstOut)
	require.EqualValues(t, 2, response.UpdatedHeight)
}

func TestIndexerResumesFromState(t *testing.T) {
	chain := newFakeChain(0xa, 1, 3, common.Hash{})
	db := memory.New()

	env := newIndexerEnv(t, db, chain, 1)
	env.deliver(t)

	chain.extend(0xa, 4, 5, chain.blocks[3].Hash)
	restarted := newIndexerEnv(t, db, chain, 1)
	require.EqualValues(t, 3, restarted.indexer.receiver.level)

	restarted.deliver(t)
	state, err := db.State(context.Background(), "test")
	require.NoError(t, err)
	require.EqualValues(t, 5, state.LastHeight)
}

func TestIndexerHandlesReorg(t *testing.T) {
	chain := newFakeChain(0xa, 1, 4, common.Hash{})
	withTransfer(chain, 4, alice, bob, 10)

	env := newIndexerEnv(t, memory.New(), chain, 1)
	env.deliver(t)

	old4 := chain.blocks[4].Hash
	chain.extend(0xb, 4, 5, chain.blocks[3].Hash)
	withTransfer(chain, 5, alice, bob, 7)
	env.deliver(t)

	block, err := env.db.CommittedAt(context.Background(), 4)
	require.NoError(t, err)
	require.False(t, bytes.Equal(old4.Bytes(), block.Hash))

	response, err := statsOf(context.Background(), env.registry, env.agg, bob.Hex(), nativeToken)
	require.NoError(t, err)
	require.Equal(t, "7", response.Balance)
	require.EqualValues(t, 5, response.UpdatedHeight)
}

func TestIndexerStopsOnReorgConflict(t *testing.T) {
	chain := newFakeChain(0xa, 1, 3, common.Hash{})
	env := newIndexerEnv(t, memory.New(), chain, 1)
	env.deliver(t)

	env.indexer.handle(context.Background(), &types.Reorg{
		OldHeight: 3,
		OldHash:   common.HexToHash("0xdead"),
		NewHeight: 3,
		NewHash:   chain.blocks[3].Hash,
	})
	require.True(t, env.indexer.pipeline.Halted())
	require.ErrorIs(t, env.indexer.pipeline.Cause(), storage.ErrReorgConflict)

	chain.extend(0xa, 4, 5, chain.blocks[3].Hash)
	env.deliver(t)

	state, err := env.db.State(context.Background(), "test")
	require.NoError(t, err)
	require.EqualValues(t, 3, state.LastHeight)
	_, err = env.db.CommittedAt(context.Background(), 4)
	require.Error(t, err)
}

func TestQueryAllStats(t *testing.T) {
	token := common.HexToAddress("0x7777777777777777777777777777777777777777")
	chain := newFakeChain(0xa, 1, 3, common.Hash{})
	withTransfer(chain, 2, alice, bob, 10)

	data := classifier.TransferSelector()
	data = append(data, common.LeftPadBytes(bob.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(7).Bytes(), 32)...)
	b3 := chain.blocks[3]
	b3.Timestamp = time.Unix(36, 0).UTC()
	b3.Transactions = append(b3.Transactions, types.Transaction{
		Hash:     common.HexToHash("0x3003"),
		From:     alice,
		To:       &token,
		Value:    big.NewInt(0),
		GasLimit: 60000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	chain.blocks[3] = b3

	env := newIndexerEnv(t, memory.New(), chain, 1)
	env.deliver(t)

	response, err := allStatsOf(context.Background(), env.registry, env.db, bob.Hex())
	require.NoError(t, err)
	require.Len(t, response, 2)

	require.Equal(t, nativeToken, response[0].Token)
	require.EqualValues(t, storage.NativeToken, response[0].TokenID)
	require.Equal(t, "10", response[0].Balance)

	require.Equal(t, token.Hex(), response[1].Token)
	require.Equal(t, "7", response[1].Balance)
	require.EqualValues(t, 3, response[1].UpdatedHeight)
	for i := range response {
		require.Equal(t, bob.Hex(), response[i].Address)
		require.Equal(t, response[0].AddressID, response[i].AddressID)
	}

	_, err = allStatsOf(context.Background(), env.registry, env.db, "0x1234")
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestQueryIdentifier(t *testing.T) {
	db := memory.New()
	reg := registry.New(db, db, db)

	id, err := reg.Intern(context.Background(), alice.Bytes(), storage.KindEOA)
	require.NoError(t, err)

	response, err := identifierOf(context.Background(), reg, alice.Hex(), storage.KindEOA)
	require.NoError(t, err)
	require.Equal(t, id, response.ID)

	resolved, err := resolve(context.Background(), reg, id)
	require.NoError(t, err)
	require.Equal(t, response, resolved)

	_, err = identifierOf(context.Background(), reg, bob.Hex(), storage.KindEOA)
	require.ErrorIs(t, err, registry.ErrNotFound)

	_, err = identifierOf(context.Background(), reg, "0xzz", storage.KindEOA)
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, response))

	var decoded IdentifierResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, response, decoded)
}

func TestQueryStatsUnknownAddress(t *testing.T) {
	db := memory.New()
	reg := registry.New(db, db, db)

	_, err := statsOf(context.Background(), reg, aggregator.New(db), bob.Hex(), nativeToken)
	require.ErrorIs(t, err, registry.ErrNotFound)

	_, err = statsOf(context.Background(), reg, aggregator.New(db), "bob", nativeToken)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}
