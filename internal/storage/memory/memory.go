package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/pkg/errors"
)

type identifierKey struct {
	kind      storage.IdentifierKind
	prefix    int64
	remainder string
}

// chain - tables written only through block transactions
type chain struct {
	blocks      map[uint64]storage.Block
	txs         map[uint64]storage.Transaction
	eth         map[uint64]storage.EthTransfer
	erc20       map[uint64]storage.Erc20Transfer
	deployments map[uint64]storage.ContractDeployment
	stats       map[storage.StatsKey]storage.AddressTokenStats
	ledger      []storage.LedgerEntry
	states      map[string]storage.State
}

func newChain() *chain {
	return &chain{
		blocks:      make(map[uint64]storage.Block),
		txs:         make(map[uint64]storage.Transaction),
		eth:         make(map[uint64]storage.EthTransfer),
		erc20:       make(map[uint64]storage.Erc20Transfer),
		deployments: make(map[uint64]storage.ContractDeployment),
		stats:       make(map[storage.StatsKey]storage.AddressTokenStats),
		states:      make(map[string]storage.State),
	}
}

func (c *chain) clone() *chain {
	cp := &chain{
		blocks:      make(map[uint64]storage.Block, len(c.blocks)),
		txs:         make(map[uint64]storage.Transaction, len(c.txs)),
		eth:         make(map[uint64]storage.EthTransfer, len(c.eth)),
		erc20:       make(map[uint64]storage.Erc20Transfer, len(c.erc20)),
		deployments: make(map[uint64]storage.ContractDeployment, len(c.deployments)),
		stats:       make(map[storage.StatsKey]storage.AddressTokenStats, len(c.stats)),
		ledger:      make([]storage.LedgerEntry, len(c.ledger)),
		states:      make(map[string]storage.State, len(c.states)),
	}
	for k, v := range c.blocks {
		cp.blocks[k] = v
	}
	for k, v := range c.txs {
		cp.txs[k] = v
	}
	for k, v := range c.eth {
		cp.eth[k] = v
	}
	for k, v := range c.erc20 {
		cp.erc20[k] = v
	}
	for k, v := range c.deployments {
		cp.deployments[k] = v
	}
	for k, v := range c.stats {
		cp.stats[k] = v
	}
	copy(cp.ledger, c.ledger)
	for k, v := range c.states {
		cp.states[k] = v
	}
	return cp
}

// Storage - in-process backend with the same visibility rules as the postgres one:
// block transactions are serialized and their writes become visible on Flush only.
type Storage struct {
	mx   *sync.RWMutex
	txMx *sync.Mutex // held by the open block transaction

	identifiers map[uint64]storage.Identifier
	byKey       map[identifierKey]uint64
	nicknames   []storage.Nickname
	tokens      map[uint64]storage.Token
	chain       *chain
}

// New -
func New() *Storage {
	return &Storage{
		mx:          new(sync.RWMutex),
		txMx:        new(sync.Mutex),
		identifiers: make(map[uint64]storage.Identifier),
		byKey:       make(map[identifierKey]uint64),
		tokens:      make(map[uint64]storage.Token),
		chain:       newChain(),
	}
}

// GetByID - returns identifier by identity
func (s *Storage) GetByID(ctx context.Context, id uint64) (*storage.Identifier, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	identifier, ok := s.identifiers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &identifier, nil
}

// ByPrefix -
func (s *Storage) ByPrefix(ctx context.Context, kind storage.IdentifierKind, prefix int64) ([]storage.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.Identifier, 0)
	for _, identifier := range s.identifiers {
		if identifier.Kind == kind && identifier.Prefix == prefix {
			result = append(result, identifier)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Insert - inserts identifier unless the same (kind, raw) exists. Returns false on conflict.
func (s *Storage) Insert(ctx context.Context, identifier *storage.Identifier) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mx.Lock()
	defer s.mx.Unlock()

	key := identifierKey{identifier.Kind, identifier.Prefix, string(identifier.Remainder)}
	if _, ok := s.byKey[key]; ok {
		return false, nil
	}
	// zero is reserved for the sentinels
	identifier.ID = uint64(len(s.identifiers)) + 1
	s.identifiers[identifier.ID] = *identifier
	s.byKey[key] = identifier.ID
	return true, nil
}

// Save - appends nickname
func (s *Storage) Save(ctx context.Context, nickname *storage.Nickname) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if _, ok := s.identifiers[nickname.IdentifierID]; !ok {
		return errors.Wrapf(storage.ErrInvalidInput, "unknown identifier: %d", nickname.IdentifierID)
	}
	nickname.ID = uint64(len(s.nicknames)) + 1
	s.nicknames = append(s.nicknames, *nickname)
	return nil
}

// ByIdentifier - nicknames of identifier
func (s *Storage) ByIdentifier(ctx context.Context, identifierID uint64) ([]storage.Nickname, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.Nickname, 0)
	for i := range s.nicknames {
		if s.nicknames[i].IdentifierID == identifierID {
			result = append(result, s.nicknames[i])
		}
	}
	return result, nil
}

// Upsert - creates or overwrites token
func (s *Storage) Upsert(ctx context.Context, token *storage.Token) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.tokens[token.ID] = *token
	return nil
}

// Token -
func (s *Storage) Token(ctx context.Context, id uint64) (storage.Token, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return token, sql.ErrNoRows
	}
	return token, nil
}

// GetByStatus - tokens with status ordered by attempts. Delay is ignored: there is no clock skew to wait for.
func (s *Storage) GetByStatus(ctx context.Context, status storage.Status, limit, offset, attempts, delay int) ([]storage.Token, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.Token, 0)
	for _, token := range s.tokens {
		if token.Status != status {
			continue
		}
		if attempts > 0 && int(token.Attempts) >= attempts {
			continue
		}
		result = append(result, token)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Attempts == result[j].Attempts {
			return result[i].ID < result[j].ID
		}
		return result[i].Attempts < result[j].Attempts
	})
	if offset > len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Block - block by identity
func (s *Storage) Block(ctx context.Context, id uint64) (storage.Block, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	block, ok := s.chain.blocks[id]
	if !ok {
		return block, sql.ErrNoRows
	}
	return block, nil
}

// CommittedAt - committed block at height
func (s *Storage) CommittedAt(ctx context.Context, height uint64) (storage.Block, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	for _, block := range s.chain.blocks {
		if block.Height == height && block.IsCommitted() {
			return block, nil
		}
	}
	return storage.Block{}, sql.ErrNoRows
}

// CommittedAbove - committed blocks with height not less than the given one, highest first
func (s *Storage) CommittedAbove(ctx context.Context, height uint64) ([]storage.Block, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.Block, 0)
	for _, block := range s.chain.blocks {
		if block.Height >= height && block.IsCommitted() {
			result = append(result, block)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Height > result[j].Height })
	return result, nil
}

// Transactions - generic records of block ordered by position
func (s *Storage) Transactions(ctx context.Context, blockID uint64) ([]storage.Transaction, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.Transaction, 0)
	for _, tx := range s.chain.txs {
		if tx.BlockID == blockID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

// Erc20Transfer -
func (s *Storage) Erc20Transfer(ctx context.Context, txID uint64) (storage.Erc20Transfer, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	transfer, ok := s.chain.erc20[txID]
	if !ok {
		return transfer, sql.ErrNoRows
	}
	return transfer, nil
}

// EthTransfer -
func (s *Storage) EthTransfer(ctx context.Context, txID uint64) (storage.EthTransfer, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	transfer, ok := s.chain.eth[txID]
	if !ok {
		return transfer, sql.ErrNoRows
	}
	return transfer, nil
}

// Deployment -
func (s *Storage) Deployment(ctx context.Context, txID uint64) (storage.ContractDeployment, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	deployment, ok := s.chain.deployments[txID]
	if !ok {
		return deployment, sql.ErrNoRows
	}
	return deployment, nil
}

// Get - stats of (address, token)
func (s *Storage) Get(ctx context.Context, addressID, tokenID uint64) (storage.AddressTokenStats, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	stats, ok := s.chain.stats[storage.StatsKey{AddressID: addressID, TokenID: tokenID}]
	if !ok {
		return stats, sql.ErrNoRows
	}
	return stats, nil
}

// ByAddress - stats of address in all tokens
func (s *Storage) ByAddress(ctx context.Context, addressID uint64) ([]storage.AddressTokenStats, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.AddressTokenStats, 0)
	for key, stats := range s.chain.stats {
		if key.AddressID == addressID {
			result = append(result, stats)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TokenID < result[j].TokenID })
	return result, nil
}

// Ledger - copy of the whole transfer ledger
func (s *Storage) Ledger(ctx context.Context) ([]storage.LedgerEntry, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	result := make([]storage.LedgerEntry, len(s.chain.ledger))
	copy(result, s.chain.ledger)
	return result, nil
}

// State - state by indexer name
func (s *Storage) State(ctx context.Context, name string) (storage.State, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	state, ok := s.chain.states[name]
	if !ok {
		return state, sql.ErrNoRows
	}
	return state, nil
}

// BeginBlockTransaction - opens block transaction. Blocks until previous one is closed.
func (s *Storage) BeginBlockTransaction(ctx context.Context) (storage.BlockTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMx.Lock()

	s.mx.RLock()
	snapshot := s.chain.clone()
	s.mx.RUnlock()

	return &Transaction{
		storage: s,
		chain:   snapshot,
	}, nil
}
