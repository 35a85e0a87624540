package registry

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/karlseguin/ccache/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotFound - raw value was never interned
var ErrNotFound = errors.New("identifier is not found")

// IdentifierStore -
type IdentifierStore interface {
	GetByID(ctx context.Context, id uint64) (*storage.Identifier, error)
	ByPrefix(ctx context.Context, kind storage.IdentifierKind, prefix int64) ([]storage.Identifier, error)
	Insert(ctx context.Context, identifier *storage.Identifier) (bool, error)
}

// NicknameStore -
type NicknameStore interface {
	Save(ctx context.Context, nickname *storage.Nickname) error
}

// TokenStore -
type TokenStore interface {
	Upsert(ctx context.Context, token *storage.Token) error
}

// Registry - maps raw addresses and hashes to dense surrogate identities.
// Concurrent Intern calls for the same value are resolved by the storage unique constraint:
// the loser of an insert race re-reads the winner's row.
type Registry struct {
	identifiers IdentifierStore
	nicknames   NicknameStore
	tokens      TokenStore
	cache       *ccache.Cache
	ttl         time.Duration
}

// New -
func New(identifiers IdentifierStore, nicknames NicknameStore, tokens TokenStore, opts ...Option) *Registry {
	r := &Registry{
		identifiers: identifiers,
		nicknames:   nicknames,
		tokens:      tokens,
		ttl:         time.Hour,
	}
	cacheSize := int64(100_000)
	for i := range opts {
		opts[i](r, &cacheSize)
	}
	r.cache = ccache.New(ccache.Configure().MaxSize(cacheSize))
	return r
}

// Option -
type Option func(r *Registry, cacheSize *int64)

// WithCacheSize -
func WithCacheSize(size int64) Option {
	return func(_ *Registry, cacheSize *int64) {
		if size > 0 {
			*cacheSize = size
		}
	}
}

// WithCacheTTL -
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry, _ *int64) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// Intern - returns identity of (raw, kind) creating it if needed
func (r *Registry) Intern(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error) {
	if err := validate(raw, kind); err != nil {
		return 0, err
	}

	item, err := r.cache.Fetch(cacheKey(raw, kind), r.ttl, func() (interface{}, error) {
		return r.intern(ctx, raw, kind)
	})
	if err != nil {
		return 0, err
	}
	return item.Value().(uint64), nil
}

func (r *Registry) intern(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error) {
	prefix, remainder := storage.SplitRaw(raw)

	id, err := r.find(ctx, kind, prefix, remainder)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}

	identifier := storage.Identifier{
		Kind:      kind,
		Prefix:    prefix,
		Remainder: remainder,
	}
	inserted, err := r.identifiers.Insert(ctx, &identifier)
	if err != nil {
		return 0, errors.Wrap(err, "insert identifier")
	}
	if inserted {
		return identifier.ID, nil
	}

	// somebody else inserted the same value between our read and insert
	id, err = r.find(ctx, kind, prefix, remainder)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, errors.Wrapf(storage.ErrStorageConflict, "identifier %x (%s) vanished after insert conflict", raw, kind)
		}
		return 0, err
	}
	log.Debug().Hex("raw", raw).Str("kind", string(kind)).Uint64("id", id).Msg("lost interning race")
	return id, nil
}

func (r *Registry) find(ctx context.Context, kind storage.IdentifierKind, prefix int64, remainder []byte) (uint64, error) {
	candidates, err := r.identifiers.ByPrefix(ctx, kind, prefix)
	if err != nil {
		return 0, errors.Wrap(err, "identifiers by prefix")
	}
	for i := range candidates {
		if bytes.Equal(candidates[i].Remainder, remainder) {
			return candidates[i].ID, nil
		}
	}
	return 0, ErrNotFound
}

// IdentifierOf - reverse lookup which never creates identifiers
func (r *Registry) IdentifierOf(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error) {
	if err := validate(raw, kind); err != nil {
		return 0, err
	}
	key := cacheKey(raw, kind)
	if item := r.cache.Get(key); item != nil && !item.Expired() {
		return item.Value().(uint64), nil
	}

	prefix, remainder := storage.SplitRaw(raw)
	id, err := r.find(ctx, kind, prefix, remainder)
	if err != nil {
		return 0, err
	}
	r.cache.Set(key, id, r.ttl)
	return id, nil
}

// Resolve - returns stored identifier by identity
func (r *Registry) Resolve(ctx context.Context, id uint64) (storage.Identifier, error) {
	identifier, err := r.identifiers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Identifier{}, errors.Wrapf(ErrNotFound, "id=%d", id)
		}
		return storage.Identifier{}, err
	}
	return *identifier, nil
}

// AttachNickname - labels are append-only, duplicates are allowed
func (r *Registry) AttachNickname(ctx context.Context, id uint64, label string, labelKind storage.LabelKind) error {
	if label == "" {
		return errors.Wrap(storage.ErrInvalidInput, "empty label")
	}
	return r.nicknames.Save(ctx, &storage.Nickname{
		IdentifierID: id,
		Label:        label,
		LabelKind:    labelKind,
	})
}

// UpsertToken - creates or overwrites token metadata keyed by contract identity
func (r *Registry) UpsertToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.ID == 0 {
		return errors.Wrap(storage.ErrInvalidInput, "token without contract identity")
	}
	return r.tokens.Upsert(ctx, token)
}

func validate(raw []byte, kind storage.IdentifierKind) error {
	width := kind.Width()
	if width == 0 {
		return errors.Wrapf(storage.ErrInvalidInput, "unknown identifier kind: %s", kind)
	}
	if len(raw) != width {
		return errors.Wrapf(storage.ErrInvalidInput, "%s must be %d bytes, got %d", kind, width, len(raw))
	}
	return nil
}

func cacheKey(raw []byte, kind storage.IdentifierKind) string {
	return fmt.Sprintf("%s:%x", kind, raw)
}
