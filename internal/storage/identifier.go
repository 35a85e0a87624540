package storage

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/uptrace/bun"
)

// PrefixSize - count of leading raw bytes stored in the indexed prefix column
const PrefixSize = 8

// IIdentifier -
type IIdentifier interface {
	storage.Table[*Identifier]

	ByPrefix(ctx context.Context, kind IdentifierKind, prefix int64) ([]Identifier, error)
	Insert(ctx context.Context, identifier *Identifier) (bool, error)
}

// Identifier - interned address or hash
type Identifier struct {
	bun.BaseModel `bun:"table:identifier" comment:"Table with interned addresses and hashes"`

	ID        uint64         `bun:"id,pk,autoincrement" comment:"Unique internal identity"`
	Kind      IdentifierKind `bun:",type:identifier_kind,notnull" comment:"Kind of raw value"`
	Prefix    int64          `bun:",notnull" comment:"First 8 bytes of raw value (big-endian)"`
	Remainder []byte         `bun:",notnull" comment:"Raw value bytes after the prefix"`
	CreatedAt time.Time      `bun:",nullzero,notnull,default:current_timestamp" comment:"Time when row was created"`
}

// TableName -
func (Identifier) TableName() string {
	return "identifier"
}

// Raw - joins prefix and remainder back into the raw value
func (i Identifier) Raw() []byte {
	return JoinRaw(i.Prefix, i.Remainder)
}

// SplitRaw - splits raw value into indexed prefix and remainder. Raw must be at least PrefixSize long.
func SplitRaw(raw []byte) (int64, []byte) {
	prefix := int64(binary.BigEndian.Uint64(raw[:PrefixSize]))
	remainder := make([]byte, len(raw)-PrefixSize)
	copy(remainder, raw[PrefixSize:])
	return prefix, remainder
}

// JoinRaw -
func JoinRaw(prefix int64, remainder []byte) []byte {
	raw := make([]byte, PrefixSize+len(remainder))
	binary.BigEndian.PutUint64(raw[:PrefixSize], uint64(prefix))
	copy(raw[PrefixSize:], remainder)
	return raw
}
