package storage

import (
	"context"

	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/uptrace/bun"
)

// INickname -
type INickname interface {
	storage.Table[*Nickname]

	ByIdentifier(ctx context.Context, identifierID uint64) ([]Nickname, error)
}

// Nickname - human readable label of identifier
type Nickname struct {
	bun.BaseModel `bun:"table:nickname" comment:"Table with human readable labels of identifiers"`

	ID           uint64    `bun:"id,pk,autoincrement" comment:"Unique internal identity"`
	IdentifierID uint64    `bun:",notnull" comment:"Labeled identifier"`
	Label        string    `bun:",notnull" comment:"Label text"`
	LabelKind    LabelKind `bun:",type:label_kind,notnull" comment:"Source of label"`
}

// TableName -
func (Nickname) TableName() string {
	return "nickname"
}
