package storage

import (
	"context"
	"time"

	"github.com/dipdup-net/indexer-sdk/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// IToken -
type IToken interface {
	storage.Table[*Token]

	Upsert(ctx context.Context, token *Token) error
	GetByStatus(ctx context.Context, status Status, limit, offset, attempts, delay int) ([]Token, error)
}

// Token - ERC20 metadata attached to contract identifier
type Token struct {
	bun.BaseModel `bun:"table:token" comment:"Table contains ERC20 token metadata"`

	ID          uint64          `bun:"id,pk,notnull" comment:"Identity of token contract (identifier id)"`
	CreatedAt   int64           `comment:"Time when row was created"`
	UpdatedAt   int64           `comment:"Time when row was last updated"`
	Name        string          `comment:"Token name"`
	Symbol      string          `comment:"Token symbol"`
	Decimals    int16           `comment:"Count of decimals"`
	TotalSupply decimal.Decimal `bun:",type:numeric" comment:"Total supply in base units"`
	Status      Status          `bun:",type:status" comment:"Status of resolving metadata"`
	Attempts    uint            `bun:",type:smallint" comment:"Attempts count of receiving metadata"`
	Error       *string         `comment:"If metadata is failed this field contains error string"`
}

// TableName -
func (Token) TableName() string {
	return "token"
}

var _ bun.BeforeAppendModelHook = (*Token)(nil)

// BeforeAppendModel -
func (t *Token) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery:
		t.UpdatedAt = time.Now().Unix()
		t.CreatedAt = t.UpdatedAt
	case *bun.UpdateQuery:
		t.UpdatedAt = time.Now().Unix()
	}
	return nil
}
