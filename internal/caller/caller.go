package caller

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Caller - executes read-only contract call against latest state
type Caller interface {
	Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error)
}
