package caller

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const erc20ViewsABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var erc20Views abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ViewsABI))
	if err != nil {
		panic(err)
	}
	erc20Views = parsed
}

// Metadata - values of ERC20 view functions
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// Erc20Metadata - calls `name()`, `symbol()`, `decimals()` and `totalSupply()` of contract.
// Failure of `decimals()` or `totalSupply()` fails the whole call, name and symbol are optional.
func Erc20Metadata(ctx context.Context, c Caller, contract common.Address) (Metadata, error) {
	var metadata Metadata

	decimals, err := call(ctx, c, contract, "decimals")
	if err != nil {
		return metadata, err
	}
	value, ok := decimals.(uint8)
	if !ok {
		return metadata, errors.Errorf("unexpected decimals type: %T", decimals)
	}
	metadata.Decimals = value

	supply, err := call(ctx, c, contract, "totalSupply")
	if err != nil {
		return metadata, err
	}
	totalSupply, ok := supply.(*big.Int)
	if !ok {
		return metadata, errors.Errorf("unexpected totalSupply type: %T", supply)
	}
	metadata.TotalSupply = totalSupply

	if metadata.Name, err = text(ctx, c, contract, "name"); err != nil {
		return metadata, err
	}
	if metadata.Symbol, err = text(ctx, c, contract, "symbol"); err != nil {
		return metadata, err
	}
	return metadata, nil
}

func call(ctx context.Context, c Caller, contract common.Address, method string) (any, error) {
	data, err := callRaw(ctx, c, contract, method)
	if err != nil {
		return nil, err
	}
	values, err := erc20Views.Unpack(method, data)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(values) != 1 {
		return nil, errors.Errorf("unexpected %s output length: %d", method, len(values))
	}
	return values[0], nil
}

func callRaw(ctx context.Context, c Caller, contract common.Address, method string) ([]byte, error) {
	input, err := erc20Views.Pack(method)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	data, err := c.Call(ctx, contract, input)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	return data, nil
}

// text - string view. Legacy tokens return bytes32 instead of string.
// Contract without the view gives empty string.
func text(ctx context.Context, c Caller, contract common.Address, method string) (string, error) {
	data, err := callRaw(ctx, c, contract, method)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", nil
	}

	if len(data) == 32 {
		value := string(bytes.TrimRight(data, "\x00"))
		if utf8.ValidString(value) {
			return value, nil
		}
		return "", nil
	}

	values, err := erc20Views.Unpack(method, data)
	if err != nil || len(values) != 1 {
		return "", nil
	}
	value, _ := values[0].(string)
	if !utf8.ValidString(value) {
		return "", nil
	}
	return strings.ReplaceAll(value, "\x00", ""), nil
}
