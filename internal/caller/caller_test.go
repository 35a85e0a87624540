package caller

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/dipdup-net/go-lib/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	responses map[string][]byte
	calls     int
}

func newFakeCaller(t *testing.T, outputs map[string]any) *fakeCaller {
	fc := &fakeCaller{responses: make(map[string][]byte)}
	for method, value := range outputs {
		switch typed := value.(type) {
		case []byte:
			fc.responses[method] = typed
		default:
			packed, err := erc20Views.Methods[method].Outputs.Pack(value)
			require.NoError(t, err)
			fc.responses[method] = packed
		}
	}
	return fc
}

func (fc *fakeCaller) Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	fc.calls++
	method, err := erc20Views.MethodById(data)
	if err != nil {
		return nil, err
	}
	response, ok := fc.responses[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return response, nil
}

var token = common.HexToAddress("0x7777777777777777777777777777777777777777")

func TestErc20Metadata(t *testing.T) {
	fc := newFakeCaller(t, map[string]any{
		"name":        "Test Token",
		"symbol":      "TST",
		"decimals":    uint8(18),
		"totalSupply": big.NewInt(1_000_000),
	})

	metadata, err := Erc20Metadata(context.Background(), fc, token)
	require.NoError(t, err)
	require.Equal(t, "Test Token", metadata.Name)
	require.Equal(t, "TST", metadata.Symbol)
	require.EqualValues(t, 18, metadata.Decimals)
	require.Equal(t, 0, metadata.TotalSupply.Cmp(big.NewInt(1_000_000)))
	require.Equal(t, 4, fc.calls)
}

func TestErc20MetadataBytes32Symbol(t *testing.T) {
	symbol := make([]byte, 32)
	copy(symbol, "MKR")

	fc := newFakeCaller(t, map[string]any{
		"symbol":      symbol,
		"decimals":    uint8(18),
		"totalSupply": big.NewInt(1),
	})

	metadata, err := Erc20Metadata(context.Background(), fc, token)
	require.NoError(t, err)
	require.Equal(t, "MKR", metadata.Symbol)
	require.Empty(t, metadata.Name)
}

func TestErc20MetadataWithoutDecimals(t *testing.T) {
	fc := newFakeCaller(t, map[string]any{
		"name":        "Test Token",
		"totalSupply": big.NewInt(1),
	})

	_, err := Erc20Metadata(context.Background(), fc, token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decimals")
}

func TestErc20MetadataMalformedSupply(t *testing.T) {
	fc := newFakeCaller(t, map[string]any{
		"decimals":    uint8(6),
		"totalSupply": []byte{0x01},
	})

	_, err := Erc20Metadata(context.Background(), fc, token)
	require.Error(t, err)
}

type contractCaller struct {
	msg ethereum.CallMsg
}

func (cc *contractCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	cc.msg = msg
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("call without timeout")
	}
	return []byte{0x01}, nil
}

func TestNodeRpcCaller(t *testing.T) {
	api := new(contractCaller)
	nrc := newNodeRpcCaller(api, config.DataSource{Timeout: 1})
	require.Equal(t, time.Second, nrc.timeout)

	response, err := nrc.Call(context.Background(), token, []byte{0x06, 0xfd, 0xde, 0x03})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, response)
	require.Equal(t, token, *api.msg.To)
	require.Equal(t, []byte{0x06, 0xfd, 0xde, 0x03}, api.msg.Data)
}

func TestNodeRpcCallerCancelled(t *testing.T) {
	nrc := newNodeRpcCaller(new(contractCaller), config.DataSource{RequestsPerSecond: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := nrc.Call(ctx, token, nil)
	require.ErrorIs(t, err, context.Canceled)
}
