package caller

import (
	"context"
	"time"

	"github.com/dipdup-net/go-lib/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// NodeRpcCaller -
type NodeRpcCaller struct {
	api     ethereum.ContractCaller
	limiter *rate.Limiter
	timeout time.Duration
}

// NewNodeRpcCaller -
func NewNodeRpcCaller(ctx context.Context, cfg config.DataSource) (*NodeRpcCaller, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial node")
	}
	return newNodeRpcCaller(client, cfg), nil
}

func newNodeRpcCaller(api ethereum.ContractCaller, cfg config.DataSource) *NodeRpcCaller {
	var (
		timeout = time.Second * 10
		limiter = rate.NewLimiter(rate.Inf, 1)
	)

	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond))
	}

	if cfg.Timeout > 0 {
		timeout = time.Second * time.Duration(cfg.Timeout)
	}
	return &NodeRpcCaller{
		api:     api,
		limiter: limiter,
		timeout: timeout,
	}
}

// Call -
func (nrc *NodeRpcCaller) Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	if err := nrc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancelReq := context.WithTimeout(ctx, nrc.timeout)
	defer cancelReq()

	return nrc.api.CallContract(reqCtx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
}
