package node

import (
	"context"
	"math/big"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/dipdup-net/go-lib/config"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// API - subset of ethclient used by the indexer
type API interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client - chain node adapter producing blocks in indexer's format
type Client struct {
	api     API
	signer  ethtypes.Signer
	limiter *rate.Limiter
	timeout time.Duration
}

// New - dials node from data source config
func New(ctx context.Context, cfg config.DataSource) (*Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial node")
	}
	return NewWithAPI(ctx, client, cfg)
}

// NewWithAPI -
func NewWithAPI(ctx context.Context, api API, cfg config.DataSource) (*Client, error) {
	var (
		timeout = time.Second * 30
		limiter = rate.NewLimiter(rate.Inf, 1)
	)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond))
	}
	if cfg.Timeout > 0 {
		timeout = time.Second * time.Duration(cfg.Timeout)
	}

	c := &Client{
		api:     api,
		limiter: limiter,
		timeout: timeout,
	}

	var chainID *big.Int
	if err := c.do(ctx, func(ctx context.Context) (err error) {
		chainID, err = api.ChainID(ctx)
		return
	}); err != nil {
		return nil, errors.Wrap(err, "chain id")
	}
	c.signer = ethtypes.LatestSignerForChainID(chainID)
	return c, nil
}

// Head - height of the latest block known by node
func (c *Client) Head(ctx context.Context) (head uint64, err error) {
	err = c.do(ctx, func(ctx context.Context) (err error) {
		head, err = c.api.BlockNumber(ctx)
		return
	})
	return
}

// Block - receives block with transactions. Deployments are completed with receipt address and deployed code.
func (c *Client) Block(ctx context.Context, height uint64) (types.Block, error) {
	var raw *ethtypes.Block
	if err := c.do(ctx, func(ctx context.Context) (err error) {
		raw, err = c.api.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		return
	}); err != nil {
		return types.Block{}, errors.Wrapf(err, "block %d", height)
	}

	block, err := Convert(c.signer, raw)
	if err != nil {
		return block, err
	}

	for i := range block.Transactions {
		if !block.Transactions[i].IsDeployment() {
			continue
		}
		if err := c.completeDeployment(ctx, raw.Number(), &block.Transactions[i]); err != nil {
			return block, err
		}
	}
	return block, nil
}

func (c *Client) completeDeployment(ctx context.Context, number *big.Int, tx *types.Transaction) error {
	var receipt *ethtypes.Receipt
	if err := c.do(ctx, func(ctx context.Context) (err error) {
		receipt, err = c.api.TransactionReceipt(ctx, tx.Hash)
		return
	}); err != nil {
		return errors.Wrapf(err, "receipt %s", tx.Hash.Hex())
	}
	if receipt.ContractAddress == (common.Address{}) {
		return nil
	}
	address := receipt.ContractAddress
	tx.ContractAddress = &address

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil
	}
	return c.do(ctx, func(ctx context.Context) (err error) {
		tx.DeployedCode, err = c.api.CodeAt(ctx, address, number)
		return
	})
}

func (c *Client) do(ctx context.Context, request func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return request(reqCtx)
}

// Convert - maps node block into indexer's block. Senders are recovered with signer.
func Convert(signer ethtypes.Signer, raw *ethtypes.Block) (types.Block, error) {
	if raw == nil {
		return types.Block{}, errors.New("nil block")
	}

	block := types.Block{
		Height:       raw.NumberU64(),
		Hash:         raw.Hash(),
		ParentHash:   raw.ParentHash(),
		Timestamp:    time.Unix(int64(raw.Time()), 0).UTC(),
		Transactions: make([]types.Transaction, 0, len(raw.Transactions())),
	}

	for _, tx := range raw.Transactions() {
		from, err := ethtypes.Sender(signer, tx)
		if err != nil {
			return block, errors.Wrapf(err, "sender of %s", tx.Hash().Hex())
		}
		block.Transactions = append(block.Transactions, types.Transaction{
			Hash:     tx.Hash(),
			From:     from,
			To:       tx.To(),
			Value:    tx.Value(),
			GasLimit: tx.Gas(),
			GasPrice: tx.GasPrice(),
			Data:     common.CopyBytes(tx.Data()),
			Nonce:    tx.Nonce(),
		})
	}
	return block, nil
}
