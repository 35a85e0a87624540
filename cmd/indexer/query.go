package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/aggregator"
	"github.com/dipdup-io/evm-indexer/internal/registry"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/storage/postgres"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const nativeToken = "native"

var (
	statsToken     string
	statsAll       bool
	identifierKind string
	identifierID   uint64
)

var statsCmd = &cobra.Command{
	Use:   "stats <address>",
	Short: "Print balance and activity of address in token, or in every token with --all",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(cmd, func(ctx context.Context, pg postgres.Storage, reg *registry.Registry) (any, error) {
			if statsAll {
				return allStatsOf(ctx, reg, pg.Stats, args[0])
			}
			return statsOf(ctx, reg, aggregator.New(pg.Stats), args[0], statsToken)
		})
	},
}

var identifierCmd = &cobra.Command{
	Use:   "identifier [raw]",
	Short: "Print identifier of raw address or hash, or raw value of identifier with --id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(cmd, func(ctx context.Context, _ postgres.Storage, reg *registry.Registry) (any, error) {
			if identifierID > 0 {
				return resolve(ctx, reg, identifierID)
			}
			if len(args) == 0 {
				return nil, errors.New("raw value or --id is required")
			}
			return identifierOf(ctx, reg, args[0], storage.IdentifierKind(identifierKind))
		})
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsToken, "token", "t", nativeToken, "token contract address or 'native'")
	statsCmd.Flags().BoolVarP(&statsAll, "all", "a", false, "print stats of every token held by address")
	identifierCmd.Flags().StringVarP(&identifierKind, "kind", "k", string(storage.KindEOA), "identifier kind: eoa, contract, tx_hash, block_hash")
	identifierCmd.Flags().Uint64Var(&identifierID, "id", 0, "identifier to resolve")
}

type queryFunc func(ctx context.Context, pg postgres.Storage, reg *registry.Registry) (any, error)

func query(cmd *cobra.Command, fn queryFunc) error {
	cfg, err := setup(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	pg, err := postgres.Create(ctx, cfg.Database)
	if err != nil {
		return errors.Wrap(err, "database creation")
	}
	defer pg.Storage.Close()

	result, err := fn(ctx, pg, newRegistry(pg, cfg.Indexer))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// StatsResponse -
type StatsResponse struct {
	Address       string     `json:"address"`
	AddressID     uint64     `json:"address_id"`
	Token         string     `json:"token"`
	TokenID       uint64     `json:"token_id"`
	Balance       string     `json:"balance"`
	FirstIn       *time.Time `json:"first_in,omitempty"`
	LastIn        *time.Time `json:"last_in,omitempty"`
	FirstOut      *time.Time `json:"first_out,omitempty"`
	LastOut       *time.Time `json:"last_out,omitempty"`
	UpdatedHeight uint64     `json:"updated_height"`
}

// IdentifierResponse -
type IdentifierResponse struct {
	ID   uint64                 `json:"id"`
	Kind storage.IdentifierKind `json:"kind"`
	Raw  string                 `json:"raw"`
}

// Resolver -
type Resolver interface {
	IdentifierOf(ctx context.Context, raw []byte, kind storage.IdentifierKind) (uint64, error)
	Resolve(ctx context.Context, id uint64) (storage.Identifier, error)
}

// StatsSource -
type StatsSource interface {
	StatsOf(ctx context.Context, addressID, tokenID uint64) (storage.AddressTokenStats, error)
}

// StatsLister -
type StatsLister interface {
	ByAddress(ctx context.Context, addressID uint64) ([]storage.AddressTokenStats, error)
}

// addressOf - identity of address, EOA first
func addressOf(ctx context.Context, reg Resolver, address string) (common.Address, uint64, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, 0, errors.Wrapf(storage.ErrInvalidInput, "address: %s", address)
	}
	raw := common.HexToAddress(address)

	id, err := reg.IdentifierOf(ctx, raw.Bytes(), storage.KindEOA)
	if errors.Is(err, registry.ErrNotFound) {
		id, err = reg.IdentifierOf(ctx, raw.Bytes(), storage.KindContract)
	}
	if err != nil {
		return raw, 0, errors.Wrapf(err, "address: %s", address)
	}
	return raw, id, nil
}

func statsOf(ctx context.Context, reg Resolver, stats StatsSource, address, token string) (StatsResponse, error) {
	var response StatsResponse
	raw, addressID, err := addressOf(ctx, reg, address)
	if err != nil {
		return response, err
	}
	response.Address = raw.Hex()
	response.AddressID = addressID

	response.Token = nativeToken
	if token != nativeToken && token != "" {
		if !common.IsHexAddress(token) {
			return response, errors.Wrapf(storage.ErrInvalidInput, "token: %s", token)
		}
		tokenAddress := common.HexToAddress(token)
		response.Token = tokenAddress.Hex()
		response.TokenID, err = reg.IdentifierOf(ctx, tokenAddress.Bytes(), storage.KindContract)
		if err != nil {
			return response, errors.Wrapf(err, "token: %s", token)
		}
	}

	s, err := stats.StatsOf(ctx, response.AddressID, response.TokenID)
	if err != nil {
		return response, err
	}
	response.fill(s)
	return response, nil
}

// allStatsOf - stats of address in every token it has touched, ordered by token identity
func allStatsOf(ctx context.Context, reg Resolver, stats StatsLister, address string) ([]StatsResponse, error) {
	raw, addressID, err := addressOf(ctx, reg, address)
	if err != nil {
		return nil, err
	}

	rows, err := stats.ByAddress(ctx, addressID)
	if err != nil {
		return nil, errors.Wrap(err, "receive stats")
	}

	response := make([]StatsResponse, len(rows))
	for i := range rows {
		response[i] = StatsResponse{
			Address:   raw.Hex(),
			AddressID: addressID,
			Token:     nativeToken,
			TokenID:   rows[i].TokenID,
		}
		if rows[i].TokenID != storage.NativeToken {
			token, err := reg.Resolve(ctx, rows[i].TokenID)
			if err != nil {
				return nil, errors.Wrapf(err, "token: %d", rows[i].TokenID)
			}
			response[i].Token = common.BytesToAddress(token.Raw()).Hex()
		}
		response[i].fill(rows[i])
	}
	return response, nil
}

func (response *StatsResponse) fill(s storage.AddressTokenStats) {
	response.Balance = s.Balance.String()
	response.FirstIn = timeOrNil(s.FirstIn)
	response.LastIn = timeOrNil(s.LastIn)
	response.FirstOut = timeOrNil(s.FirstOut)
	response.LastOut = timeOrNil(s.LastOut)
	response.UpdatedHeight = s.UpdatedHeight
}

func identifierOf(ctx context.Context, reg Resolver, value string, kind storage.IdentifierKind) (IdentifierResponse, error) {
	raw, err := hexutil.Decode(value)
	if err != nil {
		return IdentifierResponse{}, errors.Wrap(storage.ErrInvalidInput, err.Error())
	}
	id, err := reg.IdentifierOf(ctx, raw, kind)
	if err != nil {
		return IdentifierResponse{}, err
	}
	return IdentifierResponse{
		ID:   id,
		Kind: kind,
		Raw:  hexutil.Encode(raw),
	}, nil
}

func resolve(ctx context.Context, reg Resolver, id uint64) (IdentifierResponse, error) {
	identifier, err := reg.Resolve(ctx, id)
	if err != nil {
		return IdentifierResponse{}, err
	}
	return IdentifierResponse{
		ID:   identifier.ID,
		Kind: identifier.Kind,
		Raw:  hexutil.Encode(identifier.Raw()),
	}, nil
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
