package storage

import "context"

// BlockTransaction - all-or-nothing unit of writes for one block. Nothing is visible to readers until Flush.
type BlockTransaction interface {
	SaveBlock(ctx context.Context, block *Block) error
	RetractBlock(ctx context.Context, blockID uint64) error
	SaveTransactions(ctx context.Context, txs ...*Transaction) error
	SaveEthTransfers(ctx context.Context, transfers ...*EthTransfer) error
	SaveErc20Transfers(ctx context.Context, transfers ...*Erc20Transfer) error
	SaveDeployments(ctx context.Context, deployments ...*ContractDeployment) error
	DeleteBlockTransactions(ctx context.Context, blockID uint64) error
	AddTokens(ctx context.Context, tokens ...*Token) error
	UpdateState(ctx context.Context, state *State) error

	Stats(ctx context.Context, addressID, tokenID uint64) (AddressTokenStats, error)
	SaveStats(ctx context.Context, stats *AddressTokenStats) error
	DeleteStats(ctx context.Context, addressID, tokenID uint64) error
	AppendLedger(ctx context.Context, entry *LedgerEntry) error
	LedgerByBlock(ctx context.Context, blockID uint64) ([]LedgerEntry, error)
	RetractLedger(ctx context.Context, entryID uint64) error
	Activity(ctx context.Context, addressID, tokenID uint64) (Activity, error)

	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}
