package storage

// IdentifierKind -
type IdentifierKind string

// identifier kinds
const (
	KindEOA       IdentifierKind = "eoa"
	KindContract  IdentifierKind = "contract"
	KindTxHash    IdentifierKind = "tx_hash"
	KindBlockHash IdentifierKind = "block_hash"
)

// Width - expected raw value length for kind. Returns 0 for unknown kinds.
func (kind IdentifierKind) Width() int {
	switch kind {
	case KindEOA, KindContract:
		return 20
	case KindTxHash, KindBlockHash:
		return 32
	default:
		return 0
	}
}

// Category - semantic category of transaction
type Category string

// categories
const (
	CategoryEthTransfer        Category = "eth_transfer"
	CategoryErc20Transfer      Category = "erc20_transfer"
	CategoryContractDeployment Category = "contract_deployment"
	CategoryGenericCall        Category = "generic_call"
)

// BlockStatus -
type BlockStatus string

// block statuses
const (
	BlockStatusCommitted BlockStatus = "committed"
	BlockStatusRetracted BlockStatus = "retracted"
)

// LabelKind - source of nickname
type LabelKind string

// label kinds
const (
	LabelKindManual       LabelKind = "manual"
	LabelKindENS          LabelKind = "ens"
	LabelKindContractName LabelKind = "contract_name"
)

// sentinel identities
const (
	// NativeToken - token identity of the chain's native asset
	NativeToken uint64 = 0
	// ZeroAddress - identity of synthetic mint/burn counterparty in transfer events
	ZeroAddress uint64 = 0
)
