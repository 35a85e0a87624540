package classifier

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20TransferABI = `[{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

const (
	selectorSize = 4
	wordSize     = 32
)

var transferMethod abi.Method

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(err)
	}
	transferMethod = parsed.Methods["transfer"]
}

// TransferSelector - selector of ERC20 `transfer(address,uint256)`
func TransferSelector() []byte {
	return common.CopyBytes(transferMethod.ID)
}

// Deployment -
type Deployment struct {
	Deployer common.Address
	Contract common.Address
	Bytecode []byte
}

// EthTransfer -
type EthTransfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Erc20Transfer -
type Erc20Transfer struct {
	Token     common.Address
	From      common.Address
	Recipient common.Address
	Amount    *big.Int
}

// GenericCall -
type GenericCall struct {
	From     common.Address
	To       common.Address
	Selector []byte
	Params   []byte
}

// Result - classified transaction. Exactly one payload matching Category is set.
type Result struct {
	Category storage.Category

	Deployment    *Deployment
	EthTransfer   *EthTransfer
	Erc20Transfer *Erc20Transfer
	GenericCall   *GenericCall
}

// Classify - decides category of transaction. First matching rule wins:
// missing receiver, empty call data, ERC20 transfer invocation, anything else.
func Classify(tx types.Transaction) Result {
	if tx.To == nil {
		return Result{
			Category: storage.CategoryContractDeployment,
			Deployment: &Deployment{
				Deployer: tx.From,
				Contract: deployedAddress(tx),
				Bytecode: bytecode(tx),
			},
		}
	}

	if len(tx.Data) == 0 {
		return Result{
			Category: storage.CategoryEthTransfer,
			EthTransfer: &EthTransfer{
				From:  tx.From,
				To:    *tx.To,
				Value: value(tx.Value),
			},
		}
	}

	if recipient, amount, ok := decodeTransfer(tx.Data); ok {
		return Result{
			Category: storage.CategoryErc20Transfer,
			Erc20Transfer: &Erc20Transfer{
				Token:     *tx.To,
				From:      tx.From,
				Recipient: recipient,
				Amount:    amount,
			},
		}
	}

	selector, params := splitCallData(tx.Data)
	return Result{
		Category: storage.CategoryGenericCall,
		GenericCall: &GenericCall{
			From:     tx.From,
			To:       *tx.To,
			Selector: selector,
			Params:   params,
		},
	}
}

// decodeTransfer never fails loudly: any mismatch returns ok == false.
func decodeTransfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) < selectorSize || !bytes.Equal(data[:selectorSize], transferMethod.ID) {
		return common.Address{}, nil, false
	}
	params := data[selectorSize:]
	if len(params) != 2*wordSize {
		return common.Address{}, nil, false
	}
	// address word must be left-padded with zeros
	for _, b := range params[:wordSize-common.AddressLength] {
		if b != 0 {
			return common.Address{}, nil, false
		}
	}

	values, err := transferMethod.Inputs.Unpack(params)
	if err != nil || len(values) != 2 {
		return common.Address{}, nil, false
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, false
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, false
	}
	return recipient, amount, true
}

func splitCallData(data []byte) ([]byte, []byte) {
	if len(data) <= selectorSize {
		return common.CopyBytes(data), nil
	}
	return common.CopyBytes(data[:selectorSize]), common.CopyBytes(data[selectorSize:])
}

func deployedAddress(tx types.Transaction) common.Address {
	if tx.ContractAddress != nil {
		return *tx.ContractAddress
	}
	return crypto.CreateAddress(tx.From, tx.Nonce)
}

func bytecode(tx types.Transaction) []byte {
	if len(tx.DeployedCode) > 0 {
		return common.CopyBytes(tx.DeployedCode)
	}
	return common.CopyBytes(tx.Data)
}

func value(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
