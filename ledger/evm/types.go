package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractSigner defines the chain operations the invoices ledger needs
type ContractSigner interface {
	// Address returns the address transactions are sent from.
	// Read-only signers return "".
	Address() string

	// ReadContract calls a view function and returns its unpacked outputs
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) ([]interface{}, error)

	// WriteContract signs and sends a contract transaction, returning its hash
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt blocks until the transaction is mined or ctx ends
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// FilterLogs runs an eth_getLogs query
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// BlockNumber returns the latest block number
	BlockNumber(ctx context.Context) (uint64, error)
}

// TransactionReceipt represents a mined transaction
type TransactionReceipt struct {
	Status      uint64      `json:"status"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      string      `json:"transactionHash"`
	Logs        []types.Log `json:"logs"`
}

// InvoiceTuple mirrors the getInvoice return struct
type InvoiceTuple struct {
	Merchant  common.Address
	Token     common.Address
	Amount    *big.Int
	DueAt     uint64
	RefId     [32]byte
	Status    uint8
	CreatedAt uint64
	PaidAt    uint64
	PixTxId   [32]byte
}

// NetworkConfig describes a chain the ledger can run on
type NetworkConfig struct {
	Name          string
	ChainID       *big.Int
	RPCURL        string
	ExplorerURL   string
	USDCToken     string
	LogScanBlocks uint64
}

// TxURL links a transaction on the network's explorer.
func (c NetworkConfig) TxURL(txHash string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + txHash
}

// AddressURL links an address on the network's explorer.
func (c NetworkConfig) AddressURL(address string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/address/" + address
}
