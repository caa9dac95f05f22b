package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	ledgerevm "github.com/arcdeck/pixflow/go/ledger/evm"
)

// ErrReadOnly is returned by write operations on a signer without a key.
var ErrReadOnly = errors.New("signer has no private key")

const (
	// DefaultReceiptPollInterval is how often receipts are polled.
	DefaultReceiptPollInterval = time.Second

	// gasHeadroomPercent is added on top of the node's gas estimate.
	gasHeadroomPercent = 20
)

// Signer implements ledgerevm.ContractSigner over a JSON-RPC endpoint.
// Built with NewReadOnlySigner it can only read.
type Signer struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	client       *ethclient.Client
	chainID      *big.Int
	pollInterval time.Duration
}

// SignerOption configures a Signer
type SignerOption func(*Signer)

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSignerFromPrivateKey creates a signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//	rpcURL: JSON-RPC endpoint of the network
//
// Returns:
//
//	Signer ready for use with ledgerevm.NewLedger()
//	Error if the key is invalid or the endpoint is unreachable
//
// Example:
//
//	signer, err := evm.NewSignerFromPrivateKey(ctx, os.Getenv("PIXFLOW_PRIVATE_KEY"), ledgerevm.ArcTestnet.RPCURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ledger, err := ledgerevm.NewLedger(signer, invoicesAddress)
func NewSignerFromPrivateKey(ctx context.Context, privateKeyHex, rpcURL string, opts ...SignerOption) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	s, err := dial(ctx, rpcURL, opts...)
	if err != nil {
		return nil, err
	}
	s.privateKey = privateKey
	s.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	return s, nil
}

// AddressFromPrivateKey derives the sending address of a key without
// dialing a node.
func AddressFromPrivateKey(privateKeyHex string) (string, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex(), nil
}

// NewReadOnlySigner creates a signer that can read contracts and logs but
// refuses to send transactions.
func NewReadOnlySigner(ctx context.Context, rpcURL string, opts ...SignerOption) (*Signer, error) {
	return dial(ctx, rpcURL, opts...)
}

func dial(ctx context.Context, rpcURL string, opts ...SignerOption) (*Signer, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	s := &Signer{
		client:       client,
		chainID:      chainID,
		pollInterval: DefaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the sending address, or "" for read-only signers.
func (s *Signer) Address() string {
	if s.privateKey == nil {
		return ""
	}
	return s.address.Hex()
}

// ChainID returns the chain id reported by the endpoint at dial time.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Close releases the RPC connection.
func (s *Signer) Close() {
	s.client.Close()
}

func (s *Signer) ReadContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	to := common.HexToAddress(contractAddress)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s at %s", method, contractAddress)
	}

	output, err := contractABI.Methods[method].Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return output, nil
}

func (s *Signer) WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	if s.privateKey == nil {
		return "", ErrReadOnly
	}
	contractABI, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	to := common.HexToAddress(contractAddress)
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}
	gas += gas * gasHeadroomPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the receipt is available. It never
// gives up on its own; bound it with ctx.
func (s *Signer) WaitForTransactionReceipt(ctx context.Context, txHash string) (*ledgerevm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return convertReceipt(receipt), nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt of %s: %w", txHash, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Signer) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return s.client.FilterLogs(ctx, query)
}

func (s *Signer) BlockNumber(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func convertReceipt(r *types.Receipt) *ledgerevm.TransactionReceipt {
	out := &ledgerevm.TransactionReceipt{
		Status: r.Status,
		TxHash: r.TxHash.Hex(),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, lg := range r.Logs {
		if lg != nil {
			out.Logs = append(out.Logs, *lg)
		}
	}
	return out
}
