package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ledgerevm "github.com/arcdeck/pixflow/go/ledger/evm"
)

var _ ledgerevm.ContractSigner = (*Signer)(nil)

func TestNewSignerFromPrivateKeyRejectsBadKey(t *testing.T) {
	_, err := NewSignerFromPrivateKey(context.Background(), "0xnothex", "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("Expected error for invalid key")
	}
}

func TestReadOnlySignerRefusesWrites(t *testing.T) {
	s := &Signer{}
	if s.Address() != "" {
		t.Errorf("Expected empty address, got %s", s.Address())
	}
	_, err := s.WriteContract(context.Background(), "0x0", nil, "cancelInvoice")
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
}

func TestConvertReceipt(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: big.NewInt(77),
		Logs:        []*types.Log{{Address: contract}, nil},
	}

	got := convertReceipt(r)
	if got.Status != ledgerevm.TxStatusSuccess {
		t.Errorf("Expected success status, got %d", got.Status)
	}
	if got.BlockNumber != 77 {
		t.Errorf("Expected block 77, got %d", got.BlockNumber)
	}
	if got.TxHash != common.HexToHash("0x01").Hex() {
		t.Errorf("Unexpected tx hash %s", got.TxHash)
	}
	if len(got.Logs) != 1 || got.Logs[0].Address != contract {
		t.Errorf("Expected one log from %s, got %+v", contract.Hex(), got.Logs)
	}
}

func TestAddressFromPrivateKey(t *testing.T) {
	addr, err := AddressFromPrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if addr != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("Unexpected address %s", addr)
	}
	if _, err := AddressFromPrivateKey("zz"); err == nil {
		t.Error("Expected error for invalid key")
	}
}
