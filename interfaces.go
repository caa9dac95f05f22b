package pixflow

import (
	"context"
)

// Ledger is the remote invoice registry.
// The engine only talks to the ledger through this interface; the EVM
// implementation lives in ledger/evm.
type Ledger interface {
	// Address returns the ledger contract address. Receipt events emitted by
	// any other address are ignored during id resolution.
	Address() string

	// CreateInvoice submits a new invoice. The returned handle resolves to the
	// mined receipt.
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (TransactionHandle, error)

	// Pay submits payment for an invoice with an opaque 32-byte proof tag.
	Pay(ctx context.Context, invoiceID uint64, proofTag [32]byte) (TransactionHandle, error)

	// Cancel submits cancellation of an invoice.
	Cancel(ctx context.Context, invoiceID uint64) (TransactionHandle, error)

	// GetInvoice reads the authoritative state of one invoice. Ids the ledger
	// never assigned come back with StatusCodeNone, not an error.
	GetInvoice(ctx context.Context, invoiceID uint64) (*LedgerInvoice, error)

	// NextInvoiceID returns the id the ledger will assign next.
	NextInvoiceID(ctx context.Context) (uint64, error)
}

// TransactionHandle is a submitted transaction awaiting confirmation.
type TransactionHandle interface {
	// Hash is the transaction reference, known right after submission.
	Hash() string

	// Wait blocks until the transaction is mined or ctx ends.
	Wait(ctx context.Context) (*Receipt, error)
}

// CreatedInvoiceScanner is implemented by ledgers that can enumerate past
// InvoiceCreated events for a merchant.
type CreatedInvoiceScanner interface {
	ScanCreatedInvoices(ctx context.Context, merchant string, fromBlock uint64) ([]CreatedInvoice, error)
}

// Backend is a durable string-keyed byte store.
//
// Implementations must be safe for concurrent use. A missing key returns
// found=false with a nil error.
type Backend interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
}
