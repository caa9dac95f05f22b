package pixflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvoiceNotFound means the ledger has no invoice under the id.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrNoIdentity is returned by operations that need a selected identity.
	ErrNoIdentity = errors.New("no identity selected")
	// ErrEngineClosed is returned once Close has been called.
	ErrEngineClosed = errors.New("engine closed")
	// ErrTransactionReverted marks a mined transaction with a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrBackfillUnsupported is returned when the ledger cannot scan events.
	ErrBackfillUnsupported = errors.New("ledger does not support event scans")
)

// ValidationError rejects caller input before any remote call is made.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RemoteCallError wraps a failed ledger submission, receipt wait, or read.
// TxHash is set when a transaction was submitted before the failure.
type RemoteCallError struct {
	Op        string `json:"op"`
	InvoiceID uint64 `json:"invoiceId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Err       error  `json:"-"`
}

func (e *RemoteCallError) Error() string {
	var b strings.Builder
	b.WriteString("ledger ")
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.InvoiceID != 0 {
		fmt.Fprintf(&b, " for invoice #%d", e.InvoiceID)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, " (tx %s)", e.TxHash)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// UnresolvedIDError reports that a create receipt carried no InvoiceCreated
// event and the id was taken from the ledger counter instead. The id may be
// wrong when other creates landed concurrently.
type UnresolvedIDError struct {
	TxHash    string `json:"txHash"`
	AssumedID uint64 `json:"assumedId"`
}

func (e *UnresolvedIDError) Error() string {
	return fmt.Sprintf("no InvoiceCreated event in receipt of %s; assumed invoice #%d from the ledger counter", e.TxHash, e.AssumedID)
}

// IsRemoteCallError reports whether err wraps a *RemoteCallError.
func IsRemoteCallError(err error) bool {
	var target *RemoteCallError
	return errors.As(err, &target)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
