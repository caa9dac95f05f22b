package pixflow

import (
	"math/big"
	"strconv"
	"time"
)

// InvoiceStatus is the lifecycle state of an invoice as the cache sees it.
type InvoiceStatus string

const (
	// StatusNone is reported by the ledger for ids it has never assigned.
	// It only appears on transient verification results, never in the cache.
	StatusNone      InvoiceStatus = "NONE"
	StatusPending   InvoiceStatus = "PENDING"
	StatusPaid      InvoiceStatus = "PAID"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// Ledger status codes as stored by the invoices contract.
const (
	StatusCodeNone      uint8 = 0
	StatusCodePending   uint8 = 1
	StatusCodePaid      uint8 = 2
	StatusCodeCancelled uint8 = 3
)

// StatusFromCode maps the ledger's numeric status to an InvoiceStatus.
// Unknown codes map to StatusNone.
func StatusFromCode(code uint8) InvoiceStatus {
	switch code {
	case StatusCodePending:
		return StatusPending
	case StatusCodePaid:
		return StatusPaid
	case StatusCodeCancelled:
		return StatusCancelled
	default:
		return StatusNone
	}
}

// Code returns the ledger's numeric code for the status.
func (s InvoiceStatus) Code() uint8 {
	switch s {
	case StatusPending:
		return StatusCodePending
	case StatusPaid:
		return StatusCodePaid
	case StatusCancelled:
		return StatusCodeCancelled
	default:
		return StatusCodeNone
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// BasisPointsTotal is the split ceiling: 10000 bps = 100%.
const BasisPointsTotal = 10000

// Split is one (recipient, share) pair of an invoice's payout split.
type Split struct {
	To          string `json:"to"`
	BasisPoints uint16 `json:"bps"`
}

// InvoiceRecord is the locally cached view of one ledger invoice.
//
// ID, Merchant, Token, AmountCents and RefID are immutable once the record
// exists. The timestamps are client-observed and best effort. The tx refs are
// set once and never cleared. Hidden is a local-only visibility flag.
type InvoiceRecord struct {
	ID          uint64        `json:"id,string"`
	Merchant    string        `json:"merchant"`
	Token       string        `json:"token"`
	AmountCents string        `json:"amountCents"`
	DueAt       uint64        `json:"dueAt"`
	RefID       string        `json:"refId"`
	Status      InvoiceStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt,omitzero"`
	PaidAt      time.Time     `json:"paidAt,omitzero"`
	CancelledAt time.Time     `json:"cancelledAt,omitzero"`
	CreateTx    string        `json:"createTx,omitempty"`
	PayTx       string        `json:"payTx,omitempty"`
	CancelTx    string        `json:"cancelTx,omitempty"`
	Hidden      bool          `json:"hidden,omitempty"`
	Splits      []Split       `json:"splits,omitempty"`
}

// Amount parses AmountCents. It returns nil when the field is not a
// non-negative decimal integer.
func (r InvoiceRecord) Amount() *big.Int {
	v, ok := new(big.Int).SetString(r.AmountCents, 10)
	if !ok || v.Sign() < 0 {
		return nil
	}
	return v
}

// Label renders the id the way users type it ("#12").
func (r InvoiceRecord) Label() string {
	return "#" + strconv.FormatUint(r.ID, 10)
}

// Clone returns a copy that shares no slices with r.
func (r InvoiceRecord) Clone() InvoiceRecord {
	if r.Splits != nil {
		r.Splits = append([]Split(nil), r.Splits...)
	}
	return r
}

// LedgerInvoice is the authoritative invoice state read from the ledger.
type LedgerInvoice struct {
	ID         uint64
	Merchant   string
	Token      string
	Amount     *big.Int
	DueAt      uint64
	RefID      string
	StatusCode uint8
	CreatedAt  uint64 // epoch seconds
	PaidAt     uint64 // epoch seconds, 0 until paid
	ProofTag   string
}

// Status maps the raw ledger status code.
func (l *LedgerInvoice) Status() InvoiceStatus {
	return StatusFromCode(l.StatusCode)
}

// Record converts the ledger read into a standalone record. Local-only
// fields are left empty.
func (l *LedgerInvoice) Record() InvoiceRecord {
	rec := InvoiceRecord{
		ID:       l.ID,
		Merchant: l.Merchant,
		Token:    l.Token,
		DueAt:    l.DueAt,
		RefID:    l.RefID,
		Status:   l.Status(),
	}
	if l.Amount != nil {
		rec.AmountCents = l.Amount.String()
	} else {
		rec.AmountCents = "0"
	}
	if l.CreatedAt > 0 {
		rec.CreatedAt = unixTime(l.CreatedAt)
	}
	if l.PaidAt > 0 {
		rec.PaidAt = unixTime(l.PaidAt)
	}
	return rec
}

// CreateInvoiceParams are the typed arguments of a createInvoice submission.
type CreateInvoiceParams struct {
	Token       string
	Amount      *big.Int
	DueAt       uint64
	RefID       [32]byte
	Recipients  []string
	BasisPoints []uint16
}

// Event is a decoded ledger event. Args hold every field rendered as a
// string: integers in base 10, addresses and byte strings as 0x hex.
type Event struct {
	Name     string            `json:"name"`
	Contract string            `json:"contract"`
	Args     map[string]string `json:"args"`
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      string  `json:"txHash"`
	Status      uint64  `json:"status"`
	BlockNumber uint64  `json:"blockNumber"`
	Events      []Event `json:"events,omitempty"`
}

// Transaction status values carried by Receipt.Status.
const (
	TxStatusFailed  uint64 = 0
	TxStatusSuccess uint64 = 1
)

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == TxStatusSuccess
}

// CreatedInvoice is one InvoiceCreated event found by a log scan.
type CreatedInvoice struct {
	ID          uint64
	Merchant    string
	Token       string
	Amount      *big.Int
	DueAt       uint64
	RefID       string
	TxHash      string
	BlockNumber uint64
}

func unixTime(sec uint64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
