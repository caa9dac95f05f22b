package pixflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
)

const fakeLedgerAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// fakeHandle resolves to a fixed receipt. When gate is set, Wait blocks
// until the gate is closed.
type fakeHandle struct {
	hash    string
	receipt *Receipt
	err     error
	gate    chan struct{}
}

func (h *fakeHandle) Hash() string {
	return h.hash
}

func (h *fakeHandle) Wait(ctx context.Context) (*Receipt, error) {
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.receipt, h.err
}

// fakeLedger is an in-memory invoices contract.
type fakeLedger struct {
	mu       sync.Mutex
	sender   string
	invoices map[uint64]*LedgerInvoice
	next     uint64
	txCount  int

	// failure injection
	createErr    error
	payErr       error
	waitErr      error
	revert       bool
	readErr      map[uint64]error
	nextErr      error
	noEvent      bool
	foreignEvent bool
	waitGate     chan struct{}
	readGate     chan struct{}

	// call tracking
	creates  []CreateInvoiceParams
	payments []uint64
	cancels  []uint64
	reads    int

	created []CreatedInvoice
}

func newFakeLedger(sender string) *fakeLedger {
	return &fakeLedger{
		sender:   sender,
		invoices: make(map[uint64]*LedgerInvoice),
		next:     1,
		readErr:  make(map[uint64]error),
	}
}

func (f *fakeLedger) Address() string {
	return fakeLedgerAddress
}

func (f *fakeLedger) handle(events []Event) *fakeHandle {
	f.txCount++
	h := &fakeHandle{
		hash: fmt.Sprintf("0x%064x", f.txCount),
		gate: f.waitGate,
		err:  f.waitErr,
	}
	status := TxStatusSuccess
	if f.revert {
		status = TxStatusFailed
	}
	h.receipt = &Receipt{TxHash: h.hash, Status: status, BlockNumber: uint64(f.txCount), Events: events}
	return h
}

func (f *fakeLedger) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (TransactionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, params)
	if f.createErr != nil {
		return nil, f.createErr
	}

	id := f.next
	f.next++
	f.invoices[id] = &LedgerInvoice{
		ID:         id,
		Merchant:   f.sender,
		Token:      params.Token,
		Amount:     new(big.Int).Set(params.Amount),
		DueAt:      params.DueAt,
		RefID:      HexBytes32(params.RefID),
		StatusCode: StatusCodePending,
		CreatedAt:  1700000000,
	}

	var events []Event
	if f.foreignEvent {
		events = append(events, Event{
			Name:     "InvoiceCreated",
			Contract: "0x0000000000000000000000000000000000000bad",
			Args:     map[string]string{"invoiceId": "999"},
		})
	}
	if !f.noEvent {
		events = append(events, Event{
			Name:     "InvoiceCreated",
			Contract: fakeLedgerAddress,
			Args: map[string]string{
				"invoiceId": strconv.FormatUint(id, 10),
				"merchant":  f.sender,
				"token":     params.Token,
				"amount":    params.Amount.String(),
				"refId":     HexBytes32(params.RefID),
			},
		})
	}
	return f.handle(events), nil
}

func (f *fakeLedger) Pay(ctx context.Context, invoiceID uint64, proofTag [32]byte) (TransactionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, invoiceID)
	if f.payErr != nil {
		return nil, f.payErr
	}
	if !f.revert {
		f.settle(invoiceID, StatusCodePaid, HexBytes32(proofTag))
	}
	return f.handle(nil), nil
}

func (f *fakeLedger) Cancel(ctx context.Context, invoiceID uint64) (TransactionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, invoiceID)
	if !f.revert {
		f.settle(invoiceID, StatusCodeCancelled, "")
	}
	return f.handle(nil), nil
}

// settle must be called with mu held.
func (f *fakeLedger) settle(id uint64, code uint8, proof string) {
	inv, ok := f.invoices[id]
	if !ok {
		return
	}
	inv.StatusCode = code
	if code == StatusCodePaid {
		inv.PaidAt = 1700000500
		inv.ProofTag = proof
	}
}

// externalPay marks an invoice paid as if another party paid it.
func (f *fakeLedger) externalPay(id uint64, paidAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[id].StatusCode = StatusCodePaid
	f.invoices[id].PaidAt = paidAt
}

func (f *fakeLedger) GetInvoice(ctx context.Context, invoiceID uint64) (*LedgerInvoice, error) {
	if f.readGate != nil {
		select {
		case <-f.readGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if err := f.readErr[invoiceID]; err != nil {
		return nil, err
	}
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return &LedgerInvoice{ID: invoiceID, Amount: new(big.Int), StatusCode: StatusCodeNone}, nil
	}
	cp := *inv
	cp.Amount = new(big.Int).Set(inv.Amount)
	return &cp, nil
}

func (f *fakeLedger) NextInvoiceID(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	return f.next, nil
}

func (f *fakeLedger) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// scanningLedger adds event scans to fakeLedger.
type scanningLedger struct {
	*fakeLedger
	scanErr error
}

func (s *scanningLedger) ScanCreatedInvoices(ctx context.Context, merchant string, fromBlock uint64) ([]CreatedInvoice, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	var out []CreatedInvoice
	for _, c := range s.created {
		if c.BlockNumber >= fromBlock {
			out = append(out, c)
		}
	}
	return out, nil
}

var errRPC = errors.New("rpc unavailable")
