package pixflow

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcdeck/pixflow/go/payload"
)

// DefaultSyncConcurrency bounds parallel ledger reads during a sync pass.
const DefaultSyncConcurrency = 8

// Engine keeps the selected identity's invoice cache consistent with the
// ledger.
//
// Every mutating operation captures the identity when it starts. Its durable
// write always lands in that identity's slot; the in-memory view is only
// refreshed if the engine is still on that identity and not closed, so a
// completion that outlives an identity switch never leaks into another
// identity's view.
type Engine struct {
	ledger Ledger
	store  *InvoiceStore

	logger          zerolog.Logger
	now             func() time.Time
	proofTag        func() ([32]byte, error)
	syncConcurrency int
	defaultToken    string

	mu       sync.RWMutex
	identity string
	view     []InvoiceRecord
	closed   bool

	flights *syncFlights

	hookMu            sync.RWMutex
	beforeSubmitHooks []BeforeSubmitHook
	afterCreateHooks  []AfterCreateHook
	idFallbackHooks   []IDFallbackHook
	afterSyncHooks    []AfterSyncHook
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the source of client-observed timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithProofTagGenerator overrides how payment proof tags are produced.
func WithProofTagGenerator(gen func() ([32]byte, error)) EngineOption {
	return func(e *Engine) {
		e.proofTag = gen
	}
}

// WithSyncConcurrency bounds parallel reads during Sync. Values below 1 are
// ignored.
func WithSyncConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.syncConcurrency = n
		}
	}
}

// WithDefaultToken sets the token used when a CreateRequest leaves it empty.
func WithDefaultToken(token string) EngineOption {
	return func(e *Engine) {
		e.defaultToken = token
	}
}

// NewEngine creates an engine with no identity selected.
func NewEngine(ledger Ledger, store *InvoiceStore, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:          ledger,
		store:           store,
		logger:          zerolog.Nop(),
		now:             time.Now,
		proofTag:        RandomBytes32,
		syncConcurrency: DefaultSyncConcurrency,
		flights:         newSyncFlights(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ============================================================================
// Identity
// ============================================================================

// SwitchIdentity discards the current view and loads identity's slot.
func (e *Engine) SwitchIdentity(identity string) ([]InvoiceRecord, error) {
	identity = strings.TrimSpace(identity)
	if !IsAddress(identity) {
		return nil, &ValidationError{Field: "identity", Reason: "not a hex address: " + identity}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	e.identity = identity
	e.view = e.store.Load(identity)

	e.logger.Info().Str("identity", identity).Int("invoices", len(e.view)).Msg("identity selected")
	return cloneRecords(e.view), nil
}

// Disconnect clears the view. The identity's slot is left untouched.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = ""
	e.view = nil
}

// Close disconnects and rejects further operations. Operations already in
// flight still persist their results but no longer touch the view.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.identity = ""
	e.view = nil
}

// Identity returns the selected identity, or "" when none is selected.
func (e *Engine) Identity() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity
}

// Invoices returns a copy of the current view, hidden records included.
func (e *Engine) Invoices() []InvoiceRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneRecords(e.view)
}

func (e *Engine) begin() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", ErrEngineClosed
	}
	if e.identity == "" {
		return "", ErrNoIdentity
	}
	return e.identity, nil
}

// publish replaces the view with list if identity is still selected.
func (e *Engine) publish(identity string, list []InvoiceRecord) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !strings.EqualFold(e.identity, identity) {
		e.logger.Debug().Str("identity", identity).Msg("dropping view update for inactive identity")
		return false
	}
	e.view = cloneRecords(list)
	return true
}

// ============================================================================
// Create
// ============================================================================

// CreateRequest describes a new invoice. Amount is in minor units.
type CreateRequest struct {
	Token  string
	Amount *big.Int
	// DueIn is added to the current time to form the due date. Zero means
	// no due date.
	DueIn  time.Duration
	RefID  [32]byte
	Splits []Split
}

// CreateResult is a cached, ledger-confirmed invoice.
type CreateResult struct {
	Record  InvoiceRecord
	Receipt *Receipt
	// Warning is set when the id came from the ledger counter rather than
	// the receipt's InvoiceCreated event.
	Warning *UnresolvedIDError
}

// ValidateCreate checks a create request without contacting the ledger.
func ValidateCreate(req CreateRequest) error {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Reason: "amount must be greater than zero"}
	}
	if req.DueIn < 0 {
		return &ValidationError{Field: "dueIn", Reason: "due offset must not be negative"}
	}
	if req.Token != "" && !IsAddress(req.Token) {
		return &ValidationError{Field: "token", Reason: "not a hex address: " + req.Token}
	}
	sum := 0
	for i, s := range req.Splits {
		if !IsAddress(s.To) {
			return &ValidationError{Field: fmt.Sprintf("splits[%d].to", i), Reason: "not a hex address: " + s.To}
		}
		if s.BasisPoints < 1 || s.BasisPoints > BasisPointsTotal {
			return &ValidationError{Field: fmt.Sprintf("splits[%d].bps", i), Reason: fmt.Sprintf("bps must be between 1 and %d", BasisPointsTotal)}
		}
		sum += int(s.BasisPoints)
	}
	if sum > BasisPointsTotal {
		return &ValidationError{Field: "splits", Reason: fmt.Sprintf("split total %d exceeds %d bps", sum, BasisPointsTotal)}
	}
	return nil
}

// Create submits a new invoice, waits for it to be mined, resolves its id
// and caches it as PENDING.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	start := time.Now()
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}
	if req.Token == "" {
		req.Token = e.defaultToken
	}
	if req.Token == "" {
		return nil, &ValidationError{Field: "token", Reason: "token is required"}
	}
	if err := ValidateCreate(req); err != nil {
		return nil, err
	}

	now := e.now()
	var dueAt uint64
	if req.DueIn > 0 {
		dueAt = uint64(now.Add(req.DueIn).Unix())
	}

	sc := SubmitContext{Ctx: ctx, Operation: OperationCreate, Identity: identity, Request: &req, Timestamp: now}
	if err := e.runBeforeSubmit(sc); err != nil {
		return nil, err
	}

	params := CreateInvoiceParams{
		Token:  req.Token,
		Amount: new(big.Int).Set(req.Amount),
		DueAt:  dueAt,
		RefID:  req.RefID,
	}
	for _, s := range req.Splits {
		params.Recipients = append(params.Recipients, s.To)
		params.BasisPoints = append(params.BasisPoints, s.BasisPoints)
	}

	handle, err := e.ledger.CreateInvoice(ctx, params)
	if err != nil {
		return nil, &RemoteCallError{Op: "createInvoice", Err: err}
	}
	receipt, err := e.awaitReceipt(ctx, "createInvoice", 0, handle)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{Receipt: receipt}
	rec := InvoiceRecord{
		Merchant:    identity,
		Token:       req.Token,
		AmountCents: req.Amount.String(),
		DueAt:       dueAt,
		RefID:       HexBytes32(req.RefID),
		Status:      StatusPending,
		CreatedAt:   now,
		CreateTx:    handle.Hash(),
		Splits:      append([]Split(nil), req.Splits...),
	}

	if created, ok := createdFromEvents(receipt, e.ledger.Address()); ok {
		rec.ID = created.id
		if created.token != "" {
			rec.Token = created.token
		}
		if created.refID != "" {
			rec.RefID = created.refID
		}
	} else {
		next, err := e.ledger.NextInvoiceID(ctx)
		if err != nil {
			return nil, &RemoteCallError{Op: "nextInvoiceId", TxHash: handle.Hash(), Err: err}
		}
		if next < 2 {
			return nil, &RemoteCallError{Op: "nextInvoiceId", TxHash: handle.Hash(), Err: fmt.Errorf("counter %d leaves no assigned id", next)}
		}
		rec.ID = next - 1
		result.Warning = &UnresolvedIDError{TxHash: handle.Hash(), AssumedID: rec.ID}
		e.logger.Warn().Str("tx", handle.Hash()).Uint64("assumedId", rec.ID).Msg("invoice id resolved from ledger counter")
		e.runIDFallback(IDFallbackContext{Ctx: ctx, Identity: identity, Warning: result.Warning})
	}

	list, err := e.store.Upsert(identity, rec)
	if err != nil {
		return nil, fmt.Errorf("cache invoice %s: %w", rec.Label(), err)
	}
	e.publish(identity, list)

	if i := indexOf(list, rec.ID); i >= 0 {
		result.Record = list[i]
	} else {
		result.Record = rec
	}
	e.logger.Info().Uint64("invoiceId", rec.ID).Str("tx", handle.Hash()).Msg("invoice created")
	e.runAfterCreate(CreateResultContext{SubmitContext: sc, Result: *result, Duration: time.Since(start)})
	return result, nil
}

type createdEvent struct {
	id    uint64
	token string
	refID string
}

// createdFromEvents finds the InvoiceCreated event emitted by the ledger
// address itself.
func createdFromEvents(receipt *Receipt, ledgerAddress string) (createdEvent, bool) {
	if receipt == nil {
		return createdEvent{}, false
	}
	for _, ev := range receipt.Events {
		if ev.Name != "InvoiceCreated" || !strings.EqualFold(ev.Contract, ledgerAddress) {
			continue
		}
		id, err := strconv.ParseUint(ev.Args["invoiceId"], 10, 64)
		if err != nil || id == 0 {
			continue
		}
		return createdEvent{id: id, token: ev.Args["token"], refID: ev.Args["refId"]}, true
	}
	return createdEvent{}, false
}

// ============================================================================
// Pay / Cancel
// ============================================================================

// Pay submits payment for a cached PENDING invoice and, once mined, marks it
// PAID locally.
func (e *Engine) Pay(ctx context.Context, id uint64) (*Receipt, error) {
	identity, rec, err := e.pendingRecord(id)
	if err != nil {
		return nil, err
	}
	sc := SubmitContext{Ctx: ctx, Operation: OperationPay, Identity: identity, InvoiceID: rec.ID, Timestamp: e.now()}
	if err := e.runBeforeSubmit(sc); err != nil {
		return nil, err
	}

	proof, err := e.proofTag()
	if err != nil {
		return nil, fmt.Errorf("proof tag for #%d: %w", id, err)
	}
	handle, err := e.ledger.Pay(ctx, id, proof)
	if err != nil {
		return nil, &RemoteCallError{Op: "paySandbox", InvoiceID: id, Err: err}
	}
	receipt, err := e.awaitReceipt(ctx, "paySandbox", id, handle)
	if err != nil {
		return nil, err
	}
	if _, err := e.applyOptimistic(identity, id, StatusPaid, handle.Hash()); err != nil {
		return receipt, err
	}
	e.logger.Info().Uint64("invoiceId", id).Str("tx", handle.Hash()).Msg("invoice paid")
	return receipt, nil
}

// Cancel submits cancellation of a cached PENDING invoice and, once mined,
// marks it CANCELLED locally.
func (e *Engine) Cancel(ctx context.Context, id uint64) (*Receipt, error) {
	identity, rec, err := e.pendingRecord(id)
	if err != nil {
		return nil, err
	}
	sc := SubmitContext{Ctx: ctx, Operation: OperationCancel, Identity: identity, InvoiceID: rec.ID, Timestamp: e.now()}
	if err := e.runBeforeSubmit(sc); err != nil {
		return nil, err
	}

	handle, err := e.ledger.Cancel(ctx, id)
	if err != nil {
		return nil, &RemoteCallError{Op: "cancelInvoice", InvoiceID: id, Err: err}
	}
	receipt, err := e.awaitReceipt(ctx, "cancelInvoice", id, handle)
	if err != nil {
		return nil, err
	}
	if _, err := e.applyOptimistic(identity, id, StatusCancelled, handle.Hash()); err != nil {
		return receipt, err
	}
	e.logger.Info().Uint64("invoiceId", id).Str("tx", handle.Hash()).Msg("invoice cancelled")
	return receipt, nil
}

// ApplyOptimistic records a confirmed local transition for the selected
// identity: status, tx ref and client timestamp. Only PAID and CANCELLED are
// accepted, and only from PENDING. Records already terminal keep their
// status; unknown ids are a no-op.
func (e *Engine) ApplyOptimistic(id uint64, status InvoiceStatus, txRef string) ([]InvoiceRecord, error) {
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}
	return e.applyOptimistic(identity, id, status, txRef)
}

func (e *Engine) applyOptimistic(identity string, id uint64, status InvoiceStatus, txRef string) ([]InvoiceRecord, error) {
	if !status.IsTerminal() {
		return nil, &ValidationError{Field: "status", Reason: "optimistic updates only apply PAID or CANCELLED"}
	}
	now := e.now()
	list, err := e.store.Update(identity, func(list []InvoiceRecord) []InvoiceRecord {
		i := indexOf(list, id)
		if i < 0 {
			return list
		}
		rec := &list[i]
		if !CanTransition(rec.Status, status) {
			return list
		}
		rec.Status = status
		switch status {
		case StatusPaid:
			if rec.PayTx == "" {
				rec.PayTx = txRef
			}
			if rec.PaidAt.IsZero() {
				rec.PaidAt = now
			}
		case StatusCancelled:
			if rec.CancelTx == "" {
				rec.CancelTx = txRef
			}
			if rec.CancelledAt.IsZero() {
				rec.CancelledAt = now
			}
		}
		return list
	})
	if err != nil {
		return nil, fmt.Errorf("cache %s of #%d: %w", status, id, err)
	}
	e.publish(identity, list)
	return list, nil
}

func (e *Engine) pendingRecord(id uint64) (string, InvoiceRecord, error) {
	identity, err := e.begin()
	if err != nil {
		return "", InvoiceRecord{}, err
	}
	list := e.store.Load(identity)
	i := indexOf(list, id)
	if i < 0 {
		return "", InvoiceRecord{}, &ValidationError{Field: "invoiceId", Reason: fmt.Sprintf("#%d is not in the local cache", id), Err: ErrInvoiceNotFound}
	}
	if list[i].Status != StatusPending {
		return "", InvoiceRecord{}, &ValidationError{Field: "invoiceId", Reason: fmt.Sprintf("#%d is %s, not PENDING", id, list[i].Status)}
	}
	return identity, list[i], nil
}

func (e *Engine) awaitReceipt(ctx context.Context, op string, id uint64, handle TransactionHandle) (*Receipt, error) {
	receipt, err := handle.Wait(ctx)
	if err != nil {
		return nil, &RemoteCallError{Op: op, InvoiceID: id, TxHash: handle.Hash(), Err: err}
	}
	if !receipt.Succeeded() {
		return nil, &RemoteCallError{Op: op, InvoiceID: id, TxHash: handle.Hash(), Err: ErrTransactionReverted}
	}
	return receipt, nil
}

// ============================================================================
// Verify
// ============================================================================

// ParseInvoiceID accepts "12" or "#12". Ids must be positive integers.
func ParseInvoiceID(raw string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if s == "" {
		return 0, &ValidationError{Field: "invoiceId", Reason: "id is empty"}
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &ValidationError{Field: "invoiceId", Reason: "id must be numeric: " + raw}
		}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "invoiceId", Reason: "id out of range: " + raw, Err: err}
	}
	if id == 0 {
		return 0, &ValidationError{Field: "invoiceId", Reason: "id must be at least 1"}
	}
	return id, nil
}

// Verify reads one invoice directly from the ledger. The result is
// transient: the cache is not touched. Ids the ledger never assigned come
// back with status NONE.
func (e *Engine) Verify(ctx context.Context, raw string) (*InvoiceRecord, error) {
	id, err := ParseInvoiceID(raw)
	if err != nil {
		return nil, err
	}
	inv, err := e.ledger.GetInvoice(ctx, id)
	if err != nil {
		return nil, &RemoteCallError{Op: "getInvoice", InvoiceID: id, Err: err}
	}
	if inv == nil {
		return nil, &RemoteCallError{Op: "getInvoice", InvoiceID: id, Err: ErrInvoiceNotFound}
	}
	rec := inv.Record()
	rec.ID = id
	return &rec, nil
}

// SaveVerified caches a verification result under the selected identity.
func (e *Engine) SaveVerified(rec InvoiceRecord) ([]InvoiceRecord, error) {
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 || rec.Status == StatusNone || !rec.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("#%d does not exist on the ledger", rec.ID), Err: ErrInvoiceNotFound}
	}
	list, err := e.store.Upsert(identity, rec)
	if err != nil {
		return nil, err
	}
	e.publish(identity, list)
	return list, nil
}

// ============================================================================
// Visibility and views
// ============================================================================

func (e *Engine) HideInvoice(id uint64) ([]InvoiceRecord, error) {
	return e.setHidden(id, true)
}

func (e *Engine) UnhideInvoice(id uint64) ([]InvoiceRecord, error) {
	return e.setHidden(id, false)
}

func (e *Engine) setHidden(id uint64, hidden bool) ([]InvoiceRecord, error) {
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}
	list, err := e.store.SetHidden(identity, id, hidden)
	if err != nil {
		return nil, err
	}
	e.publish(identity, list)
	return list, nil
}

// HideAllPending hides every PENDING record of the selected identity.
func (e *Engine) HideAllPending() ([]InvoiceRecord, error) {
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}
	list, err := e.store.HideAllPending(identity)
	if err != nil {
		return nil, err
	}
	e.publish(identity, list)
	return list, nil
}

// Visible returns the non-hidden records of the view.
func (e *Engine) Visible() []InvoiceRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]InvoiceRecord, 0, len(e.view))
	for _, rec := range e.view {
		if !rec.Hidden {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Filter returns the visible records with the given status.
func (e *Engine) Filter(status InvoiceStatus) []InvoiceRecord {
	var out []InvoiceRecord
	for _, rec := range e.Visible() {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// Totals sums visible amounts in minor units.
type Totals struct {
	Created   *big.Int `json:"created"`
	Paid      *big.Int `json:"paid"`
	Count     int      `json:"count"`
	PaidCount int      `json:"paidCount"`
}

// Totals sums the visible records. Records with unparsable amounts are
// counted but not summed.
func (e *Engine) Totals() Totals {
	t := Totals{Created: new(big.Int), Paid: new(big.Int)}
	for _, rec := range e.Visible() {
		t.Count++
		amount := rec.Amount()
		if rec.Status == StatusPaid {
			t.PaidCount++
		}
		if amount == nil {
			continue
		}
		t.Created.Add(t.Created, amount)
		if rec.Status == StatusPaid {
			t.Paid.Add(t.Paid, amount)
		}
	}
	return t
}

// SharePayload encodes the share payload of a cached record.
func (e *Engine) SharePayload(id uint64) (string, error) {
	identity, err := e.begin()
	if err != nil {
		return "", err
	}
	list := e.store.Load(identity)
	i := indexOf(list, id)
	if i < 0 {
		return "", &ValidationError{Field: "invoiceId", Reason: fmt.Sprintf("#%d is not in the local cache", id), Err: ErrInvoiceNotFound}
	}
	rec := list[i]
	p := payload.New(rec.ID, rec.AmountCents, e.ledger.Address(), rec.Token)
	p.RefID = rec.RefID
	return payload.Encode(p)
}
