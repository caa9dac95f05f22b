package pixflow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0x3600000000000000000000000000000000000000"

var testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, ledger Ledger, backend *memBackend, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{
		WithClock(func() time.Time { return testNow }),
		WithDefaultToken(testToken),
		WithProofTagGenerator(func() ([32]byte, error) { return [32]byte{1}, nil }),
	}, opts...)
	e := NewEngine(ledger, NewInvoiceStore(backend), opts...)
	if _, err := e.SwitchIdentity(identityA); err != nil {
		t.Fatalf("SwitchIdentity failed: %v", err)
	}
	return e
}

func createInvoice(t *testing.T, e *Engine, cents int64) InvoiceRecord {
	t.Helper()
	res, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(cents)})
	require.NoError(t, err)
	return res.Record
}

func TestCreateResolvesIDFromEvent(t *testing.T) {
	ledger := newFakeLedger(identityA)
	ledger.next = 7
	e := newTestEngine(t, ledger, newMemBackend())

	res, err := e.Create(context.Background(), CreateRequest{
		Amount: big.NewInt(1500),
		DueIn:  30 * time.Minute,
		RefID:  RefFromText("pedido 42"),
		Splits: []Split{{To: identityB, BasisPoints: 2500}},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Warning)

	rec := res.Record
	assert.Equal(t, uint64(7), rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, identityA, rec.Merchant)
	assert.Equal(t, testToken, rec.Token)
	assert.Equal(t, "1500", rec.AmountCents)
	assert.Equal(t, uint64(testNow.Add(30*time.Minute).Unix()), rec.DueAt)
	assert.Equal(t, HexBytes32(RefFromText("pedido 42")), rec.RefID)
	assert.Equal(t, res.Receipt.TxHash, rec.CreateTx)
	assert.True(t, rec.CreatedAt.Equal(testNow))
	assert.Equal(t, []Split{{To: identityB, BasisPoints: 2500}}, rec.Splits)

	require.Len(t, ledger.creates, 1)
	assert.Equal(t, []string{identityB}, ledger.creates[0].Recipients)
	assert.Equal(t, []uint16{2500}, ledger.creates[0].BasisPoints)

	view := e.Invoices()
	require.Len(t, view, 1)
	assert.Equal(t, uint64(7), view[0].ID)
}

func TestCreateWithoutDueDate(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 100)
	if rec.DueAt != 0 {
		t.Errorf("Expected dueAt 0, got %d", rec.DueAt)
	}
	if ledger.creates[0].DueAt != 0 {
		t.Errorf("Expected submitted dueAt 0, got %d", ledger.creates[0].DueAt)
	}
}

func TestCreateFallsBackToCounter(t *testing.T) {
	ledger := newFakeLedger(identityA)
	ledger.next = 4
	ledger.noEvent = true
	e := newTestEngine(t, ledger, newMemBackend())

	var fallbacks []*UnresolvedIDError
	e.OnIDFallback(func(fc IDFallbackContext) {
		fallbacks = append(fallbacks, fc.Warning)
	})

	res, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(10)})
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, uint64(4), res.Record.ID)
	assert.Equal(t, uint64(4), res.Warning.AssumedID)
	assert.Equal(t, res.Receipt.TxHash, res.Warning.TxHash)
	require.Len(t, fallbacks, 1)
}

func TestCreateIgnoresForeignEvents(t *testing.T) {
	ledger := newFakeLedger(identityA)
	ledger.next = 3
	ledger.foreignEvent = true
	e := newTestEngine(t, ledger, newMemBackend())

	res, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(10)})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Record.ID)
	assert.Nil(t, res.Warning)
}

func TestCreateFallbackFailureCarriesTxHash(t *testing.T) {
	ledger := newFakeLedger(identityA)
	ledger.noEvent = true
	ledger.nextErr = errRPC
	backend := newMemBackend()
	e := newTestEngine(t, ledger, backend)

	_, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(10)})
	var rce *RemoteCallError
	require.True(t, errors.As(err, &rce), "expected RemoteCallError, got %v", err)
	assert.NotEmpty(t, rce.TxHash)
	assert.ErrorIs(t, err, errRPC)
	assert.Empty(t, e.Invoices())
}

func TestCreateSplitValidation(t *testing.T) {
	tests := []struct {
		name   string
		splits []Split
		ok     bool
	}{
		{name: "exactly 10000", splits: []Split{{identityB, 6000}, {identityA, 4000}}, ok: true},
		{name: "10001", splits: []Split{{identityB, 6000}, {identityA, 4001}}},
		{name: "zero bps", splits: []Split{{identityB, 0}}},
		{name: "single over max", splits: []Split{{identityB, 10001}}},
		{name: "bad address", splits: []Split{{"0x1234", 10}}},
		{name: "no splits", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger(identityA)
			e := newTestEngine(t, ledger, newMemBackend())
			_, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(100), Splits: tt.splits})
			if tt.ok {
				require.NoError(t, err)
				assert.Len(t, ledger.creates, 1)
				return
			}
			assert.True(t, IsValidationError(err), "expected ValidationError, got %v", err)
			assert.Empty(t, ledger.creates, "no remote call expected")
		})
	}
}

func TestCreateInputValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{name: "nil amount", req: CreateRequest{}},
		{name: "zero amount", req: CreateRequest{Amount: big.NewInt(0)}},
		{name: "negative amount", req: CreateRequest{Amount: big.NewInt(-5)}},
		{name: "negative due", req: CreateRequest{Amount: big.NewInt(5), DueIn: -time.Second}},
		{name: "bad token", req: CreateRequest{Amount: big.NewInt(5), Token: "usdc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger(identityA)
			e := newTestEngine(t, ledger, newMemBackend())
			_, err := e.Create(context.Background(), tt.req)
			assert.True(t, IsValidationError(err), "expected ValidationError, got %v", err)
			assert.Empty(t, ledger.creates)
		})
	}
}

func TestCreateRemoteFailuresLeaveStoreUntouched(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeLedger)
	}{
		{name: "submit error", setup: func(l *fakeLedger) { l.createErr = errRPC }},
		{name: "wait error", setup: func(l *fakeLedger) { l.waitErr = errRPC }},
		{name: "reverted", setup: func(l *fakeLedger) { l.revert = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger(identityA)
			tt.setup(ledger)
			backend := newMemBackend()
			e := newTestEngine(t, ledger, backend)

			_, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(10)})
			assert.True(t, IsRemoteCallError(err), "expected RemoteCallError, got %v", err)
			assert.Empty(t, backend.raw(StorageKey(identityA)))
			assert.Empty(t, e.Invoices())
		})
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	e := NewEngine(newFakeLedger(identityA), NewInvoiceStore(newMemBackend()))
	_, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(1), Token: testToken})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestBeforeSubmitHookAborts(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	e.OnBeforeSubmit(func(sc SubmitContext) (*BeforeHookResult, error) {
		if sc.Operation == OperationCreate && sc.Request.Amount.Cmp(big.NewInt(1000)) > 0 {
			return &BeforeHookResult{Abort: true, Reason: "amount over limit"}, nil
		}
		return nil, nil
	})

	_, err := e.Create(context.Background(), CreateRequest{Amount: big.NewInt(5000)})
	require.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "amount over limit")
	assert.Empty(t, ledger.creates)

	createInvoice(t, e, 500)
	assert.Len(t, ledger.creates, 1)
}

func TestAfterCreateHookSeesRecord(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	var seen []uint64
	e.OnAfterCreate(func(cc CreateResultContext) error {
		seen = append(seen, cc.Result.Record.ID)
		return errors.New("ignored")
	})
	rec := createInvoice(t, e, 500)
	assert.Equal(t, []uint64{rec.ID}, seen)
}

func TestPayMarksPaid(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 700)

	receipt, err := e.Pay(context.Background(), rec.ID)
	require.NoError(t, err)

	got := e.Invoices()[0]
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, receipt.TxHash, got.PayTx)
	assert.True(t, got.PaidAt.Equal(testNow))
	assert.Equal(t, rec.CreateTx, got.CreateTx)
	assert.Equal(t, []uint64{rec.ID}, ledger.payments)
}

func TestCancelMarksCancelled(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 700)

	receipt, err := e.Cancel(context.Background(), rec.ID)
	require.NoError(t, err)

	got := e.Invoices()[0]
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, receipt.TxHash, got.CancelTx)
	assert.True(t, got.CancelledAt.Equal(testNow))
}

func TestPayPreconditions(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())

	_, err := e.Pay(context.Background(), 42)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	rec := createInvoice(t, e, 700)
	_, err = e.Cancel(context.Background(), rec.ID)
	require.NoError(t, err)

	_, err = e.Pay(context.Background(), rec.ID)
	assert.True(t, IsValidationError(err), "paying a CANCELLED invoice must be rejected, got %v", err)
	assert.Empty(t, ledger.payments)
}

func TestPayRevertLeavesRecordPending(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 700)

	ledger.revert = true
	_, err := e.Pay(context.Background(), rec.ID)
	var rce *RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.ErrorIs(t, err, ErrTransactionReverted)
	assert.Equal(t, rec.ID, rce.InvoiceID)
	assert.NotEmpty(t, rce.TxHash)
	assert.Equal(t, StatusPending, e.Invoices()[0].Status)
}

func TestPayProofTagFailure(t *testing.T) {
	ledger := newFakeLedger(identityA)
	errEntropy := errors.New("entropy exhausted")
	e := newTestEngine(t, ledger, newMemBackend(),
		WithProofTagGenerator(func() ([32]byte, error) { return [32]byte{}, errEntropy }))
	rec := createInvoice(t, e, 300)

	_, err := e.Pay(context.Background(), rec.ID)
	assert.ErrorIs(t, err, errEntropy)
	assert.ErrorContains(t, err, "proof tag for #1")
	assert.Empty(t, ledger.payments)
	assert.Equal(t, StatusPending, e.Invoices()[0].Status)
}

func TestApplyOptimisticRules(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 700)

	_, err := e.ApplyOptimistic(rec.ID, StatusPending, "0x1")
	assert.True(t, IsValidationError(err))

	list, err := e.ApplyOptimistic(rec.ID, StatusPaid, "0xpay")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, list[0].Status)

	list, err = e.ApplyOptimistic(rec.ID, StatusCancelled, "0xcancel")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, list[0].Status, "terminal status must not flip")
	assert.Empty(t, list[0].CancelTx)

	list, err = e.ApplyOptimistic(999, StatusPaid, "0x2")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// A record with no known status is not completed locally.
	_, err = e.store.Upsert(identityA, InvoiceRecord{ID: 50, AmountCents: "1"})
	require.NoError(t, err)
	list, err = e.ApplyOptimistic(50, StatusPaid, "0x3")
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatus(""), list[0].Status)
	assert.Empty(t, list[0].PayTx)
}

func TestIdentityPartition(t *testing.T) {
	ledger := newFakeLedger(identityA)
	backend := newMemBackend()
	e := newTestEngine(t, ledger, backend)
	rec := createInvoice(t, e, 100)

	list, err := e.SwitchIdentity(identityB)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, e.Invoices())
	assert.Empty(t, e.Filter(StatusPending))

	list, err = e.SwitchIdentity(strings.ToLower(identityA))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestSwitchIdentityRejectsGarbage(t *testing.T) {
	e := NewEngine(newFakeLedger(identityA), NewInvoiceStore(newMemBackend()))
	_, err := e.SwitchIdentity("alice")
	assert.True(t, IsValidationError(err))
	assert.Empty(t, e.Identity())
}

func TestDisconnectKeepsSlot(t *testing.T) {
	ledger := newFakeLedger(identityA)
	backend := newMemBackend()
	e := newTestEngine(t, ledger, backend)
	createInvoice(t, e, 100)

	e.Disconnect()
	assert.Empty(t, e.Invoices())
	assert.Empty(t, e.Identity())
	_, err := e.Pay(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoIdentity)

	list, err := e.SwitchIdentity(identityA)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrphanedCompletionOnlyTouchesOwnSlot(t *testing.T) {
	ledger := newFakeLedger(identityA)
	backend := newMemBackend()
	e := newTestEngine(t, ledger, backend)
	rec := createInvoice(t, e, 100)

	gate := make(chan struct{})
	ledger.waitGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := e.Pay(context.Background(), rec.ID)
		done <- err
	}()

	// Wait until the pay submission reached the ledger.
	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.payments) == 1
	}, time.Second, time.Millisecond)

	_, err := e.SwitchIdentity(identityB)
	require.NoError(t, err)
	close(gate)
	require.NoError(t, <-done)

	assert.Empty(t, e.Invoices(), "identity B's view must not receive A's completion")
	assert.Empty(t, backend.raw(StorageKey(identityB)))

	stored := NewInvoiceStore(backend).Load(identityA)
	require.Len(t, stored, 1)
	assert.Equal(t, StatusPaid, stored[0].Status)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	e := newTestEngine(t, newFakeLedger(identityA), newMemBackend())
	e.Close()
	_, err := e.Sync(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.SwitchIdentity(identityA)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestVerify(t *testing.T) {
	ledger := newFakeLedger(identityB)
	ledger.next = 3
	backend := newMemBackend()
	e := newTestEngine(t, ledger, backend)

	// Invoice #3 belongs to another merchant.
	_, err := ledger.CreateInvoice(context.Background(), CreateInvoiceParams{Token: testToken, Amount: big.NewInt(4200)})
	require.NoError(t, err)
	ledger.externalPay(3, 1700000900)

	rec, err := e.Verify(context.Background(), " #3 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.ID)
	assert.Equal(t, StatusPaid, rec.Status)
	assert.Equal(t, "4200", rec.AmountCents)
	assert.Equal(t, identityB, rec.Merchant)
	assert.True(t, rec.CreatedAt.Equal(time.Unix(1700000000, 0)))
	assert.True(t, rec.PaidAt.Equal(time.Unix(1700000900, 0)))
	assert.Empty(t, backend.raw(StorageKey(identityA)), "verify must not write")

	missing, err := e.Verify(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, StatusNone, missing.Status)
	_, err = e.SaveVerified(*missing)
	assert.True(t, IsValidationError(err))

	list, err := e.SaveVerified(*rec)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusPaid, e.Invoices()[0].Status)
}

func TestVerifyRejectsBadInput(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	for _, raw := range []string{"", "abc", "#", "0", "#0", "-1", "1.5", "3a", "99999999999999999999999"} {
		_, err := e.Verify(context.Background(), raw)
		assert.True(t, IsValidationError(err), "input %q: expected ValidationError, got %v", raw, err)
	}
	assert.Zero(t, ledger.readCount(), "no remote call expected")
}

func TestVerifyRemoteFailure(t *testing.T) {
	ledger := newFakeLedger(identityA)
	ledger.readErr[5] = errRPC
	e := newTestEngine(t, ledger, newMemBackend())
	_, err := e.Verify(context.Background(), "5")
	assert.True(t, IsRemoteCallError(err))
}

// emptyReadLedger answers every read with neither an invoice nor an error.
type emptyReadLedger struct {
	*fakeLedger
}

func (emptyReadLedger) GetInvoice(ctx context.Context, id uint64) (*LedgerInvoice, error) {
	return nil, nil
}

func TestVerifyEmptyRead(t *testing.T) {
	e := newTestEngine(t, emptyReadLedger{newFakeLedger(identityA)}, newMemBackend())
	rec, err := e.Verify(context.Background(), "3")
	assert.Nil(t, rec)
	assert.True(t, IsRemoteCallError(err))
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestHideAndTotals(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	a := createInvoice(t, e, 1000)
	b := createInvoice(t, e, 250)
	c := createInvoice(t, e, 75)
	_, err := e.Pay(context.Background(), b.ID)
	require.NoError(t, err)

	totals := e.Totals()
	assert.Equal(t, "1325", totals.Created.String())
	assert.Equal(t, "250", totals.Paid.String())
	assert.Equal(t, 3, totals.Count)

	_, err = e.HideInvoice(a.ID)
	require.NoError(t, err)
	totals = e.Totals()
	assert.Equal(t, "325", totals.Created.String())
	assert.Len(t, e.Visible(), 2)
	assert.Len(t, e.Invoices(), 3)

	pending := e.Filter(StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	_, err = e.HideAllPending()
	require.NoError(t, err)
	assert.Empty(t, e.Filter(StatusPending))

	_, err = e.UnhideInvoice(a.ID)
	require.NoError(t, err)
	assert.Len(t, e.Filter(StatusPending), 1)
}

func TestSharePayload(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	rec := createInvoice(t, e, 1500)

	encoded, err := e.SharePayload(rec.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "ARCDECK:PIXFLOW:"))

	_, err = e.SharePayload(999)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestParseInvoiceID(t *testing.T) {
	for raw, want := range map[string]uint64{"3": 3, "#3": 3, "  #12 ": 12, "0007": 7} {
		got, err := ParseInvoiceID(raw)
		if err != nil {
			t.Errorf("ParseInvoiceID(%q) failed: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParseInvoiceID(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestInvoicesReturnsCopies(t *testing.T) {
	ledger := newFakeLedger(identityA)
	e := newTestEngine(t, ledger, newMemBackend())
	createInvoice(t, e, 100)

	view := e.Invoices()
	view[0].Status = StatusCancelled
	if diff := cmp.Diff(StatusPending, e.Invoices()[0].Status); diff != "" {
		t.Errorf("view was mutated through a returned copy: %s", diff)
	}
}
