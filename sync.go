package pixflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RecordFailure is one record a sync pass could not refresh.
type RecordFailure struct {
	InvoiceID uint64
	Err       error
}

// SyncResult summarises a sync pass. A pass with failures is still a
// successful pass: failed records simply keep their previous content.
type SyncResult struct {
	PassID    string
	Identity  string
	Total     int // records read from the ledger
	Refreshed int
	Skipped   int // hidden records
	Failures  []RecordFailure
	Invoices  []InvoiceRecord
}

func (r SyncResult) String() string {
	return fmt.Sprintf("%d of %d records refreshed", r.Refreshed, r.Total)
}

// Sync refreshes every visible record of the selected identity from the
// ledger. Reads run in parallel; each result is merged only into its own
// record, onto a freshly loaded list, so writes made while the pass was
// running survive. A second Sync for the same identity while one is
// running waits for and shares the running pass; if that pass was cut short
// by its own caller's context, the waiter runs a fresh one.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	identity, err := e.begin()
	if err != nil {
		return nil, err
	}

	key := StorageKey(identity)
	for {
		flight, leader := e.flights.checkAndMark(key)
		if !leader {
			e.logger.Debug().Str("identity", identity).Msg("joining running sync pass")
			result, err := flight.wait(ctx)
			if ctx.Err() == nil && flight.abandoned {
				// The leader's caller gave up mid-pass; run our own.
				e.logger.Debug().Str("identity", identity).Msg("joined sync pass was cancelled, retrying")
				continue
			}
			return result, err
		}

		result, err := e.runSync(ctx, identity)
		e.flights.complete(key, flight, result, err, ctx.Err() != nil)
		return result, err
	}
}

func (e *Engine) runSync(ctx context.Context, identity string) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{PassID: uuid.NewString(), Identity: identity}
	logger := e.logger.With().Str("passId", result.PassID).Str("identity", identity).Logger()

	var targets []uint64
	for _, rec := range e.store.Load(identity) {
		if rec.Hidden {
			result.Skipped++
			continue
		}
		targets = append(targets, rec.ID)
	}
	result.Total = len(targets)

	remote := make([]*LedgerInvoice, len(targets))
	failures := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(e.syncConcurrency)
	for i, id := range targets {
		g.Go(func() error {
			inv, err := e.ledger.GetInvoice(ctx, id)
			switch {
			case err != nil:
				failures[i] = &RemoteCallError{Op: "getInvoice", InvoiceID: id, Err: err}
			case inv == nil || inv.Status() == StatusNone:
				failures[i] = &RemoteCallError{Op: "getInvoice", InvoiceID: id, Err: ErrInvoiceNotFound}
			default:
				remote[i] = inv
			}
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[uint64]*LedgerInvoice, len(targets))
	for i, id := range targets {
		if failures[i] != nil {
			result.Failures = append(result.Failures, RecordFailure{InvoiceID: id, Err: failures[i]})
			logger.Debug().Err(failures[i]).Uint64("invoiceId", id).Msg("record not refreshed")
			continue
		}
		byID[id] = remote[i]
	}
	result.Refreshed = len(byID)

	var list []InvoiceRecord
	if len(byID) == 0 {
		list = e.store.Load(identity)
	} else {
		var err error
		list, err = e.store.Update(identity, func(fresh []InvoiceRecord) []InvoiceRecord {
			for i := range fresh {
				if inv, ok := byID[fresh[i].ID]; ok {
					fresh[i] = Reconcile(fresh[i], inv)
				}
			}
			return fresh
		})
		if err != nil {
			return nil, fmt.Errorf("save sync pass %s: %w", result.PassID, err)
		}
	}
	result.Invoices = list
	e.publish(identity, list)

	logger.Info().
		Int("total", result.Total).
		Int("refreshed", result.Refreshed).
		Int("failed", len(result.Failures)).
		Int("skipped", result.Skipped).
		Dur("duration", time.Since(start)).
		Msg("sync pass finished")

	e.runAfterSync(SyncResultContext{Ctx: ctx, Result: *result, Duration: time.Since(start)})
	return result, nil
}

// Backfill imports invoices the selected identity created on the ledger but
// the cache does not know, scanning InvoiceCreated events from fromBlock.
// Existing records are never modified. Imported records start as PENDING;
// a following Sync settles their status.
func (e *Engine) Backfill(ctx context.Context, fromBlock uint64) (int, error) {
	identity, err := e.begin()
	if err != nil {
		return 0, err
	}
	scanner, ok := e.ledger.(CreatedInvoiceScanner)
	if !ok {
		return 0, ErrBackfillUnsupported
	}
	created, err := scanner.ScanCreatedInvoices(ctx, identity, fromBlock)
	if err != nil {
		return 0, &RemoteCallError{Op: "scanInvoiceCreated", Err: err}
	}
	sort.Slice(created, func(i, j int) bool { return created[i].ID > created[j].ID })

	added := 0
	list, err := e.store.Update(identity, func(list []InvoiceRecord) []InvoiceRecord {
		var fresh []InvoiceRecord
		seen := make(map[uint64]bool, len(list))
		for _, rec := range list {
			seen[rec.ID] = true
		}
		for _, c := range created {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			rec := InvoiceRecord{
				ID:       c.ID,
				Merchant: c.Merchant,
				Token:    c.Token,
				DueAt:    c.DueAt,
				RefID:    c.RefID,
				Status:   StatusPending,
				CreateTx: c.TxHash,
			}
			if c.Amount != nil {
				rec.AmountCents = c.Amount.String()
			}
			fresh = append(fresh, rec)
		}
		added = len(fresh)
		return append(fresh, list...)
	})
	if err != nil {
		return 0, err
	}
	e.publish(identity, list)
	e.logger.Info().Str("identity", identity).Int("imported", added).Uint64("fromBlock", fromBlock).Msg("backfill finished")
	return added, nil
}

// ============================================================================
// Sync pass coalescing
// ============================================================================

type syncFlight struct {
	done      chan struct{}
	result    *SyncResult
	err       error
	abandoned bool // leader context ended before the pass finished
}

func (f *syncFlight) wait(ctx context.Context) (*SyncResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// syncFlights tracks one running pass per storage key.
type syncFlights struct {
	mu       sync.Mutex
	inFlight map[string]*syncFlight
}

func newSyncFlights() *syncFlights {
	return &syncFlights{inFlight: make(map[string]*syncFlight)}
}

// checkAndMark returns the running flight for key, or registers a new one
// and reports leader=true when none is running.
func (s *syncFlights) checkAndMark(key string) (*syncFlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.inFlight[key]; ok {
		return f, false
	}
	f := &syncFlight{done: make(chan struct{})}
	s.inFlight[key] = f
	return f, true
}

// complete stores the outcome and releases waiters.
func (s *syncFlights) complete(key string, f *syncFlight, result *SyncResult, err error, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.result = result
	f.err = err
	f.abandoned = abandoned
	delete(s.inFlight, key)
	close(f.done)
}
