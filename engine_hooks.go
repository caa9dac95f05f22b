package pixflow

import (
	"context"
	"time"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// Operation names passed to submit hooks.
const (
	OperationCreate = "create"
	OperationPay    = "pay"
	OperationCancel = "cancel"
)

// SubmitContext describes a ledger write about to be submitted
type SubmitContext struct {
	Ctx       context.Context
	Operation string
	Identity  string
	InvoiceID uint64         // zero for create
	Request   *CreateRequest // nil unless Operation is create
	Timestamp time.Time
}

// CreateResultContext carries a completed create
type CreateResultContext struct {
	SubmitContext
	Result   CreateResult
	Duration time.Duration
}

// IDFallbackContext describes a create whose id came from the ledger counter
type IDFallbackContext struct {
	Ctx      context.Context
	Identity string
	Warning  *UnresolvedIDError
}

// SyncResultContext carries a finished sync pass
type SyncResultContext struct {
	Ctx      context.Context
	Result   SyncResult
	Duration time.Duration
}

// ============================================================================
// Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the submission is skipped and a ValidationError with the
// given Reason is returned
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeSubmitHook is called after input validation and before any ledger write
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterCreateHook is called once a created invoice is cached
// Any error returned will be logged but will not affect the result
type AfterCreateHook func(CreateResultContext) error

// IDFallbackHook is called when a create id could not be read from events
type IDFallbackHook func(IDFallbackContext)

// AfterSyncHook is called after every sync pass, including partial failures
// Any error returned will be logged but will not affect the result
type AfterSyncHook func(SyncResultContext) error

// OnBeforeSubmit registers a hook run before create, pay and cancel submissions.
func (e *Engine) OnBeforeSubmit(hook BeforeSubmitHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.beforeSubmitHooks = append(e.beforeSubmitHooks, hook)
	return e
}

func (e *Engine) OnAfterCreate(hook AfterCreateHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.afterCreateHooks = append(e.afterCreateHooks, hook)
	return e
}

func (e *Engine) OnIDFallback(hook IDFallbackHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.idFallbackHooks = append(e.idFallbackHooks, hook)
	return e
}

func (e *Engine) OnAfterSync(hook AfterSyncHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.afterSyncHooks = append(e.afterSyncHooks, hook)
	return e
}

func (e *Engine) runBeforeSubmit(sc SubmitContext) error {
	e.hookMu.RLock()
	hooks := append([]BeforeSubmitHook(nil), e.beforeSubmitHooks...)
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(sc)
		if err != nil {
			return err
		}
		if result != nil && result.Abort {
			return &ValidationError{Field: sc.Operation, Reason: result.Reason}
		}
	}
	return nil
}

func (e *Engine) runAfterCreate(cc CreateResultContext) {
	e.hookMu.RLock()
	hooks := append([]AfterCreateHook(nil), e.afterCreateHooks...)
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(cc); err != nil {
			e.logger.Warn().Err(err).Uint64("invoiceId", cc.Result.Record.ID).Msg("after-create hook failed")
		}
	}
}

func (e *Engine) runIDFallback(fc IDFallbackContext) {
	e.hookMu.RLock()
	hooks := append([]IDFallbackHook(nil), e.idFallbackHooks...)
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		hook(fc)
	}
}

func (e *Engine) runAfterSync(sc SyncResultContext) {
	e.hookMu.RLock()
	hooks := append([]AfterSyncHook(nil), e.afterSyncHooks...)
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(sc); err != nil {
			e.logger.Warn().Err(err).Str("passId", sc.Result.PassID).Msg("after-sync hook failed")
		}
	}
}
