package pixflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// StorageKeyPrefix namespaces the per-identity invoice slots.
const StorageKeyPrefix = "arcdeck:invoices:"

// StorageKey returns the backend key holding identity's invoice list.
// Identities compare case-insensitively.
func StorageKey(identity string) string {
	return StorageKeyPrefix + strings.ToLower(strings.TrimSpace(identity))
}

// InvoiceStore persists invoice lists per identity on top of a Backend.
//
// Every mutation loads the slot, applies its change and saves while holding
// the identity's lock, so concurrent mutations for one identity never lose
// each other's writes.
type InvoiceStore struct {
	backend Backend
	logger  zerolog.Logger
	locks   sync.Map // storage key -> *sync.Mutex
}

// StoreOption configures an InvoiceStore.
type StoreOption func(*InvoiceStore)

// WithStoreLogger sets the logger used for degraded-load warnings.
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *InvoiceStore) {
		s.logger = logger
	}
}

// NewInvoiceStore creates a store over backend.
func NewInvoiceStore(backend Backend, opts ...StoreOption) *InvoiceStore {
	s := &InvoiceStore{
		backend: backend,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InvoiceStore) lock(key string) func() {
	m, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load returns identity's cached invoices, newest first.
// Absent, unreadable, or malformed slots yield an empty list.
func (s *InvoiceStore) Load(identity string) []InvoiceRecord {
	key := StorageKey(identity)
	unlock := s.lock(key)
	defer unlock()

	list, err := s.read(key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("invoice slot unreadable, treating as empty")
		return []InvoiceRecord{}
	}
	return list
}

// Save replaces identity's slot with list.
func (s *InvoiceStore) Save(identity string, list []InvoiceRecord) error {
	key := StorageKey(identity)
	unlock := s.lock(key)
	defer unlock()
	return s.write(key, list)
}

// Update atomically applies fn to a freshly loaded list and saves the result.
// fn owns the slice it receives. Backend read failures abort the update
// without writing.
func (s *InvoiceStore) Update(identity string, fn func([]InvoiceRecord) []InvoiceRecord) ([]InvoiceRecord, error) {
	key := StorageKey(identity)
	unlock := s.lock(key)
	defer unlock()

	list, err := s.read(key)
	if err != nil {
		return nil, err
	}
	list = fn(list)
	if err := s.write(key, list); err != nil {
		return nil, err
	}
	return cloneRecords(list), nil
}

// Upsert merges rec into the record with the same id, or prepends it when
// the id is unknown. Non-zero fields of rec override the stored ones.
func (s *InvoiceStore) Upsert(identity string, rec InvoiceRecord) ([]InvoiceRecord, error) {
	return s.Update(identity, func(list []InvoiceRecord) []InvoiceRecord {
		if i := indexOf(list, rec.ID); i >= 0 {
			list[i] = mergeRecord(list[i], rec)
			return list
		}
		return append([]InvoiceRecord{rec.Clone()}, list...)
	})
}

// SetHidden sets the visibility flag of one record. Unknown ids are a no-op.
func (s *InvoiceStore) SetHidden(identity string, id uint64, hidden bool) ([]InvoiceRecord, error) {
	key := StorageKey(identity)
	unlock := s.lock(key)
	defer unlock()

	list, err := s.read(key)
	if err != nil {
		return nil, err
	}
	i := indexOf(list, id)
	if i < 0 || list[i].Hidden == hidden {
		return list, nil
	}
	list[i].Hidden = hidden
	if err := s.write(key, list); err != nil {
		return nil, err
	}
	return cloneRecords(list), nil
}

// HideAllPending hides every PENDING record of identity.
func (s *InvoiceStore) HideAllPending(identity string) ([]InvoiceRecord, error) {
	return s.Update(identity, func(list []InvoiceRecord) []InvoiceRecord {
		for i := range list {
			if list[i].Status == StatusPending {
				list[i].Hidden = true
			}
		}
		return list
	})
}

// read distinguishes backend failures (returned) from bad content (logged,
// treated as empty).
func (s *InvoiceStore) read(key string) ([]InvoiceRecord, error) {
	raw, found, err := s.backend.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !found || len(raw) == 0 {
		return []InvoiceRecord{}, nil
	}
	var list []InvoiceRecord
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed invoice slot")
		return []InvoiceRecord{}, nil
	}
	if list == nil {
		list = []InvoiceRecord{}
	}
	return list, nil
}

func (s *InvoiceStore) write(key string, list []InvoiceRecord) error {
	if list == nil {
		list = []InvoiceRecord{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Set(key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// mergeRecord applies the non-zero fields of patch over base. Hidden can
// only be raised here; status never leaves a terminal state for PENDING.
func mergeRecord(base, patch InvoiceRecord) InvoiceRecord {
	out := base.Clone()
	if patch.Merchant != "" {
		out.Merchant = patch.Merchant
	}
	if patch.Token != "" {
		out.Token = patch.Token
	}
	if patch.AmountCents != "" {
		out.AmountCents = patch.AmountCents
	}
	if patch.DueAt != 0 {
		out.DueAt = patch.DueAt
	}
	if patch.RefID != "" {
		out.RefID = patch.RefID
	}
	out.Status = advanceStatus(out.Status, patch.Status)
	if !patch.CreatedAt.IsZero() {
		out.CreatedAt = patch.CreatedAt
	}
	if !patch.PaidAt.IsZero() {
		out.PaidAt = patch.PaidAt
	}
	if !patch.CancelledAt.IsZero() {
		out.CancelledAt = patch.CancelledAt
	}
	if patch.CreateTx != "" {
		out.CreateTx = patch.CreateTx
	}
	if patch.PayTx != "" {
		out.PayTx = patch.PayTx
	}
	if patch.CancelTx != "" {
		out.CancelTx = patch.CancelTx
	}
	out.Hidden = out.Hidden || patch.Hidden
	if patch.Splits != nil {
		out.Splits = append([]Split(nil), patch.Splits...)
	}
	return out
}

func indexOf(list []InvoiceRecord, id uint64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneRecords(list []InvoiceRecord) []InvoiceRecord {
	out := make([]InvoiceRecord, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
