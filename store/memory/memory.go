/*
Package memory provides an in-memory implementation of every store
interface, for tests and local development.

TRANSACTIONS:
  WithTx is simulated with snapshot + restore: the state is copied before
  the callback runs and restored if it fails. A dedicated tx mutex
  serializes transactional scopes so two concurrent WithTx calls cannot
  interleave their writes.

SEE ALSO:
  - store/sqlite: the production implementation
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// Store implements ledger.EntryStore, ledger.AuditLog, housing.TenancyStore,
// housing.DebtorStore, housing.RoomStore and correction.TxRunner.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	entries     []ledger.Entry
	entryIdx    map[string]int
	idempotency map[string]bool

	tenancies map[string]housing.Tenancy
	debtors   map[string]housing.Debtor
	rooms     map[string]housing.Room
	audits    []ledger.AuditEntry
}

func New() *Store {
	return &Store{
		entryIdx:    make(map[string]int),
		idempotency: make(map[string]bool),
		tenancies:   make(map[string]housing.Tenancy),
		debtors:     make(map[string]housing.Debtor),
		rooms:       make(map[string]housing.Room),
	}
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (s *Store) Append(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e)
}

func (s *Store) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every key first so the batch is all-or-nothing.
	for _, e := range entries {
		if e.IdempotencyKey != "" && s.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		if !e.Balanced() {
			return &ledger.UnbalancedEntryError{EntryID: e.ID, Debit: e.TotalDebit(), Credit: e.TotalCredit()}
		}
	}
	for _, e := range entries {
		if err := s.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(e ledger.Entry) error {
	if e.IdempotencyKey != "" && s.idempotency[e.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if !e.Balanced() {
		return &ledger.UnbalancedEntryError{EntryID: e.ID, Debit: e.TotalDebit(), Credit: e.TotalCredit()}
	}
	s.entryIdx[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	if e.IdempotencyKey != "" {
		s.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.entryIdx[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return s.entries[i], nil
}

func (s *Store) FindBySource(_ context.Context, source ledger.Source, identifiers []string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.Source != source || e.Status != ledger.StatusPosted {
			continue
		}
		if e.MatchesAnyIdentifier(identifiers) {
			out = append(out, e)
		}
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) FindByAccountCodes(_ context.Context, source ledger.Source, codes []string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.Source != source || e.Status != ledger.StatusPosted {
			continue
		}
		if e.MatchesAccountCode(codes) {
			out = append(out, e)
		}
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) FindReversalsReferencing(_ context.Context, refs []string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.Source != ledger.SourceRentalAccrualReversal || e.Status != ledger.StatusPosted {
			continue
		}
		if e.ReferencesOriginal(refs) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) MarkReversed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.entryIdx[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	s.entries[i].Reversed = true
	return nil
}

func (s *Store) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idempotency[idempotencyKey], nil
}

func sortByDate(entries []ledger.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
}

// =============================================================================
// TENANCY STORE
// =============================================================================

// PutTenancy seeds or replaces a tenancy record.
func (s *Store) PutTenancy(t housing.Tenancy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenancies[t.ID] = t
}

func (s *Store) GetTenancy(ctx context.Context, id string) (housing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenancies[id]
	if !ok {
		return housing.Tenancy{}, housing.ErrTenancyNotFound
	}
	return t, nil
}

func (s *Store) FindTenanciesByPerson(_ context.Context, personID string) ([]housing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []housing.Tenancy
	for _, t := range s.tenancies {
		if t.PersonID != "" && t.PersonID == personID {
			out = append(out, t)
		}
	}
	sortTenancies(out)
	return out, nil
}

func (s *Store) FindTenanciesByPersons(_ context.Context, personIDs []string) ([]housing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(personIDs))
	for _, id := range personIDs {
		want[id] = true
	}
	var out []housing.Tenancy
	for _, t := range s.tenancies {
		if t.PersonID != "" && want[t.PersonID] {
			out = append(out, t)
		}
	}
	sortTenancies(out)
	return out, nil
}

func (s *Store) ListEndedTenancies(_ context.Context) ([]housing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []housing.Tenancy
	for _, t := range s.tenancies {
		if t.EndDate == nil {
			continue
		}
		if t.Status == housing.TenancyApproved || t.Status == housing.TenancyExpired {
			out = append(out, t)
		}
	}
	sortTenancies(out)
	return out, nil
}

func (s *Store) ListTenanciesByStatus(_ context.Context, status housing.TenancyStatus) ([]housing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []housing.Tenancy
	for _, t := range s.tenancies {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sortTenancies(out)
	return out, nil
}

func (s *Store) UpdateTenancyEndDate(_ context.Context, id string, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenancies[id]
	if !ok {
		return housing.ErrTenancyNotFound
	}
	t.EndDate = &end
	t.UpdatedAt = time.Now()
	s.tenancies[id] = t
	return nil
}

func (s *Store) UpdateTenancyStatus(_ context.Context, id string, status housing.TenancyStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenancies[id]
	if !ok {
		return housing.ErrTenancyNotFound
	}
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = at
	s.tenancies[id] = t
	return nil
}

func sortTenancies(tenancies []housing.Tenancy) {
	sort.SliceStable(tenancies, func(i, j int) bool {
		return tenancies[i].StartDate.Before(tenancies[j].StartDate)
	})
}

// =============================================================================
// DEBTOR STORE
// =============================================================================

// PutDebtor seeds or replaces a debtor record.
func (s *Store) PutDebtor(d housing.Debtor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debtors[d.ID] = d
}

func (s *Store) GetDebtor(_ context.Context, id string) (housing.Debtor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.debtors[id]
	if !ok {
		return housing.Debtor{}, housing.ErrDebtorNotFound
	}
	return d, nil
}

func (s *Store) FindDebtorsByPerson(_ context.Context, personID string) ([]housing.Debtor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []housing.Debtor
	for _, d := range s.debtors {
		if d.PersonID != "" && d.PersonID == personID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindDebtorsByPersons(ctx context.Context, personIDs []string) ([]housing.Debtor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(personIDs))
	for _, id := range personIDs {
		want[id] = true
	}
	var out []housing.Debtor
	for _, d := range s.debtors {
		if d.PersonID != "" && want[d.PersonID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) UpdateDebtorStatus(_ context.Context, id string, status housing.DebtorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debtors[id]
	if !ok {
		return housing.ErrDebtorNotFound
	}
	d.Status = status
	s.debtors[id] = d
	return nil
}

// =============================================================================
// ROOM STORE
// =============================================================================

// PutRoom seeds or replaces a room record.
func (s *Store) PutRoom(r housing.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *Store) GetRoom(_ context.Context, id string) (housing.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return housing.Room{}, housing.ErrRoomNotFound
	}
	return r, nil
}

func (s *Store) DecrementRoomOccupancy(_ context.Context, id string) (housing.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return housing.Room{}, housing.ErrRoomNotFound
	}
	if r.Occupied > 0 {
		r.Occupied--
	}
	r.Status = housing.StatusForOccupancy(r.Capacity, r.Occupied)
	s.rooms[id] = r
	return r, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) AuditByTenancy(_ context.Context, tenancyID string) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.AuditEntry
	for _, a := range s.audits {
		if a.TenancyID == tenancyID {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - snapshot + restore
// =============================================================================

// WithTx executes fn in a simulated transaction: state is snapshotted
// before and restored if fn fails. Transactional scopes are serialized.
func (s *Store) WithTx(_ context.Context, fn func(correction.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s.Bundle()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Bundle exposes the store as the interface bundle the engine consumes.
func (s *Store) Bundle() correction.Stores {
	return correction.Stores{
		Entries:   s,
		Tenancies: tenancyView{s},
		Debtors:   debtorView{s},
		Audit:     auditView{s},
	}
}

type memorySnapshot struct {
	entries     []ledger.Entry
	entryIdx    map[string]int
	idempotency map[string]bool
	tenancies   map[string]housing.Tenancy
	debtors     map[string]housing.Debtor
	rooms       map[string]housing.Room
	audits      []ledger.AuditEntry
}

func (s *Store) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		entries:     append([]ledger.Entry(nil), s.entries...),
		entryIdx:    make(map[string]int, len(s.entryIdx)),
		idempotency: make(map[string]bool, len(s.idempotency)),
		tenancies:   make(map[string]housing.Tenancy, len(s.tenancies)),
		debtors:     make(map[string]housing.Debtor, len(s.debtors)),
		rooms:       make(map[string]housing.Room, len(s.rooms)),
		audits:      append([]ledger.AuditEntry(nil), s.audits...),
	}
	for k, v := range s.entryIdx {
		snap.entryIdx[k] = v
	}
	for k, v := range s.idempotency {
		snap.idempotency[k] = v
	}
	for k, v := range s.tenancies {
		snap.tenancies[k] = v
	}
	for k, v := range s.debtors {
		snap.debtors[k] = v
	}
	for k, v := range s.rooms {
		snap.rooms[k] = v
	}
	return snap
}

func (s *Store) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.entries
	s.entryIdx = snap.entryIdx
	s.idempotency = snap.idempotency
	s.tenancies = snap.tenancies
	s.debtors = snap.debtors
	s.rooms = snap.rooms
	s.audits = snap.audits
}

// =============================================================================
// INTERFACE VIEWS
// =============================================================================
// The single Store backs several narrow interfaces whose method names
// collide (Get, FindByPerson...). Small view types disambiguate.

type tenancyView struct{ s *Store }

func (v tenancyView) Get(ctx context.Context, id string) (housing.Tenancy, error) {
	return v.s.GetTenancy(ctx, id)
}
func (v tenancyView) FindByPerson(ctx context.Context, personID string) ([]housing.Tenancy, error) {
	return v.s.FindTenanciesByPerson(ctx, personID)
}
func (v tenancyView) FindByPersons(ctx context.Context, personIDs []string) ([]housing.Tenancy, error) {
	return v.s.FindTenanciesByPersons(ctx, personIDs)
}
func (v tenancyView) ListEnded(ctx context.Context) ([]housing.Tenancy, error) {
	return v.s.ListEndedTenancies(ctx)
}
func (v tenancyView) ListByStatus(ctx context.Context, status housing.TenancyStatus) ([]housing.Tenancy, error) {
	return v.s.ListTenanciesByStatus(ctx, status)
}
func (v tenancyView) UpdateEndDate(ctx context.Context, id string, end time.Time) error {
	return v.s.UpdateTenancyEndDate(ctx, id, end)
}
func (v tenancyView) UpdateStatus(ctx context.Context, id string, status housing.TenancyStatus, reason string, at time.Time) error {
	return v.s.UpdateTenancyStatus(ctx, id, status, reason, at)
}

type debtorView struct{ s *Store }

func (v debtorView) Get(ctx context.Context, id string) (housing.Debtor, error) {
	return v.s.GetDebtor(ctx, id)
}
func (v debtorView) FindByPerson(ctx context.Context, personID string) ([]housing.Debtor, error) {
	return v.s.FindDebtorsByPerson(ctx, personID)
}
func (v debtorView) FindByPersons(ctx context.Context, personIDs []string) ([]housing.Debtor, error) {
	return v.s.FindDebtorsByPersons(ctx, personIDs)
}
func (v debtorView) UpdateStatus(ctx context.Context, id string, status housing.DebtorStatus) error {
	return v.s.UpdateDebtorStatus(ctx, id, status)
}

type auditView struct{ s *Store }

func (v auditView) Append(ctx context.Context, entry ledger.AuditEntry) error {
	return v.s.AppendAudit(ctx, entry)
}
func (v auditView) ByTenancy(ctx context.Context, tenancyID string) ([]ledger.AuditEntry, error) {
	return v.s.AuditByTenancy(ctx, tenancyID)
}

// RoomView exposes the store as a housing.RoomStore.
type roomView struct{ s *Store }

func (v roomView) Get(ctx context.Context, id string) (housing.Room, error) {
	return v.s.GetRoom(ctx, id)
}
func (v roomView) DecrementOccupancy(ctx context.Context, id string) (housing.Room, error) {
	return v.s.DecrementRoomOccupancy(ctx, id)
}

// Rooms exposes the store as a housing.RoomStore.
func (s *Store) Rooms() housing.RoomStore { return roomView{s} }
