/*
housing.go - Housing collaborators, audit log and transaction scope

PURPOSE:
  SQLite persistence for tenancies, debtors, rooms and the audit log, plus
  the WithTx scope the correction engine runs its reversals and lease-end
  side effects inside. The same *Store backs every interface; because the
  Get method names collide across interfaces, small view types route each
  interface to the prefixed methods.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/housing"
	"github.com/domus/housing-ledger/ledger"
)

// =============================================================================
// TENANCIES (housing.TenancyStore via tenancyView)
// =============================================================================

const tenancyColumns = `id, person_id, debtor_id, room_id, tenant_name,
	start_date, end_date, status, status_reason, monthly_rent, created_at, updated_at`

func (s *Store) GetTenancy(ctx context.Context, id string) (housing.Tenancy, error) {
	ts, err := s.queryTenancies(ctx, `WHERE id = ?`, id)
	if err != nil {
		return housing.Tenancy{}, err
	}
	if len(ts) == 0 {
		return housing.Tenancy{}, housing.ErrTenancyNotFound
	}
	return ts[0], nil
}

func (s *Store) FindTenanciesByPerson(ctx context.Context, personID string) ([]housing.Tenancy, error) {
	if personID == "" {
		return nil, nil
	}
	return s.queryTenancies(ctx, `WHERE person_id = ?`, personID)
}

func (s *Store) FindTenanciesByPersons(ctx context.Context, personIDs []string) ([]housing.Tenancy, error) {
	if len(personIDs) == 0 {
		return nil, nil
	}
	return s.queryTenancies(ctx,
		fmt.Sprintf(`WHERE person_id IN %s`, placeholders(len(personIDs))),
		toAnySlice(personIDs)...)
}

func (s *Store) ListEndedTenancies(ctx context.Context) ([]housing.Tenancy, error) {
	return s.queryTenancies(ctx,
		`WHERE end_date IS NOT NULL AND status IN ('approved', 'expired')`)
}

func (s *Store) ListTenanciesByStatus(ctx context.Context, status housing.TenancyStatus) ([]housing.Tenancy, error) {
	return s.queryTenancies(ctx, `WHERE status = ?`, string(status))
}

func (s *Store) UpdateTenancyEndDate(ctx context.Context, id string, end time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tenancies SET end_date = ?, updated_at = ? WHERE id = ?`,
		end.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update end date of tenancy %s: %w", id, err)
	}
	return requireRow(res, housing.ErrTenancyNotFound)
}

func (s *Store) UpdateTenancyStatus(ctx context.Context, id string, status housing.TenancyStatus, reason string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tenancies SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update status of tenancy %s: %w", id, err)
	}
	return requireRow(res, housing.ErrTenancyNotFound)
}

// PutTenancy inserts or replaces a tenancy record. Used by seeding and by
// the wider housing backend that owns these records.
func (s *Store) PutTenancy(ctx context.Context, t housing.Tenancy) error {
	var end any
	if t.EndDate != nil {
		end = t.EndDate.UTC().Format(time.RFC3339)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO tenancies (`+tenancyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PersonID, t.DebtorID, t.RoomID, t.TenantName,
		t.StartDate.UTC().Format(time.RFC3339), end,
		string(t.Status), t.StatusReason, t.MonthlyRent.String(),
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put tenancy %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) queryTenancies(ctx context.Context, where string, args ...any) ([]housing.Tenancy, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+tenancyColumns+` FROM tenancies `+where+` ORDER BY start_date ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tenancies: %w", err)
	}
	defer rows.Close()

	var out []housing.Tenancy
	for rows.Next() {
		var (
			t                        housing.Tenancy
			startS, createdS, updatedS string
			endS                     sql.NullString
			status, rentS            string
		)
		if err := rows.Scan(&t.ID, &t.PersonID, &t.DebtorID, &t.RoomID, &t.TenantName,
			&startS, &endS, &status, &t.StatusReason, &rentS, &createdS, &updatedS); err != nil {
			return nil, fmt.Errorf("scan tenancy: %w", err)
		}
		t.Status = housing.TenancyStatus(status)
		t.MonthlyRent = mustDecimal(rentS)
		t.StartDate, _ = time.Parse(time.RFC3339, startS)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdS)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedS)
		if endS.Valid {
			end, _ := time.Parse(time.RFC3339, endS.String)
			t.EndDate = &end
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// DEBTORS (housing.DebtorStore via debtorView)
// =============================================================================

func (s *Store) GetDebtor(ctx context.Context, id string) (housing.Debtor, error) {
	ds, err := s.queryDebtors(ctx, `WHERE id = ?`, id)
	if err != nil {
		return housing.Debtor{}, err
	}
	if len(ds) == 0 {
		return housing.Debtor{}, housing.ErrDebtorNotFound
	}
	return ds[0], nil
}

func (s *Store) FindDebtorsByPerson(ctx context.Context, personID string) ([]housing.Debtor, error) {
	if personID == "" {
		return nil, nil
	}
	return s.queryDebtors(ctx, `WHERE person_id = ?`, personID)
}

func (s *Store) FindDebtorsByPersons(ctx context.Context, personIDs []string) ([]housing.Debtor, error) {
	if len(personIDs) == 0 {
		return nil, nil
	}
	return s.queryDebtors(ctx,
		fmt.Sprintf(`WHERE person_id IN %s`, placeholders(len(personIDs))),
		toAnySlice(personIDs)...)
}

func (s *Store) UpdateDebtorStatus(ctx context.Context, id string, status housing.DebtorStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE debtors SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status of debtor %s: %w", id, err)
	}
	return requireRow(res, housing.ErrDebtorNotFound)
}

// PutDebtor inserts or replaces a debtor record.
func (s *Store) PutDebtor(ctx context.Context, d housing.Debtor) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO debtors (id, person_id, name, account_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.PersonID, d.Name, d.AccountCode, string(d.Status),
		d.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put debtor %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) queryDebtors(ctx context.Context, where string, args ...any) ([]housing.Debtor, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, person_id, name, account_code, status, created_at
		FROM debtors `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query debtors: %w", err)
	}
	defer rows.Close()

	var out []housing.Debtor
	for rows.Next() {
		var (
			d        housing.Debtor
			status   string
			createdS string
		)
		if err := rows.Scan(&d.ID, &d.PersonID, &d.Name, &d.AccountCode, &status, &createdS); err != nil {
			return nil, fmt.Errorf("scan debtor: %w", err)
		}
		d.Status = housing.DebtorStatus(status)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdS)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// ROOMS (housing.RoomStore via roomView)
// =============================================================================

func (s *Store) GetRoom(ctx context.Context, id string) (housing.Room, error) {
	var r housing.Room
	var status string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, capacity, occupied, status FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Capacity, &r.Occupied, &status)
	if err == sql.ErrNoRows {
		return housing.Room{}, housing.ErrRoomNotFound
	}
	if err != nil {
		return housing.Room{}, fmt.Errorf("get room %s: %w", id, err)
	}
	r.Status = housing.RoomStatus(status)
	return r, nil
}

func (s *Store) DecrementRoomOccupancy(ctx context.Context, id string) (housing.Room, error) {
	r, err := s.GetRoom(ctx, id)
	if err != nil {
		return housing.Room{}, err
	}
	if r.Occupied > 0 {
		r.Occupied--
	}
	r.Status = housing.StatusForOccupancy(r.Capacity, r.Occupied)

	_, err = s.q.ExecContext(ctx,
		`UPDATE rooms SET occupied = ?, status = ? WHERE id = ?`,
		r.Occupied, string(r.Status), id)
	if err != nil {
		return housing.Room{}, fmt.Errorf("decrement room %s: %w", id, err)
	}
	return r, nil
}

// PutRoom inserts or replaces a room record.
func (s *Store) PutRoom(ctx context.Context, r housing.Room) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO rooms (id, capacity, occupied, status)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.Capacity, r.Occupied, string(r.Status))
	if err != nil {
		return fmt.Errorf("put room %s: %w", r.ID, err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog via auditView)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, tenancy_id, person_id, debtor_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339), entry.ActorID,
		string(entry.Action), entry.TenancyID, entry.PersonID, entry.DebtorID, string(payload))
	if err != nil {
		return fmt.Errorf("append audit entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *Store) AuditByTenancy(ctx context.Context, tenancyID string) ([]ledger.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, timestamp, actor_id, action, tenancy_id, person_id, debtor_id, payload_json
		FROM audit_log WHERE tenancy_id = ? ORDER BY timestamp ASC`, tenancyID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e          ledger.AuditEntry
			tsS, action, payload string
		)
		if err := rows.Scan(&e.ID, &tsS, &e.ActorID, &action, &e.TenancyID, &e.PersonID, &e.DebtorID, &payload); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = ledger.AuditAction(action)
		e.Timestamp, _ = time.Parse(time.RFC3339, tsS)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal audit payload of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTION SCOPE (correction.TxRunner)
// =============================================================================

// WithTx runs fn against a transactional view of the store. Everything fn
// writes commits together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(correction.Stores) error) error {
	return s.withSQLTx(ctx, func(tx *Store) error {
		return fn(tx.Bundle())
	})
}

func (s *Store) withSQLTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
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

// Rooms exposes the store as a housing.RoomStore.
func (s *Store) Rooms() housing.RoomStore { return roomView{s} }

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

type roomView struct{ s *Store }

func (v roomView) Get(ctx context.Context, id string) (housing.Room, error) {
	return v.s.GetRoom(ctx, id)
}
func (v roomView) DecrementOccupancy(ctx context.Context, id string) (housing.Room, error) {
	return v.s.DecrementRoomOccupancy(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders renders "(?, ?, ?)" for n arguments.
func placeholders(n int) string {
	if n == 0 {
		return "(NULL)"
	}
	return "(" + strings.Repeat("?, ", n-1) + "?)"
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
