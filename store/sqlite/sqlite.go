/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.EntryStore, ledger.AuditLog, the housing stores and
  correction.TxRunner over one database. The same patterns apply to
  PostgreSQL with minor dialect differences.

APPEND-ONLY ENFORCEMENT:
  - entries and entry_lines take INSERTs only; the single exception is the
    non-authoritative "reversed" flag column
  - idempotency keys carry a UNIQUE index; a duplicate insert surfaces as
    ledger.ErrDuplicateIdempotencyKey
  - unbalanced entries are rejected before touching the database

CORRELATION COLUMNS:
  The metadata bag is stored as JSON for fidelity, with the correlation
  fields (transaction id, tenancy/person/debtor ids, legacy aliases,
  reversal back-references) denormalized into indexed columns so the
  identifier-set queries stay on indexes.

WAL MODE:
  Opened with WAL and foreign keys on: multiple readers don't block, one
  writer at a time, better crash recovery.

SEE ALSO:
  - ledger/store.go, housing/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/domus/housing-ledger/ledger"
)

// dbtx abstracts *sql.DB and *sql.Tx so every query runs against either.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	q  dbtx
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only; only the reversed flag is writable)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'posted',
		reversed INTEGER NOT NULL DEFAULT 0,
		meta_json TEXT NOT NULL DEFAULT '{}',
		meta_tenancy_id TEXT NOT NULL DEFAULT '',
		meta_person_id TEXT NOT NULL DEFAULT '',
		meta_debtor_id TEXT NOT NULL DEFAULT '',
		meta_application_ref TEXT NOT NULL DEFAULT '',
		meta_student_ref TEXT NOT NULL DEFAULT '',
		reversed_entry_id TEXT NOT NULL DEFAULT '',
		reversed_transaction_id TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
	CREATE INDEX IF NOT EXISTS idx_entries_transaction_id ON entries(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_entries_meta_tenancy ON entries(meta_tenancy_id);
	CREATE INDEX IF NOT EXISTS idx_entries_meta_person ON entries(meta_person_id);
	CREATE INDEX IF NOT EXISTS idx_entries_meta_debtor ON entries(meta_debtor_id);
	CREATE INDEX IF NOT EXISTS idx_entries_reversed_entry ON entries(reversed_entry_id)
		WHERE reversed_entry_id != '';
	CREATE INDEX IF NOT EXISTS idx_entries_reference ON entries(reference)
		WHERE reference != '';

	CREATE TABLE IF NOT EXISTS entry_lines (
		entry_id TEXT NOT NULL REFERENCES entries(id),
		line_no INTEGER NOT NULL,
		account_code TEXT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		account_type TEXT NOT NULL DEFAULT '',
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (entry_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_entry_lines_account ON entry_lines(account_code);

	-- Housing collaborators
	CREATE TABLE IF NOT EXISTS tenancies (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL DEFAULT '',
		debtor_id TEXT NOT NULL DEFAULT '',
		room_id TEXT NOT NULL DEFAULT '',
		tenant_name TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		status_reason TEXT NOT NULL DEFAULT '',
		monthly_rent TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenancies_person ON tenancies(person_id);
	CREATE INDEX IF NOT EXISTS idx_tenancies_status ON tenancies(status);

	CREATE TABLE IF NOT EXISTS debtors (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		account_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debtors_person ON debtors(person_id);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		capacity INTEGER NOT NULL,
		occupied INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		tenancy_id TEXT NOT NULL DEFAULT '',
		person_id TEXT NOT NULL DEFAULT '',
		debtor_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenancy ON audit_log(tenancy_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore)
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	if !e.Balanced() {
		return &ledger.UnbalancedEntryError{EntryID: e.ID, Debit: e.TotalDebit(), Credit: e.TotalCredit()}
	}
	// The entry row and its lines land together or not at all.
	return s.withSQLTx(ctx, func(tx *Store) error {
		return tx.insertEntry(ctx, e)
	})
}

func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if !e.Balanced() {
			return &ledger.UnbalancedEntryError{EntryID: e.ID, Debit: e.TotalDebit(), Credit: e.TotalCredit()}
		}
	}
	return s.withSQLTx(ctx, func(tx *Store) error {
		for _, e := range entries {
			if err := tx.insertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertEntry(ctx context.Context, e ledger.Entry) error {
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("marshal entry meta: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO entries
		(id, transaction_id, idempotency_key, date, description, source, status, reversed,
		 meta_json, meta_tenancy_id, meta_person_id, meta_debtor_id,
		 meta_application_ref, meta_student_ref,
		 reversed_entry_id, reversed_transaction_id, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.TransactionID,
		nullString(e.IdempotencyKey),
		e.Date.UTC().Format(time.RFC3339),
		e.Description,
		string(e.Source),
		string(e.Status),
		boolToInt(e.Reversed),
		string(metaJSON),
		e.Meta.TenancyID,
		e.Meta.PersonID,
		e.Meta.DebtorID,
		e.Meta.ApplicationRef,
		e.Meta.StudentRef,
		e.Meta.ReversedEntryID,
		e.Meta.ReversedTransactionID,
		e.Meta.Reference,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}

	for i, l := range e.Lines {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO entry_lines
			(entry_id, line_no, account_code, account_name, account_type, debit, credit, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, i, l.AccountCode, l.AccountName, l.AccountType,
			l.Debit.String(), l.Credit.String(), l.Description,
		)
		if err != nil {
			return fmt.Errorf("insert line %d of entry %s: %w", i, e.ID, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Entry, error) {
	entries, err := s.queryEntries(ctx, `WHERE e.id = ?`, id)
	if err != nil {
		return ledger.Entry{}, err
	}
	if len(entries) == 0 {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return entries[0], nil
}

func (s *Store) FindBySource(ctx context.Context, source ledger.Source, identifiers []string) ([]ledger.Entry, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	in := placeholders(len(identifiers))
	where := fmt.Sprintf(`
		WHERE e.source = ? AND e.status = 'posted' AND (
			e.transaction_id IN %[1]s
			OR e.meta_tenancy_id IN %[1]s
			OR e.meta_person_id IN %[1]s
			OR e.meta_debtor_id IN %[1]s
			OR e.meta_application_ref IN %[1]s
			OR e.meta_student_ref IN %[1]s
			OR EXISTS (SELECT 1 FROM entry_lines l
			           WHERE l.entry_id = e.id AND l.account_code IN %[1]s)
		)`, in)

	args := []any{string(source)}
	for i := 0; i < 7; i++ {
		args = append(args, toAnySlice(identifiers)...)
	}
	return s.queryEntries(ctx, where, args...)
}

func (s *Store) FindByAccountCodes(ctx context.Context, source ledger.Source, codes []string) ([]ledger.Entry, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	where := fmt.Sprintf(`
		WHERE e.source = ? AND e.status = 'posted'
		  AND EXISTS (SELECT 1 FROM entry_lines l
		              WHERE l.entry_id = e.id AND l.account_code IN %s)`,
		placeholders(len(codes)))

	args := append([]any{string(source)}, toAnySlice(codes)...)
	return s.queryEntries(ctx, where, args...)
}

func (s *Store) FindReversalsReferencing(ctx context.Context, refs []string) ([]ledger.Entry, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	in := placeholders(len(refs))
	where := fmt.Sprintf(`
		WHERE e.source = ? AND e.status = 'posted' AND (
			e.reversed_entry_id IN %[1]s
			OR e.reversed_transaction_id IN %[1]s
			OR e.reference IN %[1]s
		)`, in)

	args := []any{string(ledger.SourceRentalAccrualReversal)}
	for i := 0; i < 3; i++ {
		args = append(args, toAnySlice(refs)...)
	}
	return s.queryEntries(ctx, where, args...)
}

// MarkReversed is the single permitted UPDATE on the entries table.
func (s *Store) MarkReversed(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE entries SET reversed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark entry %s reversed: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM entries WHERE idempotency_key = ?`, idempotencyKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) queryEntries(ctx context.Context, where string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT e.id, e.transaction_id, COALESCE(e.idempotency_key, ''), e.date, e.description,
		       e.source, e.status, e.reversed, e.meta_json, e.created_at
		FROM entries e `+where+` ORDER BY e.date ASC, e.created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	var ids []string
	for rows.Next() {
		var (
			e               ledger.Entry
			dateS, createdS string
			source, status  string
			reversed        int
			metaJSON        string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.IdempotencyKey, &dateS, &e.Description,
			&source, &status, &reversed, &metaJSON, &createdS); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Source = ledger.Source(source)
		e.Status = ledger.Status(status)
		e.Reversed = reversed != 0
		e.Date, _ = time.Parse(time.RFC3339, dateS)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdS)
		if err := json.Unmarshal([]byte(metaJSON), &e.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta of entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	lines, err := s.queryLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (s *Store) queryLines(ctx context.Context, entryIDs []string) (map[string][]ledger.Line, error) {
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT entry_id, account_code, account_name, account_type, debit, credit, description
		FROM entry_lines WHERE entry_id IN %s ORDER BY entry_id, line_no`,
		placeholders(len(entryIDs))), toAnySlice(entryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query entry lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]ledger.Line)
	for rows.Next() {
		var (
			entryID       string
			l             ledger.Line
			debitS, credS string
		)
		if err := rows.Scan(&entryID, &l.AccountCode, &l.AccountName, &l.AccountType,
			&debitS, &credS, &l.Description); err != nil {
			return nil, fmt.Errorf("scan entry line: %w", err)
		}
		l.Debit = mustDecimal(debitS)
		l.Credit = mustDecimal(credS)
		out[entryID] = append(out[entryID], l)
	}
	return out, rows.Err()
}
