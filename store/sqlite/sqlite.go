/*
Package sqlite provides a SQLite-backed implementation of the allocation
storage interfaces.

PURPOSE:
  Durable storage for projects, their inventory, applications, receipts and
  applicant records. The same schema ports to PostgreSQL with minor dialect
  changes.

INTERFACES IMPLEMENTED:
  allocation.TxStore:        projects, applications, receipts, WithTx
  allocation.ReceiptStore:   receipt lookups
  allocation.ApplicantStore: applicant records

KEY TABLES:
  projects:          one row per project
  project_inventory: available count and unit price per (project, flat type)
  applications:      status, withdrawal flag, history and trail as JSON
  receipts:          one per booked application
  applicants:        applicant records, applied project IDs as JSON

CONSTRAINTS:
  The database backs up the service rules:
  - idx_unique_booked_unit: one BOOKED application per (project, unit)
  - project_inventory.available >= 0
  - receipts.application_id is unique

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole callback, so the txStore view runs its queries unlocked.

USAGE:
  store, err := sqlite.New("./data/housing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := allocation.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - allocation/store.go: interface definitions
  - allocation/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/housing-engine/allocation"
	"github.com/warp/housing-engine/idgen"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" opens its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		neighbourhood TEXT NOT NULL DEFAULT '',
		manager_id TEXT NOT NULL DEFAULT '',
		opens_at TEXT NOT NULL,
		closes_at TEXT NOT NULL,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		officer_slots INTEGER NOT NULL DEFAULT 0,
		officer_ids_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_inventory (
		project_id TEXT NOT NULL REFERENCES projects(id),
		flat_type TEXT NOT NULL,
		available INTEGER NOT NULL CHECK (available >= 0),
		price TEXT NOT NULL,
		PRIMARY KEY (project_id, flat_type)
	);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		applicant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		flat_type TEXT NOT NULL,
		status TEXT NOT NULL,
		withdrawal_requested BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		approved_by TEXT,
		unit_number TEXT,
		booked_by TEXT,
		history_json TEXT NOT NULL,
		trail_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_applications_applicant
		ON applications(applicant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_applications_project
		ON applications(project_id, created_at);

	-- A unit is booked at most once per project
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_booked_unit
		ON applications(project_id, unit_number)
		WHERE status = 'BOOKED';

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL UNIQUE,
		applicant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		neighbourhood TEXT NOT NULL DEFAULT '',
		flat_type TEXT NOT NULL,
		unit_number TEXT NOT NULL,
		price TEXT NOT NULL,
		officer_id TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_project
		ON receipts(project_id, issued_at);

	CREATE TABLE IF NOT EXISTS applicants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		age INTEGER NOT NULL,
		marital_status TEXT NOT NULL,
		applied_project_ids_json TEXT NOT NULL DEFAULT '[]',
		booked_project_id TEXT,
		booked_flat_type TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store and txStore differ only in the
// querier they pass and the locking around it.
type queries struct {
	q querier
}

// =============================================================================
// PROJECT STORE
// =============================================================================

func (s *Store) FindProject(ctx context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.findProject(ctx, id)
}

func (s *Store) ListProjects(ctx context.Context) ([]*allocation.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.listProjects(ctx)
}

// SaveProject upserts the project and replaces its inventory rows
// atomically.
func (s *Store) SaveProject(ctx context.Context, p *allocation.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{sqlTx}).saveProject(ctx, p); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const projectColumns = `id, name, neighbourhood, manager_id, opens_at, closes_at,
	visible, officer_slots, officer_ids_json, created_at`

func (q queries) findProject(ctx context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	projects, err := q.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, nil
	}
	return projects[0], nil
}

func (q queries) listProjects(ctx context.Context) ([]*allocation.Project, error) {
	return q.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name ASC, id ASC`)
}

func (q queries) queryProjects(ctx context.Context, query string, args ...any) ([]*allocation.Project, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*allocation.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Inventory is loaded after the project cursor is closed; a single
	// connection cannot hold two open result sets inside a transaction.
	for _, p := range projects {
		inv, err := q.loadInventory(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Inventory = inv
	}
	return projects, nil
}

func scanProject(rows *sql.Rows) (*allocation.Project, error) {
	var (
		p              allocation.Project
		opensAt        string
		closesAt       string
		officerIDsJSON string
		createdAt      string
	)
	err := rows.Scan(
		&p.ID, &p.Name, &p.Neighbourhood, &p.ManagerID, &opensAt, &closesAt,
		&p.Visible, &p.OfficerSlots, &officerIDsJSON, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	if p.OpensAt, err = parseTime(opensAt); err != nil {
		return nil, err
	}
	if p.ClosesAt, err = parseTime(closesAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(officerIDsJSON), &p.OfficerIDs); err != nil {
		return nil, fmt.Errorf("failed to decode officer ids of project %s: %w", p.ID, err)
	}
	return &p, nil
}

func (q queries) loadInventory(ctx context.Context, id allocation.ProjectID) (allocation.Inventory, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT flat_type, available, price FROM project_inventory WHERE project_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	inv := allocation.Inventory{}
	for rows.Next() {
		var (
			ft        allocation.FlatType
			available int
			price     string
		)
		if err := rows.Scan(&ft, &available, &price); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for %s/%s: %w", price, id, ft, err)
		}
		inv[ft] = allocation.Allotment{Available: available, Price: d}
	}
	return inv, rows.Err()
}

func (q queries) saveProject(ctx context.Context, p *allocation.Project) error {
	officerIDs, err := json.Marshal(nonNil(p.OfficerIDs))
	if err != nil {
		return fmt.Errorf("failed to encode officer ids: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			neighbourhood = excluded.neighbourhood,
			manager_id = excluded.manager_id,
			opens_at = excluded.opens_at,
			closes_at = excluded.closes_at,
			visible = excluded.visible,
			officer_slots = excluded.officer_slots,
			officer_ids_json = excluded.officer_ids_json
	`,
		p.ID, p.Name, p.Neighbourhood, p.ManagerID,
		formatTime(p.OpensAt), formatTime(p.ClosesAt),
		p.Visible, p.OfficerSlots, string(officerIDs), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	if _, err := q.q.ExecContext(ctx, `DELETE FROM project_inventory WHERE project_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear inventory: %w", err)
	}
	for ft, a := range p.Inventory {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO project_inventory (project_id, flat_type, available, price) VALUES (?, ?, ?, ?)`,
			p.ID, ft, a.Available, a.Price.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to save inventory %s/%s: %w", p.ID, ft, err)
		}
	}
	return nil
}

// =============================================================================
// APPLICATION STORE
// =============================================================================

func (s *Store) FindApplication(ctx context.Context, id allocation.ApplicationID) (*allocation.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.findApplication(ctx, id)
}

func (s *Store) ListApplicationsByApplicant(ctx context.Context, id allocation.ApplicantID) ([]*allocation.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.queryApplications(ctx, "applicant_id = ?", id)
}

func (s *Store) ListApplicationsByProject(ctx context.Context, id allocation.ProjectID) ([]*allocation.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.queryApplications(ctx, "project_id = ?", id)
}

func (s *Store) SaveApplication(ctx context.Context, app *allocation.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.saveApplication(ctx, app)
}

const applicationColumns = `id, applicant_id, project_id, flat_type, status, withdrawal_requested,
	created_at, approved_by, unit_number, booked_by, history_json, trail_json`

// transitionRecord is the stored form of allocation.Transition.
type transitionRecord struct {
	Op                  allocation.Op     `json:"op"`
	From                allocation.Status `json:"from,omitempty"`
	To                  allocation.Status `json:"to"`
	WithdrawalRequested bool              `json:"withdrawal_requested"`
	Actor               string            `json:"actor"`
	At                  time.Time         `json:"at"`
}

func (q queries) findApplication(ctx context.Context, id allocation.ApplicationID) (*allocation.Application, error) {
	apps, err := q.queryApplications(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return nil, nil
	}
	return apps[0], nil
}

func (q queries) queryApplications(ctx context.Context, where string, args ...any) ([]*allocation.Application, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE `+where+` ORDER BY created_at ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var apps []*allocation.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func scanApplication(rows *sql.Rows) (*allocation.Application, error) {
	var (
		app         allocation.Application
		createdAt   string
		approvedBy  sql.NullString
		unitNumber  sql.NullString
		bookedBy    sql.NullString
		historyJSON string
		trailJSON   string
	)
	err := rows.Scan(
		&app.ID, &app.ApplicantID, &app.ProjectID, &app.FlatType, &app.Status,
		&app.WithdrawalRequested, &createdAt, &approvedBy, &unitNumber, &bookedBy,
		&historyJSON, &trailJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan application: %w", err)
	}

	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	app.ApprovedBy = allocation.StaffID(approvedBy.String)
	app.UnitNumber = unitNumber.String
	app.BookedBy = allocation.StaffID(bookedBy.String)

	if err := json.Unmarshal([]byte(historyJSON), &app.History); err != nil {
		return nil, fmt.Errorf("failed to decode history of %s: %w", app.ID, err)
	}
	var trail []transitionRecord
	if err := json.Unmarshal([]byte(trailJSON), &trail); err != nil {
		return nil, fmt.Errorf("failed to decode trail of %s: %w", app.ID, err)
	}
	for _, r := range trail {
		app.Trail = append(app.Trail, allocation.Transition(r))
	}
	return &app, nil
}

func (q queries) saveApplication(ctx context.Context, app *allocation.Application) error {
	history, err := json.Marshal(app.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	trail := make([]transitionRecord, 0, len(app.Trail))
	for _, t := range app.Trail {
		trail = append(trail, transitionRecord(t))
	}
	trailJSON, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("failed to encode trail: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			withdrawal_requested = excluded.withdrawal_requested,
			approved_by = excluded.approved_by,
			unit_number = excluded.unit_number,
			booked_by = excluded.booked_by,
			history_json = excluded.history_json,
			trail_json = excluded.trail_json
	`,
		app.ID, app.ApplicantID, app.ProjectID, app.FlatType, app.Status,
		app.WithdrawalRequested, formatTime(app.CreatedAt),
		nullString(string(app.ApprovedBy)), nullString(app.UnitNumber), nullString(string(app.BookedBy)),
		string(history), string(trailJSON),
	)
	if isUniqueConstraintError(err) {
		return &allocation.ConflictError{
			Reason:     allocation.ConflictUnitTaken,
			ProjectID:  app.ProjectID,
			FlatType:   app.FlatType,
			UnitNumber: app.UnitNumber,
		}
	}
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

// =============================================================================
// RECEIPT STORE
// =============================================================================

func (s *Store) SaveReceipt(ctx context.Context, r *allocation.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.saveReceipt(ctx, r)
}

func (s *Store) FindReceiptByApplication(ctx context.Context, id allocation.ApplicationID) (*allocation.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts, err := queries{s.db}.queryReceipts(ctx, "application_id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, nil
	}
	return receipts[0], nil
}

func (s *Store) ListReceiptsByProject(ctx context.Context, id allocation.ProjectID) ([]*allocation.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.queryReceipts(ctx, "project_id = ?", id)
}

const receiptColumns = `id, application_id, applicant_id, project_id, project_name, neighbourhood,
	flat_type, unit_number, price, officer_id, issued_at`

func (q queries) saveReceipt(ctx context.Context, r *allocation.Receipt) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ApplicationID, r.ApplicantID, r.ProjectID, r.ProjectName, r.Neighbourhood,
		r.FlatType, r.UnitNumber, r.Price.String(), r.OfficerID, formatTime(r.IssuedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

func (q queries) queryReceipts(ctx context.Context, where string, args ...any) ([]*allocation.Receipt, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE `+where+` ORDER BY issued_at ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*allocation.Receipt
	for rows.Next() {
		var (
			r        allocation.Receipt
			price    string
			issuedAt string
		)
		err := rows.Scan(
			&r.ID, &r.ApplicationID, &r.ApplicantID, &r.ProjectID, &r.ProjectName, &r.Neighbourhood,
			&r.FlatType, &r.UnitNumber, &price, &r.OfficerID, &issuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price %q on receipt %s: %w", price, r.ID, err)
		}
		if r.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, &r)
	}
	return receipts, rows.Err()
}

// =============================================================================
// APPLICANT STORE
// =============================================================================

func (s *Store) FindApplicant(ctx context.Context, id allocation.ApplicantID) (*allocation.Applicant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a          allocation.Applicant
		appliedIDs string
		bookedID   sql.NullString
		bookedType sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, age, marital_status, applied_project_ids_json, booked_project_id, booked_flat_type
		FROM applicants WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.Age, &a.MaritalStatus, &appliedIDs, &bookedID, &bookedType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get applicant: %w", err)
	}

	if err := json.Unmarshal([]byte(appliedIDs), &a.AppliedProjectIDs); err != nil {
		return nil, fmt.Errorf("failed to decode applied projects of %s: %w", a.ID, err)
	}
	a.BookedProjectID = allocation.ProjectID(bookedID.String)
	a.BookedFlatType = allocation.FlatType(bookedType.String)
	return &a, nil
}

func (s *Store) SaveApplicant(ctx context.Context, a *allocation.Applicant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appliedIDs, err := json.Marshal(nonNil(a.AppliedProjectIDs))
	if err != nil {
		return fmt.Errorf("failed to encode applied projects: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applicants (id, name, age, marital_status, applied_project_ids_json, booked_project_id, booked_flat_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			age = excluded.age,
			marital_status = excluded.marital_status,
			applied_project_ids_json = excluded.applied_project_ids_json,
			booked_project_id = excluded.booked_project_id,
			booked_flat_type = excluded.booked_flat_type
	`,
		a.ID, a.Name, a.Age, a.MaritalStatus, string(appliedIDs),
		nullString(string(a.BookedProjectID)), nullString(string(a.BookedFlatType)),
	)
	if err != nil {
		return fmt.Errorf("failed to save applicant: %w", err)
	}
	return nil
}

// =============================================================================
// SEQUENCE SEEDS
// =============================================================================

// SequenceSeeds returns the highest sequence number already used per kind,
// for seeding idgen.NewSequence after a restart. IDs that are not sequence
// formatted (e.g. UUIDs) are ignored.
func (s *Store) SequenceSeeds(ctx context.Context) (map[idgen.Kind]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seeds := make(map[idgen.Kind]uint64)
	sources := []struct {
		kind  idgen.Kind
		table string
	}{
		{idgen.KindApplication, "applications"},
		{idgen.KindReceipt, "receipts"},
	}
	for _, src := range sources {
		rows, err := s.db.QueryContext(ctx, `SELECT id FROM `+src.table)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s ids: %w", src.table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s id: %w", src.table, err)
			}
			if n, ok := idgen.Parse(src.kind, id); ok && n > seeds[src.kind] {
				seeds[src.kind] = n
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return seeds, nil
}

// =============================================================================
// TRANSACTIONAL STORE (allocation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store allocation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call inside the enclosing sql.Tx. The parent lock is
// already held by WithTx.
type txStore struct {
	queries
}

func (ts *txStore) FindApplication(ctx context.Context, id allocation.ApplicationID) (*allocation.Application, error) {
	return ts.findApplication(ctx, id)
}

func (ts *txStore) FindProject(ctx context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	return ts.findProject(ctx, id)
}

func (ts *txStore) ListProjects(ctx context.Context) ([]*allocation.Project, error) {
	return ts.listProjects(ctx)
}

func (ts *txStore) ListApplicationsByApplicant(ctx context.Context, id allocation.ApplicantID) ([]*allocation.Application, error) {
	return ts.queryApplications(ctx, "applicant_id = ?", id)
}

func (ts *txStore) ListApplicationsByProject(ctx context.Context, id allocation.ProjectID) ([]*allocation.Application, error) {
	return ts.queryApplications(ctx, "project_id = ?", id)
}

func (ts *txStore) SaveApplication(ctx context.Context, app *allocation.Application) error {
	return ts.saveApplication(ctx, app)
}

func (ts *txStore) SaveProject(ctx context.Context, p *allocation.Project) error {
	return ts.saveProject(ctx, p)
}

func (ts *txStore) SaveReceipt(ctx context.Context, r *allocation.Receipt) error {
	return ts.saveReceipt(ctx, r)
}

// Compile-time checks
var (
	_ allocation.TxStore        = (*Store)(nil)
	_ allocation.ReceiptStore   = (*Store)(nil)
	_ allocation.ApplicantStore = (*Store)(nil)
	_ allocation.Store          = (*txStore)(nil)
)

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
