/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements work.Store and payment.Recorder on one database. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  work.Store:       Work unit persistence, including the conditional
                    status write that resolves settlement races
  payment.Recorder: Append-only payment attempt log

KEY TABLES:
  work_units:       One row per payable item (attendance day or task)
  milestones:       Ordered task checkpoints, keyed (unit_id, percent)
  payment_attempts: Append-only attempt log; no UPDATE, no DELETE

CONDITIONAL STATUS WRITE:
  TransitionStatus issues UPDATE ... WHERE id = ? AND status = ? and
  reports the row count. When a manual decision and the auto-approval
  timer race, exactly one caller moves the row and sees true; the other
  sees false and stops with no side effects.

ONE SUCCESS PER UNIT:
  A partial unique index on payment_attempts(work_unit_id) restricted to
  outcome = 'success' makes double payment a constraint violation even
  if every in-process guard is bypassed. The violation surfaces as
  payment.ErrDuplicateSuccess.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - work/store.go: Interface definition and conditional-write contract
  - payment/recorder.go: Attempt log contract
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/reward"
	"github.com/warp/settlement-engine/work"
)

// Store implements work.Store and payment.Recorder using SQLite.
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
	-- Work units (one row per payable item)
	CREATE TABLE IF NOT EXISTS work_units (
		id TEXT PRIMARY KEY,
		assignee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		deadline TEXT NOT NULL,
		completed_at TEXT,
		submitted_at TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reward TEXT NOT NULL DEFAULT '0',
		penalty TEXT NOT NULL DEFAULT '0',
		payment_status TEXT NOT NULL DEFAULT 'none',
		payment_tx_ref TEXT,
		payment_block_height INTEGER,
		reported_hours TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_units_status
		ON work_units(status);
	CREATE INDEX IF NOT EXISTS idx_work_units_assignee
		ON work_units(assignee_id);

	-- Milestones (ordered task checkpoints)
	CREATE TABLE IF NOT EXISTS milestones (
		unit_id TEXT NOT NULL,
		percent INTEGER NOT NULL,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		approved_at TEXT,
		approver_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (unit_id, percent),
		FOREIGN KEY (unit_id) REFERENCES work_units(id)
	);

	-- Payment attempts (append-only log)
	CREATE TABLE IF NOT EXISTS payment_attempts (
		id TEXT PRIMARY KEY,
		work_unit_id TEXT NOT NULL,
		requested TEXT NOT NULL,
		token_amount TEXT NOT NULL,
		attempted_at TEXT NOT NULL,
		outcome TEXT NOT NULL,
		tx_ref TEXT NOT NULL DEFAULT '',
		block_height INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_unit
		ON payment_attempts(work_unit_id);

	-- CRITICAL: at most one successful attempt per work unit. Even if
	-- every in-process idempotency guard is bypassed, a second success
	-- row cannot be written.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_success
		ON payment_attempts(work_unit_id)
		WHERE outcome = 'success';
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WORK UNIT STORE (work.Store interface)
// =============================================================================

// Save inserts or fully replaces a work unit and its milestones.
func (s *Store) Save(ctx context.Context, u *work.WorkUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO work_units
		(id, assignee_id, kind, tier, start_at, deadline, completed_at, submitted_at,
		 progress, status, reward, penalty, payment_status, payment_tx_ref,
		 payment_block_height, reported_hours, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			submitted_at = excluded.submitted_at,
			progress = excluded.progress,
			status = excluded.status,
			reward = excluded.reward,
			penalty = excluded.penalty,
			payment_status = excluded.payment_status,
			payment_tx_ref = excluded.payment_tx_ref,
			payment_block_height = excluded.payment_block_height,
			reported_hours = excluded.reported_hours,
			note = excluded.note,
			updated_at = excluded.updated_at
	`

	var txRef sql.NullString
	var blockHeight sql.NullInt64
	if u.PaymentRef != nil {
		txRef = sql.NullString{String: u.PaymentRef.TxRef, Valid: true}
		blockHeight = sql.NullInt64{Int64: u.PaymentRef.BlockHeight, Valid: true}
	}
	var reportedHours sql.NullString
	if u.ReportedHours != nil {
		reportedHours = sql.NullString{String: u.ReportedHours.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, query,
		u.ID,
		u.AssigneeID,
		string(u.Kind),
		string(u.Tier),
		u.StartAt.Format(time.RFC3339Nano),
		u.Deadline.Format(time.RFC3339Nano),
		nullTime(u.CompletedAt),
		nullTime(u.SubmittedAt),
		u.Progress,
		string(u.Status),
		u.Reward.String(),
		u.Penalty.String(),
		string(u.PaymentStatus),
		txRef,
		blockHeight,
		reportedHours,
		u.Note,
		u.CreatedAt.Format(time.RFC3339Nano),
		u.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save work unit: %w", err)
	}

	// Milestones are replaced wholesale; the set is tiny and bounded.
	if _, err := tx.ExecContext(ctx, "DELETE FROM milestones WHERE unit_id = ?", u.ID); err != nil {
		return fmt.Errorf("failed to clear milestones: %w", err)
	}
	for _, m := range u.Milestones {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO milestones (unit_id, percent, status, submitted_at, approved_at, approver_id, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, m.Percent, string(m.Status),
			m.SubmittedAt.Format(time.RFC3339Nano),
			nullTime(m.ApprovedAt),
			m.ApproverID, m.Note,
		)
		if err != nil {
			return fmt.Errorf("failed to save milestone %d: %w", m.Percent, err)
		}
	}

	return tx.Commit()
}

// Get returns a work unit with its milestones.
func (s *Store) Get(ctx context.Context, id string) (*work.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, assignee_id, kind, tier, start_at, deadline, completed_at, submitted_at,
		       progress, status, reward, penalty, payment_status, payment_tx_ref,
		       payment_block_height, reported_hours, note, created_at, updated_at
		FROM work_units WHERE id = ?`, id)

	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, work.ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadMilestones(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListByStatus returns all units in a status, milestones included.
func (s *Store) ListByStatus(ctx context.Context, status work.Status) ([]*work.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignee_id, kind, tier, start_at, deadline, completed_at, submitted_at,
		       progress, status, reward, penalty, payment_status, payment_tx_ref,
		       payment_block_height, reported_hours, note, created_at, updated_at
		FROM work_units WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query work units: %w", err)
	}
	defer rows.Close()

	var units []*work.WorkUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, u := range units {
		if err := s.loadMilestones(ctx, u); err != nil {
			return nil, err
		}
	}
	return units, nil
}

// TransitionStatus performs the compare-and-set behind settlement races.
// The UPDATE only matches while the row is still in the expected status;
// RowsAffected tells the caller whether it won.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to work.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE work_units SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), time.Now().UTC().Format(time.RFC3339Nano), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition work unit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish "lost the race" from "no such unit".
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM work_units WHERE id = ?", id).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, work.ErrUnitNotFound
	}
	return false, nil
}

func (s *Store) loadMilestones(ctx context.Context, u *work.WorkUnit) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT percent, status, submitted_at, approved_at, approver_id, note
		FROM milestones WHERE unit_id = ? ORDER BY percent ASC`, u.ID)
	if err != nil {
		return fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m work.Milestone
		var status, submittedAt string
		var approvedAt sql.NullString
		if err := rows.Scan(&m.Percent, &status, &submittedAt, &approvedAt, &m.ApproverID, &m.Note); err != nil {
			return fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.Status = work.MilestoneStatus(status)
		m.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
		if approvedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, approvedAt.String)
			m.ApprovedAt = &t
		}
		u.Milestones = append(u.Milestones, m)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*work.WorkUnit, error) {
	var (
		u             work.WorkUnit
		kind, tier    string
		startAt       string
		deadline      string
		completedAt   sql.NullString
		submittedAt   sql.NullString
		status        string
		rewardStr     string
		penaltyStr    string
		paymentStatus string
		txRef         sql.NullString
		blockHeight   sql.NullInt64
		reportedHours sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&u.ID, &u.AssigneeID, &kind, &tier, &startAt, &deadline,
		&completedAt, &submittedAt, &u.Progress, &status, &rewardStr,
		&penaltyStr, &paymentStatus, &txRef, &blockHeight,
		&reportedHours, &u.Note, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Kind = work.Kind(kind)
	u.Tier = reward.Tier(tier)
	u.Status = work.Status(status)
	u.PaymentStatus = work.PaymentStatus(paymentStatus)
	u.StartAt, _ = time.Parse(time.RFC3339Nano, startAt)
	u.Deadline, _ = time.Parse(time.RFC3339Nano, deadline)
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		u.CompletedAt = &t
	}
	if submittedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, submittedAt.String)
		u.SubmittedAt = &t
	}
	if txRef.Valid {
		u.PaymentRef = &work.PaymentRef{TxRef: txRef.String, BlockHeight: blockHeight.Int64}
	}
	if reportedHours.Valid {
		h, err := decimal.NewFromString(reportedHours.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse reported hours: %w", err)
		}
		u.ReportedHours = &h
	}

	u.Reward, err = decimal.NewFromString(rewardStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reward: %w", err)
	}
	u.Penalty, err = decimal.NewFromString(penaltyStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse penalty: %w", err)
	}

	return &u, nil
}

// =============================================================================
// PAYMENT ATTEMPT RECORDER (payment.Recorder interface)
// =============================================================================

// Append adds a payment attempt row. Append-only: no UPDATE, no DELETE.
// A second success row for the same unit violates the partial unique
// index and surfaces as payment.ErrDuplicateSuccess.
func (s *Store) Append(ctx context.Context, a payment.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_attempts
		(id, work_unit_id, requested, token_amount, attempted_at, outcome, tx_ref, block_height, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkUnitID,
		a.Requested.String(), a.TokenAmount.String(),
		a.AttemptedAt.Format(time.RFC3339Nano),
		string(a.Outcome), a.TxRef, a.BlockHeight, a.Error,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payment.ErrDuplicateSuccess
		}
		return fmt.Errorf("failed to append payment attempt: %w", err)
	}
	return nil
}

// FindSuccessful returns the Success attempt for a unit, or nil.
func (s *Store) FindSuccessful(ctx context.Context, workUnitID string) (*payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_unit_id, requested, token_amount, attempted_at, outcome, tx_ref, block_height, error
		FROM payment_attempts WHERE work_unit_id = ? AND outcome = 'success'`, workUnitID)

	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByWorkUnit returns all attempts for a unit, oldest first.
func (s *Store) ListByWorkUnit(ctx context.Context, workUnitID string) ([]payment.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_unit_id, requested, token_amount, attempted_at, outcome, tx_ref, block_height, error
		FROM payment_attempts WHERE work_unit_id = ? ORDER BY attempted_at ASC, id ASC`, workUnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []payment.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row rowScanner) (*payment.Attempt, error) {
	var (
		a           payment.Attempt
		requested   string
		tokenAmount string
		attemptedAt string
		outcome     string
	)

	err := row.Scan(&a.ID, &a.WorkUnitID, &requested, &tokenAmount,
		&attemptedAt, &outcome, &a.TxRef, &a.BlockHeight, &a.Error)
	if err != nil {
		return nil, err
	}

	a.Outcome = payment.Outcome(outcome)
	a.AttemptedAt, _ = time.Parse(time.RFC3339Nano, attemptedAt)
	a.Requested, err = decimal.NewFromString(requested)
	if err != nil {
		return nil, fmt.Errorf("failed to parse requested amount: %w", err)
	}
	a.TokenAmount, err = decimal.NewFromString(tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token amount: %w", err)
	}
	return &a, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payment_attempts", "milestones", "work_units"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
