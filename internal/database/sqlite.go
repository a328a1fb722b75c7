package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medup/internal/database/migrations"
	"medup/internal/dedup"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db *sql.DB
}

// NewSQLiteDatabase opens the database at path and applies any pending
// migrations. path can be a file path or ":memory:" for an in-memory
// database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := openConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteDatabase{db: db}, nil
}

// openConnection opens path with foreign keys and a busy timeout set.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty
	// database, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Session operations

// SaveSession replaces any stored session with s and its ledger.
func (s *SQLiteDatabase) SaveSession(session *dedup.Session) error {
	ctx := context.Background()

	roots, err := json.Marshal(session.Roots)
	if err != nil {
		return fmt.Errorf("encoding roots: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing previous session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, roots, mode, created_at, files, skipped) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, string(roots), string(session.Mode), session.CreatedAt.UTC(), session.Files, session.Skipped)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candidate_pairs (
		session_id, position, key_a, key_b,
		left_path, left_size, left_class, left_capture_time, left_fingerprint,
		right_path, right_size, right_class, right_capture_time, right_fingerprint,
		reason, score, delete_left, delete_right
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing pair insert: %w", err)
	}
	defer stmt.Close()

	if session.Ledger != nil {
		for i, e := range session.Ledger.Entries() {
			key := e.Pair.Key()
			l, r := e.Pair.Left, e.Pair.Right
			_, err := stmt.ExecContext(ctx,
				session.ID, i, key.A, key.B,
				l.Path, l.Size, l.Class.String(), l.CaptureTime, fingerprintText(l.Fingerprint),
				r.Path, r.Size, r.Class.String(), r.CaptureTime, fingerprintText(r.Fingerprint),
				string(e.Pair.Reason), e.Pair.Score, e.DeleteLeft, e.DeleteRight)
			if err != nil {
				return fmt.Errorf("inserting pair %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LoadLatestSession returns the stored session, or nil if none exists.
func (s *SQLiteDatabase) LoadLatestSession() (*dedup.Session, error) {
	ctx := context.Background()

	var (
		session dedup.Session
		roots   string
		mode    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, roots, mode, created_at, files, skipped FROM sessions ORDER BY created_at DESC LIMIT 1`,
	).Scan(&session.ID, &roots, &mode, &session.CreatedAt, &session.Files, &session.Skipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if err := json.Unmarshal([]byte(roots), &session.Roots); err != nil {
		return nil, fmt.Errorf("decoding roots of session %s: %w", session.ID, err)
	}
	session.Mode = dedup.Mode(mode)

	entries, err := s.loadEntries(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Ledger = dedup.NewLedgerFromEntries(entries)
	return &session, nil
}

func (s *SQLiteDatabase) loadEntries(ctx context.Context, sessionID string) ([]dedup.ReviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		left_path, left_size, left_class, left_capture_time, left_fingerprint,
		right_path, right_size, right_class, right_capture_time, right_fingerprint,
		reason, score, delete_left, delete_right
	FROM candidate_pairs WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading pairs: %w", err)
	}
	defer rows.Close()

	var entries []dedup.ReviewEntry
	for rows.Next() {
		var (
			e              dedup.ReviewEntry
			lClass, rClass string
			lFP, rFP       string
			reason         string
		)
		err := rows.Scan(
			&e.Pair.Left.Path, &e.Pair.Left.Size, &lClass, &e.Pair.Left.CaptureTime, &lFP,
			&e.Pair.Right.Path, &e.Pair.Right.Size, &rClass, &e.Pair.Right.CaptureTime, &rFP,
			&reason, &e.Pair.Score, &e.DeleteLeft, &e.DeleteRight)
		if err != nil {
			return nil, fmt.Errorf("scanning pair: %w", err)
		}
		e.Pair.Left.Class = dedup.ParseMediaClass(lClass)
		e.Pair.Right.Class = dedup.ParseMediaClass(rClass)
		e.Pair.Left.Fingerprint = parseFingerprintText(lFP)
		e.Pair.Right.Fingerprint = parseFingerprintText(rFP)
		e.Pair.Reason = dedup.Reason(reason)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pairs: %w", err)
	}
	return entries, nil
}

// SaveReviewEntries writes the deletion flags of entries.
func (s *SQLiteDatabase) SaveReviewEntries(sessionID string, entries []dedup.ReviewEntry) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE candidate_pairs SET delete_left = ?, delete_right = ? WHERE session_id = ? AND key_a = ? AND key_b = ?`)
	if err != nil {
		return fmt.Errorf("preparing flag update: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		key := e.Pair.Key()
		if _, err := stmt.ExecContext(ctx, e.DeleteLeft, e.DeleteRight, sessionID, key.A, key.B); err != nil {
			return fmt.Errorf("updating pair %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RemovePairs deletes the given pairs from the session.
func (s *SQLiteDatabase) RemovePairs(sessionID string, keys []dedup.PairKey) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM candidate_pairs WHERE session_id = ? AND key_a = ? AND key_b = ?`,
			sessionID, key.A, key.B)
		if err != nil {
			return fmt.Errorf("removing pair %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Deletion log

func (s *SQLiteDatabase) RecordDeletion(d *dedup.DeletionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO deletions (id, session_id, path, size, trash_id, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Path, d.Size, d.TrashID, d.Status, d.Error, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording deletion: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListDeletions(limit int) ([]*dedup.DeletionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, path, size, trash_id, status, error, created_at FROM deletions ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing deletions: %w", err)
	}
	defer rows.Close()

	var result []*dedup.DeletionRecord
	for rows.Next() {
		var d dedup.DeletionRecord
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Path, &d.Size, &d.TrashID, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning deletion: %w", err)
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deletions: %w", err)
	}
	return result, nil
}

// Operation history

func (s *SQLiteDatabase) CreateOperation(op *dedup.OperationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO operations (id, operation, parameters, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.Operation, op.Parameters, op.Status, op.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FinishOperation(id string, status string, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*dedup.OperationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, operation, parameters, status, started_at, finished_at FROM operations ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*dedup.OperationRecord
	for rows.Next() {
		var (
			op       dedup.OperationRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}
	return result, nil
}

// Scan locks

// AcquireScanLock inserts the lock row for key. A row older than
// staleBefore is taken over; any other existing row means another process
// is scanning the same roots.
func (s *SQLiteDatabase) AcquireScanLock(key, owner string, at, staleBefore time.Time) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scan_locks WHERE root_key = ? AND acquired_at < ?`, key, staleBefore.UTC()); err != nil {
		return fmt.Errorf("clearing stale scan lock: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO scan_locks (root_key, owner, acquired_at) VALUES (?, ?, ?)`, key, owner, at.UTC())
	if err != nil {
		return fmt.Errorf("inserting scan lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting scan lock: %w", err)
	}
	if n == 0 {
		return dedup.ErrScanInProgress
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ReleaseScanLock removes the lock on key if owner still holds it.
func (s *SQLiteDatabase) ReleaseScanLock(key, owner string) error {
	if _, err := s.db.Exec(`DELETE FROM scan_locks WHERE root_key = ? AND owner = ?`, key, owner); err != nil {
		return fmt.Errorf("releasing scan lock: %w", err)
	}
	return nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func fingerprintText(fp dedup.Fingerprint) string {
	if fp.Kind == 0 {
		return ""
	}
	return fp.String()
}

// parseFingerprintText tolerates rows written without a fingerprint.
func parseFingerprintText(s string) dedup.Fingerprint {
	if s == "" {
		return dedup.Fingerprint{}
	}
	fp, err := dedup.ParseFingerprint(s)
	if err != nil {
		return dedup.Fingerprint{}
	}
	return fp
}

var _ dedup.Database = (*SQLiteDatabase)(nil)
