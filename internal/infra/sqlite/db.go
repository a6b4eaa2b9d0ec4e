// Package sqlite keeps the copy history in a local SQLite database.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/modelctl/internal/domain"
)

// ErrCopyNotFound is returned for an unknown copy ID.
var ErrCopyNotFound = errors.New("copy not found")

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.HistoryStore.
type DB struct {
	db *sql.DB
}

var _ domain.HistoryStore = (*DB)(nil)

// Open creates or opens the SQLite database at dir/history.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "history.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS copies (
			id          TEXT PRIMARY KEY,
			model       TEXT NOT NULL,
			target      TEXT NOT NULL,
			source      TEXT NOT NULL,
			destination TEXT NOT NULL,
			status      TEXT NOT NULL,
			bytes       INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_copies_started ON copies(started_at)`,

		// One row per blob, in the order the copy visited them.
		`CREATE TABLE IF NOT EXISTS transfers (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			copy_id     TEXT NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
			digest      TEXT NOT NULL,
			role        TEXT NOT NULL,
			file_name   TEXT NOT NULL,
			size_bytes  INTEGER NOT NULL DEFAULT 0,
			state       TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			bytes       INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_copy ON transfers(copy_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Copies ─────────────────────────────────────────────────────────────────

// BeginCopy records a copy that has just started.
func (d *DB) BeginCopy(rec domain.CopyRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = domain.CopyRunning
	}
	_, err := d.db.Exec(
		`INSERT INTO copies (id, model, target, source, destination, status, bytes, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Target, rec.Source, rec.Destination,
		string(rec.Status), rec.Bytes, rec.Error,
		rec.StartedAt.UnixMilli(), nullableUnixMilli(rec.FinishedAt),
	)
	return err
}

// FinishCopy stores the final status of a copy.
func (d *DB) FinishCopy(copyID string, status domain.CopyStatus, bytes int64, errMsg string) error {
	result, err := d.db.Exec(
		`UPDATE copies SET status = ?, bytes = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), bytes, errMsg, time.Now().UnixMilli(), copyID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", copyID, ErrCopyNotFound)
	}
	return nil
}

// GetCopy retrieves a single copy by ID.
func (d *DB) GetCopy(copyID string) (*domain.CopyRecord, error) {
	row := d.db.QueryRow(
		`SELECT id, model, target, source, destination, status, bytes, error, started_at, finished_at
		 FROM copies WHERE id = ?`, copyID,
	)
	rec, err := scanCopy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", copyID, ErrCopyNotFound)
	}
	return rec, err
}

// ListCopies returns the most recent copies first. limit <= 0 means all.
func (d *DB) ListCopies(limit int) ([]domain.CopyRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT id, model, target, source, destination, status, bytes, error, started_at, finished_at
		 FROM copies ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CopyRecord
	for rows.Next() {
		rec, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Prune deletes copies that started before cutoff, with their transfers.
func (d *DB) Prune(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec(`DELETE FROM copies WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Transfers ──────────────────────────────────────────────────────────────

// RecordTransfer appends the terminal state of one blob task.
func (d *DB) RecordTransfer(copyID string, task domain.TransferTask) error {
	_, err := d.db.Exec(
		`INSERT INTO transfers (copy_id, digest, role, file_name, size_bytes, state, outcome, reason, bytes, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		copyID, task.Digest.String(), string(task.Role), task.FileName, task.Size,
		string(task.State), string(task.Result.Outcome), task.Result.Reason,
		task.Result.Bytes, task.Result.Duration.Milliseconds(),
	)
	return err
}

// ListTransfers returns a copy's blob tasks in the order they ran.
func (d *DB) ListTransfers(copyID string) ([]domain.TransferTask, error) {
	rows, err := d.db.Query(
		`SELECT t.digest, t.role, t.file_name, t.size_bytes, t.state, t.outcome, t.reason, t.bytes, t.duration_ms,
		        c.source, c.destination
		 FROM transfers t JOIN copies c ON c.id = t.copy_id
		 WHERE t.copy_id = ? ORDER BY t.id`, copyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransferTask
	for rows.Next() {
		var t domain.TransferTask
		var digest, role, state, outcome string
		var durationMS int64
		if err := rows.Scan(&digest, &role, &t.FileName, &t.Size, &state, &outcome,
			&t.Result.Reason, &t.Result.Bytes, &durationMS, &t.Source, &t.Destination); err != nil {
			return nil, err
		}
		t.Digest = domain.Digest(digest)
		t.Role = domain.Role(role)
		t.State = domain.TaskState(state)
		t.Result.Outcome = domain.Outcome(outcome)
		t.Result.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCopy(s scanner) (*domain.CopyRecord, error) {
	var rec domain.CopyRecord
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&rec.ID, &rec.Model, &rec.Target, &rec.Source, &rec.Destination,
		&status, &rec.Bytes, &rec.Error, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.CopyStatus(status)
	rec.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		rec.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return &rec, nil
}

func nullableUnixMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
