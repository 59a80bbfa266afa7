// Package sqlite provides a SQLite-backed repository.Store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository/sqlite/migrations"
)

var _ repository.Store = (*Store)(nil)

// Store persists events and signups in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutEvent inserts one event record.
func (s *Store) PutEvent(ctx context.Context, event model.Event) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO events (id, title, date, capacity, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Title, toMillis(event.Date), event.Capacity, toMillis(event.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var (
		e                 model.Event
		date, createdAtMs int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, title, date, capacity, created_at, version FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &date, &e.Capacity, &createdAtMs, &e.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, repository.ErrNotFound
		}
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	e.Date = fromMillis(date)
	e.CreatedAt = fromMillis(createdAtMs)
	return e, nil
}

// DeleteEvent removes the event and its signups in one transaction.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM signups WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("delete signups: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete event: %w", err)
	} else if n == 0 {
		return repository.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AppendSignup inserts a signup and bumps the event version, relying on the
// (event_id, name_key) unique index for duplicate detection.
func (s *Store) AppendSignup(ctx context.Context, signup model.Signup) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireEvent(ctx, tx, signup.EventID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO signups (id, event_id, name, name_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		signup.ID, signup.EventID, signup.Name, ledger.NormalizeName(signup.Name), toMillis(signup.Timestamp),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConstraintViolation
		}
		return fmt.Errorf("insert signup: %w", err)
	}
	if err := bumpVersion(ctx, tx, signup.EventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteSignup removes the oldest signup matching nameKey and bumps the
// event version.
func (s *Store) DeleteSignup(ctx context.Context, eventID, nameKey string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM signups WHERE seq = (
		   SELECT seq FROM signups WHERE event_id = ? AND name_key = ? ORDER BY seq LIMIT 1
		 )`,
		eventID, nameKey,
	)
	if err != nil {
		return fmt.Errorf("delete signup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete signup: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	if err := bumpVersion(ctx, tx, eventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListSignups returns the event's signups in creation order.
func (s *Store) ListSignups(ctx context.Context, eventID string) ([]model.Signup, error) {
	tx, err := s.sqlDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, name, created_at FROM signups WHERE event_id = ? ORDER BY seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	signups := []model.Signup{}
	for rows.Next() {
		var (
			su model.Signup
			ts int64
		)
		if err := rows.Scan(&su.ID, &su.EventID, &su.Name, &ts); err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		su.Timestamp = fromMillis(ts)
		signups = append(signups, su)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	return signups, nil
}

// ListEvents returns event summaries newest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.EventSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT e.id, e.title, e.date, e.capacity, e.created_at, e.version, COUNT(s.seq)
		 FROM events e
		 LEFT JOIN signups s ON s.event_id = e.id
		 GROUP BY e.id
		 ORDER BY e.created_at DESC, e.rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.EventSummary
	for rows.Next() {
		var (
			es                model.EventSummary
			date, createdAtMs int64
		)
		if err := rows.Scan(&es.ID, &es.Title, &date, &es.Capacity, &createdAtMs, &es.Version, &es.SignupCount); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		es.Date = fromMillis(date)
		es.CreatedAt = fromMillis(createdAtMs)
		events = append(events, es)
	}
	return events, rows.Err()
}

func requireEvent(ctx context.Context, tx *sql.Tx, eventID string) error {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, eventID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE events SET version = version + 1 WHERE id = ?`, eventID); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
