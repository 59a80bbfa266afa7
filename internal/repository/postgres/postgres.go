// Package postgres implements repository.Store on PostgreSQL using pgx
// directly (no ORM).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

var _ repository.Store = (*Store)(nil)

// Store handles persistence for events and signups.
type Store struct {
	db *pgxpool.Pool
}

// New constructs a Store. The schema is expected to be migrated already.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// PutEvent inserts a new event; an existing id yields repository.ErrConflict.
func (s *Store) PutEvent(ctx context.Context, event model.Event) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO events (id, title, date, capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Title, event.Date.UTC(), event.Capacity, event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// GetEvent returns a single event or repository.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(s.db.QueryRow(ctx,
		`SELECT id, title, date, capacity, created_at, version FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, repository.ErrNotFound
		}
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// DeleteEvent removes an event; signups go with it through ON DELETE CASCADE.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendSignup inserts a signup row and bumps the event version. The
// (event_id, name_key) unique constraint makes concurrent duplicate inserts
// fail atomically.
func (s *Store) AppendSignup(ctx context.Context, signup model.Signup) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO signups (id, event_id, name, name_key, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			signup.ID, signup.EventID, signup.Name, ledger.NormalizeName(signup.Name), signup.Timestamp.UTC(),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case codeUniqueViolation:
					return repository.ErrConstraintViolation
				case codeForeignKeyViolation:
					return repository.ErrNotFound
				}
			}
			return fmt.Errorf("insert signup: %w", err)
		}
		return bumpVersion(ctx, tx, signup.EventID)
	})
}

// DeleteSignup removes the oldest signup whose name_key matches and bumps
// the event version.
func (s *Store) DeleteSignup(ctx context.Context, eventID, nameKey string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM signups
			 WHERE seq = (
			   SELECT seq FROM signups
			   WHERE event_id = $1 AND name_key = $2
			   ORDER BY seq
			   LIMIT 1
			 )`,
			eventID, nameKey,
		)
		if err != nil {
			return fmt.Errorf("delete signup: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return bumpVersion(ctx, tx, eventID)
	})
}

func bumpVersion(ctx context.Context, tx pgx.Tx, eventID string) error {
	tag, err := tx.Exec(ctx, `UPDATE events SET version = version + 1 WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListSignups returns all signups for an event in creation order. The event
// lookup and the signup query share one read-only snapshot.
func (s *Store) ListSignups(ctx context.Context, eventID string) (signups []model.Signup, err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}

	rows, err := tx.Query(ctx,
		`SELECT id, event_id, name, created_at
		 FROM signups
		 WHERE event_id = $1
		 ORDER BY seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	signups = []model.Signup{}
	for rows.Next() {
		var su model.Signup
		if err := rows.Scan(&su.ID, &su.EventID, &su.Name, &su.Timestamp); err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		su.Timestamp = su.Timestamp.UTC()
		signups = append(signups, su)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	return signups, nil
}

// ListEvents returns all events ordered by creation time descending. Ties
// fall back to insertion order, latest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.EventSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT e.id, e.title, e.date, e.capacity, e.created_at, e.version, COUNT(s.seq)
		 FROM events e
		 LEFT JOIN signups s ON s.event_id = e.id
		 GROUP BY e.id
		 ORDER BY e.created_at DESC, e.seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.EventSummary
	for rows.Next() {
		var (
			es             model.EventSummary
			version, count int64
		)
		if err := rows.Scan(&es.ID, &es.Title, &es.Date, &es.Capacity, &es.CreatedAt, &version, &count); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		es.Date = es.Date.UTC()
		es.CreatedAt = es.CreatedAt.UTC()
		es.Version = uint64(version)
		es.SignupCount = int(count)
		events = append(events, es)
	}
	return events, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e       model.Event
		version int64
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Date, &e.Capacity, &e.CreatedAt, &version); err != nil {
		return model.Event{}, err
	}
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.Version = uint64(version)
	return e, nil
}
