// Package redisstore implements repository.Store on Redis.
//
// Key layout:
//
//	events                  set of event ids
//	events:seq              counter handing out event insertion order
//	event:{id}              JSON event record
//	event:{id}:signups      list of JSON signup records, creation order
//	event:{id}:names        hash normalized name -> JSON signup record
//	event:{id}:version      counter of committed signup changes
//
// Mutations run as WATCH/MULTI optimistic transactions so concurrent writers
// re-validate against the latest state before committing.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
)

const (
	eventsKey   = "events"
	eventSeqKey = "events:seq"
	maxRetries  = 32
)

var _ repository.Store = (*Store)(nil)

// ErrContention is returned when an optimistic transaction keeps losing races.
var ErrContention = errors.New("redis transaction retries exhausted")

func eventKey(id string) string   { return "event:" + id }
func signupsKey(id string) string { return "event:" + id + ":signups" }
func namesKey(id string) string   { return "event:" + id + ":names" }
func versionKey(id string) string { return "event:" + id + ":version" }

type eventRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"createdAt"`
	Seq       int64     `json:"seq"`
}

type signupRecord struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists events and signups in Redis.
type Store struct {
	rdb *redis.Client
}

// New constructs a Store over an existing client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// watch runs fn as an optimistic transaction over keys, retrying when a
// watched key changes before EXEC.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrContention
}

// PutEvent stores a new event and indexes it; an existing id is a conflict.
func (s *Store) PutEvent(ctx context.Context, event model.Event) error {
	// A conflicting put burns a sequence number; only the order matters.
	seq, err := s.rdb.Incr(ctx, eventSeqKey).Result()
	if err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	payload, err := json.Marshal(eventRecord{
		ID:        event.ID,
		Title:     event.Title,
		Date:      event.Date.UTC(),
		Capacity:  event.Capacity,
		CreatedAt: event.CreatedAt.UTC(),
		Seq:       seq,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := eventKey(event.ID)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return repository.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Clear leftovers so a reused id never inherits old signups.
			pipe.Del(ctx, signupsKey(event.ID), namesKey(event.ID), versionKey(event.ID))
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, eventsKey, event.ID)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("put event: %w", err)
	}
	return err
}

// GetEvent returns a single event or repository.ErrNotFound. The record and
// its version are read in one MULTI block.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var get, version *redis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, eventKey(id))
		version = pipe.Get(ctx, versionKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Event{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	e, _, err := decodeEvent(raw)
	if err != nil {
		return model.Event{}, err
	}
	if e.Version, err = counter(version); err != nil {
		return model.Event{}, fmt.Errorf("get event version: %w", err)
	}
	return e, nil
}

// DeleteEvent removes the event, its signups and its index entry atomically.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	key := eventKey(id)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, signupsKey(id), namesKey(id), versionKey(id))
			pipe.SRem(ctx, eventsKey, id)
			return nil
		})
		return err
	}, key, namesKey(id))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete event: %w", err)
	}
	return err
}

// AppendSignup adds a signup unless its normalized name is already taken.
func (s *Store) AppendSignup(ctx context.Context, signup model.Signup) error {
	payload, err := json.Marshal(signupRecord{
		ID:        signup.ID,
		EventID:   signup.EventID,
		Name:      signup.Name,
		Timestamp: signup.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode signup: %w", err)
	}
	nameKey := ledger.NormalizeName(signup.Name)
	evKey, nmKey := eventKey(signup.EventID), namesKey(signup.EventID)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, evKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		taken, err := tx.HExists(ctx, nmKey, nameKey).Result()
		if err != nil {
			return err
		}
		if taken {
			return repository.ErrConstraintViolation
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, nmKey, nameKey, payload)
			pipe.RPush(ctx, signupsKey(signup.EventID), payload)
			pipe.Incr(ctx, versionKey(signup.EventID))
			return nil
		})
		return err
	}, evKey, nmKey)
	if err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrConstraintViolation) {
		return fmt.Errorf("append signup: %w", err)
	}
	return err
}

// DeleteSignup removes the signup registered under nameKey.
func (s *Store) DeleteSignup(ctx context.Context, eventID, nameKey string) error {
	evKey, nmKey := eventKey(eventID), namesKey(eventID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.HGet(ctx, nmKey, nameKey).Result()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, nmKey, nameKey)
			pipe.LRem(ctx, signupsKey(eventID), 1, payload)
			pipe.Incr(ctx, versionKey(eventID))
			return nil
		})
		return err
	}, evKey, nmKey)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete signup: %w", err)
	}
	return err
}

// ListSignups returns the event's signups in creation order.
func (s *Store) ListSignups(ctx context.Context, eventID string) ([]model.Signup, error) {
	var (
		exists *redis.IntCmd
		items  *redis.StringSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, eventKey(eventID))
		items = pipe.LRange(ctx, signupsKey(eventID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	if exists.Val() == 0 {
		return nil, repository.ErrNotFound
	}
	signups := make([]model.Signup, 0, len(items.Val()))
	for _, raw := range items.Val() {
		var rec signupRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode signup: %w", err)
		}
		signups = append(signups, model.Signup{
			ID:        rec.ID,
			EventID:   rec.EventID,
			Name:      rec.Name,
			Timestamp: rec.Timestamp,
		})
	}
	return signups, nil
}

// ListEvents returns every indexed event, newest first. Ids whose record has
// vanished are skipped.
func (s *Store) ListEvents(ctx context.Context) ([]model.EventSummary, error) {
	ids, err := s.rdb.SMembers(ctx, eventsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	gets := make([]*redis.StringCmd, len(ids))
	versions := make([]*redis.StringCmd, len(ids))
	lens := make([]*redis.IntCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			gets[i] = pipe.Get(ctx, eventKey(id))
			versions[i] = pipe.Get(ctx, versionKey(id))
			lens[i] = pipe.LLen(ctx, signupsKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]model.EventSummary, 0, len(ids))
	seqs := make(map[string]int64, len(ids))
	for i := range ids {
		raw, err := gets[i].Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get event: %w", err)
		}
		e, seq, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		if e.Version, err = counter(versions[i]); err != nil {
			return nil, fmt.Errorf("get event version: %w", err)
		}
		seqs[e.ID] = seq
		events = append(events, model.EventSummary{Event: e, SignupCount: int(lens[i].Val())})
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return seqs[events[i].ID] > seqs[events[j].ID]
	})
	return events, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// decodeEvent returns the event and its insertion sequence.
func decodeEvent(raw []byte) (model.Event, int64, error) {
	var rec eventRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Event{}, 0, fmt.Errorf("decode event: %w", err)
	}
	return model.Event{
		ID:        rec.ID,
		Title:     rec.Title,
		Date:      rec.Date,
		Capacity:  rec.Capacity,
		CreatedAt: rec.CreatedAt,
	}, rec.Seq, nil
}

// counter reads an INCR counter; a missing key is zero.
func counter(cmd *redis.StringCmd) (uint64, error) {
	n, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
