// Package pg persists counters and the access event log in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/ids"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

type Store struct {
	db *sql.DB
}

var _ counter.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// SaveCounter upserts rec. A row with a later updated_at wins; writing over it returns
// counter.ErrStale.
func (s *Store) SaveCounter(ctx context.Context, rec counter.Record) error {
	access, err := json.Marshal(rec.Access)
	if err != nil {
		return fmt.Errorf("encode access: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		insert into counters(id, value, access, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do update
		set value = excluded.value, access = excluded.access, updated_at = excluded.updated_at
		where counters.updated_at <= excluded.updated_at
	`, rec.ID, int64(rec.Value), access, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", counter.ErrStale, rec.ID)
	}
	return nil
}

// LoadCounter returns counter.ErrNotFound for unknown ids.
func (s *Store) LoadCounter(ctx context.Context, id string) (counter.Record, error) {
	var (
		value  int64
		access []byte
		rec    = counter.Record{ID: id}
	)
	err := s.db.QueryRowContext(ctx, `
		select value, access, created_at, updated_at from counters where id = $1
	`, id).Scan(&value, &access, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return counter.Record{}, counter.ErrNotFound
	}
	if err != nil {
		return counter.Record{}, err
	}
	if err := json.Unmarshal(access, &rec.Access); err != nil {
		return counter.Record{}, fmt.Errorf("decode access of %s: %w", id, err)
	}
	rec.Value = uint64(value)
	return rec, nil
}

// AppendEvent records evt in the event log.
func (s *Store) AppendEvent(ctx context.Context, evt rolemap.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	occurred := time.UnixMilli(int64(evt.Timestamp)).UTC()
	_, err = s.db.ExecContext(ctx, `
		insert into access_events(id, kind, target_key, role, capability_id, caller, occurred_at, payload)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ids.New(), string(evt.Kind), evt.TargetKey, evt.Role, evt.CapabilityID, evt.Caller, occurred, payload)
	return err
}

// ListEvents returns up to limit events of targetKey, oldest first.
func (s *Store) ListEvents(ctx context.Context, targetKey string, limit int) ([]rolemap.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select payload from access_events
		where target_key = $1
		order by occurred_at asc, id asc
		limit $2
	`, targetKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []rolemap.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var evt rolemap.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// EventLog returns an observer that appends every event. Write failures are logged; the
// role map transition has already committed by then.
func (s *Store) EventLog() rolemap.Observer {
	return rolemap.ObserverFunc(func(ctx context.Context, evt rolemap.Event) {
		if err := s.AppendEvent(ctx, evt); err != nil {
			obs.Logger().Error("event_log_append_failed",
				zap.String("kind", string(evt.Kind)),
				zap.String("target_key", evt.TargetKey),
				zap.Error(err))
		}
	})
}
