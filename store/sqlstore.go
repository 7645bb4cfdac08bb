package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// PayloadColumnType selects the SQL type of the payload column. It is a
// construction option, not a runtime switch; pick the type the target engine
// handles best (JSONB on engines that understand it, BLOB for binary JSON).
type PayloadColumnType string

const (
	PayloadText  PayloadColumnType = "TEXT"
	PayloadJSONB PayloadColumnType = "JSONB"
	PayloadBlob  PayloadColumnType = "BLOB"
)

const eventTableSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	data %s NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '1.0.0'
)
`

const upsertEventSQL = `
INSERT INTO events (id, type, data, schema_version)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET type = excluded.type, data = excluded.data, schema_version = excluded.schema_version
`

const selectAllEventsSQL = `
SELECT id, type, data, schema_version FROM events
`

const selectEventByIDSQL = `
SELECT id, type, data, schema_version FROM events WHERE id = $1
`

// SQLStore persists events in a relational table, one row per event keyed by
// the identifier's canonical string. A second write with the same id
// silently replaces the row (last-write-wins); this is a deliberate
// simplification, not a concurrency control mechanism. AddAll runs in one
// transaction and rolls back entirely on any failure.
//
// The SQL uses $N bindvars and ON CONFLICT upserts, which run unchanged on
// sqlite3 and Postgres.
type SQLStore struct {
	db          *sqlx.DB
	payloadType PayloadColumnType
}

var _ Backend = (*SQLStore)(nil)

// SQLOption configures a SQLStore at construction.
type SQLOption func(*SQLStore)

// WithPayloadColumnType overrides the payload column type (default TEXT).
func WithPayloadColumnType(t PayloadColumnType) SQLOption {
	return func(s *SQLStore) {
		s.payloadType = t
	}
}

// NewSQLStore wraps an open connection and creates the events table if it
// does not exist. The store takes ownership of the connection; Dispose
// closes it.
func NewSQLStore(ctx context.Context, db *sqlx.DB, opts ...SQLOption) (*SQLStore, error) {
	s := &SQLStore{db: db, payloadType: PayloadText}
	for _, opt := range opts {
		opt(s)
	}
	switch s.payloadType {
	case PayloadText, PayloadJSONB, PayloadBlob:
	default:
		return nil, fmt.Errorf("unsupported payload column type %q", s.payloadType)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(eventTableSchema, s.payloadType)); err != nil {
		return nil, fmt.Errorf("failed to initialize events table: %w", err)
	}
	return s, nil
}

type eventRow struct {
	ID            string `db:"id"`
	Type          string `db:"type"`
	Data          []byte `db:"data"`
	SchemaVersion string `db:"schema_version"`
}

func (r eventRow) toEvent() (events.Event, error) {
	id, err := hlc.Parse(r.ID)
	if err != nil {
		return events.Event{}, fmt.Errorf("stored event has bad id: %w", err)
	}
	data := events.NewPayload()
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, data); err != nil {
			return events.Event{}, fmt.Errorf("decode payload for event %s: %w", r.ID, err)
		}
	}
	return events.Event{
		ID:            id,
		Type:          r.Type,
		Data:          data,
		SchemaVersion: r.SchemaVersion,
	}, nil
}

func upsertEvent(ctx context.Context, execer sqlx.ExtContext, ev events.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode payload for event %s: %w", ev.ID, err)
	}
	version := ev.SchemaVersion
	if version == "" {
		version = events.DefaultSchemaVersion
	}
	if _, err := execer.ExecContext(ctx, upsertEventSQL, ev.ID.String(), ev.Type, data, version); err != nil {
		return fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *SQLStore) Add(ctx context.Context, ev events.Event) error {
	if s.db == nil {
		return ErrDisposed
	}
	return upsertEvent(ctx, s.db, ev)
}

func (s *SQLStore) AddAll(ctx context.Context, evs []events.Event) error {
	if s.db == nil {
		return ErrDisposed
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range evs {
		if err := upsertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAll returns events in physical row order. After an out-of-order upsert
// this is not guaranteed to equal identifier order.
func (s *SQLStore) GetAll(ctx context.Context) ([]events.Event, error) {
	if s.db == nil {
		return nil, ErrDisposed
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, selectAllEventsSQL); err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	out := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *SQLStore) GetByID(ctx context.Context, id hlc.HLC) (events.Event, error) {
	if s.db == nil {
		return events.Event{}, ErrDisposed
	}
	var row eventRow
	err := s.db.GetContext(ctx, &row, selectEventByIDSQL, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, ErrNotFound
	}
	if err != nil {
		return events.Event{}, fmt.Errorf("select event %s: %w", id, err)
	}
	return row.toEvent()
}

func (s *SQLStore) DeleteAll(ctx context.Context) error {
	if s.db == nil {
		return ErrDisposed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

func (s *SQLStore) Dispose() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
