package store

import (
	"context"
	"encoding/json"
	"path"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// setupTestDB creates a temporary test database.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbPath := path.Join(t.TempDir(), "test_events.db")
	return sqlx.MustConnect("sqlite3", dbPath)
}

func setupSQLStore(t *testing.T, opts ...SQLOption) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), setupTestDB(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Dispose() })
	return s
}

func TestSQLStoreAddAndGet(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	ev := testEvent(100, 0, "A", "Increment")
	require.NoError(t, s.Add(ctx, ev))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ev.Equal(got))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, ev.Equal(all[0]))
}

func TestSQLStoreUpsertSameIDYieldsOneRow(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	id := hlc.HLC{WallTimeMillis: 100, Counter: 0, NodeID: "A"}
	first := events.New(id, "Increment", events.NewPayload().Set("amount", 1))
	second := events.New(id, "Increment", events.NewPayload().Set("amount", 2))

	require.NoError(t, s.Add(ctx, first))
	require.NoError(t, s.Add(ctx, second))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "a duplicate id upserts, it does not insert")

	// Last write wins.
	amount, ok := all[0].Data.Get("amount")
	require.True(t, ok)
	assert.Equal(t, json.Number("2"), amount)
}

func TestSQLStoreAddAllIsTransactional(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	batch := []events.Event{
		testEvent(100, 0, "A", "Increment"),
		testEvent(200, 0, "A", "Increment"),
		testEvent(300, 0, "A", "Increment"),
	}
	require.NoError(t, s.AddAll(ctx, batch))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLStoreGetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	_, err := s.GetByID(ctx, hlc.HLC{WallTimeMillis: 1, NodeID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	require.NoError(t, s.Add(ctx, testEvent(100, 0, "A", "Increment")))
	require.NoError(t, s.DeleteAll(ctx))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLStorePayloadColumnOptions(t *testing.T) {
	ctx := context.Background()
	for _, columnType := range []PayloadColumnType{PayloadText, PayloadJSONB, PayloadBlob} {
		s := setupSQLStore(t, WithPayloadColumnType(columnType))

		ev := testEvent(100, 0, "A", "Increment")
		require.NoError(t, s.Add(ctx, ev), "column type %s", columnType)

		got, err := s.GetByID(ctx, ev.ID)
		require.NoError(t, err, "column type %s", columnType)
		assert.True(t, ev.Equal(got), "column type %s", columnType)
	}
}

func TestSQLStoreRejectsUnknownColumnType(t *testing.T) {
	_, err := NewSQLStore(context.Background(), setupTestDB(t), WithPayloadColumnType("CSV"))
	assert.Error(t, err)
}

func TestSQLStoreSchemaVersionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupSQLStore(t)

	ev := testEvent(100, 0, "A", "Increment")
	ev.SchemaVersion = "2.1.0"
	require.NoError(t, s.Add(ctx, ev))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", got.SchemaVersion)
}

func TestSQLStoreDisposeIsIdempotent(t *testing.T) {
	s := setupSQLStore(t)
	require.NoError(t, s.Dispose())
	require.NoError(t, s.Dispose())

	err := s.Add(context.Background(), testEvent(100, 0, "A", "Increment"))
	assert.ErrorIs(t, err, ErrDisposed)
}

// TestSQLStoreWithFullStore runs the store-level scenario from the duplicate
// publish case: the same event added twice lands as exactly one row while
// the projection callback still sees both dispatches.
func TestSQLStoreWithFullStore(t *testing.T) {
	ctx := context.Background()
	backend := setupSQLStore(t)
	rec := &recorder{}
	s := New(backend, rec.process)

	ev := testEvent(100, 0, "A", "Increment")
	require.NoError(t, s.Add(ctx, ev))
	require.NoError(t, s.Add(ctx, ev))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, rec.dispatched, 2)
}
