package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	store, err := Open(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "catalog.db"), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestSplitDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dsn, driver, source string
	}{
		{"sqlite:tide_station_ids.db", "sqlite", "tide_station_ids.db"},
		{"sqlite://var/catalog.db", "sqlite", "var/catalog.db"},
		{"sqlite::memory:", "sqlite", ":memory:"},
		{"file:catalog.db?_pragma=busy_timeout(5000)", "sqlite", "file:catalog.db?_pragma=busy_timeout(5000)"},
		{"catalog.db", "sqlite", "catalog.db"},
		{"postgres://u:p@localhost:5432/tides", "pgx", "postgres://u:p@localhost:5432/tides"},
		{"postgresql://localhost/tides", "pgx", "postgresql://localhost/tides"},
	}
	for _, tt := range tests {
		driver, source := splitDSN(tt.dsn)
		assert.Equal(t, tt.driver, driver, tt.dsn)
		assert.Equal(t, tt.source, source, tt.dsn)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	query := "SELECT 1 FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, query, dialects["sqlite"].rebind(query))
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", dialects["pgx"].rebind(query))
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "sqlite")
	assert.Error(t, err)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "mysql")
	assert.ErrorContains(t, err, "unsupported driver")

	_, err = New(db, "sqlite", WithTable("stations; DROP TABLE x"))
	assert.ErrorContains(t, err, "invalid table name")
}

func TestMigrateUpgradesLegacyTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "legacy.db")
	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE tide_station_ids (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		station_id TEXT UNIQUE NOT NULL,
		lookup_count INTEGER NOT NULL DEFAULT 1,
		last_lookup DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO tide_station_ids (station_id, lookup_count) VALUES ('9447130', 7)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()

	columns, err := store.columns(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"country", "api_source", "latitude", "longitude", "province", "place_name"} {
		assert.True(t, columns[name], name)
	}

	record, err := store.Get(context.Background(), "9447130")
	require.NoError(t, err)
	assert.Equal(t, 7, record.UsageCount)
	assert.Equal(t, models.CountryUSA, record.Country)
	assert.Equal(t, models.SourceNOAA, record.Source)
	assert.Nil(t, record.PlaceName)
	assert.False(t, record.LastUsed.IsZero())

	// a second migration is a no-op
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRecordLookup(t *testing.T) {
	t.Parallel()

	store, clock := openTestStore(t)
	ctx := context.Background()

	n, err := store.RecordLookup(ctx, "07735", models.SourceCHS)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(time.Hour)
	n, err = store.RecordLookup(ctx, "07735", models.SourceCHS)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	record, err := store.Get(ctx, "07735")
	require.NoError(t, err)
	assert.Equal(t, 2, record.UsageCount)
	assert.Equal(t, models.SourceCHS, record.Source)
	assert.Equal(t, models.CountryCanada, record.Country)
	assert.True(t, testNow.Add(time.Hour).Equal(record.LastUsed), record.LastUsed.String())

	_, err = store.RecordLookup(ctx, "", models.SourceNOAA)
	assert.Error(t, err)
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()

	store, _ := openTestStore(t)
	_, err := store.Get(context.Background(), "0000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedSearchable(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Reconcile(ctx, models.SourceNOAA, []models.StationDescriptor{
		{StationID: "9447130", PlaceName: "Seattle, WA", Latitude: floatPtr(47.6026), Longitude: floatPtr(-122.3393)},
		{StationID: "9414290", PlaceName: "San Francisco, CA", Latitude: floatPtr(37.8063), Longitude: floatPtr(-122.4659)},
		{StationID: "9410170", PlaceName: "San Diego, CA"},
	})
	require.NoError(t, err)
	_, err = store.Reconcile(ctx, models.SourceCHS, []models.StationDescriptor{
		{StationID: "07735", PlaceName: "Vancouver, BC", Province: strPtr("BC")},
		{StationID: "07120", PlaceName: "Victoria Harbour, BC", Province: strPtr("BC")},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.RecordLookup(ctx, "9410170", models.SourceNOAA)
		require.NoError(t, err)
	}
	_, err = store.RecordLookup(ctx, "07120", models.SourceCHS)
	require.NoError(t, err)
}

func ids(records []models.StationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.StationID
	}
	return out
}

func TestSearch(t *testing.T) {
	t.Parallel()

	store, _ := openTestStore(t)
	seedSearchable(t, store)
	ctx := context.Background()

	got, err := store.Search(ctx, "san", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"9410170", "9414290"}, ids(got))

	got, err = store.Search(ctx, "BC", models.CountryCanada, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"07120", "07735"}, ids(got))

	got, err = store.Search(ctx, "944", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"9447130"}, ids(got))

	got, err = store.Search(ctx, "vancouver", models.CountryUSA, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.Search(ctx, "a", "", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = store.Search(ctx, "  ", "", 10)
	assert.Error(t, err)
}

func TestMostUsed(t *testing.T) {
	t.Parallel()

	store, _ := openTestStore(t)
	seedSearchable(t, store)

	got, err := store.MostUsed(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "9410170", got[0].StationID)
	assert.Equal(t, 4, got[0].UsageCount)
	assert.Equal(t, "07120", got[1].StationID)
	assert.Equal(t, 2, got[1].UsageCount)
}

func TestCountsAndList(t *testing.T) {
	t.Parallel()

	store, _ := openTestStore(t)
	seedSearchable(t, store)
	ctx := context.Background()

	_, err := store.RecordLookup(ctx, "8443970", models.SourceNOAA)
	require.NoError(t, err)

	total, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	described, err := store.CountDescribed(ctx, models.SourceNOAA)
	require.NoError(t, err)
	assert.Equal(t, 3, described)

	chs, err := store.List(ctx, models.SourceCHS)
	require.NoError(t, err)
	assert.Equal(t, []string{"07120", "07735"}, ids(chs))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	seattle, err := store.Get(ctx, "9447130")
	require.NoError(t, err)
	require.True(t, seattle.HasCoordinates())
	assert.InDelta(t, 47.6026, *seattle.Latitude, 1e-9)
}
