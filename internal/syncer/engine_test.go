package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bbernstein/tidecal/internal/catalog"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/internal/snapshot"
	"github.com/bbernstein/tidecal/internal/station"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	stations []models.StationDescriptor
	err      error
	calls    atomic.Int32
}

func (d *fakeDirectory) FetchAll(ctx context.Context) ([]models.StationDescriptor, string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, "", d.err
	}
	return d.stations, "https://mirror.example/api/v1", nil
}

type fakeSnapshot struct {
	stations []models.StationDescriptor
	err      error
	loads    atomic.Int32
}

func (s *fakeSnapshot) Name() string { return "fake" }

func (s *fakeSnapshot) Load(ctx context.Context) ([]models.StationDescriptor, error) {
	s.loads.Add(1)
	return s.stations, s.err
}

type recordingPublisher struct {
	published []models.StationDescriptor
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, d []models.StationDescriptor) error {
	p.published = d
	return p.err
}

// faultyCatalog fails the first n Reconcile calls before reaching the store.
type faultyCatalog struct {
	Catalog
	failures int
	mu       sync.Mutex
}

func (c *faultyCatalog) Reconcile(ctx context.Context, source models.Source, d []models.StationDescriptor, opts ...catalog.ReconcileOption) (catalog.ReconcileResult, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return catalog.ReconcileResult{}, errors.New("disk I/O error")
	}
	c.mu.Unlock()
	return c.Catalog.Reconcile(ctx, source, d, opts...)
}

func openStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func chs(id, name string) models.StationDescriptor {
	return models.StationDescriptor{StationID: id, PlaceName: name, Country: models.CountryCanada, Source: models.SourceCHS}
}

func noaa(id, name string) models.StationDescriptor {
	return models.StationDescriptor{StationID: id, PlaceName: name, Country: models.CountryUSA, Source: models.SourceNOAA}
}

func count(t *testing.T, store *catalog.Store) int {
	t.Helper()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestSyncCanadianRemote(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	dir := &fakeDirectory{stations: []models.StationDescriptor{chs("07735", "Vancouver, BC"), chs("00490", "Halifax, NS")}}
	snap := &fakeSnapshot{}
	pub := &recordingPublisher{}
	m := metrics.NewMetricsForTesting()

	engine := NewEngine(store, WithDirectory(dir), WithCanadianSnapshot(snap), WithPublisher(pub), WithMetrics(m))
	summary := engine.SyncCanadian(context.Background())

	assert.Equal(t, Summary{
		Source:   models.SourceCHS,
		Path:     PathRemote,
		Endpoint: "https://mirror.example/api/v1",
		Inserted: 2,
		Success:  true,
	}, summary)
	assert.Zero(t, snap.loads.Load(), "snapshot untouched when the directory answers")
	assert.Len(t, pub.published, 2)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SyncRows.WithLabelValues("CHS", "inserted")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SyncRuns.WithLabelValues("CHS", PathRemote, "ok")), 1e-9)
}

func TestSyncCanadianIdempotent(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	dir := &fakeDirectory{stations: []models.StationDescriptor{chs("07735", "Vancouver, BC"), chs("00490", "Halifax, NS")}}
	engine := NewEngine(store, WithDirectory(dir))

	require.True(t, engine.SyncCanadian(context.Background()).Success)
	_, err := store.RecordLookup(context.Background(), "07735", models.SourceCHS)
	require.NoError(t, err)

	second := engine.SyncCanadian(context.Background())
	assert.True(t, second.Success)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Removed)

	vancouver, err := store.Get(context.Background(), "07735")
	require.NoError(t, err)
	assert.Equal(t, 2, vancouver.UsageCount)
}

func TestSyncCanadianFallsBackWhenDirectoryUnavailable(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	dir := &fakeDirectory{err: &station.DirectoryUnavailableError{Attempts: []string{"a: 500", "b: timeout"}}}
	snap := &fakeSnapshot{stations: []models.StationDescriptor{chs("07120", "Victoria Harbour, BC")}}
	pub := &recordingPublisher{}

	summary := NewEngine(store, WithDirectory(dir), WithCanadianSnapshot(snap), WithPublisher(pub)).SyncCanadian(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, PathSnapshot, summary.Path)
	assert.Equal(t, 1, summary.Inserted)
	assert.Nil(t, pub.published, "snapshot data is never republished")
	assert.Equal(t, 1, count(t, store))
}

func TestSyncCanadianFallsBackOnEmptyDirectory(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	snap := &fakeSnapshot{stations: []models.StationDescriptor{chs("07120", "Victoria Harbour, BC")}}

	summary := NewEngine(store, WithDirectory(&fakeDirectory{}), WithCanadianSnapshot(snap)).SyncCanadian(context.Background())
	assert.True(t, summary.Success)
	assert.Equal(t, PathSnapshot, summary.Path)
}

func TestSyncCanadianFallsBackOnPersistenceFault(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	dir := &fakeDirectory{stations: []models.StationDescriptor{chs("07735", "Vancouver, BC")}}
	snap := &fakeSnapshot{stations: []models.StationDescriptor{chs("07120", "Victoria Harbour, BC"), chs("00490", "Halifax, NS")}}

	engine := NewEngine(&faultyCatalog{Catalog: store, failures: 1}, WithDirectory(dir), WithCanadianSnapshot(snap))
	summary := engine.SyncCanadian(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, PathSnapshot, summary.Path)
	assert.Equal(t, 2, summary.Inserted)
	_, err := store.Get(context.Background(), "07735")
	assert.ErrorIs(t, err, catalog.ErrNotFound, "the failed remote write left nothing behind")
}

func TestSyncCanadianTotalFailureLeavesCatalogUntouched(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	_, err := store.Reconcile(context.Background(), models.SourceCHS, []models.StationDescriptor{chs("07735", "Vancouver, BC")})
	require.NoError(t, err)
	_, err = store.RecordLookup(context.Background(), "9447130", models.SourceNOAA)
	require.NoError(t, err)
	before := count(t, store)

	tests := []struct {
		name string
		snap snapshot.Snapshot
	}{
		{name: "no snapshot configured"},
		{name: "snapshot unreadable", snap: &fakeSnapshot{err: snapshot.ErrUnavailable}},
		{name: "snapshot missing on disk", snap: snapshot.NewFileSnapshot(filepath.Join(t.TempDir(), "missing.csv"), models.SourceCHS)},
	}

	for _, tt := range tests {
		dir := &fakeDirectory{err: &station.DirectoryUnavailableError{}}
		opts := []Option{WithDirectory(dir)}
		if tt.snap != nil {
			opts = append(opts, WithCanadianSnapshot(tt.snap))
		}

		summary := NewEngine(store, opts...).SyncCanadian(context.Background())
		assert.False(t, summary.Success, tt.name)
		assert.NotEmpty(t, summary.Error, tt.name)
		assert.Zero(t, summary.Inserted+summary.Updated+summary.Removed, tt.name)
		assert.Equal(t, before, count(t, store), tt.name)
	}
}

func TestSyncCanadianWithoutDirectoryUsesSnapshot(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	summary := NewEngine(store, WithCanadianSnapshot(snapshot.NewEmbeddedSnapshot(snapshot.CanadianFile, models.SourceCHS))).
		SyncCanadian(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, PathSnapshot, summary.Path)
	assert.Positive(t, summary.Inserted)
}

func TestSyncUSPopulationThreshold(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	snap := &fakeSnapshot{stations: []models.StationDescriptor{
		noaa("9447130", "Seattle, WA"),
		noaa("9414290", "San Francisco, CA"),
	}}
	m := metrics.NewMetricsForTesting()
	engine := NewEngine(store, WithUSSnapshot(snap), WithPopulationThreshold(2), WithMetrics(m))

	first := engine.SyncUS(context.Background())
	assert.True(t, first.Success)
	assert.Equal(t, PathSnapshot, first.Path)
	assert.Equal(t, 2, first.Inserted)

	second := engine.SyncUS(context.Background())
	assert.Equal(t, Summary{Source: models.SourceNOAA, Path: PathSkipped, Success: true}, second)
	assert.Equal(t, int32(1), snap.loads.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.SyncRuns.WithLabelValues("NOAA", PathSkipped, "ok")), 1e-9)
}

func TestSyncUSLookupRowsDoNotCountTowardThreshold(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	for _, id := range []string{"8443970", "8518750", "9410170"} {
		_, err := store.RecordLookup(context.Background(), id, models.SourceNOAA)
		require.NoError(t, err)
	}

	snap := &fakeSnapshot{stations: []models.StationDescriptor{noaa("8443970", "Boston, MA")}}
	summary := NewEngine(store, WithUSSnapshot(snap), WithPopulationThreshold(1)).SyncUS(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, PathSnapshot, summary.Path)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, summary.Removed)
	assert.Equal(t, 3, count(t, store))
}

func TestSyncUSKeepsLookupHistory(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := store.RecordLookup(ctx, "8729108", models.SourceNOAA)
		require.NoError(t, err)
	}

	engine := NewEngine(store, WithUSSnapshot(snapshot.NewEmbeddedSnapshot(snapshot.USFile, models.SourceNOAA)))

	first := engine.SyncUS(ctx)
	require.True(t, first.Success, first.Error)
	assert.Equal(t, PathSnapshot, first.Path)
	assert.Equal(t, 5, first.Inserted)
	assert.Zero(t, first.Removed)

	_, err := store.RecordLookup(ctx, "8729108", models.SourceNOAA)
	require.NoError(t, err)

	second := engine.SyncUS(ctx)
	require.True(t, second.Success, second.Error)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 5, second.Updated)
	assert.Zero(t, second.Removed)

	record, err := store.Get(ctx, "8729108")
	require.NoError(t, err)
	assert.Equal(t, 8, record.UsageCount)
}

func TestSyncUSPrunesDescribedRowsDroppedFromSnapshot(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	_, err := store.Reconcile(ctx, models.SourceNOAA, []models.StationDescriptor{
		noaa("8443970", "Boston, MA"),
		noaa("9999999", "Retired Gauge, ME"),
	})
	require.NoError(t, err)

	snap := &fakeSnapshot{stations: []models.StationDescriptor{noaa("8443970", "Boston, MA")}}
	summary := NewEngine(store, WithUSSnapshot(snap)).SyncUS(ctx)

	require.True(t, summary.Success, summary.Error)
	assert.Equal(t, 1, summary.Removed)
	_, err = store.Get(ctx, "9999999")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSyncUSFailsWithoutSnapshot(t *testing.T) {
	t.Parallel()

	summary := NewEngine(openStore(t)).SyncUS(context.Background())
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Error, "no snapshot configured")
}

// blockingDirectory holds the Canadian pass open until released.
type blockingDirectory struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDirectory) FetchAll(ctx context.Context) ([]models.StationDescriptor, string, error) {
	close(d.started)
	<-d.release
	return []models.StationDescriptor{chs("07735", "Vancouver, BC")}, "mirror", nil
}

func TestSourcesSyncIndependently(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	dir := &blockingDirectory{started: make(chan struct{}), release: make(chan struct{})}
	engine := NewEngine(store,
		WithDirectory(dir),
		WithUSSnapshot(&fakeSnapshot{stations: []models.StationDescriptor{noaa("9447130", "Seattle, WA")}}),
		WithClock(clockwork.NewFakeClock()),
	)

	done := make(chan []Summary)
	go func() { done <- engine.SyncAll(context.Background()) }()

	<-dir.started
	// the Canadian pass is parked; the NOAA pass must still be able to finish
	require.Eventually(t, func() bool {
		n, err := store.CountDescribed(context.Background(), models.SourceNOAA)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
	close(dir.release)

	summaries := <-done
	require.Len(t, summaries, 2)
	assert.True(t, summaries[0].Success)
	assert.Equal(t, models.SourceCHS, summaries[0].Source)
	assert.True(t, summaries[1].Success)
	assert.Equal(t, models.SourceNOAA, summaries[1].Source)
}
