package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbernstein/tidecal/internal/catalog"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/internal/snapshot"
	"github.com/bbernstein/tidecal/internal/station"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	PathRemote   = "remote"
	PathSnapshot = "snapshot"
	PathSkipped  = "skipped"

	DefaultPopulationThreshold = 100
)

// Catalog is the part of the store a sync pass writes to.
type Catalog interface {
	Reconcile(ctx context.Context, source models.Source, descriptors []models.StationDescriptor, opts ...catalog.ReconcileOption) (catalog.ReconcileResult, error)
	CountDescribed(ctx context.Context, source models.Source) (int, error)
}

// Publisher stores a fresh directory listing for later use as a snapshot.
type Publisher interface {
	Publish(ctx context.Context, descriptors []models.StationDescriptor) error
}

// Summary reports one synchronization pass.
type Summary struct {
	Source   models.Source `json:"source"`
	Path     string        `json:"path,omitempty"`
	Endpoint string        `json:"endpoint,omitempty"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Removed  int           `json:"removed"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// Engine keeps the catalog in line with the providers' station lists. Passes
// for one source are serialized; different sources run independently.
type Engine struct {
	catalog    Catalog
	directory  station.Directory
	caSnapshot snapshot.Snapshot
	usSnapshot snapshot.Snapshot
	publisher  Publisher
	threshold  int
	metrics    *metrics.Metrics
	clock      clockwork.Clock

	locks map[models.Source]*sync.Mutex
}

type Option func(*Engine)

func WithDirectory(d station.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

func WithCanadianSnapshot(s snapshot.Snapshot) Option {
	return func(e *Engine) {
		e.caSnapshot = s
	}
}

func WithUSSnapshot(s snapshot.Snapshot) Option {
	return func(e *Engine) {
		e.usSnapshot = s
	}
}

// WithPublisher receives every successful Canadian directory listing.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithPopulationThreshold sets how many described NOAA rows make the US
// bootstrap import unnecessary.
func WithPopulationThreshold(n int) Option {
	return func(e *Engine) {
		e.threshold = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func NewEngine(c Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:   c,
		threshold: DefaultPopulationThreshold,
		clock:     clockwork.NewRealClock(),
		locks: map[models.Source]*sync.Mutex{
			models.SourceCHS:  {},
			models.SourceNOAA: {},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncCanadian reconciles CHS rows against the live directory, falling back
// to the Canadian snapshot when no endpoint answers or the write fails.
func (e *Engine) SyncCanadian(ctx context.Context) Summary {
	source := models.SourceCHS
	defer e.lock(source)()
	defer e.observeDuration(source, e.clock.Now())

	if e.directory == nil {
		log.Warn().Msg("No Canadian directory configured, using snapshot")
		return e.snapshotPass(ctx, source, e.caSnapshot)
	}

	descriptors, endpoint, err := e.directory.FetchAll(ctx)
	if err == nil && len(descriptors) == 0 {
		err = errors.New("directory returned no usable stations")
	}
	if err != nil {
		log.Warn().Err(err).Msg("Remote Canadian sync failed, falling back to snapshot")
		e.observeRun(source, PathRemote, false)
		return e.snapshotPass(ctx, source, e.caSnapshot)
	}

	result, err := e.catalog.Reconcile(ctx, source, descriptors)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Catalog write failed during remote sync, falling back to snapshot")
		e.observeRun(source, PathRemote, false)
		return e.snapshotPass(ctx, source, e.caSnapshot)
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, descriptors); err != nil {
			log.Warn().Err(err).Msg("Could not publish Canadian snapshot")
		}
	}
	return e.succeed(source, PathRemote, endpoint, result)
}

// SyncUS imports the bundled NOAA list unless the catalog already holds
// at least the population threshold of described NOAA rows. The import never
// prunes rows created by lookups.
func (e *Engine) SyncUS(ctx context.Context) Summary {
	source := models.SourceNOAA
	defer e.lock(source)()
	defer e.observeDuration(source, e.clock.Now())

	described, err := e.catalog.CountDescribed(ctx, source)
	if err != nil {
		log.Error().Err(err).Msg("Could not count NOAA stations")
		return e.fail(source, "", fmt.Errorf("counting described stations: %w", err))
	}
	if described >= e.threshold {
		log.Info().Int("described", described).Int("threshold", e.threshold).
			Msg("NOAA catalog already populated, skipping bootstrap import")
		e.observeRun(source, PathSkipped, true)
		return Summary{Source: source, Path: PathSkipped, Success: true}
	}

	return e.snapshotPass(ctx, source, e.usSnapshot, catalog.KeepUndescribed())
}

// SyncAll runs both passes concurrently.
func (e *Engine) SyncAll(ctx context.Context) []Summary {
	out := make([]Summary, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out[0] = e.SyncCanadian(ctx)
	}()
	go func() {
		defer wg.Done()
		out[1] = e.SyncUS(ctx)
	}()
	wg.Wait()
	return out
}

func (e *Engine) snapshotPass(ctx context.Context, source models.Source, snap snapshot.Snapshot, opts ...catalog.ReconcileOption) Summary {
	if snap == nil {
		return e.fail(source, PathSnapshot, fmt.Errorf("%w: no snapshot configured for %s", snapshot.ErrUnavailable, source))
	}

	descriptors, err := snap.Load(ctx)
	if err != nil {
		log.Error().Err(err).Str("snapshot", snap.Name()).Msg("Snapshot could not be read")
		return e.fail(source, PathSnapshot, err)
	}

	result, err := e.catalog.Reconcile(ctx, source, descriptors, opts...)
	if err != nil {
		log.Error().Err(err).Str("snapshot", snap.Name()).Msg("Snapshot import failed")
		return e.fail(source, PathSnapshot, err)
	}

	return e.succeed(source, PathSnapshot, snap.Name(), result)
}

func (e *Engine) succeed(source models.Source, path, endpoint string, r catalog.ReconcileResult) Summary {
	log.Info().Str("source", string(source)).Str("path", path).Str("from", endpoint).
		Int("inserted", r.Inserted).Int("updated", r.Updated).Int("removed", r.Removed).
		Msg("Station sync complete")
	e.observeRun(source, path, true)
	if e.metrics != nil {
		e.metrics.SyncRows.WithLabelValues(string(source), "inserted").Add(float64(r.Inserted))
		e.metrics.SyncRows.WithLabelValues(string(source), "updated").Add(float64(r.Updated))
		e.metrics.SyncRows.WithLabelValues(string(source), "removed").Add(float64(r.Removed))
	}
	return Summary{
		Source:   source,
		Path:     path,
		Endpoint: endpoint,
		Inserted: r.Inserted,
		Updated:  r.Updated,
		Removed:  r.Removed,
		Success:  true,
	}
}

func (e *Engine) fail(source models.Source, path string, err error) Summary {
	e.observeRun(source, path, false)
	return Summary{Source: source, Path: path, Error: err.Error()}
}

func (e *Engine) lock(source models.Source) func() {
	mu := e.locks[source]
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) observeRun(source models.Source, path string, ok bool) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	if path == "" {
		path = "none"
	}
	e.metrics.SyncRuns.WithLabelValues(string(source), path, outcome).Inc()
}

func (e *Engine) observeDuration(source models.Source, start time.Time) {
	if e.metrics != nil {
		e.metrics.SyncDuration.WithLabelValues(string(source)).Observe(e.clock.Since(start).Seconds())
	}
}
