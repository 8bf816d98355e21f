package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrEmptySet guards against wiping a source because its list came back empty.
var ErrEmptySet = errors.New("reconcile: empty station list")

// ReconcileOption adjusts a single Reconcile call.
type ReconcileOption func(*reconcileOptions)

type reconcileOptions struct {
	keepUndescribed bool
}

// KeepUndescribed leaves rows without a place name alone when pruning. Those
// rows were created by lookups, so a partial import list must not remove them
// along with their usage counts.
func KeepUndescribed() ReconcileOption {
	return func(o *reconcileOptions) {
		o.keepUndescribed = true
	}
}

type ReconcileResult struct {
	Inserted int
	Updated  int
	Removed  int
	// Skipped counts ids already owned by another source, plus duplicates.
	Skipped int
}

// Reconcile makes the rows owned by source match descriptors in a single
// transaction. New ids are inserted with a lookup count of 1, existing rows
// get their descriptive fields refreshed with usage left alone, and rows of
// the same source and country missing from descriptors are deleted. Rows owned
// by any other source are never written. On error nothing is changed.
// A list in which every entry was skipped is refused like an empty one.
func (s *Store) Reconcile(ctx context.Context, source models.Source, descriptors []models.StationDescriptor, opts ...ReconcileOption) (ReconcileResult, error) {
	var result ReconcileResult
	if len(descriptors) == 0 {
		return result, ErrEmptySet
	}
	var o reconcileOptions
	for _, opt := range opts {
		opt(&o)
	}
	country := source.Country()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: begin: %w", source, err)
	}
	defer func() { _ = tx.Rollback() }()

	owners, err := s.owners(ctx, tx)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: %w", source, err)
	}

	upsert := s.q(`
INSERT INTO %[1]s (station_id, place_name, country, api_source, latitude, longitude, province, lookup_count, last_lookup)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (station_id) DO UPDATE SET
	place_name = excluded.place_name,
	country = excluded.country,
	api_source = excluded.api_source,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	province = excluded.province
WHERE %[1]s.api_source = excluded.api_source`)
	now := s.dialect.timeArg(s.clock.Now())

	keep := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if d.StationID == "" {
			result.Skipped++
			continue
		}
		if _, dup := keep[d.StationID]; dup {
			result.Skipped++
			continue
		}

		owner, exists := owners[d.StationID]
		if exists && owner != source {
			log.Warn().Str("station_id", d.StationID).Str("owner", string(owner)).Str("source", string(source)).
				Msg("Station id already owned by another source, leaving it alone")
			result.Skipped++
			continue
		}
		keep[d.StationID] = struct{}{}

		_, err := tx.ExecContext(ctx, upsert,
			d.StationID, nullString(d.PlaceName), country, string(source),
			nullFloat(d.Latitude), nullFloat(d.Longitude), nullStringPtr(d.Province), now)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("reconcile %s: upsert %s: %w", source, d.StationID, err)
		}
		if exists {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	if len(keep) == 0 {
		log.Warn().Str("source", string(source)).Int("skipped", result.Skipped).
			Msg("Every station in the list was skipped, refusing to prune")
		return ReconcileResult{}, fmt.Errorf("%w: all %d entries skipped", ErrEmptySet, result.Skipped)
	}

	stale, err := s.staleIDs(ctx, tx, source, country, keep, o.keepUndescribed)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile %s: %w", source, err)
	}
	remove := s.q("DELETE FROM %s WHERE station_id = ? AND api_source = ? AND country = ?")
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, remove, id, string(source), country); err != nil {
			return ReconcileResult{}, fmt.Errorf("reconcile %s: delete %s: %w", source, id, err)
		}
		result.Removed++
	}

	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile %s: commit: %w", source, err)
	}

	log.Info().Str("source", string(source)).Int("inserted", result.Inserted).Int("updated", result.Updated).
		Int("removed", result.Removed).Int("skipped", result.Skipped).Msg("Reconciled station catalog")
	return result, nil
}

func (s *Store) owners(ctx context.Context, db dbtx) (map[string]models.Source, error) {
	rows, err := db.QueryContext(ctx, s.q("SELECT station_id, api_source FROM %s"))
	if err != nil {
		return nil, fmt.Errorf("reading owners: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Source)
	for rows.Next() {
		var id string
		var source sql.NullString
		if err := rows.Scan(&id, &source); err != nil {
			return nil, err
		}
		out[id] = models.Source(source.String)
	}
	return out, rows.Err()
}

func (s *Store) staleIDs(ctx context.Context, db dbtx, source models.Source, country string, keep map[string]struct{}, describedOnly bool) ([]string, error) {
	query := "SELECT station_id FROM %s WHERE api_source = ? AND country = ?"
	if describedOnly {
		query += " AND place_name IS NOT NULL AND place_name <> ''"
	}
	rows, err := db.QueryContext(ctx, s.q(query), string(source), country)
	if err != nil {
		return nil, fmt.Errorf("reading existing ids: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
