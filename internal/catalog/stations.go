package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get for an id the catalog has never seen.
var ErrNotFound = errors.New("station not in catalog")

const (
	recordColumns = "station_id, place_name, country, api_source, latitude, longitude, province, lookup_count, last_lookup"
	defaultLimit  = 20
)

// RecordLookup counts one lookup of id and returns the new total. An unseen
// id is inserted with a count of 1 under source.
func (s *Store) RecordLookup(ctx context.Context, id string, source models.Source) (int, error) {
	if id == "" {
		return 0, errors.New("record lookup: empty station id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record lookup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.dialect.timeArg(s.clock.Now())

	var count int
	err = tx.QueryRowContext(ctx, s.q("SELECT lookup_count FROM %s WHERE station_id = ?"), id).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			s.q("INSERT INTO %s (station_id, lookup_count, last_lookup, country, api_source) VALUES (?, 1, ?, ?, ?)"),
			id, now, source.Country(), string(source))
		count = 1
	case err == nil:
		_, err = tx.ExecContext(ctx,
			s.q("UPDATE %s SET lookup_count = lookup_count + 1, last_lookup = ? WHERE station_id = ?"),
			now, id)
		count++
	}
	if err != nil {
		return 0, fmt.Errorf("record lookup %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record lookup %s: %w", id, err)
	}

	log.Info().Str("station_id", id).Int("lookup_count", count).Msg("Recorded station lookup")
	return count, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.StationRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+recordColumns+" FROM %s WHERE station_id = ?"), id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get station %s: %w", id, err)
	}
	return record, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM %s")).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stations: %w", err)
	}
	return n, nil
}

// CountDescribed counts rows of source that carry a place name, which is how
// imported rows differ from rows created by a bare lookup.
func (s *Store) CountDescribed(ctx context.Context, source models.Source) (int, error) {
	var n int
	query := s.q("SELECT COUNT(*) FROM %s WHERE api_source = ? AND place_name IS NOT NULL AND place_name <> ''")
	if err := s.db.QueryRowContext(ctx, query, string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count described %s stations: %w", source, err)
	}
	return n, nil
}

// Search matches text case-insensitively against station ids and place
// names. An empty country searches every country.
func (s *Store) Search(ctx context.Context, text, country string, limit int) ([]models.StationRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("search: empty query")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	pattern := "%" + strings.ToLower(text) + "%"
	where := "(LOWER(COALESCE(place_name, '')) LIKE ? OR LOWER(station_id) LIKE ?)"
	args := []any{pattern, pattern}
	if country != "" {
		where += " AND country = ?"
		args = append(args, country)
	}
	args = append(args, limit)

	query := s.q("SELECT "+recordColumns+" FROM %s WHERE "+where+" ORDER BY lookup_count DESC, place_name ASC, station_id ASC LIMIT ?")
	return s.list(ctx, s.db, query, args...)
}

// MostUsed ranks stations by lookup count, most recent lookup first on ties.
func (s *Store) MostUsed(ctx context.Context, limit int) ([]models.StationRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := s.q("SELECT " + recordColumns + " FROM %s ORDER BY lookup_count DESC, last_lookup DESC, station_id ASC LIMIT ?")
	return s.list(ctx, s.db, query, limit)
}

// List returns every row of source, or the whole catalog for an empty source.
func (s *Store) List(ctx context.Context, source models.Source) ([]models.StationRecord, error) {
	if source == "" {
		return s.list(ctx, s.db, s.q("SELECT "+recordColumns+" FROM %s ORDER BY station_id"))
	}
	return s.list(ctx, s.db, s.q("SELECT "+recordColumns+" FROM %s WHERE api_source = ? ORDER BY station_id"), string(source))
}

func (s *Store) list(ctx context.Context, db dbtx, query string, args ...any) ([]models.StationRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []models.StationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.StationRecord, error) {
	var (
		r                   models.StationRecord
		place, province     sql.NullString
		country, source     sql.NullString
		latitude, longitude sql.NullFloat64
		lastUsed            nullTime
	)
	if err := row.Scan(&r.StationID, &place, &country, &source, &latitude, &longitude, &province, &r.UsageCount, &lastUsed); err != nil {
		return nil, err
	}

	r.Country = country.String
	r.Source = models.Source(source.String)
	r.LastUsed = lastUsed.Time
	if place.Valid {
		r.PlaceName = &place.String
	}
	if province.Valid {
		r.Province = &province.String
	}
	if latitude.Valid {
		r.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		r.Longitude = &longitude.Float64
	}
	return &r, nil
}

// nullTime accepts the shapes last_lookup comes back in: time.Time from
// Postgres, and text or time.Time from SQLite depending on how it was written.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var textTimeLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

func (n *nullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}
	return fmt.Errorf("unsupported last_lookup type %T", value)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable last_lookup %q", s)
}
