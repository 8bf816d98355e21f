package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type column struct {
	name string
	ddl  string
}

// Columns added after the first release of the table. Catalogs created by
// older builds only have id, station_id, lookup_count and last_lookup.
func (s *Store) addedColumns() []column {
	return []column{
		{"country", "TEXT NOT NULL DEFAULT 'USA'"},
		{"api_source", "TEXT NOT NULL DEFAULT 'NOAA'"},
		{"latitude", s.dialect.realType},
		{"longitude", s.dialect.realType},
		{"province", "TEXT"},
		{"place_name", "TEXT"},
	}
}

// Migrate creates the table when missing and adds any columns an older
// catalog lacks. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s,
	station_id TEXT UNIQUE NOT NULL,
	lookup_count INTEGER NOT NULL DEFAULT 1,
	last_lookup %s DEFAULT CURRENT_TIMESTAMP
)`, s.table, s.dialect.idColumn, s.dialect.timeType)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating catalog table: %w", err)
	}

	existing, err := s.columns(ctx)
	if err != nil {
		return err
	}

	for _, c := range s.addedColumns() {
		if existing[c.name] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.table, c.name, c.ddl)
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("adding column %s: %w", c.name, err)
		}
		log.Info().Str("table", s.table).Str("column", c.name).Msg("Added catalog column")
	}

	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_source_country ON %s (api_source, country)", s.table, s.table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("creating source index: %w", err)
	}
	return nil
}

func (s *Store) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(s.dialect.columnQuery), s.table)
	if err != nil {
		return nil, fmt.Errorf("reading catalog columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
