package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const defaultTable = "tide_station_ids"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the persistent station catalog.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
	clock   clockwork.Clock
}

type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open connects to dsn and migrates the schema. postgres:// and
// postgresql:// DSNs use pgx; anything else is a SQLite path, optionally
// prefixed with "sqlite:".
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	driver, source := splitDSN(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if driver == "sqlite" {
		// one writer, and every statement sees the same :memory: database
		db.SetMaxOpenConns(1)
	}

	store, err := New(db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to catalog: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("driver", driver).Str("table", store.table).Msg("Opened station catalog")
	return store, nil
}

// New wraps an open handle. driver is "sqlite" or "pgx".
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("catalog: nil db")
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("catalog: unsupported driver %q", driver)
	}

	s := &Store{db: db, dialect: d, table: defaultTable, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("catalog: invalid table name %q", s.table)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func splitDSN(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:")
	default:
		return "sqlite", dsn
	}
}

type dialect struct {
	name        string
	idColumn    string
	realType    string
	timeType    string
	numbered    bool
	columnQuery string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:        "sqlite",
		idColumn:    "id INTEGER PRIMARY KEY AUTOINCREMENT",
		realType:    "REAL",
		timeType:    "DATETIME",
		columnQuery: "SELECT name FROM pragma_table_info(?)",
	},
	"pgx": {
		name:        "postgres",
		idColumn:    "id BIGSERIAL PRIMARY KEY",
		realType:    "DOUBLE PRECISION",
		timeType:    "TIMESTAMPTZ",
		numbered:    true,
		columnQuery: "SELECT column_name FROM information_schema.columns WHERE table_name = ?",
	},
}

// rebind rewrites ? placeholders as $1, $2... for Postgres.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg formats t the way CURRENT_TIMESTAMP stores it on SQLite so old and
// new rows sort together.
func (d dialect) timeArg(t time.Time) any {
	if d.numbered {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// q formats a query against the store's table and rebinds placeholders.
func (s *Store) q(format string, args ...any) string {
	return s.dialect.rebind(fmt.Sprintf(format, append([]any{s.table}, args...)...))
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
