package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the pgx driver
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver
	"github.com/rs/zerolog/log"

	"github.com/authzed/replicant/pkg/schema"
)

// ParseURI picks a dialect from a connection URI and returns the DSN to hand
// to its driver. postgres:// and postgresql:// URIs are passed through;
// sqlite:// and file: URIs and bare paths are opened with sqlite3.
func ParseURI(uri string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return Postgres, uri, nil
	case strings.HasPrefix(uri, "sqlite://"):
		return SQLite, strings.TrimPrefix(uri, "sqlite://"), nil
	case strings.HasPrefix(uri, "file:"):
		return SQLite, uri, nil
	case uri == "":
		return Dialect{}, "", fmt.Errorf("empty store uri")
	case strings.Contains(uri, "://"):
		return Dialect{}, "", fmt.Errorf("unsupported store uri scheme: %s", uri)
	default:
		return SQLite, uri, nil
	}
}

// Open connects to dsn with the driver of dialect and verifies the
// connection.
func Open(ctx context.Context, dialect Dialect, dsn string, registry *schema.Registry) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect.Driver, err)
	}
	log.Debug().Str("driver", dialect.Driver).Msg("opened store")
	return New(db, registry, dialect), nil
}

// Close closes the underlying handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the dialect the store was opened with
func (s *Store) Dialect() Dialect {
	return s.dialect
}
