package sqlstore

import (
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the databases served by Store.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string
	Flavor sqlbuilder.Flavor

	// BypassHooks is executed once per transaction before the first write
	// that asks for hooks to be bypassed.
	BypassHooks string

	// Returning reports whether inserts can return the generated key.
	// Otherwise LastInsertId is used.
	Returning bool

	// SyncSequence, if set, is a format string taking (table, pk, pk, table)
	// that moves the key sequence past an explicitly written key.
	SyncSequence string
}

var (
	// Postgres disables triggers (and with them foreign key checks) for the
	// rest of the transaction.
	Postgres = Dialect{
		Driver:       "pgx",
		Flavor:       sqlbuilder.PostgreSQL,
		BypassHooks:  "SET LOCAL session_replication_role = replica",
		Returning:    true,
		SyncSequence: "SELECT setval(pg_get_serial_sequence('%s', '%s'), (SELECT max(%s) FROM %s))",
	}

	// SQLite defers foreign key checks to commit, by which point every
	// referenced record of the stream has been written.
	SQLite = Dialect{
		Driver:      "sqlite3",
		Flavor:      sqlbuilder.SQLite,
		BypassHooks: "PRAGMA defer_foreign_keys = ON",
	}
)

func (d Dialect) quote(name string) string {
	return d.Flavor.Quote(name)
}

func (d Dialect) syncSequence(table, pk string) string {
	if d.SyncSequence == "" {
		return ""
	}
	return fmt.Sprintf(d.SyncSequence, table, pk, d.quote(pk), d.quote(table))
}

// isConflict reports whether err is a primary key or unique violation.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
