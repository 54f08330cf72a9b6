package options

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/authzed/replicant/pkg/pgschema"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/sqliteschema"
	"github.com/authzed/replicant/pkg/store/sqlstore"
	"github.com/authzed/replicant/pkg/util"
)

// StoreOptions holds options related to a source or target database
type StoreOptions struct {
	URI string

	// Namespace is the postgres schema to reflect
	Namespace string
	// Tables limits reflection to these tables
	Tables []string

	Dialect    sqlstore.Dialect
	DSN        string
	PoolConfig *pgxpool.Config
}

// Complete configures store options from a URI if needed
func (o *StoreOptions) Complete() error {
	if o.DSN != "" {
		log.Debug().Msg("store already configured, skipping store option validation")
		return nil
	}
	if o.URI == "" {
		return fmt.Errorf("must provide a store uri")
	}
	dialect, dsn, err := sqlstore.ParseURI(o.URI)
	if err != nil {
		return err
	}
	o.Dialect, o.DSN = dialect, dsn

	if dialect.Driver == sqlstore.Postgres.Driver {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return err
		}
		o.PoolConfig = cfg
	}
	return nil
}

// IsPostgres reports whether the store is a postgres database
func (o *StoreOptions) IsPostgres() bool {
	return o.PoolConfig != nil
}

// Reflect reads the tables of the store. For postgres it also returns the
// WAL position at which they were read.
func (o *StoreOptions) Reflect(ctx context.Context) ([]schema.Table, pglogrepl.LSN, error) {
	if o.IsPostgres() {
		log.Info().EmbedObject(util.LoggedConnConfig{ConnConfig: o.PoolConfig.ConnConfig}).Msg("connecting to postgres")
		conn, err := pgxpool.ConnectConfig(ctx, o.PoolConfig)
		if err != nil {
			return nil, 0, err
		}
		defer conn.Close()

		log.Info().Msg("syncing postgres schema")
		s, err := pgschema.SyncSchema(ctx, conn, o.Namespace, o.Tables...)
		if err != nil {
			return nil, 0, err
		}
		for _, t := range s.Tables {
			log.Debug().Stringer("XLogPos", s.XLogPos).Str("table", t.Name).Msgf("%#v", t)
		}
		return s.Tables, s.XLogPos, nil
	}

	log.Info().Str("dsn", o.DSN).Msg("opening sqlite database")
	s, err := sqlstore.Open(ctx, o.Dialect, o.DSN, nil)
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()

	log.Info().Msg("syncing sqlite schema")
	tables, err := sqliteschema.SyncSchema(ctx, s.DB(), o.Tables...)
	if err != nil {
		return nil, 0, err
	}
	for _, t := range tables {
		log.Debug().Str("table", t.Name).Msgf("%#v", t)
	}
	return tables, 0, nil
}

// Open connects to the store
func (o *StoreOptions) Open(ctx context.Context, registry *schema.Registry) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, o.Dialect, o.DSN, registry)
}
