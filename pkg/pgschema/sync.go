package pgschema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/authzed/replicant/pkg/schema"
)

// SyncSchema generates a simplified representation of the postgres schema
// in namespace, along with the WAL position at which it was read. All tables
// are reflected unless includedTables is non-empty.
func SyncSchema(ctx context.Context, conn *pgxpool.Pool, namespace string, includedTables ...string) (*Schema, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tables, err := syncTables(ctx, tx, namespace, includedTables)
	if err != nil {
		return nil, err
	}

	cols, err := syncColumns(ctx, tx, namespace)
	if err != nil {
		return nil, err
	}
	fks, err := syncForeignKeys(ctx, tx, namespace)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		t := &tables[i]
		t.Columns = cols[t.Name]
		t.ForeignKeys = fks[t.Name]
		pks, err := syncPrimaryKeys(ctx, tx, namespace, t.Name)
		if err != nil {
			return nil, err
		}
		t.PrimaryKey = pks
	}

	pos, err := CurrentPosition(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &Schema{
		Tables:  tables,
		XLogPos: pos,
	}, nil
}

// RowQuerier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// CurrentPosition returns the current WAL insert position.
func CurrentPosition(ctx context.Context, q RowQuerier) (pglogrepl.LSN, error) {
	var lsn string
	if err := q.QueryRow(ctx, querySelectWALPosition).Scan(&lsn); err != nil {
		return 0, fmt.Errorf("read wal position: %w", err)
	}
	return pglogrepl.ParseLSN(lsn)
}

func syncTables(ctx context.Context, tx pgx.Tx, namespace string, includedTables []string) ([]schema.Table, error) {
	tables := make([]schema.Table, 0)

	expected := make(map[string]struct{}, len(includedTables))
	for _, t := range includedTables {
		expected[t] = struct{}{}
	}

	includes := func(tableName string) bool {
		if len(expected) == 0 {
			return true
		}
		_, ok := expected[tableName]
		return ok
	}

	rows, err := tx.Query(ctx, querySelectTables, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !includes(name) {
			continue
		}
		tables = append(tables, schema.Table{Name: name})
		found[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	missing := make([]string, 0)
	for name := range expected {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("not all expected tables found in remote schema. missing: %v", missing)
	}
	return tables, nil
}

func syncColumns(ctx context.Context, tx pgx.Tx, namespace string) (map[string][]string, error) {
	cols := make(map[string][]string)
	rows, err := tx.Query(ctx, querySelectColumns, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, err
		}
		cols[table] = append(cols[table], col)
	}
	return cols, rows.Err()
}

func syncPrimaryKeys(ctx context.Context, tx pgx.Tx, namespace, name string) ([]string, error) {
	pks := make([]string, 0)
	rows, err := tx.Query(ctx, querySelectPrimaryKeys, namespace, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		pks = append(pks, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pks, nil
}

func syncForeignKeys(ctx context.Context, tx pgx.Tx, namespace string) (map[string][]schema.ForeignKey, error) {
	fks := make(map[string][]schema.ForeignKey, 0)
	rows, err := tx.Query(ctx, querySelectForeignKeys, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var fk schema.ForeignKey
		var table, cols, refCols string
		if err := rows.Scan(&fk.Name, &table, &fk.RefTable, &cols, &refCols); err != nil {
			return nil, err
		}
		fk.Columns = strings.Split(cols, ",")
		fk.RefColumns = strings.Split(refCols, ",")
		fks[table] = append(fks[table], fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fks, nil
}
