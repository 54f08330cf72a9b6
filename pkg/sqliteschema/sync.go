package sqliteschema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/authzed/replicant/pkg/schema"
)

const (
	querySelectTables = `
SELECT name
FROM   sqlite_master
WHERE  type = 'table'
AND    name NOT LIKE 'sqlite_%'
ORDER  BY name;
`
	queryTableInfo      = `SELECT name, pk FROM pragma_table_info(?) ORDER BY cid;`
	queryForeignKeyList = `SELECT id, seq, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq;`
)

// SyncSchema reflects the tables of a SQLite database. All tables are
// reflected unless includedTables is non-empty.
func SyncSchema(ctx context.Context, db *sql.DB, includedTables ...string) ([]schema.Table, error) {
	names, err := syncTableNames(ctx, db, includedTables)
	if err != nil {
		return nil, err
	}
	tables := make([]schema.Table, 0, len(names))
	for _, name := range names {
		t := schema.Table{Name: name}
		if err := syncColumns(ctx, db, &t); err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		if err := syncForeignKeys(ctx, db, &t); err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func syncTableNames(ctx context.Context, db *sql.DB, included []string) ([]string, error) {
	expected := make(map[string]bool, len(included))
	for _, t := range included {
		expected[t] = false
	}
	rows, err := db.QueryContext(ctx, querySelectTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if _, ok := expected[name]; len(expected) > 0 && !ok {
			continue
		}
		expected[name] = true
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	missing := make([]string, 0)
	for name, seen := range expected {
		if !seen {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("not all expected tables found: missing %v", missing)
	}
	return names, nil
}

func syncColumns(ctx context.Context, db *sql.DB, t *schema.Table) error {
	rows, err := db.QueryContext(ctx, queryTableInfo, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	pks := make(map[int]string)
	for rows.Next() {
		var name string
		var pk int
		if err := rows.Scan(&name, &pk); err != nil {
			return err
		}
		t.Columns = append(t.Columns, name)
		if pk > 0 {
			pks[pk] = name
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := 1; i <= len(pks); i++ {
		t.PrimaryKey = append(t.PrimaryKey, pks[i])
	}
	return nil
}

func syncForeignKeys(ctx context.Context, db *sql.DB, t *schema.Table) error {
	rows, err := db.QueryContext(ctx, queryForeignKeyList, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	byID := make(map[int]int)
	for rows.Next() {
		var id, seq int
		var ref, from string
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &ref, &from, &to); err != nil {
			return err
		}
		i, ok := byID[id]
		if !ok {
			i = len(t.ForeignKeys)
			byID[id] = i
			t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
				Name:     fmt.Sprintf("%s_fk_%d", t.Name, id),
				RefTable: ref,
			})
		}
		fk := &t.ForeignKeys[i]
		fk.Columns = append(fk.Columns, from)
		// a null target means the referenced table's primary key
		fk.RefColumns = append(fk.RefColumns, to.String)
	}
	return rows.Err()
}
