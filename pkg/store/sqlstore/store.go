package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store is a store.Source and store.Target backed by a database/sql handle.
// Records are typed by the type they were requested as; single table
// inheritance is not detected.
type Store struct {
	db       *sql.DB
	registry *schema.Registry
	dialect  Dialect
}

var (
	_ store.Source = &Store{}
	_ store.Target = &Store{}
)

// New wraps db
func New(db *sql.DB, registry *schema.Registry, dialect Dialect) *Store {
	return &Store{db: db, registry: registry, dialect: dialect}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin satisfies store.Target
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{store: s, tx: tx}, nil
}

// Find satisfies store.Source
func (s *Store) Find(ctx context.Context, typ *schema.Type, id interface{}) (*store.Record, error) {
	return s.find(ctx, s.db, typ, id)
}

// Where satisfies store.Source
func (s *Store) Where(ctx context.Context, typ *schema.Type, conds []store.Field) ([]*store.Record, error) {
	return s.where(ctx, s.db, typ, conds, 0)
}

// Association satisfies store.Source
func (s *Store) Association(ctx context.Context, rec *store.Record, rel schema.Relationship) (interface{}, error) {
	switch rel.Kind {
	case schema.BelongsTo:
		fk, _ := rec.Get(rel.ForeignKey)
		if fk == nil {
			return nil, nil
		}
		assocType := rel.Type
		if rel.Polymorphic {
			v, _ := rec.Get(rel.TypeField)
			name, ok := v.(string)
			if !ok || name == "" {
				return nil, nil
			}
			assocType = name
		}
		t, err := s.registry.Type(assocType)
		if err != nil {
			return nil, err
		}
		found, err := s.where(ctx, s.db, t, []store.Field{{Name: t.PrimaryKey(), Value: fk}}, 1)
		if err != nil || len(found) == 0 {
			return nil, err
		}
		return found[0], nil

	case schema.HasOne, schema.HasMany:
		t, err := s.registry.Type(rel.Type)
		if err != nil {
			return nil, err
		}
		limit := 0
		if rel.Kind == schema.HasOne {
			limit = 1
		}
		found, err := s.where(ctx, s.db, t, []store.Field{{Name: rel.ForeignKey, Value: rec.ID}}, limit)
		if err != nil {
			return nil, err
		}
		if rel.Kind == schema.HasMany {
			return found, nil
		}
		if len(found) == 0 {
			return nil, nil
		}
		return found[0], nil

	case schema.ManyToMany:
		t, err := s.registry.Type(rel.Type)
		if err != nil {
			return nil, err
		}
		return s.members(ctx, t, rel, rec.ID)

	default:
		return nil, fmt.Errorf("unsupported relationship kind %s", rel.Kind)
	}
}

func (s *Store) find(ctx context.Context, q querier, typ *schema.Type, id interface{}) (*store.Record, error) {
	found, err := s.where(ctx, q, typ, []store.Field{{Name: typ.PrimaryKey(), Value: id}}, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	return found[0], nil
}

func (s *Store) where(ctx context.Context, q querier, typ *schema.Type, conds []store.Field, limit int) ([]*store.Record, error) {
	sb := s.dialect.Flavor.NewSelectBuilder()
	sb.Select("*").From(s.dialect.quote(typ.Table()))
	for _, c := range conds {
		col := s.dialect.quote(c.Name)
		if c.Value == nil {
			sb.Where(sb.IsNull(col))
			continue
		}
		sb.Where(sb.Equal(col, c.Value))
	}
	sb.OrderBy(s.dialect.quote(typ.PrimaryKey()))
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", typ.Table(), err)
	}
	defer rows.Close()
	return scanRecords(rows, typ)
}

func (s *Store) members(ctx context.Context, typ *schema.Type, rel schema.Relationship, ownerID interface{}) ([]*store.Record, error) {
	q := s.dialect.quote
	sb := s.dialect.Flavor.NewSelectBuilder()
	sb.Select("a.*").
		From(q(typ.Table())+" a").
		Join(q(rel.JoinTable)+" j", "j."+q(rel.JoinAssociationKey)+" = a."+q(typ.PrimaryKey())).
		Where(sb.Equal("j."+q(rel.JoinForeignKey), ownerID)).
		OrderBy("a." + q(typ.PrimaryKey()))
	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s members: %w", rel.Name, err)
	}
	defer rows.Close()
	return scanRecords(rows, typ)
}

func scanRecords(rows *sql.Rows, typ *schema.Type) ([]*store.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	binary := make([]bool, len(cols))
	for i, ct := range types {
		binary[i] = isBinary(ct.DatabaseTypeName())
	}
	out := make([]*store.Record, 0)
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := &store.Record{Type: typ.Name(), Fields: make([]store.Field, 0, len(cols))}
		for i, c := range cols {
			v := normalize(vals[i], binary[i])
			if c == typ.PrimaryKey() {
				rec.ID = v
			}
			rec.Fields = append(rec.Fields, store.Field{Name: c, Value: v})
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isBinary(databaseType string) bool {
	switch strings.ToUpper(databaseType) {
	case "BYTEA", "BLOB":
		return true
	default:
		return false
	}
}

// normalize turns driver values into the scalar domain of the stream. Bytes
// stay bytes only for binary columns; drivers hand out text as bytes too.
func normalize(v interface{}, binary bool) interface{} {
	switch v := v.(type) {
	case []byte:
		if binary {
			return append([]byte(nil), v...)
		}
		return string(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}
