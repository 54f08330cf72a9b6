package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// Tx is a store.Tx over a database/sql transaction.
type Tx struct {
	store    *Store
	tx       *sql.Tx
	bypassed bool
}

var _ store.Tx = &Tx{}

func (t *Tx) prepare(ctx context.Context, opts store.WriteOptions) error {
	if !opts.BypassHooks || t.bypassed || t.store.dialect.BypassHooks == "" {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, t.store.dialect.BypassHooks); err != nil {
		return fmt.Errorf("bypass hooks: %w", err)
	}
	t.bypassed = true
	return nil
}

// wrap classifies constraint violations as store.ErrConflict
func wrap(op, table string, err error) error {
	if isConflict(err) {
		return fmt.Errorf("%s %s: %w: %s", op, table, store.ErrConflict, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

// Insert satisfies store.Tx
func (t *Tx) Insert(ctx context.Context, typ *schema.Type, fields []store.Field, opts store.WriteOptions) (*store.Record, error) {
	if err := t.prepare(ctx, opts); err != nil {
		return nil, err
	}
	d := t.store.dialect
	pk := typ.PrimaryKey()

	var explicit interface{}
	cols := make([]string, 0, len(fields))
	vals := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		if f.Name == pk {
			if f.Value == nil {
				continue
			}
			explicit = f.Value
		}
		cols = append(cols, d.quote(f.Name))
		vals = append(vals, f.Value)
	}

	var query string
	var args []interface{}
	if len(cols) == 0 {
		query = "INSERT INTO " + d.quote(typ.Table()) + " DEFAULT VALUES"
	} else {
		ib := d.Flavor.NewInsertBuilder()
		ib.InsertInto(d.quote(typ.Table())).Cols(cols...).Values(vals...)
		query, args = ib.Build()
	}

	id := explicit
	switch {
	case explicit != nil:
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return nil, wrap("insert", typ.Table(), err)
		}
		if err := t.syncSequence(ctx, typ, explicit); err != nil {
			return nil, err
		}
	case d.Returning:
		var generated interface{}
		if err := t.tx.QueryRowContext(ctx, query+" RETURNING "+d.quote(pk), args...).Scan(&generated); err != nil {
			return nil, wrap("insert", typ.Table(), err)
		}
		id = normalize(generated, false)
	default:
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, wrap("insert", typ.Table(), err)
		}
		last, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", typ.Table(), err)
		}
		id = last
	}

	return t.store.find(ctx, t.tx, typ, id)
}

func (t *Tx) syncSequence(ctx context.Context, typ *schema.Type, id interface{}) error {
	switch id.(type) {
	case int, int32, int64:
	default:
		return nil
	}
	stmt := t.store.dialect.syncSequence(typ.Table(), typ.PrimaryKey())
	if stmt == "" {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sync %s key sequence: %w", typ.Table(), err)
	}
	return nil
}

// Update satisfies store.Tx
func (t *Tx) Update(ctx context.Context, typ *schema.Type, id interface{}, fields []store.Field, opts store.WriteOptions) (*store.Record, error) {
	if err := t.prepare(ctx, opts); err != nil {
		return nil, err
	}
	d := t.store.dialect
	pk := typ.PrimaryKey()

	ub := d.Flavor.NewUpdateBuilder()
	ub.Update(d.quote(typ.Table()))
	assignments := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == pk {
			continue
		}
		assignments = append(assignments, ub.Assign(d.quote(f.Name), f.Value))
	}
	if len(assignments) == 0 {
		return t.store.find(ctx, t.tx, typ, id)
	}
	ub.Set(assignments...).Where(ub.Equal(d.quote(pk), id))
	query, args := ub.Build()
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("update", typ.Table(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	return t.store.find(ctx, t.tx, typ, id)
}

// FindBy satisfies store.Tx
func (t *Tx) FindBy(ctx context.Context, typ *schema.Type, conds []store.Field) (*store.Record, error) {
	found, err := t.store.where(ctx, t.tx, typ, conds, 1)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Destroy satisfies store.Tx
func (t *Tx) Destroy(ctx context.Context, typ *schema.Type, id interface{}) error {
	d := t.store.dialect
	db := d.Flavor.NewDeleteBuilder()
	db.DeleteFrom(d.quote(typ.Table())).Where(db.Equal(d.quote(typ.PrimaryKey()), id))
	query, args := db.Build()
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap("delete", typ.Table(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	return nil
}

// SetAssociation satisfies store.Tx
func (t *Tx) SetAssociation(ctx context.Context, owner *store.Record, rel schema.Relationship, ids []interface{}) error {
	if rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s is not a many_to_many", replicant.ErrUnknownAssociation, rel.Name)
	}
	d := t.store.dialect

	del := d.Flavor.NewDeleteBuilder()
	del.DeleteFrom(d.quote(rel.JoinTable)).Where(del.Equal(d.quote(rel.JoinForeignKey), owner.ID))
	query, args := del.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return wrap("delete", rel.JoinTable, err)
	}
	if len(ids) == 0 {
		return nil
	}

	ib := d.Flavor.NewInsertBuilder()
	ib.InsertInto(d.quote(rel.JoinTable)).Cols(d.quote(rel.JoinForeignKey), d.quote(rel.JoinAssociationKey))
	for _, id := range ids {
		ib.Values(owner.ID, id)
	}
	query, args = ib.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return wrap("insert", rel.JoinTable, err)
	}
	return nil
}

// Commit satisfies store.Tx
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return wrap("commit", "transaction", err)
	}
	return nil
}

// Rollback satisfies store.Tx. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
