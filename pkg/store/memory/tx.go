package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// Tx works on a private copy of the dataset which replaces the committed one
// on Commit.
type Tx struct {
	store *Store
	data  *dataset
	done  bool
}

var _ store.Tx = &Tx{}

func (tx *Tx) check() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	return nil
}

// Insert satisfies store.Tx
func (tx *Tx) Insert(ctx context.Context, typ *schema.Type, fields []store.Field, opts store.WriteOptions) (*store.Record, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	t := tx.data.table(typ.Table())
	rec := &store.Record{Type: typ.Name(), Fields: append([]store.Field(nil), fields...)}

	pk := typ.PrimaryKey()
	if id, ok := rec.Get(pk); ok && id != nil {
		if _, exists := t.rows[replicant.CanonicalID(id)]; exists {
			return nil, fmt.Errorf("%s: %w: %s=%v", typ.Table(), store.ErrConflict, pk, id)
		}
		rec.ID = id
		if n, ok := asInt(id); ok && n > t.seq {
			t.seq = n
		}
	} else {
		rec.ID = tx.nextID(typ.Table(), t)
		rec.Set(pk, rec.ID)
	}

	if err := tx.write(ctx, typ, t, rec, opts); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update satisfies store.Tx
func (tx *Tx) Update(ctx context.Context, typ *schema.Type, id interface{}, fields []store.Field, opts store.WriteOptions) (*store.Record, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	existing := tx.data.find(tx.store.registry, typ, id)
	if existing == nil {
		return nil, fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	t := tx.data.table(typ.Table())
	rec := existing.Clone()
	pk := typ.PrimaryKey()
	for _, f := range fields {
		if f.Name == pk {
			continue
		}
		rec.Set(f.Name, f.Value)
	}
	if err := tx.write(ctx, typ, t, rec, opts); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (tx *Tx) write(ctx context.Context, typ *schema.Type, t *table, rec *store.Record, opts store.WriteOptions) error {
	if !opts.BypassHooks {
		if err := tx.store.runHooks(ctx, typ, rec); err != nil {
			return err
		}
	}
	if err := tx.checkUnique(typ.Table(), t, rec); err != nil {
		return err
	}
	t.put(rec)
	return nil
}

func (tx *Tx) checkUnique(name string, t *table, rec *store.Record) error {
	key := replicant.CanonicalID(rec.ID)
	for _, cols := range tx.store.unique[name] {
		conds := make([]store.Field, 0, len(cols))
		skip := false
		for _, c := range cols {
			v, _ := rec.Get(c)
			if v == nil {
				skip = true
				break
			}
			conds = append(conds, store.Field{Name: c, Value: v})
		}
		if skip {
			continue
		}
		var err error
		t.each(func(other *store.Record) bool {
			if replicant.CanonicalID(other.ID) != key && matches(other, conds) {
				err = fmt.Errorf("%s: %w on %v", name, store.ErrConflict, cols)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) nextID(name string, t *table) interface{} {
	if tx.store.ulids[name] {
		return tx.store.newULID()
	}
	for {
		t.seq++
		if _, taken := t.rows[strconv.FormatInt(t.seq, 10)]; !taken {
			return t.seq
		}
	}
}

// FindBy satisfies store.Tx
func (tx *Tx) FindBy(ctx context.Context, typ *schema.Type, conds []store.Field) (*store.Record, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	found := tx.data.where(tx.store.registry, typ, conds)
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// Destroy satisfies store.Tx
func (tx *Tx) Destroy(ctx context.Context, typ *schema.Type, id interface{}) error {
	if err := tx.check(); err != nil {
		return err
	}
	if tx.data.find(tx.store.registry, typ, id) == nil {
		return fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	tx.data.table(typ.Table()).remove(id)
	return nil
}

// SetAssociation satisfies store.Tx. Join rows are kept in a table named
// after the join table, like any other rows.
func (tx *Tx) SetAssociation(ctx context.Context, owner *store.Record, rel schema.Relationship, ids []interface{}) error {
	if err := tx.check(); err != nil {
		return err
	}
	if rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s is not a many_to_many", replicant.ErrUnknownAssociation, rel.Name)
	}
	jt := tx.data.table(rel.JoinTable)
	ownerKey := replicant.CanonicalID(owner.ID)

	stale := make([]interface{}, 0)
	jt.each(func(row *store.Record) bool {
		v, _ := row.Get(rel.JoinForeignKey)
		if replicant.CanonicalID(v) == ownerKey {
			stale = append(stale, row.ID)
		}
		return true
	})
	for _, id := range stale {
		jt.remove(id)
	}

	for _, id := range ids {
		jt.seq++
		jt.put(&store.Record{
			Type: rel.JoinTable,
			ID:   jt.seq,
			Fields: []store.Field{
				{Name: rel.JoinForeignKey, Value: owner.ID},
				{Name: rel.JoinAssociationKey, Value: id},
			},
		})
	}
	return nil
}

// Commit satisfies store.Tx
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.store.mu.Lock()
	tx.store.data = tx.data
	tx.store.mu.Unlock()
	tx.close()
	return nil
}

// Rollback satisfies store.Tx. It is a no-op on a closed transaction.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.close()
	return nil
}

func (tx *Tx) close() {
	tx.done = true
	tx.data = nil
	tx.store.txmu.Unlock()
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
