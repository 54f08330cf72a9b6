package memory

import (
	"fmt"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// table holds rows keyed by canonical primary key, in insertion order.
// Rows are never mutated in place, so clones can share them.
type table struct {
	rows  map[string]*store.Record
	order []string
	seq   int64
}

type dataset struct {
	tables map[string]*table
}

func newDataset() *dataset {
	return &dataset{tables: make(map[string]*table)}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for name, t := range d.tables {
		rows := make(map[string]*store.Record, len(t.rows))
		for k, v := range t.rows {
			rows[k] = v
		}
		out.tables[name] = &table{
			rows:  rows,
			order: append([]string(nil), t.order...),
			seq:   t.seq,
		}
	}
	return out
}

func (d *dataset) table(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		t = &table{rows: make(map[string]*store.Record)}
		d.tables[name] = t
	}
	return t
}

func (t *table) each(fn func(*store.Record) bool) {
	for _, k := range t.order {
		rec, ok := t.rows[k]
		if !ok {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

func (t *table) put(rec *store.Record) {
	key := replicant.CanonicalID(rec.ID)
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = rec
}

func (t *table) remove(id interface{}) bool {
	key := replicant.CanonicalID(id)
	if _, ok := t.rows[key]; !ok {
		return false
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// isA reports whether rec is a record of typ or one of its subtypes.
func isA(reg *schema.Registry, rec *store.Record, typ *schema.Type) bool {
	if rec.Type == typ.Name() {
		return true
	}
	rt, err := reg.Type(rec.Type)
	if err != nil {
		return false
	}
	return rt.Is(typ.Name())
}

func (d *dataset) find(reg *schema.Registry, typ *schema.Type, id interface{}) *store.Record {
	t, ok := d.tables[typ.Table()]
	if !ok {
		return nil
	}
	rec, ok := t.rows[replicant.CanonicalID(id)]
	if !ok || !isA(reg, rec, typ) {
		return nil
	}
	return rec
}

func (d *dataset) where(reg *schema.Registry, typ *schema.Type, conds []store.Field) []*store.Record {
	out := make([]*store.Record, 0)
	t, ok := d.tables[typ.Table()]
	if !ok {
		return out
	}
	t.each(func(rec *store.Record) bool {
		if isA(reg, rec, typ) && matches(rec, conds) {
			out = append(out, rec.Clone())
		}
		return true
	})
	return out
}

func (d *dataset) association(reg *schema.Registry, rec *store.Record, rel schema.Relationship) (interface{}, error) {
	switch rel.Kind {
	case schema.BelongsTo:
		fk, _ := rec.Get(rel.ForeignKey)
		if fk == nil {
			return nil, nil
		}
		assocType := rel.Type
		if rel.Polymorphic {
			v, _ := rec.Get(rel.TypeField)
			s, ok := v.(string)
			if !ok || s == "" {
				return nil, nil
			}
			assocType = s
		}
		t, err := reg.Type(assocType)
		if err != nil {
			return nil, err
		}
		if found := d.find(reg, t, fk); found != nil {
			return found.Clone(), nil
		}
		return nil, nil

	case schema.HasOne, schema.HasMany:
		t, err := reg.Type(rel.Type)
		if err != nil {
			return nil, err
		}
		matched := d.where(reg, t, []store.Field{{Name: rel.ForeignKey, Value: rec.ID}})
		if rel.Kind == schema.HasMany {
			return matched, nil
		}
		if len(matched) == 0 {
			return nil, nil
		}
		return matched[0], nil

	case schema.ManyToMany:
		t, err := reg.Type(rel.Type)
		if err != nil {
			return nil, err
		}
		members := make([]*store.Record, 0)
		for _, id := range d.memberIDs(rel, rec.ID) {
			if found := d.find(reg, t, id); found != nil {
				members = append(members, found.Clone())
			}
		}
		return members, nil

	default:
		return nil, fmt.Errorf("unsupported relationship kind %s", rel.Kind)
	}
}

func (d *dataset) memberIDs(rel schema.Relationship, ownerID interface{}) []interface{} {
	ids := make([]interface{}, 0)
	jt, ok := d.tables[rel.JoinTable]
	if !ok {
		return ids
	}
	owner := replicant.CanonicalID(ownerID)
	jt.each(func(row *store.Record) bool {
		v, _ := row.Get(rel.JoinForeignKey)
		if replicant.CanonicalID(v) == owner {
			m, _ := row.Get(rel.JoinAssociationKey)
			ids = append(ids, m)
		}
		return true
	})
	return ids
}

func matches(rec *store.Record, conds []store.Field) bool {
	for _, c := range conds {
		v, ok := rec.Get(c.Name)
		if !ok || !equal(v, c.Value) {
			return false
		}
	}
	return true
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return replicant.CanonicalID(a) == replicant.CanonicalID(b)
}
