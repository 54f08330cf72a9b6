package schema

import (
	"strconv"
	"strings"
)

// Table is a storage-neutral description of a reflected table.
type Table struct {
	Name        string
	Columns     []string
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// ForeignKey represents a foreign key constraint: Columns on the owning table
// reference RefColumns of RefTable.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// IsJoinTable reports whether t only exists to link two other tables.
func (t Table) IsJoinTable() bool {
	if len(t.ForeignKeys) != 2 {
		return false
	}
	fkcols := make(map[string]struct{}, 2)
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) != 1 {
			return false
		}
		fkcols[fk.Columns[0]] = struct{}{}
	}
	for _, c := range t.Columns {
		if _, ok := fkcols[c]; !ok {
			return false
		}
	}
	return true
}

// DeclareTables infers type and relationship declarations from reflected
// tables. Every table becomes a type named after it, except join tables,
// which become many_to_many relationships on both ends. Foreign keys that
// point outside of tables are ignored.
func (b *Builder) DeclareTables(tables []Table) *Builder {
	known := make(map[string]Table, len(tables))
	for _, t := range tables {
		if !t.IsJoinTable() {
			known[t.Name] = t
		}
	}

	for _, t := range tables {
		if _, ok := known[t.Name]; !ok {
			continue
		}
		opts := []TypeOption{StoredIn(t.Name)}
		if len(t.PrimaryKey) == 1 {
			opts = append(opts, PrimaryKey(t.PrimaryKey[0]))
		}
		b.Type(t.Name, opts...)
	}

	for _, t := range tables {
		if t.IsJoinTable() {
			b.declareJoinTable(t, known)
			continue
		}
		for _, fk := range t.ForeignKeys {
			if len(fk.Columns) != 1 {
				continue
			}
			if _, ok := known[fk.RefTable]; !ok {
				continue
			}
			col := fk.Columns[0]
			b.Relationship(t.Name, Relationship{
				Name:       b.freeName(t.Name, belongsToName(col, fk.RefTable)),
				Kind:       BelongsTo,
				Type:       fk.RefTable,
				ForeignKey: col,
			})
			name := t.Name
			if _, taken := b.lookup(fk.RefTable, name); taken {
				name = t.Name + "_by_" + strings.TrimSuffix(col, "_id")
			}
			b.Relationship(fk.RefTable, Relationship{
				Name:       b.freeName(fk.RefTable, name),
				Kind:       HasMany,
				Type:       t.Name,
				ForeignKey: col,
			})
		}
	}
	return b
}

func (b *Builder) declareJoinTable(t Table, known map[string]Table) {
	left, right := t.ForeignKeys[0], t.ForeignKeys[1]
	if _, ok := known[left.RefTable]; !ok {
		return
	}
	if _, ok := known[right.RefTable]; !ok {
		return
	}
	name := right.RefTable
	if left.RefTable == right.RefTable {
		name = t.Name
	}
	b.Relationship(left.RefTable, Relationship{
		Name:               b.freeName(left.RefTable, name),
		Kind:               ManyToMany,
		Type:               right.RefTable,
		JoinTable:          t.Name,
		JoinForeignKey:     left.Columns[0],
		JoinAssociationKey: right.Columns[0],
	})
	if left.RefTable == right.RefTable {
		return
	}
	b.Relationship(right.RefTable, Relationship{
		Name:               b.freeName(right.RefTable, left.RefTable),
		Kind:               ManyToMany,
		Type:               left.RefTable,
		JoinTable:          t.Name,
		JoinForeignKey:     right.Columns[0],
		JoinAssociationKey: left.Columns[0],
	})
}

func (b *Builder) lookup(typ, name string) (Relationship, bool) {
	d, ok := b.decls[typ]
	if !ok {
		return Relationship{}, false
	}
	for _, r := range d.rels {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// freeName returns name, or name with a numeric suffix if typ already has a
// relationship called name.
func (b *Builder) freeName(typ, name string) string {
	candidate := name
	for i := 2; ; i++ {
		if _, taken := b.lookup(typ, candidate); !taken {
			return candidate
		}
		candidate = name + "_" + strconv.Itoa(i)
	}
}

func belongsToName(col, refTable string) string {
	if strings.HasSuffix(col, "_id") && len(col) > 3 {
		return strings.TrimSuffix(col, "_id")
	}
	return singular(refTable)
}
