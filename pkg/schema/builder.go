package schema

import (
	"fmt"
	"strings"
)

const defaultPrimaryKey = "id"

type decl struct {
	name       string
	parent     string
	table      string
	primaryKey string

	rels []Relationship

	extra    []string
	extraSet bool

	naturalKey    []string
	naturalKeySet bool

	preserveIdentity *bool
}

// Builder collects type declarations. Nothing is resolved until Build, and
// the resulting Registry is never mutated afterwards.
type Builder struct {
	decls map[string]*decl
	order []string
}

// NewBuilder returns an empty Builder
func NewBuilder() *Builder {
	return &Builder{decls: make(map[string]*decl)}
}

// TypeOption configures a type declaration
type TypeOption func(*decl)

// Parent declares the supertype of a type. Unset facets fall back to the
// nearest ancestor that declares them.
func Parent(name string) TypeOption {
	return func(d *decl) { d.parent = name }
}

// StoredIn sets the storage table of a type. Subtypes inherit it.
func StoredIn(name string) TypeOption {
	return func(d *decl) { d.table = name }
}

// PrimaryKey sets the primary key field of a type. Defaults to "id".
func PrimaryKey(name string) TypeOption {
	return func(d *decl) { d.primaryKey = name }
}

func (b *Builder) get(name string) *decl {
	d, ok := b.decls[name]
	if !ok {
		d = &decl{name: name}
		b.decls[name] = d
		b.order = append(b.order, name)
	}
	return d
}

// Type declares a type, or amends an existing declaration.
func (b *Builder) Type(name string, opts ...TypeOption) *Builder {
	d := b.get(name)
	for _, o := range opts {
		o(d)
	}
	return b
}

// Relationship adds relationships to a type, replacing any with the same name.
func (b *Builder) Relationship(typ string, rels ...Relationship) *Builder {
	d := b.get(typ)
	for _, r := range rels {
		d.rels = putRelationship(d.rels, r)
	}
	return b
}

// ExtraAssociations adds to the set of collection associations dumped with
// each record of the type. Repeated calls accumulate.
func (b *Builder) ExtraAssociations(typ string, names ...string) *Builder {
	d := b.get(typ)
	d.extraSet = true
	for _, n := range names {
		if !contains(d.extra, n) {
			d.extra = append(d.extra, n)
		}
	}
	return b
}

// NaturalKey replaces the natural key of a type.
func (b *Builder) NaturalKey(typ string, fields ...string) *Builder {
	d := b.get(typ)
	d.naturalKeySet = true
	d.naturalKey = append([]string(nil), fields...)
	return b
}

// PreserveIdentity replaces the identity-preservation flag of a type.
func (b *Builder) PreserveIdentity(typ string, preserve bool) *Builder {
	d := b.get(typ)
	d.preserveIdentity = &preserve
	return b
}

// Build resolves inheritance and returns an immutable Registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{types: make(map[string]*Type, len(b.decls))}
	for _, name := range b.order {
		chain, err := b.chain(name)
		if err != nil {
			return nil, err
		}
		reg.types[name] = resolve(chain)
		reg.order = append(reg.order, name)
	}

	for _, name := range reg.order {
		t := reg.types[name]
		for _, r := range t.rels {
			if err := validateRelationship(reg, t, r); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// chain returns the declaration of name followed by each of its ancestors.
func (b *Builder) chain(name string) ([]*decl, error) {
	chain := make([]*decl, 0, 1)
	seen := make(map[string]struct{})
	for cur := name; cur != ""; {
		if _, ok := seen[cur]; ok {
			return nil, fmt.Errorf("inheritance cycle through %q", cur)
		}
		seen[cur] = struct{}{}
		d, ok := b.decls[cur]
		if !ok {
			return nil, fmt.Errorf("type %q: parent %q is not declared", chain[len(chain)-1].name, cur)
		}
		chain = append(chain, d)
		cur = d.parent
	}
	return chain, nil
}

func resolve(chain []*decl) *Type {
	self := chain[0]
	t := &Type{
		name:   self.name,
		parent: self.parent,
	}
	for _, d := range chain[1:] {
		t.ancestors = append(t.ancestors, d.name)
	}

	for _, d := range chain {
		if t.table == "" && d.table != "" {
			t.table = d.table
		}
		if t.primaryKey == "" && d.primaryKey != "" {
			t.primaryKey = d.primaryKey
		}
		if !t.naturalKeySet && d.naturalKeySet {
			t.naturalKey, t.naturalKeySet = append([]string(nil), d.naturalKey...), true
		}
		if t.preserveIdentity == nil && d.preserveIdentity != nil {
			v := *d.preserveIdentity
			t.preserveIdentity = &v
		}
	}
	if t.table == "" {
		root := chain[len(chain)-1]
		t.table = root.name
	}
	if t.primaryKey == "" {
		t.primaryKey = defaultPrimaryKey
	}

	// root-most first so that subtypes override by name and add to the
	// inherited extra associations
	for i := len(chain) - 1; i >= 0; i-- {
		for _, r := range chain[i].rels {
			t.rels = putRelationship(t.rels, r)
		}
		if !chain[i].extraSet {
			continue
		}
		t.extraSet = true
		for _, n := range chain[i].extra {
			if !contains(t.extra, n) {
				t.extra = append(t.extra, n)
			}
		}
	}
	return t
}

func validateRelationship(reg *Registry, t *Type, r Relationship) error {
	if r.Name == "" {
		return fmt.Errorf("type %q: relationship without a name", t.name)
	}
	if r.Polymorphic {
		if r.Kind != BelongsTo || r.TypeField == "" || r.ForeignKey == "" {
			return fmt.Errorf("type %q: polymorphic relationship %q needs belongs_to, a foreign key and a type field", t.name, r.Name)
		}
		return nil
	}
	if _, ok := reg.types[r.Type]; !ok {
		return fmt.Errorf("type %q: relationship %q references undeclared type %q", t.name, r.Name, r.Type)
	}
	switch r.Kind {
	case BelongsTo, HasOne, HasMany:
		if r.ForeignKey == "" {
			return fmt.Errorf("type %q: relationship %q has no foreign key", t.name, r.Name)
		}
	case ManyToMany:
		if r.JoinTable == "" || r.JoinForeignKey == "" || r.JoinAssociationKey == "" {
			return fmt.Errorf("type %q: many_to_many %q needs a join table and both join keys", t.name, r.Name)
		}
	}
	return nil
}

func putRelationship(rels []Relationship, r Relationship) []Relationship {
	for i := range rels {
		if rels[i].Name == r.Name {
			rels[i] = r
			return rels
		}
	}
	return append(rels, r)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// singular is a best-effort inflection used for generated relationship names.
func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "sses"):
		return strings.TrimSuffix(s, "es")
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return strings.TrimSuffix(s, "s")
	default:
		return s
	}
}
