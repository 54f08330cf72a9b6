package schema

import (
	"fmt"

	"github.com/authzed/replicant/pkg/replicant"
)

// Registry is the resolved, read-only set of type declarations.
type Registry struct {
	types map[string]*Type
	order []string
}

// Type returns the resolved declaration for name.
func (r *Registry) Type(name string) (*Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", replicant.ErrUnknownType, name)
	}
	return t, nil
}

// Types returns every declared type in declaration order.
func (r *Registry) Types() []*Type {
	out := make([]*Type, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Type is a resolved type declaration.
type Type struct {
	name       string
	parent     string
	ancestors  []string
	table      string
	primaryKey string
	rels       []Relationship

	extra            []string
	extraSet         bool
	naturalKey       []string
	naturalKeySet    bool
	preserveIdentity *bool
}

// Name of the type
func (t *Type) Name() string { return t.name }

// Parent is the declared supertype, or empty
func (t *Type) Parent() string { return t.parent }

// Table is the storage table, inherited from the root type if undeclared
func (t *Type) Table() string { return t.table }

// PrimaryKey is the primary key field name
func (t *Type) PrimaryKey() string { return t.primaryKey }

// Lineage is the type followed by its ancestors.
func (t *Type) Lineage() []string {
	return append([]string{t.name}, t.ancestors...)
}

// Relationships returns every relationship, inherited ones included.
func (t *Type) Relationships() []Relationship {
	return append([]Relationship(nil), t.rels...)
}

// Relationship looks up a relationship by name.
func (t *Type) Relationship(name string) (Relationship, bool) {
	for _, r := range t.rels {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// BelongsTo returns the owned-by relationships, which are always traversed.
func (t *Type) BelongsTo() []Relationship {
	return t.ofKind(BelongsTo)
}

// HasOne returns the owns-one relationships, which are always traversed.
func (t *Type) HasOne() []Relationship {
	return t.ofKind(HasOne)
}

func (t *Type) ofKind(k Kind) []Relationship {
	out := make([]Relationship, 0)
	for _, r := range t.rels {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}

// ForeignKeyRelationship returns the belongs-to relationship stored in field.
func (t *Type) ForeignKeyRelationship(field string) (Relationship, bool) {
	for _, r := range t.rels {
		if r.Kind == BelongsTo && r.ForeignKey == field {
			return r, true
		}
	}
	return Relationship{}, false
}

// ExtraAssociations lists collection associations dumped with each record.
func (t *Type) ExtraAssociations() []string {
	return append([]string(nil), t.extra...)
}

// NaturalKey lists the fields used to find an existing local record. Empty
// means records are always created.
func (t *Type) NaturalKey() []string {
	return append([]string(nil), t.naturalKey...)
}

// PreserveIdentity reports whether loaded records keep their source primary
// key.
func (t *Type) PreserveIdentity() bool {
	return t.preserveIdentity != nil && *t.preserveIdentity
}

// Is reports whether t is name or a subtype of it.
func (t *Type) Is(name string) bool {
	if t.name == name {
		return true
	}
	return contains(t.ancestors, name)
}
