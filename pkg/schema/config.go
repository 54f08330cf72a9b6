package schema

import (
	"fmt"

	"github.com/authzed/replicant/pkg/config"
)

// Apply overlays a replication config onto the builder. Relationships in the
// config replace inferred ones with the same name.
func (b *Builder) Apply(c *config.Config) error {
	if c == nil {
		return nil
	}
	for _, tc := range c.Types {
		if tc.Name == "" {
			return fmt.Errorf("config: type without a name")
		}
		opts := make([]TypeOption, 0, 3)
		if tc.Parent != "" {
			opts = append(opts, Parent(tc.Parent))
		}
		if tc.Table != "" {
			opts = append(opts, StoredIn(tc.Table))
		}
		if tc.PrimaryKey != "" {
			opts = append(opts, PrimaryKey(tc.PrimaryKey))
		}
		b.Type(tc.Name, opts...)

		for _, rc := range tc.Relationships {
			kind, err := ParseKind(rc.Kind)
			if err != nil {
				return fmt.Errorf("config: type %q relationship %q: %w", tc.Name, rc.Name, err)
			}
			b.Relationship(tc.Name, Relationship{
				Name:               rc.Name,
				Kind:               kind,
				Type:               rc.Type,
				ForeignKey:         rc.ForeignKey,
				Polymorphic:        rc.Polymorphic,
				TypeField:          rc.TypeField,
				JoinTable:          rc.JoinTable,
				JoinForeignKey:     rc.JoinForeignKey,
				JoinAssociationKey: rc.JoinAssociationKey,
			})
		}
		if tc.ExtraAssociations != nil {
			b.ExtraAssociations(tc.Name, tc.ExtraAssociations...)
		}
		if tc.NaturalKey != nil {
			b.NaturalKey(tc.Name, tc.NaturalKey...)
		}
		if tc.PreserveIdentity != nil {
			b.PreserveIdentity(tc.Name, *tc.PreserveIdentity)
		}
	}
	return nil
}

// ToConfig renders the registry as an editable config. Facets are emitted as
// resolved, inherited values included.
func (r *Registry) ToConfig() *config.Config {
	c := &config.Config{Types: make([]config.TypeConfig, 0, len(r.order))}
	for _, t := range r.Types() {
		tc := config.TypeConfig{
			Name:       t.name,
			Parent:     t.parent,
			Table:      t.table,
			PrimaryKey: t.primaryKey,
		}
		if t.extraSet {
			tc.ExtraAssociations = t.ExtraAssociations()
		}
		if t.naturalKeySet {
			tc.NaturalKey = t.NaturalKey()
		}
		if t.preserveIdentity != nil {
			v := *t.preserveIdentity
			tc.PreserveIdentity = &v
		}
		for _, rel := range t.rels {
			tc.Relationships = append(tc.Relationships, config.RelationshipConfig{
				Name:               rel.Name,
				Kind:               rel.Kind.String(),
				Type:               rel.Type,
				ForeignKey:         rel.ForeignKey,
				Polymorphic:        rel.Polymorphic,
				TypeField:          rel.TypeField,
				JoinTable:          rel.JoinTable,
				JoinForeignKey:     rel.JoinForeignKey,
				JoinAssociationKey: rel.JoinAssociationKey,
			})
		}
		c.Types = append(c.Types, tc)
	}
	return c
}
