// Package relation implements the synthetic record that carries the members
// of a many_to_many association, which has no owning row of its own.
package relation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/authzed/replicant/pkg/keymap"
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// TypeName is the tuple type of relation records. It cannot collide with a
// declared type name because of the dot.
const TypeName = "replicant.ManyToMany"

// Attribute names of a relation record, in emission order.
const (
	AttrOwner          = "owner"
	AttrOwnerType      = "owner_type"
	AttrAssociatedType = "associated_type"
	AttrName           = "name"
	AttrCollection     = "collection"
)

// ID is the synthesized identity of the relation record for (owner, name).
func ID(ownerType, name string, ownerID interface{}) string {
	return ownerType + ":" + name + ":" + replicant.CanonicalID(ownerID)
}

// Is reports whether t is a relation record
func Is(t replicant.Tuple) bool {
	return t.Type == TypeName
}

// New builds the relation record of owner's association rel from the
// currently associated members.
func New(owner *store.Record, rel schema.Relationship, members []*store.Record) replicant.Tuple {
	ids := make([]interface{}, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return replicant.Tuple{
		Type: TypeName,
		ID:   ID(owner.Type, rel.Name, owner.ID),
		Attributes: replicant.Attributes{
			{Name: AttrOwner, Value: replicant.Ref(owner.Type, owner.ID)},
			{Name: AttrOwnerType, Value: replicant.S(owner.Type)},
			{Name: AttrAssociatedType, Value: replicant.S(rel.Type)},
			{Name: AttrName, Value: replicant.S(rel.Name)},
			{Name: AttrCollection, Value: replicant.Refs(rel.Type, ids...)},
		},
	}
}

// Record is the decoded form of a relation tuple
type Record struct {
	Owner          replicant.Reference
	OwnerType      string
	AssociatedType string
	Name           string
	Collection     replicant.ReferenceList
}

// Parse decodes a relation tuple.
func Parse(t replicant.Tuple) (Record, error) {
	var r Record
	if !Is(t) {
		return r, fmt.Errorf("%w: %s is not a relation record", replicant.ErrUnexpectedValue, t.Type)
	}
	for _, a := range t.Attributes {
		switch a.Name {
		case AttrOwner:
			ref, ok := a.Value.(replicant.Reference)
			if !ok {
				return r, unexpected(t, a)
			}
			r.Owner = ref
		case AttrCollection:
			refs, ok := a.Value.(replicant.ReferenceList)
			if !ok {
				return r, unexpected(t, a)
			}
			r.Collection = refs
		case AttrOwnerType, AttrAssociatedType, AttrName:
			s, ok := a.Value.(replicant.Scalar)
			if !ok {
				return r, unexpected(t, a)
			}
			str, ok := s.V.(string)
			if !ok {
				return r, unexpected(t, a)
			}
			switch a.Name {
			case AttrOwnerType:
				r.OwnerType = str
			case AttrAssociatedType:
				r.AssociatedType = str
			default:
				r.Name = str
			}
		}
	}
	if r.Owner.Type == "" || r.Name == "" {
		return r, fmt.Errorf("%w: relation record %v is missing its owner or name", replicant.ErrUnexpectedValue, t.ID)
	}
	if r.OwnerType == "" {
		r.OwnerType = r.Owner.Type
	}
	if r.Collection.Type == "" {
		r.Collection.Type = r.AssociatedType
	}
	return r, nil
}

func unexpected(t replicant.Tuple, a replicant.Attribute) error {
	return fmt.Errorf("%w: relation record %v attribute %s is %s", replicant.ErrUnexpectedValue, t.ID, a.Name, replicant.Describe(a.Value))
}

// Load replaces the members of the owner's association with the local
// counterparts of the dumped member ids. The owner and each member are
// resolved through km; misses are logged and skipped.
func Load(ctx context.Context, tx store.Tx, registry *schema.Registry, km *keymap.Keymap, t replicant.Tuple, logger zerolog.Logger) error {
	r, err := Parse(t)
	if err != nil {
		return err
	}
	ownerType, err := registry.Type(r.OwnerType)
	if err != nil {
		return err
	}
	rel, ok := ownerType.Relationship(r.Name)
	if !ok || rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s.%s is not a many_to_many", replicant.ErrUnknownAssociation, r.OwnerType, r.Name)
	}

	owner, ok := km.Lookup(r.Owner.Type, r.Owner.ID)
	if !ok {
		logger.Warn().
			EmbedObject(r.Owner.Identity()).
			Str("association", r.Name).
			Msg("relation owner was not loaded, skipping")
		return nil
	}

	ids := make([]interface{}, 0, len(r.Collection.IDs))
	for _, id := range r.Collection.IDs {
		local, ok := km.LocalID(r.Collection.Type, id)
		if !ok {
			logger.Warn().
				EmbedObject(replicant.NewIdentity(r.Collection.Type, id)).
				Str("association", r.Name).
				Msg("relation member was not loaded, dropping")
			continue
		}
		ids = append(ids, local)
	}
	if err := tx.SetAssociation(ctx, owner, rel, ids); err != nil {
		return fmt.Errorf("set %s.%s: %w", r.OwnerType, r.Name, err)
	}
	return nil
}
