package schema

import "fmt"

// Kind is the direction and multiplicity of a relationship
type Kind int

// Supported kinds. BelongsTo is the owned-by side (the foreign key lives on
// this type); HasOne and HasMany are the owning side; ManyToMany goes through
// a join table.
const (
	BelongsTo Kind = iota
	HasOne
	HasMany
	ManyToMany
)

func (k Kind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	switch s {
	case "belongs_to":
		return BelongsTo, nil
	case "has_one":
		return HasOne, nil
	case "has_many":
		return HasMany, nil
	case "many_to_many":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown relationship kind: %q", s)
	}
}

// Relationship is a declared association between two types.
//
// For BelongsTo, ForeignKey is a field on the declaring type. For HasOne and
// HasMany it is a field on the associated type. ManyToMany relationships use
// the Join* fields instead: JoinForeignKey points at the declaring type and
// JoinAssociationKey at the associated one.
type Relationship struct {
	Name       string
	Kind       Kind
	Type       string
	ForeignKey string

	// Polymorphic belongs-to relationships read the associated type from
	// TypeField on the record; Type is ignored.
	Polymorphic bool
	TypeField   string

	JoinTable          string
	JoinForeignKey     string
	JoinAssociationKey string
}

// Collection reports whether the association yields many records.
func (r Relationship) Collection() bool {
	return r.Kind == HasMany || r.Kind == ManyToMany
}

func (r Relationship) String() string {
	if r.Polymorphic {
		return fmt.Sprintf("%s %s(polymorphic via %s)", r.Kind, r.Name, r.TypeField)
	}
	return fmt.Sprintf("%s %s(%s)", r.Kind, r.Name, r.Type)
}
