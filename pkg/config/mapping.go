package config

// Config holds the replication settings for a set of types. It can be
// generated from a live database and then edited by hand.
type Config struct {
	Types []TypeConfig `json:"types"`
}

// TypeConfig configures how records of one type are dumped and loaded
type TypeConfig struct {
	Name       string `json:"name"`
	Parent     string `json:"parent,omitempty"`
	Table      string `json:"table,omitempty"`
	PrimaryKey string `json:"primary_key,omitempty"`

	// ExtraAssociations lists has-many / many-to-many associations that are
	// dumped along with the record.
	ExtraAssociations []string `json:"extra_associations,omitempty"`
	// NaturalKey lists fields used to find an existing local record.
	NaturalKey []string `json:"natural_key,omitempty"`
	// PreserveIdentity writes the source primary key into the local one.
	PreserveIdentity *bool `json:"preserve_identity,omitempty"`

	// DumpWith installs a dump-spec that always dumps these associations
	// when a record of this type is dumped.
	DumpWith []string `json:"dump_with,omitempty"`
	// MatchBy installs a load-spec that finds existing records by these
	// fields instead of the natural key.
	MatchBy []string `json:"match_by,omitempty"`
	// ReplaceOn installs a load-spec that destroys a local record
	// conflicting on these fields before creating the incoming one.
	ReplaceOn []string `json:"replace_on,omitempty"`

	Relationships []RelationshipConfig `json:"relationships,omitempty"`
}

// RelationshipConfig declares (or overrides) a relationship on a type
type RelationshipConfig struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Type       string `json:"type"`
	ForeignKey string `json:"foreign_key,omitempty"`

	Polymorphic bool   `json:"polymorphic,omitempty"`
	TypeField   string `json:"type_field,omitempty"`

	JoinTable          string `json:"join_table,omitempty"`
	JoinForeignKey     string `json:"join_foreign_key,omitempty"`
	JoinAssociationKey string `json:"join_association_key,omitempty"`
}

// Find returns the config for a type name.
func (c *Config) Find(name string) (*TypeConfig, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Types {
		if c.Types[i].Name == name {
			return &c.Types[i], true
		}
	}
	return nil, false
}
