package pgschema

import (
	"github.com/jackc/pglogrepl"

	"github.com/authzed/replicant/pkg/config"
	"github.com/authzed/replicant/pkg/schema"
)

// DefaultNamespace is the postgres schema reflected when none is given
const DefaultNamespace = "public"

// Schema represents a set of Tables and the tx log sequence number (XLogPos)
// at which they were fetched
type Schema struct {
	Tables  []schema.Table
	XLogPos pglogrepl.LSN
}

// Builder returns a schema.Builder with the types and relationships inferred
// from the reflected tables.
func (s *Schema) Builder() *schema.Builder {
	return schema.NewBuilder().DeclareTables(s.Tables)
}

// ToConfig generates a provisional replication config based on an existing
// schema. This can be a good starting point for hand-tuning natural keys and
// extra associations.
func (s *Schema) ToConfig() (*config.Config, error) {
	registry, err := s.Builder().Build()
	if err != nil {
		return nil, err
	}
	return registry.ToConfig(), nil
}
