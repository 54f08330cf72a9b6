package replicant

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Identity is a (type, source id) pair. It uniquely identifies a record
// within one dump session and keys the identity map on load.
type Identity struct {
	Type string
	ID   string
}

// NewIdentity canonicalises id so that int64(1), json.Number("1") and "1"
// name the same record.
func NewIdentity(typ string, id interface{}) Identity {
	return Identity{Type: typ, ID: CanonicalID(id)}
}

// CanonicalID is the string form of a source id.
func CanonicalID(id interface{}) string {
	switch id := id.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	default:
		return fmt.Sprint(id)
	}
}

func (i Identity) String() string {
	return i.Type + ":" + i.ID
}

// MarshalZerologObject satisfies the zerolog.LogObjectMarshaler interface
func (i Identity) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", i.Type)
	e.Str("id", i.ID)
}

// Tuple is the unit of the replication stream.
type Tuple struct {
	Type       string
	ID         interface{}
	Attributes Attributes
}

// Identity returns the tuple's record identity.
func (t Tuple) Identity() Identity {
	return NewIdentity(t.Type, t.ID)
}

// String best-effort formats a tuple for debug logging
func (t Tuple) String() string {
	parts := make([]string, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		parts = append(parts, a.Name+"="+Describe(a.Value))
	}
	return fmt.Sprintf("%s:%v{%s}", t.Type, t.ID, strings.Join(parts, " "))
}
