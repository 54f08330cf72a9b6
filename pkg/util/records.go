package util

import (
	"github.com/rs/zerolog"

	"github.com/authzed/replicant/pkg/codec"
	"github.com/authzed/replicant/pkg/store"
)

// LoggedRecord wraps a store.Record to make it satisfy the
// zerolog.LogObjectMarshaler interface
type LoggedRecord struct {
	*store.Record
}

// MarshalZerologObject satisfies the zerolog.LogObjectMarshaler interface
func (l LoggedRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", l.Type)
	e.Interface("id", l.ID)
	fields := zerolog.Dict()
	for _, f := range l.Fields {
		fields.Interface(f.Name, f.Value)
	}
	e.Dict("fields", fields)
}

// LoggedHeader wraps a codec.Header to make it satisfy the
// zerolog.LogObjectMarshaler interface
type LoggedHeader struct {
	codec.Header
}

// MarshalZerologObject satisfies the zerolog.LogObjectMarshaler interface
func (l LoggedHeader) MarshalZerologObject(e *zerolog.Event) {
	e.Str("session", l.Session)
	e.Str("source", l.Source)
	e.Str("position", l.Position)
	e.Time("created_at", l.CreatedAt)
}
