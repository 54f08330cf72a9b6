package store

import (
	"context"
	"errors"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate a primary key or
	// unique constraint.
	ErrConflict = errors.New("conflicting record")
)

// Field is a single named column value.
type Field struct {
	Name  string
	Value interface{}
}

// Record is a row read from (or written to) a store. Fields include the
// primary key and are kept in column order.
type Record struct {
	Type   string
	ID     interface{}
	Fields []Field
}

// Get returns the value of field name.
func (r *Record) Get(name string) (interface{}, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of field name, or appends it.
func (r *Record) Set(name string, v interface{}) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

// Identity returns the record identity of r.
func (r *Record) Identity() replicant.Identity {
	return replicant.NewIdentity(r.Type, r.ID)
}

// Clone returns a copy of r that does not share its field slice.
func (r *Record) Clone() *Record {
	return &Record{
		Type:   r.Type,
		ID:     r.ID,
		Fields: append([]Field(nil), r.Fields...),
	}
}

// WriteOptions controls how a Tx persists a record.
type WriteOptions struct {
	// BypassHooks skips validation and trigger pipelines.
	BypassHooks bool
}

// Source is the read side used by the dumper.
type Source interface {
	// Find returns the record of typ with primary key id, or ErrNotFound.
	Find(ctx context.Context, typ *schema.Type, id interface{}) (*Record, error)

	// Where returns records of typ whose fields equal conds.
	Where(ctx context.Context, typ *schema.Type, conds []Field) ([]*Record, error)

	// Association reads rel from rec. The result is nil, a *Record, or a
	// []*Record; callers must tolerate anything else.
	Association(ctx context.Context, rec *Record, rel schema.Relationship) (interface{}, error)
}

// Target is the write side used by the loader.
type Target interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work against a Target. Nothing written through it is
// visible to other observers until Commit.
type Tx interface {
	// Insert creates a record. If fields contain the primary key it is used,
	// otherwise the store assigns one.
	Insert(ctx context.Context, typ *schema.Type, fields []Field, opts WriteOptions) (*Record, error)

	// Update overwrites fields of the record with primary key id.
	Update(ctx context.Context, typ *schema.Type, id interface{}, fields []Field, opts WriteOptions) (*Record, error)

	// FindBy returns the first record of typ whose fields equal conds, or nil.
	FindBy(ctx context.Context, typ *schema.Type, conds []Field) (*Record, error)

	// Destroy deletes the record with primary key id.
	Destroy(ctx context.Context, typ *schema.Type, id interface{}) error

	// SetAssociation replaces the members of a many_to_many association.
	SetAssociation(ctx context.Context, owner *Record, rel schema.Relationship, ids []interface{}) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
