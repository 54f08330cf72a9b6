package memory

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// Hook is a validation or side-effect callback run on writes that do not
// bypass hooks. Returning an error rejects the write.
type Hook func(ctx context.Context, rec *store.Record) error

// Store is an in-memory store.Source and store.Target. Transactions are
// serialized; reads outside a transaction see the last committed state.
type Store struct {
	registry *schema.Registry

	mu   sync.RWMutex
	data *dataset

	// held for the lifetime of a transaction
	txmu sync.Mutex

	hooks   map[string][]Hook
	unique  map[string][][]string
	ulids   map[string]bool
	entropy io.Reader
}

var (
	_ store.Source = &Store{}
	_ store.Target = &Store{}
)

// Option configures a Store
type Option func(*Store)

// WithHook registers a hook for a type and its subtypes.
func WithHook(typ string, h Hook) Option {
	return func(s *Store) { s.hooks[typ] = append(s.hooks[typ], h) }
}

// WithUnique declares a unique column set on a table.
func WithUnique(table string, cols ...string) Option {
	return func(s *Store) { s.unique[table] = append(s.unique[table], cols) }
}

// WithULIDs makes the store assign ULID strings instead of sequential integers
// as primary keys of the given tables.
func WithULIDs(tables ...string) Option {
	return func(s *Store) {
		for _, t := range tables {
			s.ulids[t] = true
		}
	}
}

// New returns an empty Store for the types in registry.
func New(registry *schema.Registry, opts ...Option) *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Store{
		registry: registry,
		data:     newDataset(),
		hooks:    make(map[string][]Hook),
		unique:   make(map[string][][]string),
		ulids:    make(map[string]bool),
		entropy:  ulid.Monotonic(src, 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txmu.Lock()
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()
	return &Tx{store: s, data: snapshot}, nil
}

// Put inserts a record in its own transaction, running hooks. It is meant
// for seeding fixtures.
func (s *Store) Put(ctx context.Context, typ string, fields ...store.Field) (*store.Record, error) {
	t, err := s.registry.Type(typ)
	if err != nil {
		return nil, err
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	rec, err := tx.Insert(ctx, t, fields, store.WriteOptions{})
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit(ctx)
}

// Link adds members to a many_to_many association of owner in its own
// transaction. It is meant for seeding fixtures.
func (s *Store) Link(ctx context.Context, owner *store.Record, relName string, ids ...interface{}) error {
	t, err := s.registry.Type(owner.Type)
	if err != nil {
		return err
	}
	rel, ok := t.Relationship(relName)
	if !ok || rel.Kind != schema.ManyToMany {
		return fmt.Errorf("%w: %s.%s is not a many_to_many", replicant.ErrUnknownAssociation, owner.Type, relName)
	}
	stx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	tx := stx.(*Tx)
	defer tx.Rollback(ctx)
	existing := tx.data.memberIDs(rel, owner.ID)
	if err := tx.SetAssociation(ctx, owner, rel, append(existing, ids...)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// All returns the committed records of a type (subtypes included).
func (s *Store) All(typ string) []*store.Record {
	t, err := s.registry.Type(typ)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.where(s.registry, t, nil)
}

// Members returns the committed member ids of a many_to_many association.
func (s *Store) Members(owner *store.Record, relName string) []interface{} {
	t, err := s.registry.Type(owner.Type)
	if err != nil {
		return nil
	}
	rel, ok := t.Relationship(relName)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.memberIDs(rel, owner.ID)
}

// Find satisfies store.Source
func (s *Store) Find(ctx context.Context, typ *schema.Type, id interface{}) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.data.find(s.registry, typ, id)
	if rec == nil {
		return nil, fmt.Errorf("%s %v: %w", typ.Name(), id, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Where satisfies store.Source
func (s *Store) Where(ctx context.Context, typ *schema.Type, conds []store.Field) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.where(s.registry, typ, conds), nil
}

// Association satisfies store.Source
func (s *Store) Association(ctx context.Context, rec *store.Record, rel schema.Relationship) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.association(s.registry, rec, rel)
}

func (s *Store) runHooks(ctx context.Context, typ *schema.Type, rec *store.Record) error {
	for _, name := range typ.Lineage() {
		for _, h := range s.hooks[name] {
			if err := h(ctx, rec); err != nil {
				return fmt.Errorf("%s hook rejected %v: %w", typ.Name(), rec.ID, err)
			}
		}
	}
	return nil
}
