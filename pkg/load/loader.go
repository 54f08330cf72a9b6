package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/authzed/replicant/pkg/keymap"
	"github.com/authzed/replicant/pkg/relation"
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// DefaultForeignKeyPattern matches field names that look like foreign keys
var DefaultForeignKeyPattern = regexp.MustCompile(`_id$`)

// TupleReader yields tuples until it returns io.EOF
type TupleReader interface {
	Next() (replicant.Tuple, error)
}

// LoadSpec resolves the existing local record that an incoming record should
// update. It returns nil to have the record created. fields are the
// translated fields about to be written.
type LoadSpec func(ctx context.Context, l *Loader, tx store.Tx, typ *schema.Type, fields []store.Field) (*store.Record, error)

// Option configures a Loader
type Option func(*Loader)

// WithSpec registers a load-spec for a type
func WithSpec(typ string, spec LoadSpec) Option {
	return func(l *Loader) { l.specs[typ] = spec }
}

// WithLogger sets the logger that receives load warnings
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithForeignKeyPattern sets the pattern of field names that are warned
// about when they carry a plain value and no relationship is declared.
func WithForeignKeyPattern(re *regexp.Regexp) Option {
	return func(l *Loader) { l.fkPattern = re }
}

type warnKey struct {
	typ   string
	field string
}

// Loader materializes a tuple stream as local records. A Loader is one
// session: its keymap and warnings are private and it is not safe for
// concurrent use.
type Loader struct {
	target    store.Target
	registry  *schema.Registry
	specs     map[string]LoadSpec
	logger    zerolog.Logger
	fkPattern *regexp.Regexp

	keymap *keymap.Keymap
	warned map[warnKey]struct{}
}

// New returns a Loader writing to target
func New(target store.Target, registry *schema.Registry, opts ...Option) *Loader {
	l := &Loader{
		target:    target,
		registry:  registry,
		specs:     make(map[string]LoadSpec),
		logger:    log.Logger,
		fkPattern: DefaultForeignKeyPattern,
		keymap:    keymap.New(),
		warned:    make(map[warnKey]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Keymap exposes the identity map of the session
func (l *Loader) Keymap() *keymap.Keymap {
	return l.keymap
}

// Read loads every tuple of r in a single transaction, calling cb with each
// loaded record. Nothing is committed unless r ends cleanly with io.EOF and
// every tuple loads.
func (l *Loader) Read(ctx context.Context, r TupleReader, cb func(*store.Record) error) error {
	return l.transaction(ctx, func(tx store.Tx) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read tuple: %w", err)
			}
			rec, err := l.Load(ctx, tx, t)
			if err != nil {
				return err
			}
			if rec == nil || cb == nil {
				continue
			}
			if err := cb(rec); err != nil {
				return err
			}
		}
	})
}

// transaction runs fn in a transaction. On failure the transaction is rolled
// back and the keymap forgets every record registered by fn.
func (l *Loader) transaction(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := l.target.Begin(ctx)
	if err != nil {
		return err
	}
	saved := l.keymap.Clone()
	fail := func(err error) error {
		l.keymap = saved
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			l.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := fn(tx); err != nil {
		return fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Load writes one tuple within tx and returns the local record, or nil for
// relation records.
func (l *Loader) Load(ctx context.Context, tx store.Tx, t replicant.Tuple) (*store.Record, error) {
	if relation.Is(t) {
		return nil, relation.Load(ctx, tx, l.registry, l.keymap, t, l.logger)
	}

	typ, err := l.registry.Type(t.Type)
	if err != nil {
		return nil, err
	}

	fields, err := l.translate(typ, t)
	if err != nil {
		return nil, err
	}
	if typ.PreserveIdentity() && t.ID != nil {
		fields = append(fields, store.Field{Name: typ.PrimaryKey(), Value: t.ID})
	}

	existing, err := l.resolve(ctx, tx, typ, fields)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", t.Identity(), err)
	}

	opts := store.WriteOptions{BypassHooks: true}
	var rec *store.Record
	if existing != nil {
		rec, err = tx.Update(ctx, typ, existing.ID, fields, opts)
	} else {
		rec, err = tx.Insert(ctx, typ, fields, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", t.Identity(), err)
	}

	l.logger.Trace().
		EmbedObject(t.Identity()).
		Interface("local_id", rec.ID).
		Bool("updated", existing != nil).
		Msg("loaded")
	l.keymap.Register(typ, t.ID, rec)
	return rec, nil
}

func (l *Loader) translate(typ *schema.Type, t replicant.Tuple) ([]store.Field, error) {
	pk := typ.PrimaryKey()
	fields := make([]store.Field, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		if a.Name == pk {
			continue
		}
		switch v := a.Value.(type) {
		case replicant.Reference:
			local, ok := l.keymap.LocalID(v.Type, v.ID)
			if !ok {
				l.logger.Warn().
					EmbedObject(t.Identity()).
					Str("field", a.Name).
					Str("references", v.Identity().String()).
					Msg("referenced record was not loaded, leaving field unset")
				continue
			}
			fields = append(fields, store.Field{Name: a.Name, Value: local})

		case replicant.ReferenceList:
			l.logger.Warn().
				EmbedObject(t.Identity()).
				Str("field", a.Name).
				Msg("reference list outside of a relation record, skipping")

		case replicant.Scalar:
			if v.V != nil && l.fkPattern != nil && l.fkPattern.MatchString(a.Name) {
				if _, declared := typ.ForeignKeyRelationship(a.Name); !declared {
					l.warnOnce(typ.Name(), a.Name)
				}
			}
			fields = append(fields, store.Field{Name: a.Name, Value: v.V})

		case nil:
			fields = append(fields, store.Field{Name: a.Name})

		default:
			return nil, fmt.Errorf("%w: %s.%s is %T", replicant.ErrUnexpectedValue, t.Type, a.Name, a.Value)
		}
	}
	return fields, nil
}

func (l *Loader) warnOnce(typ, field string) {
	key := warnKey{typ: typ, field: field}
	if _, ok := l.warned[key]; ok {
		return
	}
	l.warned[key] = struct{}{}
	l.logger.Warn().
		Str("type", typ).
		Str("field", field).
		Msg("field looks like a foreign key but no relationship is declared, writing it as is")
}

func (l *Loader) resolve(ctx context.Context, tx store.Tx, typ *schema.Type, fields []store.Field) (*store.Record, error) {
	for _, name := range typ.Lineage() {
		if spec, ok := l.specs[name]; ok {
			return spec(ctx, l, tx, typ, fields)
		}
	}
	return FindBy(ctx, tx, typ, fields, typ.NaturalKey())
}

// FindBy looks up the first local record of typ whose keys equal the values
// in fields. It returns nil if keys is empty or a key is absent from fields.
func FindBy(ctx context.Context, tx store.Tx, typ *schema.Type, fields []store.Field, keys []string) (*store.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	conds := make([]store.Field, 0, len(keys))
	for _, k := range keys {
		f, ok := field(fields, k)
		if !ok {
			return nil, nil
		}
		conds = append(conds, f)
	}
	return tx.FindBy(ctx, typ, conds)
}

func field(fields []store.Field, name string) (store.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return store.Field{}, false
}
