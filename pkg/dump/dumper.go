package dump

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/authzed/replicant/pkg/relation"
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
	"github.com/authzed/replicant/pkg/write"
)

// DumpSpec is a hand-declared traversal for records of a type. It replaces
// DumpGeneric for that type and its subtypes.
type DumpSpec func(ctx context.Context, d *Dumper, rec *store.Record) error

// Option configures a Dumper
type Option func(*Dumper)

// WithSpec registers a dump-spec for a type
func WithSpec(typ string, spec DumpSpec) Option {
	return func(d *Dumper) { d.specs[typ] = spec }
}

// WithLogger sets the logger that receives traversal warnings
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dumper) { d.logger = logger }
}

// Dumper walks a record graph in dependency order and writes each reachable
// record exactly once. A Dumper is one session and is not safe for
// concurrent use.
type Dumper struct {
	source   store.Source
	registry *schema.Registry
	writer   write.TupleWriter
	specs    map[string]DumpSpec
	logger   zerolog.Logger

	visited map[replicant.Identity]struct{}
	count   int

	// depth counts the belongs-to traversals in progress. While it is
	// positive some visited record is not written yet, so collection
	// traversals are queued in pending until the outermost record is written.
	depth   int
	pending []func(context.Context) error
}

// New returns a Dumper reading from source and writing to w.
func New(source store.Source, registry *schema.Registry, w write.TupleWriter, opts ...Option) *Dumper {
	d := &Dumper{
		source:   source,
		registry: registry,
		writer:   w,
		specs:    make(map[string]DumpSpec),
		logger:   log.Logger,
		visited:  make(map[replicant.Identity]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dump dumps each argument, which must be a *store.Record, a []*store.Record,
// or nil. Records already dumped in this session are skipped.
func (d *Dumper) Dump(ctx context.Context, objs ...interface{}) error {
	for _, obj := range objs {
		switch o := obj.(type) {
		case nil:
		case *store.Record:
			if err := d.dumpRecord(ctx, o); err != nil {
				return err
			}
		case []*store.Record:
			for _, rec := range o {
				if err := d.dumpRecord(ctx, rec); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: cannot dump %T", replicant.ErrUnexpectedValue, obj)
		}
	}
	return nil
}

func (d *Dumper) dumpRecord(ctx context.Context, rec *store.Record) error {
	if rec == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id := rec.Identity()
	if _, ok := d.visited[id]; ok {
		return nil
	}
	d.visited[id] = struct{}{}

	typ, err := d.registry.Type(rec.Type)
	if err != nil {
		return err
	}
	if spec := d.spec(typ); spec != nil {
		err = spec(ctx, d, rec)
	} else {
		err = d.DumpGeneric(ctx, rec)
	}
	if err != nil {
		return err
	}
	return d.drain(ctx)
}

// deferred runs fn now, or once no belongs-to traversal is in progress.
func (d *Dumper) deferred(ctx context.Context, fn func(context.Context) error) error {
	if d.depth > 0 {
		d.pending = append(d.pending, fn)
		return nil
	}
	return fn(ctx)
}

func (d *Dumper) drain(ctx context.Context) error {
	for d.depth == 0 && len(d.pending) > 0 {
		fn := d.pending[0]
		d.pending = d.pending[1:]
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dumper) spec(typ *schema.Type) DumpSpec {
	for _, name := range typ.Lineage() {
		if spec, ok := d.specs[name]; ok {
			return spec
		}
	}
	return nil
}

// DumpGeneric writes rec after everything it belongs to, then dumps its
// has-one associations and its extra associations. Collections of the
// records rec belongs to are dumped after rec is written.
func (d *Dumper) DumpGeneric(ctx context.Context, rec *store.Record) error {
	typ, err := d.registry.Type(rec.Type)
	if err != nil {
		return err
	}

	if err := d.dumpBelongsTo(ctx, rec, typ); err != nil {
		return err
	}

	if err := d.Write(ctx, rec.Type, rec.ID, d.Attributes(typ, rec)); err != nil {
		return err
	}
	if err := d.drain(ctx); err != nil {
		return err
	}

	return d.deferred(ctx, func(ctx context.Context) error {
		for _, rel := range typ.HasOne() {
			if err := d.dumpRelationship(ctx, rec, rel); err != nil {
				return err
			}
		}
		for _, name := range typ.ExtraAssociations() {
			if err := d.DumpAssociation(ctx, rec, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Dumper) dumpBelongsTo(ctx context.Context, rec *store.Record, typ *schema.Type) error {
	d.depth++
	defer func() { d.depth-- }()
	for _, rel := range typ.BelongsTo() {
		if err := d.dumpRelationship(ctx, rec, rel); err != nil {
			return err
		}
	}
	return nil
}

// DumpAssociation dumps the records associated with rec through the named
// relationship. Many-to-many associations are followed by their relation
// record. An undeclared name is an error. Called while the records rec
// belongs to are being dumped, the association is dumped once they are
// written.
func (d *Dumper) DumpAssociation(ctx context.Context, rec *store.Record, name string) error {
	typ, err := d.registry.Type(rec.Type)
	if err != nil {
		return err
	}
	rel, ok := typ.Relationship(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", replicant.ErrUnknownAssociation, rec.Type, name)
	}

	// the owner has to precede any relation record that references it
	if err := d.dumpRecord(ctx, rec); err != nil {
		return err
	}
	return d.deferred(ctx, func(ctx context.Context) error {
		return d.dumpAssociation(ctx, rec, rel)
	})
}

func (d *Dumper) dumpAssociation(ctx context.Context, rec *store.Record, rel schema.Relationship) error {
	members, ok, err := d.read(ctx, rec, rel)
	if err != nil || !ok {
		return err
	}
	if err := d.Dump(ctx, members); err != nil {
		return err
	}
	if rel.Kind != schema.ManyToMany {
		return nil
	}

	t := relation.New(rec, rel, members)
	id := t.Identity()
	if _, done := d.visited[id]; done {
		return nil
	}
	d.visited[id] = struct{}{}
	return d.Write(ctx, t.Type, t.ID, t.Attributes)
}

func (d *Dumper) dumpRelationship(ctx context.Context, rec *store.Record, rel schema.Relationship) error {
	members, ok, err := d.read(ctx, rec, rel)
	if err != nil || !ok {
		return err
	}
	return d.Dump(ctx, members)
}

// read loads an association as a list of records. ok is false when the
// association was skipped with a warning.
func (d *Dumper) read(ctx context.Context, rec *store.Record, rel schema.Relationship) ([]*store.Record, bool, error) {
	v, err := d.source.Association(ctx, rec, rel)
	if errors.Is(err, replicant.ErrUnknownType) {
		d.logger.Warn().Err(err).
			EmbedObject(rec.Identity()).
			Str("association", rel.Name).
			Msg("association points at an undeclared type, skipping")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s.%s: %w", rec.Type, rel.Name, err)
	}

	switch v := v.(type) {
	case nil:
		return nil, true, nil
	case *store.Record:
		if v == nil {
			return nil, true, nil
		}
		return []*store.Record{v}, true, nil
	case []*store.Record:
		return v, true, nil
	default:
		d.logger.Warn().
			EmbedObject(rec.Identity()).
			Str("association", rel.Name).
			Str("got", fmt.Sprintf("%T", v)).
			Msg("unexpected association value, skipping")
		return nil, false, nil
	}
}

// Attributes extracts the tuple attributes of rec. Foreign keys of
// belongs-to relationships become references to the associated type.
func (d *Dumper) Attributes(typ *schema.Type, rec *store.Record) replicant.Attributes {
	attrs := make(replicant.Attributes, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		rel, ok := typ.ForeignKeyRelationship(f.Name)
		if !ok || f.Value == nil {
			attrs = append(attrs, replicant.Attribute{Name: f.Name, Value: replicant.S(f.Value)})
			continue
		}
		target := rel.Type
		if rel.Polymorphic {
			v, _ := rec.Get(rel.TypeField)
			name, _ := v.(string)
			if name == "" {
				attrs = append(attrs, replicant.Attribute{Name: f.Name, Value: replicant.S(f.Value)})
				continue
			}
			target = name
		}
		attrs = append(attrs, replicant.Attribute{Name: f.Name, Value: replicant.Ref(target, f.Value)})
	}
	return attrs
}

// Write sends one tuple to the sink. It is the only place a Dumper emits
// output.
func (d *Dumper) Write(ctx context.Context, typ string, id interface{}, attrs replicant.Attributes) error {
	if err := d.writer.Write(ctx, replicant.Tuple{Type: typ, ID: id, Attributes: attrs}); err != nil {
		return fmt.Errorf("write %s:%v: %w", typ, id, err)
	}
	d.count++
	return nil
}

// Count is the number of tuples written so far
func (d *Dumper) Count() int {
	return d.count
}
