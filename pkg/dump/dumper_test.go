package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/authzed/replicant/pkg/codec"
	"github.com/authzed/replicant/pkg/relation"
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
	"github.com/authzed/replicant/pkg/store/memory"
	"github.com/authzed/replicant/pkg/write"
)

func blog(extra ...func(*schema.Builder)) func(t testing.TB) *schema.Registry {
	return func(t testing.TB) *schema.Registry {
		b := schema.NewBuilder().
			Type("Author").
			Type("Post").
			Type("Article", schema.Parent("Post")).
			Type("Tag").
			Type("Comment").
			Relationship("Author",
				schema.Relationship{Name: "posts", Kind: schema.HasMany, Type: "Post", ForeignKey: "author_id"},
			).
			Relationship("Post",
				schema.Relationship{Name: "author", Kind: schema.BelongsTo, Type: "Author", ForeignKey: "author_id"},
				schema.Relationship{Name: "tags", Kind: schema.ManyToMany, Type: "Tag", JoinTable: "post_tags", JoinForeignKey: "post_id", JoinAssociationKey: "tag_id"},
				schema.Relationship{Name: "comments", Kind: schema.HasMany, Type: "Comment", ForeignKey: "subject_id"},
			).
			Relationship("Comment",
				schema.Relationship{Name: "subject", Kind: schema.BelongsTo, Polymorphic: true, ForeignKey: "subject_id", TypeField: "subject_type"},
			)
		for _, fn := range extra {
			fn(b)
		}
		reg, err := b.Build()
		require.NoError(t, err)
		return reg
	}
}

type fixture struct {
	store    *memory.Store
	registry *schema.Registry
	ada      *store.Record
	x        *store.Record
	y        *store.Record
	goTag    *store.Record
	sqlTag   *store.Record
	comment  *store.Record
}

func seed(t testing.TB, reg *schema.Registry) *fixture {
	require := require.New(t)
	ctx := context.Background()
	f := &fixture{store: memory.New(reg), registry: reg}
	put := func(typ string, fields ...store.Field) *store.Record {
		rec, err := f.store.Put(ctx, typ, fields...)
		require.NoError(err)
		return rec
	}
	f.ada = put("Author", store.Field{Name: "id", Value: int64(1)}, store.Field{Name: "name", Value: "Ada"})
	f.x = put("Post", store.Field{Name: "id", Value: int64(10)}, store.Field{Name: "title", Value: "X"}, store.Field{Name: "author_id", Value: int64(1)})
	f.y = put("Post", store.Field{Name: "id", Value: int64(11)}, store.Field{Name: "title", Value: "Y"}, store.Field{Name: "author_id", Value: int64(1)})
	f.goTag = put("Tag", store.Field{Name: "id", Value: int64(1)}, store.Field{Name: "name", Value: "go"})
	f.sqlTag = put("Tag", store.Field{Name: "id", Value: int64(2)}, store.Field{Name: "name", Value: "sql"})
	f.comment = put("Comment",
		store.Field{Name: "id", Value: int64(100)},
		store.Field{Name: "body", Value: "nice"},
		store.Field{Name: "subject_type", Value: "Post"},
		store.Field{Name: "subject_id", Value: int64(10)},
	)
	require.NoError(f.store.Link(ctx, f.x, "tags", f.goTag.ID, f.sqlTag.ID))
	require.NoError(f.store.Link(ctx, f.y, "tags", f.goTag.ID))
	return f
}

// requireReferencesFirst fails if a tuple references a record that is only
// written after it.
func requireReferencesFirst(t testing.TB, tuples []replicant.Tuple) {
	t.Helper()
	written := make(map[replicant.Identity]int, len(tuples))
	for i, tuple := range tuples {
		written[tuple.Identity()] = i
	}
	for i, tuple := range tuples {
		for _, a := range tuple.Attributes {
			var refs []replicant.Identity
			switch v := a.Value.(type) {
			case replicant.Reference:
				refs = append(refs, v.Identity())
			case replicant.ReferenceList:
				for _, id := range v.IDs {
					refs = append(refs, replicant.NewIdentity(v.Type, id))
				}
			}
			for _, ref := range refs {
				at, ok := written[ref]
				require.True(t, ok, "%s references %s, which is not in the stream", tuple.Identity(), ref)
				require.Less(t, at, i, "%s references %s before it is written", tuple.Identity(), ref)
			}
		}
	}
}

func identities(tuples []replicant.Tuple) []string {
	out := make([]string, 0, len(tuples))
	for _, t := range tuples {
		out = append(out, t.Identity().String())
	}
	return out
}

func TestAuthorWithPosts(t *testing.T) {
	require := require.New(t)
	reg := blog(func(b *schema.Builder) { b.ExtraAssociations("Author", "posts") })(t)
	s := memory.New(reg)
	ctx := context.Background()
	ada, err := s.Put(ctx, "Author", store.Field{Name: "id", Value: int64(1)}, store.Field{Name: "name", Value: "Ada"})
	require.NoError(err)
	_, err = s.Put(ctx, "Post", store.Field{Name: "id", Value: int64(10)}, store.Field{Name: "title", Value: "X"}, store.Field{Name: "author_id", Value: int64(1)})
	require.NoError(err)

	w := &write.CollectingTupleWriter{}
	d := New(s, reg, w)
	require.NoError(d.Dump(ctx, ada))

	require.Equal([]replicant.Tuple{
		{Type: "Author", ID: int64(1), Attributes: replicant.Attributes{
			{Name: "id", Value: replicant.S(int64(1))},
			{Name: "name", Value: replicant.S("Ada")},
		}},
		{Type: "Post", ID: int64(10), Attributes: replicant.Attributes{
			{Name: "id", Value: replicant.S(int64(10))},
			{Name: "title", Value: replicant.S("X")},
			{Name: "author_id", Value: replicant.Ref("Author", int64(1))},
		}},
	}, w.Tuples())
	require.Equal(2, d.Count())
}

func TestBelongsToComesFirst(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog()(t))
	w := &write.CollectingTupleWriter{}

	d := New(f.store, f.registry, w)
	require.NoError(d.Dump(context.Background(), f.comment))
	require.Equal([]string{"Author:1", "Post:10", "Comment:100"}, identities(w.Tuples()))
}

func TestDumpsEachRecordOnce(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog(func(b *schema.Builder) {
		b.ExtraAssociations("Author", "posts")
		b.ExtraAssociations("Post", "tags")
	})(t))
	w := &write.CollectingTupleWriter{}

	d := New(f.store, f.registry, w)
	require.NoError(d.Dump(context.Background(), f.x, nil, []*store.Record{f.ada, f.y}, f.x))
	require.NoError(d.Dump(context.Background(), f.goTag))

	// the posts of Ada are dumped once X is written
	require.Equal([]string{
		"Author:1",
		"Post:10",
		"Post:11",
		"Tag:1",
		relation.TypeName + ":Post:tags:11",
		"Tag:2",
		relation.TypeName + ":Post:tags:10",
	}, identities(w.Tuples()))
	requireReferencesFirst(t, w.Tuples())

	seen := make(map[string]struct{})
	for _, id := range identities(w.Tuples()) {
		_, dup := seen[id]
		require.False(dup, id)
		seen[id] = struct{}{}
	}
}

func TestCollectionsOfParentsWaitForTheChild(t *testing.T) {
	require := require.New(t)
	reg, err := schema.NewBuilder().
		Type("Author").
		Type("Post").
		Type("Note").
		Relationship("Author",
			schema.Relationship{Name: "notes", Kind: schema.HasMany, Type: "Note", ForeignKey: "author_id"},
		).
		Relationship("Post",
			schema.Relationship{Name: "author", Kind: schema.BelongsTo, Type: "Author", ForeignKey: "author_id"},
		).
		Relationship("Note",
			schema.Relationship{Name: "post", Kind: schema.BelongsTo, Type: "Post", ForeignKey: "post_id"},
			schema.Relationship{Name: "author", Kind: schema.BelongsTo, Type: "Author", ForeignKey: "author_id"},
		).
		ExtraAssociations("Author", "notes").
		Build()
	require.NoError(err)

	ctx := context.Background()
	s := memory.New(reg)
	_, err = s.Put(ctx, "Author", store.Field{Name: "id", Value: int64(1)}, store.Field{Name: "name", Value: "Ada"})
	require.NoError(err)
	_, err = s.Put(ctx, "Post", store.Field{Name: "id", Value: int64(10)}, store.Field{Name: "author_id", Value: int64(1)})
	require.NoError(err)
	note, err := s.Put(ctx, "Note", store.Field{Name: "id", Value: int64(100)}, store.Field{Name: "post_id", Value: int64(10)}, store.Field{Name: "author_id", Value: int64(1)})
	require.NoError(err)
	_, err = s.Put(ctx, "Note", store.Field{Name: "id", Value: int64(101)}, store.Field{Name: "post_id", Value: int64(10)}, store.Field{Name: "author_id", Value: int64(1)})
	require.NoError(err)

	w := &write.CollectingTupleWriter{}
	require.NoError(New(s, reg, w).Dump(ctx, note))

	require.Equal([]string{"Author:1", "Post:10", "Note:100", "Note:101"}, identities(w.Tuples()))
	requireReferencesFirst(t, w.Tuples())
}

func TestDumpRejectsUnexpectedValues(t *testing.T) {
	f := seed(t, blog()(t))
	d := New(f.store, f.registry, write.DiscardingTupleWriter{})
	err := d.Dump(context.Background(), "Post:10")
	require.True(t, errors.Is(err, replicant.ErrUnexpectedValue))
}

func TestRelationFollowsMembers(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog()(t))
	w := &write.CollectingTupleWriter{}

	d := New(f.store, f.registry, w)
	require.NoError(d.DumpAssociation(context.Background(), f.x, "tags"))

	tuples := w.Tuples()
	require.Equal([]string{"Author:1", "Post:10", "Tag:1", "Tag:2", relation.TypeName + ":Post:tags:10"}, identities(tuples))

	rel, err := relation.Parse(tuples[4])
	require.NoError(err)
	require.Equal(replicant.Ref("Post", int64(10)), rel.Owner)
	require.Equal("Tag", rel.AssociatedType)
	require.Equal(replicant.Refs("Tag", int64(1), int64(2)), rel.Collection)
}

func TestUnknownAssociation(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog()(t))

	d := New(f.store, f.registry, write.DiscardingTupleWriter{})
	err := d.DumpAssociation(context.Background(), f.x, "reviewers")
	require.True(errors.Is(err, replicant.ErrUnknownAssociation))

	d = New(f.store, f.registry, write.DiscardingTupleWriter{}, WithSpec("Post", Including("reviewers")))
	err = d.Dump(context.Background(), f.x)
	require.True(errors.Is(err, replicant.ErrUnknownAssociation))
}

// oddSource answers some associations with values a store should not return
type oddSource struct {
	*memory.Store
	answers map[string]func() (interface{}, error)
}

func (s oddSource) Association(ctx context.Context, rec *store.Record, rel schema.Relationship) (interface{}, error) {
	if answer, ok := s.answers[rel.Name]; ok {
		return answer()
	}
	return s.Store.Association(ctx, rec, rel)
}

func TestUnexpectedAssociationsAreSkipped(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog(func(b *schema.Builder) {
		b.Relationship("Post",
			schema.Relationship{Name: "cover", Kind: schema.HasOne, Type: "Tag", ForeignKey: "cover_id"},
			schema.Relationship{Name: "legacy", Kind: schema.HasMany, Type: "Tag", ForeignKey: "legacy_id"},
		)
		b.ExtraAssociations("Post", "legacy", "tags")
	})(t))

	src := oddSource{Store: f.store, answers: map[string]func() (interface{}, error){
		"cover": func() (interface{}, error) { return "not a record", nil },
		"legacy": func() (interface{}, error) {
			return nil, fmt.Errorf("%w: %q", replicant.ErrUnknownType, "LegacyTag")
		},
	}}

	var logs bytes.Buffer
	w := &write.CollectingTupleWriter{}
	d := New(src, f.registry, w, WithLogger(zerolog.New(&logs)))
	require.NoError(d.Dump(context.Background(), f.x))

	require.Equal([]string{"Author:1", "Post:10", "Tag:1", "Tag:2", relation.TypeName + ":Post:tags:10"}, identities(w.Tuples()))
	require.Contains(logs.String(), "unexpected association value")
	require.Contains(logs.String(), "undeclared type")
}

func TestAssociationErrorsStopTheDump(t *testing.T) {
	f := seed(t, blog()(t))
	broken := errors.New("connection reset")
	src := oddSource{Store: f.store, answers: map[string]func() (interface{}, error){
		"author": func() (interface{}, error) { return nil, broken },
	}}
	d := New(src, f.registry, write.DiscardingTupleWriter{})
	err := d.Dump(context.Background(), f.x)
	require.True(t, errors.Is(err, broken))
}

func TestSpecsApplyToSubtypes(t *testing.T) {
	require := require.New(t)
	reg := blog()(t)
	f := seed(t, reg)
	ctx := context.Background()
	article, err := f.store.Put(ctx, "Article",
		store.Field{Name: "id", Value: int64(12)},
		store.Field{Name: "title", Value: "Z"},
		store.Field{Name: "author_id", Value: int64(1)},
	)
	require.NoError(err)
	require.NoError(f.store.Link(ctx, article, "tags", f.sqlTag.ID))

	w := &write.CollectingTupleWriter{}
	d := New(f.store, reg, w, WithSpec("Post", Including("tags")))
	require.NoError(d.Dump(ctx, article))

	require.Equal([]string{"Author:1", "Article:12", "Tag:2", relation.TypeName + ":Article:tags:12"}, identities(w.Tuples()))
}

func TestOptionsFromConfig(t *testing.T) {
	require := require.New(t)
	reg := blog()(t)
	f := seed(t, reg)

	c := reg.ToConfig()
	post, ok := c.Find("Post")
	require.True(ok)
	post.DumpWith = []string{"comments"}

	w := &write.CollectingTupleWriter{}
	d := New(f.store, reg, w, OptionsFromConfig(c)...)
	require.NoError(d.Dump(context.Background(), f.x))
	require.Equal([]string{"Author:1", "Post:10", "Comment:100"}, identities(w.Tuples()))
}

func TestDumpHonorsCancellation(t *testing.T) {
	f := seed(t, blog()(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(f.store, f.registry, write.DiscardingTupleWriter{})
	err := d.Dump(ctx, f.x)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestWriteErrors(t *testing.T) {
	f := seed(t, blog()(t))
	full := errors.New("disk full")
	d := New(f.store, f.registry, write.TupleWriterFunc(func(ctx context.Context, t replicant.Tuple) error {
		return full
	}))
	err := d.Dump(context.Background(), f.ada)
	require.True(t, errors.Is(err, full))
	require.Equal(t, 0, d.Count())
}

func TestGoldenStream(t *testing.T) {
	require := require.New(t)
	f := seed(t, blog(func(b *schema.Builder) {
		b.ExtraAssociations("Author", "posts")
		b.ExtraAssociations("Post", "tags", "comments")
	})(t))

	var buf bytes.Buffer
	d := New(f.store, f.registry, codec.NewEncoder(&buf))
	require.NoError(d.Dump(context.Background(), f.ada))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "blog", buf.Bytes())

	tuples := make([]replicant.Tuple, 0)
	dec := codec.NewDecoder(&buf)
	for {
		tuple, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(err)
		tuples = append(tuples, tuple)
	}
	require.Len(tuples, 8)
	requireReferencesFirst(t, tuples)
}
