package relation

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/authzed/replicant/pkg/keymap"
	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
	"github.com/authzed/replicant/pkg/store/memory"
)

var tags = schema.Relationship{
	Name:               "tags",
	Kind:               schema.ManyToMany,
	Type:               "Tag",
	JoinTable:          "post_tags",
	JoinForeignKey:     "post_id",
	JoinAssociationKey: "tag_id",
}

func registry(t testing.TB) *schema.Registry {
	reg, err := schema.NewBuilder().
		Type("Post").
		Type("Tag").
		Relationship("Post", tags, schema.Relationship{Name: "editor", Kind: schema.BelongsTo, Type: "Tag", ForeignKey: "editor_id"}).
		Build()
	require.NoError(t, err)
	return reg
}

func TestNewAndParse(t *testing.T) {
	require := require.New(t)
	owner := &store.Record{Type: "Post", ID: int64(10)}
	members := []*store.Record{{Type: "Tag", ID: int64(1)}, {Type: "Tag", ID: int64(2)}}

	tuple := New(owner, tags, members)
	require.True(Is(tuple))
	require.Equal("Post:tags:10", tuple.ID)
	require.Equal([]string{AttrOwner, AttrOwnerType, AttrAssociatedType, AttrName, AttrCollection}, tuple.Attributes.Names())

	r, err := Parse(tuple)
	require.NoError(err)
	require.Equal(Record{
		Owner:          replicant.Ref("Post", int64(10)),
		OwnerType:      "Post",
		AssociatedType: "Tag",
		Name:           "tags",
		Collection:     replicant.Refs("Tag", int64(1), int64(2)),
	}, r)

	empty := New(owner, tags, nil)
	r, err = Parse(empty)
	require.NoError(err)
	require.Empty(r.Collection.IDs)
	require.Equal("Tag", r.Collection.Type)
}

func TestParseRejectsBadShapes(t *testing.T) {
	table := []struct {
		name  string
		tuple replicant.Tuple
	}{
		{"other type", replicant.Tuple{Type: "Post"}},
		{"scalar owner", replicant.Tuple{Type: TypeName, Attributes: replicant.Attributes{
			{Name: AttrOwner, Value: replicant.S(10)},
			{Name: AttrName, Value: replicant.S("tags")},
		}}},
		{"numeric name", replicant.Tuple{Type: TypeName, Attributes: replicant.Attributes{
			{Name: AttrOwner, Value: replicant.Ref("Post", 10)},
			{Name: AttrName, Value: replicant.S(7)},
		}}},
		{"single collection", replicant.Tuple{Type: TypeName, Attributes: replicant.Attributes{
			{Name: AttrOwner, Value: replicant.Ref("Post", 10)},
			{Name: AttrName, Value: replicant.S("tags")},
			{Name: AttrCollection, Value: replicant.Ref("Tag", 1)},
		}}},
		{"no name", replicant.Tuple{Type: TypeName, Attributes: replicant.Attributes{
			{Name: AttrOwner, Value: replicant.Ref("Post", 10)},
		}}},
	}
	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.tuple)
			require.True(t, errors.Is(err, replicant.ErrUnexpectedValue), err)
		})
	}
}

func TestLoadTranslatesMembers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := memory.New(reg)
	postType, _ := reg.Type("Post")
	tagType, _ := reg.Type("Tag")

	post, err := s.Put(ctx, "Post")
	require.NoError(err)
	tag, err := s.Put(ctx, "Tag")
	require.NoError(err)

	km := keymap.New()
	km.Register(postType, int64(10), post)
	km.Register(tagType, int64(1), tag)

	tuple := New(&store.Record{Type: "Post", ID: int64(10)}, tags, []*store.Record{
		{Type: "Tag", ID: int64(1)},
		{Type: "Tag", ID: int64(2)},
	})

	var logs bytes.Buffer
	tx, err := s.Begin(ctx)
	require.NoError(err)
	require.NoError(Load(ctx, tx, reg, km, tuple, zerolog.New(&logs)))
	require.NoError(tx.Commit(ctx))

	require.Equal([]interface{}{tag.ID}, s.Members(post, "tags"))
	require.Contains(logs.String(), "relation member was not loaded")
}

func TestLoadSkipsMissingOwners(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := memory.New(reg)

	var logs bytes.Buffer
	tx, err := s.Begin(ctx)
	require.NoError(err)
	defer tx.Rollback(ctx)
	tuple := New(&store.Record{Type: "Post", ID: int64(10)}, tags, nil)
	require.NoError(Load(ctx, tx, reg, keymap.New(), tuple, zerolog.New(&logs)))
	require.Contains(logs.String(), "relation owner was not loaded")
}

func TestLoadRejectsUnknownRelationships(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := memory.New(reg)
	tx, err := s.Begin(ctx)
	require.NoError(err)
	defer tx.Rollback(ctx)

	owner := &store.Record{Type: "Post", ID: int64(10)}
	for _, rel := range []schema.Relationship{
		{Name: "labels", Kind: schema.ManyToMany, Type: "Tag"},
		{Name: "editor", Kind: schema.BelongsTo, Type: "Tag"},
	} {
		err := Load(ctx, tx, reg, keymap.New(), New(owner, rel, nil), zerolog.Nop())
		require.True(errors.Is(err, replicant.ErrUnknownAssociation), rel.Name)
	}

	bogus := New(&store.Record{Type: "Comment", ID: 1}, tags, nil)
	err = Load(ctx, tx, reg, keymap.New(), bogus, zerolog.Nop())
	require.True(errors.Is(err, replicant.ErrUnknownType))
}
