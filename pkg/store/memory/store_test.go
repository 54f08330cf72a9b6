package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

func registry(t testing.TB) *schema.Registry {
	reg, err := schema.NewBuilder().
		Type("Author").
		Type("Post").
		Type("Article", schema.Parent("Post")).
		Type("Tag").
		Relationship("Post",
			schema.Relationship{Name: "author", Kind: schema.BelongsTo, Type: "Author", ForeignKey: "author_id"},
			schema.Relationship{Name: "tags", Kind: schema.ManyToMany, Type: "Tag", JoinTable: "post_tags", JoinForeignKey: "post_id", JoinAssociationKey: "tag_id"},
		).
		Relationship("Author",
			schema.Relationship{Name: "posts", Kind: schema.HasMany, Type: "Post", ForeignKey: "author_id"},
			schema.Relationship{Name: "latest", Kind: schema.HasOne, Type: "Post", ForeignKey: "author_id"},
		).
		Build()
	require.NoError(t, err)
	return reg
}

func typ(t testing.TB, reg *schema.Registry, name string) *schema.Type {
	ty, err := reg.Type(name)
	require.NoError(t, err)
	return ty
}

func TestRollbackDiscardsWrites(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := New(reg)

	tx, err := s.Begin(ctx)
	require.NoError(err)
	_, err = tx.Insert(ctx, typ(t, reg, "Author"), []store.Field{{Name: "name", Value: "Ada"}}, store.WriteOptions{})
	require.NoError(err)
	require.NoError(tx.Rollback(ctx))
	require.Empty(s.All("Author"))

	tx, err = s.Begin(ctx)
	require.NoError(err)
	rec, err := tx.Insert(ctx, typ(t, reg, "Author"), []store.Field{{Name: "name", Value: "Ada"}}, store.WriteOptions{})
	require.NoError(err)
	require.Equal(int64(1), rec.ID)
	require.NoError(tx.Commit(ctx))
	require.NoError(tx.Rollback(ctx), "rollback after commit is a no-op")
	require.Len(s.All("Author"), 1)

	_, err = tx.Insert(ctx, typ(t, reg, "Author"), nil, store.WriteOptions{})
	require.Error(err)
}

func TestHooks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	rejected := errors.New("title required")
	calls := 0
	s := New(reg, WithHook("Post", func(ctx context.Context, rec *store.Record) error {
		calls++
		if v, _ := rec.Get("title"); v == nil {
			return rejected
		}
		return nil
	}))

	_, err := s.Put(ctx, "Article")
	require.True(errors.Is(err, rejected), "hooks apply to subtypes")

	tx, err := s.Begin(ctx)
	require.NoError(err)
	_, err = tx.Insert(ctx, typ(t, reg, "Article"), nil, store.WriteOptions{BypassHooks: true})
	require.NoError(err)
	require.NoError(tx.Commit(ctx))
	require.Equal(1, calls)
	require.Len(s.All("Post"), 1)
	require.Equal("Article", s.All("Post")[0].Type)
}

func TestConflicts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := New(reg, WithUnique("Tag", "name"))

	_, err := s.Put(ctx, "Tag", store.Field{Name: "name", Value: "go"})
	require.NoError(err)
	_, err = s.Put(ctx, "Tag", store.Field{Name: "name", Value: "go"})
	require.True(errors.Is(err, store.ErrConflict))

	_, err = s.Put(ctx, "Tag", store.Field{Name: "id", Value: int64(1)}, store.Field{Name: "name", Value: "sql"})
	require.True(errors.Is(err, store.ErrConflict))

	// explicit ids advance the sequence
	_, err = s.Put(ctx, "Tag", store.Field{Name: "id", Value: int64(10)}, store.Field{Name: "name", Value: "sql"})
	require.NoError(err)
	rec, err := s.Put(ctx, "Tag", store.Field{Name: "name", Value: "rust"})
	require.NoError(err)
	require.Equal(int64(11), rec.ID)
}

func TestULIDs(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := New(reg, WithULIDs("Tag"))

	a, err := s.Put(ctx, "Tag", store.Field{Name: "name", Value: "a"})
	require.NoError(err)
	b, err := s.Put(ctx, "Tag", store.Field{Name: "name", Value: "b"})
	require.NoError(err)

	ida, err := ulid.ParseStrict(a.ID.(string))
	require.NoError(err)
	idb, err := ulid.ParseStrict(b.ID.(string))
	require.NoError(err)
	require.Equal(-1, ida.Compare(idb))
	v, _ := a.Get("id")
	require.Equal(a.ID, v)
}

func TestAssociations(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := registry(t)
	s := New(reg)

	ada, err := s.Put(ctx, "Author", store.Field{Name: "name", Value: "Ada"})
	require.NoError(err)
	post, err := s.Put(ctx, "Article", store.Field{Name: "title", Value: "X"}, store.Field{Name: "author_id", Value: ada.ID})
	require.NoError(err)
	orphan, err := s.Put(ctx, "Post", store.Field{Name: "title", Value: "Y"}, store.Field{Name: "author_id", Value: nil})
	require.NoError(err)
	goTag, err := s.Put(ctx, "Tag", store.Field{Name: "name", Value: "go"})
	require.NoError(err)
	require.NoError(s.Link(ctx, post, "tags", goTag.ID))

	postType := typ(t, reg, "Post")
	authorType := typ(t, reg, "Author")

	author, _ := postType.Relationship("author")
	got, err := s.Association(ctx, post, author)
	require.NoError(err)
	require.Equal(ada.ID, got.(*store.Record).ID)

	got, err = s.Association(ctx, orphan, author)
	require.NoError(err)
	require.Nil(got)

	posts, _ := authorType.Relationship("posts")
	got, err = s.Association(ctx, ada, posts)
	require.NoError(err)
	require.Len(got.([]*store.Record), 1)

	latest, _ := authorType.Relationship("latest")
	got, err = s.Association(ctx, ada, latest)
	require.NoError(err)
	require.Equal(post.ID, got.(*store.Record).ID)

	tags, _ := postType.Relationship("tags")
	got, err = s.Association(ctx, post, tags)
	require.NoError(err)
	require.Len(got.([]*store.Record), 1)
	require.Equal([]interface{}{goTag.ID}, s.Members(post, "tags"))

	found, err := s.Find(ctx, postType, post.ID)
	require.NoError(err)
	require.Equal("Article", found.Type)
	_, err = s.Find(ctx, authorType, int64(100))
	require.True(errors.Is(err, store.ErrNotFound))
}
