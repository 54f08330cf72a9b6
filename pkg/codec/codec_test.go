package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authzed/replicant/pkg/replicant"
)

func TestRoundTrip(t *testing.T) {
	require := require.New(t)

	tuples := []replicant.Tuple{
		{Type: "Author", ID: int64(1), Attributes: replicant.Attributes{
			{Name: "name", Value: replicant.S("Ada")},
			{Name: "score", Value: replicant.S(1.5)},
			{Name: "active", Value: replicant.S(true)},
			{Name: "deleted_at", Value: replicant.S(nil)},
			{Name: "settings", Value: replicant.S(map[string]interface{}{"theme": "dark", "size": int64(3)})},
			{Name: "aliases", Value: replicant.S([]interface{}{"ada", "countess"})},
		}},
		{Type: "Post", ID: "01HF8Z3T", Attributes: replicant.Attributes{
			{Name: "title", Value: replicant.S("X")},
			{Name: "author_id", Value: replicant.Ref("Author", int64(1))},
		}},
		{Type: "replicant.ManyToMany", ID: "Post:tags:01HF8Z3T", Attributes: replicant.Attributes{
			{Name: "collection", Value: replicant.Refs("Tag", int64(1), "two")},
			{Name: "empty", Value: replicant.Refs("Tag")},
		}},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	h, err := NewHeader("postgres://localhost/src")
	require.NoError(err)
	require.NoError(enc.WriteHeader(h))
	for _, tuple := range tuples {
		require.NoError(enc.Write(context.Background(), tuple))
	}

	dec := NewDecoder(&buf)
	got, ok, err := dec.ReadHeader()
	require.NoError(err)
	require.True(ok)
	require.Equal(Version, got.Version)
	require.Equal(h.Session, got.Session)
	require.Equal(h.Source, got.Source)
	require.True(h.CreatedAt.Equal(got.CreatedAt))

	for _, want := range tuples {
		tuple, err := dec.Next()
		require.NoError(err)
		require.Equal(want, tuple)
	}
	_, err = dec.Next()
	require.Equal(io.EOF, err)
}

func TestAttributeOrderIsKept(t *testing.T) {
	require := require.New(t)
	line, err := Marshal(replicant.Tuple{Type: "Post", ID: int64(10), Attributes: replicant.Attributes{
		{Name: "title", Value: replicant.S("X")},
		{Name: "author_id", Value: replicant.Ref("Author", int64(1))},
		{Name: "body", Value: nil},
	}})
	require.NoError(err)
	require.Equal(`{"type":"Post","id":10,"attributes":{"title":"X","author_id":{"@ref":"Author","id":1},"body":null}}`, string(line))

	tuple, err := Unmarshal(line)
	require.NoError(err)
	require.Equal([]string{"title", "author_id", "body"}, tuple.Attributes.Names())
}

func TestHeaderIsOptional(t *testing.T) {
	require := require.New(t)
	stream := `{"type":"Tag","id":1,"attributes":{"name":"go"}}` + "\n\n" +
		`{"type":"Tag","id":2,"attributes":{"name":"sql"}}`

	dec := NewDecoder(strings.NewReader(stream))
	_, ok, err := dec.ReadHeader()
	require.NoError(err)
	require.False(ok)

	first, err := dec.Next()
	require.NoError(err)
	require.Equal(int64(1), first.ID)
	second, err := dec.Next()
	require.NoError(err)
	require.Equal(int64(2), second.ID)
	_, err = dec.Next()
	require.Equal(io.EOF, err)
}

func TestEmptyStreams(t *testing.T) {
	require := require.New(t)

	dec := NewDecoder(strings.NewReader(""))
	_, ok, err := dec.ReadHeader()
	require.NoError(err)
	require.False(ok)
	_, err = dec.Next()
	require.Equal(io.EOF, err)

	h, err := NewHeader("")
	require.NoError(err)
	var buf bytes.Buffer
	require.NoError(NewEncoder(&buf).WriteHeader(h))
	dec = NewDecoder(&buf)
	_, ok, err = dec.ReadHeader()
	require.NoError(err)
	require.True(ok)
	_, err = dec.Next()
	require.Equal(io.EOF, err)
}

func TestTruncatedStream(t *testing.T) {
	require := require.New(t)
	stream := `{"type":"Tag","id":1,"attributes":{"name":"go"}}` + "\n" +
		`{"type":"Tag","id":2,"attri`

	dec := NewDecoder(strings.NewReader(stream))
	_, err := dec.Next()
	require.NoError(err)
	_, err = dec.Next()
	require.True(errors.Is(err, io.ErrUnexpectedEOF))
	require.Contains(err.Error(), "line 2")
}

func TestMalformedLines(t *testing.T) {
	table := []struct {
		name string
		line string
	}{
		{"not an object", `[1,2]`},
		{"missing type", `{"id":1,"attributes":{}}`},
		{"untagged object", `{"type":"Tag","id":1,"attributes":{"meta":{"a":1}}}`},
		{"header", `{"@header":{"version":1}}`},
	}
	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.line))
			require.Error(t, err)
		})
	}

	stream := `{"type":"Tag","id":1,"attributes":{}}` + "\n" + `{"@header":{"version":1}}` + "\n"
	dec := NewDecoder(strings.NewReader(stream))
	_, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected header")
}

func TestNumbers(t *testing.T) {
	require := require.New(t)
	tuple, err := Unmarshal([]byte(`{"type":"Reading","id":9007199254740993,"attributes":{"value":0.25,"count":3,"exp":1e3}}`))
	require.NoError(err)
	require.Equal(int64(9007199254740993), tuple.ID)

	v, _ := tuple.Attributes.Get("value")
	require.Equal(replicant.S(0.25), v)
	v, _ = tuple.Attributes.Get("count")
	require.Equal(replicant.S(int64(3)), v)
	v, _ = tuple.Attributes.Get("exp")
	require.Equal(replicant.S(1000.0), v)
}

func TestUnknownValuesAreRejected(t *testing.T) {
	type opaque struct{ replicant.Value }
	_, err := Marshal(replicant.Tuple{Type: "Tag", ID: 1, Attributes: replicant.Attributes{
		{Name: "x", Value: opaque{}},
	}})
	require.True(t, errors.Is(err, replicant.ErrUnexpectedValue))
}

func TestBinaryValues(t *testing.T) {
	require := require.New(t)
	blob := []byte{0xff, 0xfe, 0x00, 0x01}
	line, err := Marshal(replicant.Tuple{Type: "Avatar", ID: int64(1), Attributes: replicant.Attributes{
		{Name: "image", Value: replicant.S(blob)},
		{Name: "empty", Value: replicant.S([]byte{})},
		{Name: "caption", Value: replicant.S("/wA=")},
	}})
	require.NoError(err)
	require.Equal(`{"type":"Avatar","id":1,"attributes":{"image":{"@bytes":"//4AAQ=="},"empty":{"@bytes":""},"caption":"/wA="}}`, string(line))

	tuple, err := Unmarshal(line)
	require.NoError(err)
	require.Equal(replicant.S(blob), tuple.Attributes[0].Value)
	require.Equal(replicant.S([]byte{}), tuple.Attributes[1].Value)
	require.Equal(replicant.S("/wA="), tuple.Attributes[2].Value)

	_, err = Unmarshal([]byte(`{"type":"Avatar","id":1,"attributes":{"image":{"@bytes":"not base64!"}}}`))
	require.Error(err)
}
