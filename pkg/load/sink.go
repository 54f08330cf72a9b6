package load

import (
	"context"
	"io"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/store"
	"github.com/authzed/replicant/pkg/write"
)

// Sink loads each written tuple within tx, so a Dumper can feed a Loader
// directly.
type Sink struct {
	loader *Loader
	tx     store.Tx
}

var _ write.TupleWriter = &Sink{}

// NewSink returns a Sink loading into tx
func NewSink(l *Loader, tx store.Tx) *Sink {
	return &Sink{loader: l, tx: tx}
}

func (s *Sink) Write(ctx context.Context, t replicant.Tuple) error {
	_, err := s.loader.Load(ctx, s.tx, t)
	return err
}

// Stream runs fn with a Sink over a new transaction and commits if fn
// succeeds. It is the in-process counterpart of Read.
func (l *Loader) Stream(ctx context.Context, fn func(context.Context, write.TupleWriter) error) error {
	return l.transaction(ctx, func(tx store.Tx) error {
		return fn(ctx, NewSink(l, tx))
	})
}

// SliceReader replays collected tuples
type SliceReader struct {
	tuples []replicant.Tuple
	pos    int
}

// NewSliceReader reads tuples in order
func NewSliceReader(tuples []replicant.Tuple) *SliceReader {
	return &SliceReader{tuples: tuples}
}

// Next satisfies TupleReader
func (r *SliceReader) Next() (replicant.Tuple, error) {
	if r.pos >= len(r.tuples) {
		return replicant.Tuple{}, io.EOF
	}
	t := r.tuples[r.pos]
	r.pos++
	return t, nil
}
