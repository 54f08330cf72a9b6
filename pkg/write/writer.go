package write

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/authzed/replicant/pkg/replicant"
)

// TupleWriter is the sink of a dump
type TupleWriter interface {
	Write(context.Context, replicant.Tuple) error
}

// TupleWriterFunc adapts a function to a TupleWriter
type TupleWriterFunc func(context.Context, replicant.Tuple) error

func (f TupleWriterFunc) Write(ctx context.Context, t replicant.Tuple) error {
	return f(ctx, t)
}

// NewTupleWriter wraps w based on the current config. It will configure trace
// logging if the current log level is trace, and will dry-run if w is nil.
func NewTupleWriter(w TupleWriter) TupleWriter {
	if w == nil {
		return NewDryRunTupleWriter()
	}
	if zerolog.GlobalLevel() == zerolog.TraceLevel {
		return NewLoggingTupleWriter(w, zerolog.TraceLevel)
	}
	return w
}

// LoggingTupleWriter will log each write before delegating to an
// underlying TupleWriter
type LoggingTupleWriter struct {
	writer TupleWriter
	level  zerolog.Level
}

// NewLoggingTupleWriter logs at level and delegates to w
func NewLoggingTupleWriter(w TupleWriter, level zerolog.Level) LoggingTupleWriter {
	return LoggingTupleWriter{writer: w, level: level}
}

func (w LoggingTupleWriter) Write(ctx context.Context, t replicant.Tuple) error {
	err := w.writer.Write(ctx, t)
	log.WithLevel(w.level).EmbedObject(t.Identity()).Str("tuple", t.String()).Msg("write")
	return err
}

// NewDryRunTupleWriter constructs a new tuple writer that logs but doesn't
// write.
func NewDryRunTupleWriter() TupleWriter {
	return NewLoggingTupleWriter(DiscardingTupleWriter{}, zerolog.InfoLevel)
}

// DiscardingTupleWriter does nothing but satisfy TupleWriter
type DiscardingTupleWriter struct{}

func (w DiscardingTupleWriter) Write(ctx context.Context, t replicant.Tuple) error {
	return nil
}

// CollectingTupleWriter keeps every tuple in memory, in write order.
type CollectingTupleWriter struct {
	mu     sync.Mutex
	tuples []replicant.Tuple
}

func (w *CollectingTupleWriter) Write(ctx context.Context, t replicant.Tuple) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tuples = append(w.tuples, replicant.Tuple{Type: t.Type, ID: t.ID, Attributes: t.Attributes.Clone()})
	return nil
}

// Tuples returns a copy of the collected tuples
func (w *CollectingTupleWriter) Tuples() []replicant.Tuple {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]replicant.Tuple(nil), w.tuples...)
}

// CountingTupleWriter counts successful writes per type
type CountingTupleWriter struct {
	writer TupleWriter

	mu     sync.Mutex
	total  int
	byType map[string]int
}

// NewCountingTupleWriter counts writes that w accepts
func NewCountingTupleWriter(w TupleWriter) *CountingTupleWriter {
	return &CountingTupleWriter{writer: w, byType: make(map[string]int)}
}

func (w *CountingTupleWriter) Write(ctx context.Context, t replicant.Tuple) error {
	if err := w.writer.Write(ctx, t); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total++
	w.byType[t.Type]++
	return nil
}

// Total is the number of tuples written
func (w *CountingTupleWriter) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// MarshalZerologObject satisfies the zerolog.LogObjectMarshaler interface
func (w *CountingTupleWriter) MarshalZerologObject(e *zerolog.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.Int("total", w.total)
	d := zerolog.Dict()
	for typ, n := range w.byType {
		d.Int(typ, n)
	}
	e.Dict("types", d)
}
