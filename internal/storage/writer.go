package storage

import (
	"context"
	"time"

	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
)

type writerState uint8

const (
	stateUnopened writerState = iota
	stateOpen
	stateClosed
)

func (s writerState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithEmptySchema makes Close produce a valid zero-row output with s when no
// batch was ever appended.
func WithEmptySchema(s *schema.Schema) WriterOption {
	return func(w *Writer) { w.empty = s }
}

// WithLogger sets the logger used for per-batch lines.
func WithLogger(l *logger.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// Writer appends batches to a sink whose schema is fixed by the first batch.
// Its lifecycle is unopened → open → closed and never goes back; any use
// after close fails loudly. A Writer is not safe for concurrent use.
type Writer struct {
	open  Opener
	empty *schema.Schema
	log   *logger.Logger

	state   writerState
	schema  *schema.Schema
	sink    Sink
	rows    int64
	batches int64

	start     time.Time
	lastFlush time.Time
}

var _ Appender = (*Writer)(nil)

// NewWriter returns an unopened Writer. open is called on the first Append.
func NewWriter(open Opener, opts ...WriterOption) *Writer {
	w := &Writer{open: open, log: logger.Nop()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Append validates b against the locked schema and writes its rows. The
// first call locks b.Schema and opens the sink.
func (w *Writer) Append(ctx context.Context, b Batch) error {
	if w.state == stateClosed {
		return perr.New(perr.KindWriterState, "append to closed writer")
	}
	if len(b.Rows) == 0 {
		return perr.New(perr.KindWriterState, "append of empty batch")
	}
	if b.Schema == nil {
		return perr.SchemaMismatchf("batch has no schema")
	}
	if w.state == stateOpen && b.Schema.Fingerprint() != w.schema.Fingerprint() {
		return perr.SchemaMismatchf("batch schema differs from locked schema: %s", w.schema.Diff(b.Schema))
	}
	for i, row := range b.Rows {
		if err := b.Schema.CheckRow(row); err != nil {
			return perr.Wrapf(err, perr.KindSchemaMismatch, "batch %d row %d", w.batches+1, i)
		}
	}

	if w.state == stateUnopened {
		if err := w.openSink(ctx, b.Schema); err != nil {
			return err
		}
	}

	if err := w.sink.WriteBatch(ctx, b.Rows); err != nil {
		return perr.Wrapf(err, perr.KindSink, "write batch %d", w.batches+1)
	}

	n := int64(len(b.Rows))
	w.rows += n
	w.batches++

	now := time.Now()
	since := now.Sub(w.lastFlush)
	rps := float64(0)
	if since > 0 {
		rps = float64(n) / since.Seconds()
	}
	w.log.Debug().
		Int64("batch", w.batches).
		Float64("rps", rps).
		Int64("written", n).
		Int64("total_written", w.rows).
		Dur("elapsed", now.Sub(w.start).Truncate(time.Millisecond)).
		Msg("batch written")
	w.lastFlush = now
	return nil
}

func (w *Writer) openSink(ctx context.Context, s *schema.Schema) error {
	if w.open == nil {
		w.state = stateClosed
		return perr.New(perr.KindSink, "writer has no sink opener")
	}
	sink, err := w.open(ctx, s)
	if err != nil {
		w.state = stateClosed
		if _, ok := perr.As(err); ok {
			return err
		}
		return perr.Wrap(err, perr.KindSink, "open sink")
	}
	w.sink = sink
	w.schema = s
	w.state = stateOpen
	w.start = time.Now()
	w.lastFlush = w.start
	w.log.Debug().Str("schema", s.String()).Msg("sink opened")
	return nil
}

// Close finalises the output. A writer that never received a batch opens
// and finalises an empty output when WithEmptySchema was given, and writes
// nothing otherwise. Closing twice is an error.
func (w *Writer) Close(ctx context.Context) error {
	switch w.state {
	case stateClosed:
		return perr.New(perr.KindWriterState, "writer already closed")
	case stateUnopened:
		if w.empty == nil {
			w.state = stateClosed
			return nil
		}
		if err := w.openSink(ctx, w.empty); err != nil {
			return err
		}
	}
	w.state = stateClosed
	if err := w.sink.Close(); err != nil {
		return perr.Wrap(err, perr.KindSink, "finalise output")
	}
	w.log.Debug().Int64("rows", w.rows).Int64("batches", w.batches).Msg("sink closed")
	return nil
}

// Abort moves the writer to closed on a failure path. An open sink is closed
// so what was written stays readable; an unopened writer never creates an
// output. Abort is idempotent.
func (w *Writer) Abort() error {
	prev := w.state
	w.state = stateClosed
	if prev != stateOpen {
		return nil
	}
	if err := w.sink.Close(); err != nil {
		return perr.Wrap(err, perr.KindSink, "close output after failure")
	}
	return nil
}

// Schema returns the locked schema, or nil before the first batch.
func (w *Writer) Schema() *schema.Schema { return w.schema }

// Rows returns the number of rows written.
func (w *Writer) Rows() int64 { return w.rows }

// Batches returns the number of batches written.
func (w *Writer) Batches() int64 { return w.batches }

// Opened reports whether a sink was ever opened.
func (w *Writer) Opened() bool { return w.sink != nil }
