package storage

import (
	"context"
	"errors"

	"changesets/internal/schema"
)

var (
	testSchema = schema.New(
		schema.Field{Name: "id", Type: schema.TypeString, Nullable: true},
		schema.Field{Name: "host", Type: schema.TypeString},
	)
	otherSchema = schema.New(
		schema.Field{Name: "id", Type: schema.TypeString, Nullable: true},
	)
)

type testRow struct {
	s    *schema.Schema
	vals []any
}

func (r testRow) Schema() *schema.Schema { return r.s }
func (r testRow) Values() []any          { return r.vals }

func row(id, host string) testRow { return testRow{s: testSchema, vals: []any{id, host}} }

// recorder is an Appender that deep-copies every batch it receives.
type recorder struct {
	batches [][][]any
	err     error
}

func (r *recorder) Append(_ context.Context, b Batch) error {
	cp := make([][]any, len(b.Rows))
	copy(cp, b.Rows)
	r.batches = append(r.batches, cp)
	return r.err
}

// fakeSink records writes and close calls.
type fakeSink struct {
	schema   *schema.Schema
	rows     [][]any
	writes   int
	closed   int
	writeErr error
	closeErr error
}

func (f *fakeSink) WriteBatch(_ context.Context, rows [][]any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed++
	return f.closeErr
}

// fakeOpener counts Opener calls and returns sink.
type fakeOpener struct {
	sink  *fakeSink
	calls int
	err   error
}

func (o *fakeOpener) open(_ context.Context, s *schema.Schema) (Sink, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	o.sink.schema = s
	return o.sink, nil
}

var errBoom = errors.New("boom")
