package storage

import (
	"context"

	perr "changesets/internal/errors"
	"changesets/internal/schema"
)

// Accumulator groups rows into batches of a fixed size and hands each full
// batch to an Appender. The trailing partial batch is handed over by Flush.
//
// The backing slice is reused between batches.
type Accumulator struct {
	out    Appender
	size   int
	schema *schema.Schema
	rows   [][]any
	total  int64
}

// NewAccumulator returns an Accumulator that emits batches of size rows.
func NewAccumulator(out Appender, size int) (*Accumulator, error) {
	if size < 1 {
		return nil, perr.Configf("chunk size %d; must be at least 1", size)
	}
	if out == nil {
		return nil, perr.New(perr.KindConfig, "accumulator needs an appender")
	}
	return &Accumulator{out: out, size: size, rows: make([][]any, 0, size)}, nil
}

// Add appends row to the pending batch and hands the batch over once it
// holds size rows.
func (a *Accumulator) Add(ctx context.Context, row Row) error {
	s := row.Schema()
	if len(a.rows) == 0 {
		a.schema = s
	} else if !a.schema.Equal(s) {
		return perr.SchemaMismatchf("row %d: %s", a.total+1, a.schema.Diff(s))
	}
	a.rows = append(a.rows, row.Values())
	a.total++
	if len(a.rows) >= a.size {
		return a.Flush(ctx)
	}
	return nil
}

// Flush hands over the pending batch, if any.
func (a *Accumulator) Flush(ctx context.Context) error {
	if len(a.rows) == 0 {
		return nil
	}
	b := Batch{Schema: a.schema, Rows: a.rows}
	err := a.out.Append(ctx, b)
	clear(a.rows)
	a.rows = a.rows[:0]
	return err
}

// Pending returns the number of rows not yet handed over.
func (a *Accumulator) Pending() int { return len(a.rows) }

// Discard drops the pending batch without handing it over.
func (a *Accumulator) Discard() {
	clear(a.rows)
	a.rows = a.rows[:0]
}

// Total returns the number of rows added so far.
func (a *Accumulator) Total() int64 { return a.total }
