// Package storage contains the storage-agnostic half of the output path: the
// batch accumulator, the schema-locked writer and the registry of sinks.
// Concrete sinks live in subpackages and register themselves at init time.
package storage

import (
	"context"

	"changesets/internal/schema"
)

// Row is one projected record.
type Row interface {
	Schema() *schema.Schema
	Values() []any
}

// Batch is an ordered group of rows sharing one schema. Rows aligns with
// Schema field order.
type Batch struct {
	Schema *schema.Schema
	Rows   [][]any
}

// Len returns the number of rows.
func (b Batch) Len() int { return len(b.Rows) }

// Appender consumes complete batches. Implementations must not retain
// b.Rows after returning.
type Appender interface {
	Append(ctx context.Context, b Batch) error
}

// Sink is an opened output. WriteBatch appends rows in order; Close
// finalises the output so it is readable.
type Sink interface {
	WriteBatch(ctx context.Context, rows [][]any) error
	Close() error
}

// Opener creates the sink for a schema. The writer calls it at most once.
type Opener func(ctx context.Context, s *schema.Schema) (Sink, error)
