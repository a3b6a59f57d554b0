// Package parquet writes batches to a Parquet file through Arrow. Each batch
// becomes one Arrow record and is written as its own row group, so memory
// stays bounded by the batch size.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	pq "github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
	"changesets/internal/storage"
)

// Kind is the registry name of this sink.
const Kind = "parquet"

// DefaultCompression is used when the "compression" option is unset.
const DefaultCompression = "snappy"

var codecs = map[string]compress.Compression{
	"snappy": compress.Codecs.Snappy,
	"zstd":   compress.Codecs.Zstd,
	"gzip":   compress.Codecs.Gzip,
	"none":   compress.Codecs.Uncompressed,
}

// Config holds the parquet sink settings derived from storage.Config.
type Config struct {
	Path        string
	Compression string
}

// Sink is an open Parquet file.
type Sink struct {
	path string
	f    *os.File
	fw   *pqarrow.FileWriter
	bld  *array.RecordBuilder
	log  *logger.Logger
	rows int64
}

var _ storage.Sink = (*Sink)(nil)

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config, s *schema.Schema) (storage.Sink, error) {
		sink, err := Open(ctx, Config{
			Path:        cfg.Path,
			Compression: cfg.Options.String("compression", DefaultCompression),
		}, s)
		if err != nil {
			return nil, err
		}
		sink.log = logger.Named(cfg.Logger, "parquet")
		return sink, nil
	})
}

// ArrowSchema maps s onto an Arrow schema of UTF-8 string columns.
func ArrowSchema(s *schema.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.Fields() {
		if f.Type != schema.TypeString {
			return nil, fmt.Errorf("parquet: field %s has unsupported type %s", f.Name, f.Type)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: arrow.BinaryTypes.String, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Open creates (or truncates) cfg.Path and writes the Parquet header for s.
func Open(ctx context.Context, cfg Config, s *schema.Schema) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, perr.Configf("parquet: output path must not be empty")
	}
	if s == nil || s.Len() == 0 {
		return nil, perr.SchemaMismatchf("parquet: schema has no fields")
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Compression))
	if name == "" {
		name = DefaultCompression
	}
	codec, ok := codecs[name]
	if !ok {
		return nil, perr.Configf("parquet: unknown compression %q", cfg.Compression)
	}
	as, err := ArrowSchema(s)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSchemaMismatch, "map schema")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, perr.Wrap(err, perr.KindSink, "create output directory")
		}
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSink, "create output")
	}

	props := pq.NewWriterProperties(pq.WithCompression(codec))
	fw, err := pqarrow.NewFileWriter(as, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		_ = f.Close()
		return nil, perr.Wrap(err, perr.KindSink, "start parquet file")
	}
	return &Sink{
		path: cfg.Path,
		f:    f,
		fw:   fw,
		bld:  array.NewRecordBuilder(memory.DefaultAllocator, as),
		log:  logger.Nop(),
	}, nil
}

// WriteBatch writes rows as one record.
func (s *Sink) WriteBatch(ctx context.Context, rows [][]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	n := s.bld.Schema().NumFields()
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("parquet: row %d has %d values, want %d", i, len(row), n)
		}
		for j, v := range row {
			switch v.(type) {
			case nil, string:
			default:
				return fmt.Errorf("parquet: row %d field %d: unsupported value type %T", i, j, v)
			}
		}
	}
	for _, row := range rows {
		for j, v := range row {
			b := s.bld.Field(j).(*array.StringBuilder)
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(string))
		}
	}
	rec := s.bld.NewRecord()
	defer rec.Release()
	if err := s.fw.Write(rec); err != nil {
		return fmt.Errorf("parquet: write record: %w", err)
	}
	s.rows += int64(len(rows))
	return nil
}

// Close writes the footer and closes the file.
func (s *Sink) Close() error {
	s.bld.Release()
	err := s.fw.Close()
	if cerr := s.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("parquet: close %s: %w", s.path, err)
	}
	log := s.log
	if log == nil {
		log = logger.Nop()
	}
	log.Debug().Str("path", s.path).Int64("rows", s.rows).Msg("parquet file finalised")
	return nil
}

// Rows returns the number of rows written.
func (s *Sink) Rows() int64 { return s.rows }
