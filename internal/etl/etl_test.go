package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	pqfile "github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/klauspost/compress/gzip"

	"changesets/internal/changeset"
	"changesets/internal/config"
	perr "changesets/internal/errors"
	"changesets/internal/schema"
	"changesets/internal/storage"
	_ "changesets/internal/storage/parquet"
)

// captureSink keeps every row it receives.
type captureSink struct {
	rows     [][]any
	batches  []int
	closed   int
	writeErr error
}

func (c *captureSink) WriteBatch(_ context.Context, rows [][]any) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.batches = append(c.batches, len(rows))
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *captureSink) Close() error {
	c.closed++
	return nil
}

type captureOpener struct {
	sink   *captureSink
	calls  int
	schema *schema.Schema
}

func (o *captureOpener) open(_ context.Context, s *schema.Schema) (storage.Sink, error) {
	o.calls++
	o.schema = s
	return o.sink, nil
}

func newCapture() *captureOpener { return &captureOpener{sink: &captureSink{}} }

func testConfig(t *testing.T, input string, chunk int) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Path = input
	cfg.Storage.Path = filepath.Join(t.TempDir(), "out.parquet")
	cfg.Runtime.ChunkSize = chunk
	return cfg
}

func fixture(name string) string { return filepath.Join("testdata", name) }

func col(name string) int { return changeset.Schema().Index(name) }

func TestRun_ChunkSizesProduceIdenticalRows(t *testing.T) {
	t.Parallel()

	const total = 250
	var reference [][]any
	for _, size := range []int{1, 37, 1000, total + 1} {
		op := newCapture()
		st, err := Run(context.Background(), testConfig(t, fixture("many.osm.bz2"), size), WithOpener(op.open))
		if err != nil {
			t.Fatalf("chunk %d: Run: %v", size, err)
		}
		if st.Changesets != total || st.Rows != total || len(op.sink.rows) != total {
			t.Fatalf("chunk %d: stats %+v, captured %d rows", size, st, len(op.sink.rows))
		}
		wantBatches := (total + size - 1) / size
		if int(st.Batches) != wantBatches || len(op.sink.batches) != wantBatches {
			t.Fatalf("chunk %d: batches %d (sink %d), want %d", size, st.Batches, len(op.sink.batches), wantBatches)
		}
		for i, n := range op.sink.batches {
			if n < 1 || n > size {
				t.Fatalf("chunk %d: batch %d has %d rows", size, i, n)
			}
		}
		if op.calls != 1 || op.sink.closed != 1 || st.Codec != "bzip2" {
			t.Fatalf("chunk %d: opener calls %d, closed %d, codec %q", size, op.calls, op.sink.closed, st.Codec)
		}
		for i, row := range op.sink.rows {
			if len(row) != changeset.NumFields {
				t.Fatalf("chunk %d: row %d has %d values", size, i, len(row))
			}
			if row[col("id")] != fmt.Sprint(i+1) {
				t.Fatalf("chunk %d: row %d has id %v; order broken", size, i, row[col("id")])
			}
		}
		if reference == nil {
			reference = op.sink.rows
			continue
		}
		if !reflect.DeepEqual(reference, op.sink.rows) {
			t.Fatalf("chunk %d: rows differ from chunk 1", size)
		}
	}
}

func TestRun_TwoChangesetExample(t *testing.T) {
	t.Parallel()

	op := newCapture()
	st, err := Run(context.Background(), testConfig(t, fixture("two.osm.bz2"), 1), WithOpener(op.open))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Rows != 2 || st.Batches != 2 {
		t.Fatalf("stats %+v", st)
	}
	rows := op.sink.rows
	if rows[0][col("created_by")] != "editorA" || rows[1][col("created_by")] != "" {
		t.Fatalf("created_by = %v / %v", rows[0][col("created_by")], rows[1][col("created_by")])
	}
	for _, name := range changeset.Optional {
		if name == "created_by" {
			continue
		}
		for i, row := range rows {
			if row[col(name)] != "" {
				t.Fatalf("row %d %s = %#v, want empty string", i, name, row[col(name)])
			}
		}
	}
	if rows[0][col("user")] != "alice" || rows[0][col("min_lat")] != "51.5288506" {
		t.Fatalf("row 0 attributes = %v", rows[0])
	}
	if rows[1][col("min_lat")] != nil {
		t.Fatalf("absent attribute must be null, got %#v", rows[1][col("min_lat")])
	}
	if !op.schema.Equal(changeset.Schema()) {
		t.Fatalf("sink opened with %v", op.schema)
	}
}

func TestRun_ProjectionDetails(t *testing.T) {
	t.Parallel()

	op := newCapture()
	if _, err := Run(context.Background(), testConfig(t, fixture("many.osm.bz2"), 1000), WithOpener(op.open)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	row := func(id int) []any { return op.sink.rows[id-1] }

	// 10 repeats created_by, 9 carries only an unknown key, 5 has no bbox.

	tests := []struct {
		id    int
		field string
		want  any
	}{
		{10, "created_by", "override"},
		{30, "created_by", "override"},
		{9, "created_by", ""},
		{12, "imagery_used", "Bing aerial imagery"},
		{12, "host", "https://www.openstreetmap.org/edit"},
		{56, "changesets_count", "616"},
		{56, "hashtags", "#mapathon;#hot"},
		{5, "min_lat", nil},
		{5, "num_changes", "15"},
		{7, "user", "u7"},
	}
	for _, tt := range tests {
		if got := row(tt.id)[col(tt.field)]; got != tt.want {
			t.Fatalf("changeset %d %s = %#v, want %#v", tt.id, tt.field, got, tt.want)
		}
	}
}

func TestRun_OtherCodecs(t *testing.T) {
	t.Parallel()

	ref := newCapture()
	if _, err := Run(context.Background(), testConfig(t, fixture("many.osm.bz2"), 50), WithOpener(ref.open)); err != nil {
		t.Fatalf("Run(bz2): %v", err)
	}

	raw, err := os.ReadFile(fixture("many.osm"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	gzPath := filepath.Join(t.TempDir(), "many.osm.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	for _, tc := range []struct {
		path, compression, wantCodec string
	}{
		{gzPath, "auto", "gzip"},
		{gzPath, "gzip", "gzip"},
		{fixture("many.osm"), "auto", "none"},
	} {
		cfg := testConfig(t, tc.path, 7)
		cfg.Source.Compression = tc.compression
		op := newCapture()
		st, err := Run(context.Background(), cfg, WithOpener(op.open))
		if err != nil {
			t.Fatalf("%s/%s: Run: %v", tc.path, tc.compression, err)
		}
		if st.Codec != tc.wantCodec {
			t.Fatalf("%s/%s: codec %q, want %q", tc.path, tc.compression, st.Codec, tc.wantCodec)
		}
		if !reflect.DeepEqual(ref.sink.rows, op.sink.rows) {
			t.Fatalf("%s/%s: rows differ from bzip2 run", tc.path, tc.compression)
		}
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		chunk      int
		codec      string
		wantKind   perr.Kind
		wantOpened bool
	}{
		{name: "truncated after batches", input: "truncated.osm.bz2", chunk: 1000, wantKind: perr.KindSourceRead, wantOpened: true},
		{name: "truncated before first batch", input: "truncated.osm.bz2", chunk: 100000, wantKind: perr.KindSourceRead},
		{name: "malformed xml", input: "malformed.osm.bz2", chunk: 1, wantKind: perr.KindParse},
		{name: "missing input", input: "nope.osm.bz2", chunk: 1, wantKind: perr.KindSourceOpen},
		{name: "forced wrong codec", input: "many.osm.bz2", chunk: 1, codec: "gzip", wantKind: perr.KindSourceOpen},
		{name: "bad chunk size", input: "many.osm.bz2", chunk: 0, wantKind: perr.KindConfig},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, fixture(tt.input), tt.chunk)
			if tt.codec != "" {
				cfg.Source.Compression = tt.codec
			}
			op := newCapture()
			st, err := Run(context.Background(), cfg, WithOpener(op.open))
			if got := perr.KindOf(err); got != tt.wantKind {
				t.Fatalf("kind = %v (%v), want %v", got, err, tt.wantKind)
			}
			if st.Output != tt.wantOpened || (op.calls == 1) != tt.wantOpened {
				t.Fatalf("output opened = %v (calls %d), want %v", st.Output, op.calls, tt.wantOpened)
			}
			if op.calls == 1 && op.sink.closed != 1 {
				t.Fatalf("sink left open: closed %d times", op.sink.closed)
			}
		})
	}
}

func TestRun_TruncatedInputLeavesNoParquetFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, fixture("truncated.osm.bz2"), 100000)
	_, err := Run(context.Background(), cfg)
	if !perr.IsKind(err, perr.KindSourceRead) {
		t.Fatalf("err = %v, want source read error", err)
	}
	if _, serr := os.Stat(cfg.Storage.Path); !errors.Is(serr, os.ErrNotExist) {
		t.Fatalf("output exists after failure before the first batch: %v", serr)
	}
}

func TestRun_SinkFailureClosesSink(t *testing.T) {
	t.Parallel()

	op := newCapture()
	op.sink.writeErr = errors.New("disk full")
	st, err := Run(context.Background(), testConfig(t, fixture("many.osm.bz2"), 10), WithOpener(op.open))
	if !perr.IsKind(err, perr.KindSink) {
		t.Fatalf("err = %v, want sink error", err)
	}
	if st.Changesets != 10 || st.Rows != 0 || st.Batches != 0 {
		t.Fatalf("stats %+v, want 10 changesets read and nothing written", st)
	}
	if op.sink.closed != 1 {
		t.Fatalf("sink closed %d times, want 1", op.sink.closed)
	}
}

func TestRun_Interrupted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := newCapture()
	_, err := Run(ctx, testConfig(t, fixture("many.osm.bz2"), 10), WithOpener(op.open))
	if !perr.IsKind(err, perr.KindInterrupted) || perr.ExitCode(err) != 130 {
		t.Fatalf("err = %v, want interrupted", err)
	}
	if op.calls != 0 {
		t.Fatalf("interrupted run opened the sink")
	}
}

// readParquet returns the column names and rows of a Parquet file.
func readParquet(t *testing.T, path string) ([]string, [][]any) {
	t.Helper()

	rdr, err := pqfile.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile: %v", err)
	}
	defer rdr.Close()
	ar, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	tbl, err := ar.ReadTable(context.Background())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	defer tbl.Release()

	names := make([]string, tbl.Schema().NumFields())
	for i, f := range tbl.Schema().Fields() {
		names[i] = f.Name
	}
	rows := make([][]any, tbl.NumRows())
	for i := range rows {
		rows[i] = make([]any, tbl.NumCols())
	}
	for c := 0; c < int(tbl.NumCols()); c++ {
		r := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			arr := chunk.(*array.String)
			for k := 0; k < arr.Len(); k++ {
				if !arr.IsNull(k) {
					rows[r][c] = arr.Value(k)
				}
				r++
			}
		}
	}
	return names, rows
}

func TestRun_ParquetEndToEnd(t *testing.T) {
	t.Parallel()

	ref := newCapture()
	if _, err := Run(context.Background(), testConfig(t, fixture("many.osm.bz2"), 64), WithOpener(ref.open)); err != nil {
		t.Fatalf("Run(capture): %v", err)
	}

	cfg := testConfig(t, fixture("many.osm.bz2"), 64)
	st, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run(parquet): %v", err)
	}
	if !st.Output || st.Rows != 250 {
		t.Fatalf("stats %+v", st)
	}
	names, rows := readParquet(t, cfg.Storage.Path)
	if !reflect.DeepEqual(names, changeset.Schema().Names()) {
		t.Fatalf("columns = %v", names)
	}
	if !reflect.DeepEqual(rows, ref.sink.rows) {
		t.Fatalf("parquet rows differ from projected rows")
	}
}

func TestRun_ZeroChangesetsWritesEmptyParquet(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, fixture("empty.osm.bz2"), 1000)
	st, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Changesets != 0 || st.Batches != 0 || !st.Output {
		t.Fatalf("stats %+v", st)
	}
	names, rows := readParquet(t, cfg.Storage.Path)
	if len(rows) != 0 || len(names) != changeset.NumFields {
		t.Fatalf("rows=%d columns=%v", len(rows), names)
	}
}
