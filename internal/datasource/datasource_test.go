package datasource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"changesets/internal/datasource/file"
	perr "changesets/internal/errors"
)

const payload = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6"><changeset id="1"/></osm>
`

type trackingCloser struct {
	io.Reader
	closed bool
}

func (t *trackingCloser) Close() error { t.closed = true; return nil }

func compress(t *testing.T, c Codec, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch c {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Zstd:
		w, err = zstd.NewWriter(&buf)
	case Xz:
		w, err = xz.NewWriter(&buf)
	case None:
		return data
	default:
		t.Fatalf("no in-test writer for %s", c)
	}
	if err != nil {
		t.Fatalf("writer %s: %v", c, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		hdr  []byte
		want Codec
		ok   bool
	}{
		{"bzip2", []byte("BZh91AY&SY"), Bzip2, true},
		{"bzip2 bad level", []byte("BZh0"), "", false},
		{"gzip", []byte{0x1f, 0x8b, 8, 0}, Gzip, true},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0}, Zstd, true},
		{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0, 0}, Xz, true},
		{"plain", []byte("<?xml"), None, true},
		{"plain with bom and space", append([]byte{0xef, 0xbb, 0xbf}, []byte("\n  <osm>")...), None, true},
		{"text", []byte("hello"), "", false},
		{"empty", nil, "", false},
	}
	for _, c := range cases {
		got, ok := Detect(c.hdr)
		if got != c.want || ok != c.ok {
			t.Fatalf("%s: Detect = (%q, %v), want (%q, %v)", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestParseCodec(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Codec{"": Auto, "AUTO": Auto, "bz2": Bzip2, "gz": Gzip, "zst": Zstd, "xz": Xz, "none": None} {
		got, err := ParseCodec(in)
		if err != nil || got != want {
			t.Fatalf("ParseCodec(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCodec("lz4"); !perr.IsKind(err, perr.KindConfig) {
		t.Fatalf("ParseCodec(lz4) err = %v", err)
	}
}

func TestDecompress_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{Gzip, Zstd, Xz, None} {
		c := c
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()
			for _, mode := range []Codec{Auto, c} {
				raw := &trackingCloser{Reader: bytes.NewReader(compress(t, c, []byte(payload)))}
				rc, err := Decompress(raw, mode)
				if err != nil {
					t.Fatalf("Decompress(%s): %v", mode, err)
				}
				if got, _ := CodecOf(rc); got != c {
					t.Fatalf("CodecOf = %q, want %q", got, c)
				}
				b, err := io.ReadAll(rc)
				if err != nil || string(b) != payload {
					t.Fatalf("read %q, %v", b, err)
				}
				if err := rc.Close(); err != nil {
					t.Fatalf("Close: %v", err)
				}
				if !raw.closed {
					t.Fatalf("underlying reader not closed")
				}
			}
		})
	}
}

func TestDecompress_Bzip2Fixture(t *testing.T) {
	t.Parallel()

	want, err := os.ReadFile("testdata/tiny.osm")
	if err != nil {
		t.Fatal(err)
	}
	rc, err := Open(context.Background(), file.NewLocal("testdata/tiny.osm.bz2"), Auto)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("bzip2 content mismatch: %q, %v", got, err)
	}
}

func TestDecompress_OpenFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		data  []byte
		codec Codec
	}{
		{"unrecognised", []byte("PK\x03\x04 not a dump"), Auto},
		{"empty", nil, Auto},
		{"corrupt bzip2", []byte("BZh9this is not a bzip2 block at all"), Auto},
		{"forced gzip on xml", []byte(payload), Gzip},
		{"forced xz on xml", []byte(payload), Xz},
		{"forced bzip2 on xml", []byte(payload), Bzip2},
	}
	for _, c := range cases {
		raw := &trackingCloser{Reader: bytes.NewReader(c.data)}
		rc, err := Decompress(raw, c.codec)
		if err == nil {
			rc.Close()
			t.Fatalf("%s: expected error", c.name)
		}
		if !perr.IsKind(err, perr.KindSourceOpen) {
			t.Fatalf("%s: kind = %v (%v)", c.name, perr.KindOf(err), err)
		}
		if !raw.closed {
			t.Fatalf("%s: raw stream leaked", c.name)
		}
	}
}

func TestDecompress_TruncatedIsSourceRead(t *testing.T) {
	t.Parallel()

	rc, err := Open(context.Background(), file.NewLocal("testdata/truncated.osm.bz2"), Auto)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err == nil {
		t.Fatalf("expected error after %d bytes", n)
	}
	if n == 0 {
		t.Fatalf("leading blocks should decode before the failure")
	}
	if !perr.IsKind(err, perr.KindSourceRead) {
		t.Fatalf("kind = %v (%v)", perr.KindOf(err), err)
	}
}

type failingSource struct{ err error }

func (f failingSource) Open(context.Context) (io.ReadCloser, error) { return nil, f.err }

func TestOpen_SourceErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), failingSource{errors.New("boom")}, Auto)
	if !perr.IsKind(err, perr.KindSourceOpen) {
		t.Fatalf("foreign error kind = %v", perr.KindOf(err))
	}

	_, err = Open(context.Background(), file.NewLocal("testdata/missing.bz2"), Auto)
	if !perr.IsKind(err, perr.KindSourceOpen) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}
