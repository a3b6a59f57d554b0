// Package datasource opens the raw byte stream of a dump and layers the
// matching decompressor on top of it.
package datasource

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	perr "changesets/internal/errors"
)

// Source yields the raw, still-compressed bytes of an input.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Codec names a compression framing.
type Codec string

const (
	Auto  Codec = "auto"
	Bzip2 Codec = "bzip2"
	Gzip  Codec = "gzip"
	Zstd  Codec = "zstd"
	Xz    Codec = "xz"
	None  Codec = "none"
)

// ParseCodec maps a flag value to a Codec. The empty string means Auto.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Auto, nil
	case Auto, Bzip2, Gzip, Zstd, Xz, None:
		return c, nil
	case "bz2":
		return Bzip2, nil
	case "gz":
		return Gzip, nil
	case "zst":
		return Zstd, nil
	default:
		return "", perr.Configf("unknown compression %q", s)
	}
}

const sniffLen = 64

var (
	magicBzip2 = []byte("BZh")
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	utf8BOM    = []byte{0xef, 0xbb, 0xbf}
)

// Detect identifies the framing of a stream from its leading bytes. Plain XML
// is recognised by a '<' after an optional BOM and whitespace.
func Detect(hdr []byte) (Codec, bool) {
	switch {
	case len(hdr) >= 4 && bytes.HasPrefix(hdr, magicBzip2) && hdr[3] >= '1' && hdr[3] <= '9':
		return Bzip2, true
	case bytes.HasPrefix(hdr, magicGzip):
		return Gzip, true
	case bytes.HasPrefix(hdr, magicZstd):
		return Zstd, true
	case bytes.HasPrefix(hdr, magicXz):
		return Xz, true
	}
	rest := bytes.TrimLeft(bytes.TrimPrefix(hdr, utf8BOM), " \t\r\n")
	if len(rest) > 0 && rest[0] == '<' {
		return None, true
	}
	return "", false
}

// Open opens src and wraps it with the decompressor for codec.
func Open(ctx context.Context, src Source, codec Codec) (io.ReadCloser, error) {
	raw, err := src.Open(ctx)
	if err != nil {
		if perr.KindOf(err) != perr.KindUnknown {
			return nil, err
		}
		return nil, perr.Wrap(err, perr.KindSourceOpen, "open input")
	}
	return Decompress(raw, codec)
}

// Decompress layers the decompressor for codec over raw. The framing is
// validated eagerly by decoding the first byte, so a corrupt header or an
// unrecognised format fails here as a SourceOpen error. Later read failures
// are reported as SourceRead errors. Closing the result closes raw.
func Decompress(raw io.ReadCloser, codec Codec) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(raw, 1<<20)

	if codec == "" || codec == Auto {
		hdr, err := br.Peek(sniffLen)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			_ = raw.Close()
			return nil, perr.Wrap(err, perr.KindSourceOpen, "read input header")
		}
		c, ok := Detect(hdr)
		if !ok {
			_ = raw.Close()
			return nil, perr.Newf(perr.KindSourceOpen, "unrecognised input format (leading bytes % x)", head(hdr, 8))
		}
		codec = c
	}

	s := &stream{closers: []io.Closer{raw}}
	var dec io.Reader
	switch codec {
	case Bzip2:
		dec = bzip2.NewReader(br)
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = raw.Close()
			return nil, perr.Wrap(err, perr.KindSourceOpen, "open gzip stream")
		}
		s.closers = append([]io.Closer{zr}, s.closers...)
		dec = zr
	case Zstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = raw.Close()
			return nil, perr.Wrap(err, perr.KindSourceOpen, "open zstd stream")
		}
		rc := zr.IOReadCloser()
		s.closers = append([]io.Closer{rc}, s.closers...)
		dec = rc
	case Xz:
		xr, err := xz.NewReader(br)
		if err != nil {
			_ = raw.Close()
			return nil, perr.Wrap(err, perr.KindSourceOpen, "open xz stream")
		}
		dec = xr
	case None:
		dec = br
	default:
		_ = raw.Close()
		return nil, perr.Configf("unknown compression %q", codec)
	}

	s.r = bufio.NewReaderSize(dec, 64<<10)
	if _, err := s.r.Peek(1); err != nil && err != io.EOF {
		_ = s.Close()
		return nil, perr.Wrapf(err, perr.KindSourceOpen, "open %s stream", codec)
	}
	s.codec = codec
	return s, nil
}

type stream struct {
	r       *bufio.Reader
	codec   Codec
	closers []io.Closer
}

// Read tags failures as SourceRead so they keep their kind through the XML
// decoder, which passes reader errors through unchanged.
func (s *stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		if _, ours := perr.As(err); !ours {
			err = perr.Wrapf(err, perr.KindSourceRead, "read %s stream", s.codec)
		}
	}
	return n, err
}

func (s *stream) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// CodecOf reports the framing a stream returned by Decompress was opened with.
func CodecOf(rc io.Reader) (Codec, bool) {
	if s, ok := rc.(*stream); ok {
		return s.codec, true
	}
	return "", false
}

func head(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// String implements fmt.Stringer.
func (c Codec) String() string { return string(c) }
