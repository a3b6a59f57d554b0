// Package xmlparser is a pull parser over a strictly well-formed XML stream
// that materialises only the elements of one record tag, one at a time.
//
// Everything outside a record element is consumed token by token and
// discarded, so memory stays bounded by the size of a single record subtree.
// Callers hand each element back with Release once they are done with it.
package xmlparser

import (
	"encoding/xml"
	"io"
	"strings"
	"sync"

	"golang.org/x/text/encoding/htmlindex"

	perr "changesets/internal/errors"
)

// DefaultMaxDepth bounds nesting inside one record element.
const DefaultMaxDepth = 64

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxDepth overrides DefaultMaxDepth. Non-positive values are ignored.
func WithMaxDepth(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// Decoder yields successive record elements from a stream.
type Decoder struct {
	dec      *xml.Decoder
	tag      string
	maxDepth int
	pool     sync.Pool

	sawRoot bool
	err     error // sticky

	records int64
	skipped int64
}

// NewDecoder returns a Decoder that materialises elements named tag.
// Declared non-UTF-8 encodings are transcoded through x/text.
func NewDecoder(r io.Reader, tag string, opts ...Option) *Decoder {
	d := &Decoder{
		dec:      xml.NewDecoder(r),
		tag:      tag,
		maxDepth: DefaultMaxDepth,
	}
	d.dec.Strict = true
	d.dec.CharsetReader = charsetReader
	d.pool.New = func() any { return new(Element) }
	for _, o := range opts {
		o(d)
	}
	return d
}

// Next returns the next record element, or io.EOF once the document has
// ended cleanly. Malformed XML is a Parse error; errors raised by the
// underlying reader keep their own kind. After an error every call returns
// the same error.
func (d *Decoder) Next() (*Element, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			if err == io.EOF && !d.sawRoot {
				err = ErrNoRoot
			}
			d.err = d.wrap(err)
			return nil, d.err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		d.sawRoot = true
		if start.Name.Local != d.tag {
			d.skipped++
			continue
		}
		el, err := d.build(start, 1)
		if err != nil {
			d.err = d.wrap(err)
			return nil, d.err
		}
		d.records++
		return el, nil
	}
}

// build reads the subtree opened by start up to its matching end tag.
func (d *Decoder) build(start xml.StartElement, depth int) (*Element, error) {
	if depth > d.maxDepth {
		return nil, ErrTooDeep
	}
	el := d.pool.Get().(*Element)
	el.Tag = start.Name.Local
	for _, a := range start.Attr {
		el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			d.Release(el)
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := d.build(t, depth+1)
			if err != nil {
				d.Release(el)
				return nil, err
			}
			el.Children = append(el.Children, child)
		case xml.EndElement:
			return el, nil
		}
	}
}

// Release returns el and its subtree to the decoder's pool. el must not be
// used afterwards. Releasing nil is a no-op.
func (d *Decoder) Release(el *Element) {
	if el == nil {
		return
	}
	for _, c := range el.Children {
		d.Release(c)
	}
	el.reset()
	d.pool.Put(el)
}

// Records reports how many record elements have been returned.
func (d *Decoder) Records() int64 { return d.records }

// Skipped reports how many non-record elements were passed over outside
// records.
func (d *Decoder) Skipped() int64 { return d.skipped }

// InputOffset is the byte offset of the decompressed stream consumed so far.
func (d *Decoder) InputOffset() int64 { return d.dec.InputOffset() }

func (d *Decoder) wrap(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	if _, ours := perr.As(err); ours {
		return err
	}
	line, col := d.dec.InputPos()
	if l, ok := syntaxLine(err); ok {
		line = l
	}
	return perr.Wrap(&ParseError{Line: line, Column: col, Err: err}, perr.KindParse, "parse xml")
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	if strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return input, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}
