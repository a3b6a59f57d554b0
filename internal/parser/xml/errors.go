package xmlparser

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrNoRoot is reported for a document that ends without any element.
var ErrNoRoot = errors.New("document has no root element")

// ErrTooDeep is reported when a record subtree nests beyond the decoder's
// depth limit.
var ErrTooDeep = errors.New("element nesting exceeds limit")

// ParseError locates malformed input.
type ParseError struct {
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// syntaxLine extracts the line encoding/xml attached to a syntax error.
func syntaxLine(err error) (int, bool) {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return se.Line, true
	}
	return 0, false
}
