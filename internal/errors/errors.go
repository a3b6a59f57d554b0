// Package errors provides the converter's structured error type. Every fatal
// condition in the pipeline is classified by a Kind so the CLI can report it
// and pick an exit code without string matching.
package errors

// Import this package as perr to keep the standard library name free.

import (
	stderrs "errors"
	"fmt"
)

// Kind classifies a failure. Values are stable; add sparingly.
type Kind uint8

const (
	// KindUnknown is for unclassified errors
	KindUnknown Kind = iota

	// KindConfig is for invalid flags or configuration files
	KindConfig

	// KindSourceOpen is for a missing input or an unrecognised/invalid
	// compression framing, detected before any output exists
	KindSourceOpen

	// KindSourceRead is for I/O or decompression failures mid-stream
	KindSourceRead

	// KindParse is for malformed XML
	KindParse

	// KindSchemaMismatch is for a batch that does not match the locked schema
	KindSchemaMismatch

	// KindSink is for failures opening, writing or finalising the output
	KindSink

	// KindWriterState is for misuse of the writer state machine
	KindWriterState

	// KindInterrupted is for runs stopped by a signal
	KindInterrupted
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindConfig:         "config",
	KindSourceOpen:     "source_open",
	KindSourceRead:     "source_read",
	KindParse:          "parse",
	KindSchemaMismatch: "schema_mismatch",
	KindSink:           "sink",
	KindWriterState:    "writer_state",
	KindInterrupted:    "interrupted",
}

// String returns the snake_case name used in logs and metrics labels.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ExitCodeFor maps a Kind to the process exit status.
func ExitCodeFor(k Kind) int {
	switch k {
	case KindConfig:
		return 2
	case KindSourceOpen, KindSourceRead:
		return 3
	case KindParse:
		return 4
	case KindSchemaMismatch, KindWriterState:
		return 5
	case KindSink:
		return 6
	case KindInterrupted:
		return 130
	default:
		return 1
	}
}

// Error is the structured error type.
// msg is human facing; kind is machine facing; op names the failing step;
// orig is the wrapped cause.
type Error struct {
	orig error
	msg  string
	kind Kind
	op   string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	prefix := e.msg
	if e.op != "" {
		prefix = e.op + ": " + e.msg
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", prefix, e.orig)
	}
	return prefix
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Kind returns the error kind
func (e *Error) Kind() Kind { return e.kind }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf extracts the Kind of the outermost *Error in err's chain,
// defaulting to KindUnknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether err has the given kind
func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// ExitCode returns the process exit status for err; 0 when err is nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return ExitCodeFor(KindOf(err))
}

// WithOp attaches an operation label to an *Error (copy-on-write). If err
// isn't *Error, it is wrapped with KindUnknown.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return &Error{kind: KindUnknown, msg: err.Error(), op: op, orig: err}
}

// Constructors

// New returns a new *Error with the given kind and message
func New(k Kind, msg string) error { return &Error{kind: k, msg: msg} }

// Newf returns a new *Error with kind and formatted message
func Newf(k Kind, format string, a ...any) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with kind and message
func Wrap(orig error, k Kind, msg string) error {
	return &Error{kind: k, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with kind and formatted message
func Wrapf(orig error, k Kind, format string, a ...any) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf wraps only when err != nil (helper for 1-liners)
func WrapIf(err error, k Kind, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, k, msg)
}

// Sugar

// Configf returns a configuration error
func Configf(format string, a ...any) error { return Newf(KindConfig, format, a...) }

// SchemaMismatchf returns a schema mismatch error
func SchemaMismatchf(format string, a ...any) error {
	return Newf(KindSchemaMismatch, format, a...)
}
