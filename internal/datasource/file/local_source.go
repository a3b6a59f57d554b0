// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	perr "changesets/internal/errors"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Open opens the configured path for reading.
//
// A canceled context short-circuits before touching the filesystem. A missing
// or unreadable path is a SourceOpen error that still satisfies
// errors.Is(err, os.ErrNotExist). The file is hinted for sequential access.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSourceOpen, "open input")
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, perr.Wrap(err, perr.KindSourceOpen, "stat input")
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, perr.Newf(perr.KindSourceOpen, "open input: %s is a directory", l.path)
	}
	adviseSequential(f)
	return f, nil
}

// Size returns the on-disk size of the input, used for progress context.
func (l *Local) Size() (int64, error) {
	st, err := os.Stat(l.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", l.path, err)
	}
	return st.Size(), nil
}
