package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	perr "changesets/internal/errors"
)

// Remote is a datasource that streams the body of an HTTP(S) URL.
type Remote struct {
	client *Client
	url    string
}

// NewRemote binds url to client. A nil client neither retries nor resumes:
// any transport failure ends the run.
func NewRemote(client *Client, url string) *Remote {
	if client == nil {
		client = NewClient(Config{MaxRetries: 0, MaxResumes: -1})
	}
	return &Remote{client: client, url: url}
}

// IsURL reports whether loc should be fetched over HTTP rather than opened
// from disk.
func IsURL(loc string) bool {
	l := strings.ToLower(loc)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Open performs the initial GET. Any status other than 200 is a SourceOpen
// error. The returned body resumes with Range requests when the server
// advertises byte ranges and the connection breaks mid-stream.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := r.client.Get(ctx, r.url, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.KindSourceOpen, "fetch %s", r.url)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, perr.Newf(perr.KindSourceOpen, "fetch %s: unexpected status %s", r.url, resp.Status)
	}
	return &resumingBody{
		ctx:       ctx,
		remote:    r,
		body:      resp.Body,
		resumable: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		resumes:   r.client.maxResumes,
	}, nil
}

type resumingBody struct {
	ctx       context.Context
	remote    *Remote
	body      io.ReadCloser
	offset    int64
	resumable bool
	resumes   int
}

func (b *resumingBody) Read(p []byte) (int, error) {
	for {
		n, err := b.body.Read(p)
		b.offset += int64(n)
		if err == nil || err == io.EOF {
			return n, err
		}
		if rerr := b.resume(err); rerr != nil {
			return n, rerr
		}
		if n > 0 {
			return n, nil
		}
	}
}

// resume reopens the body at the current offset. It returns nil on success
// and the original cause when no more resumes are possible.
func (b *resumingBody) resume(cause error) error {
	if !b.resumable || b.resumes <= 0 {
		return cause
	}
	b.resumes--
	_ = b.body.Close()

	h := http.Header{}
	h.Set("Range", fmt.Sprintf("bytes=%d-", b.offset))
	resp, err := b.remote.client.Get(b.ctx, b.remote.url, h)
	if err != nil {
		b.body = io.NopCloser(strings.NewReader(""))
		return fmt.Errorf("resume at byte %d: %w (after %v)", b.offset, err, cause)
	}
	if resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		b.body = io.NopCloser(strings.NewReader(""))
		return fmt.Errorf("resume at byte %d: status %s (after %v)", b.offset, resp.Status, cause)
	}
	b.body = resp.Body
	return nil
}

func (b *resumingBody) Close() error { return b.body.Close() }
