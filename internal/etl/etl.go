// Package etl drives one conversion: it opens the source, decodes changeset
// elements, projects them into rows, batches the rows and hands the batches
// to a schema-locked writer. Everything runs on the calling goroutine.
package etl

import (
	"context"
	"errors"
	"io"
	"time"

	"changesets/internal/changeset"
	"changesets/internal/config"
	"changesets/internal/datasource"
	"changesets/internal/datasource/file"
	"changesets/internal/datasource/httpds"
	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/metrics"
	xmlparser "changesets/internal/parser/xml"
	"changesets/internal/progress"
	"changesets/internal/storage"
)

// Stats summarises a run.
type Stats struct {
	Changesets int64         `json:"changesets"`
	Rows       int64         `json:"rows"`
	Batches    int64         `json:"batches"`
	Skipped    int64         `json:"skipped_elements"`
	Codec      string        `json:"codec"`
	Output     bool          `json:"output_written"`
	Duration   time.Duration `json:"duration"`
}

// Option adjusts a run. The defaults read cfg.Source.Path and open the sink
// registered for cfg.Storage.Kind.
type Option func(*runner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(r *runner) { r.log = l } }

// WithSource replaces the input named by cfg.Source.Path.
func WithSource(src datasource.Source) Option { return func(r *runner) { r.src = src } }

// WithOpener replaces the registry lookup for the sink.
func WithOpener(open storage.Opener) Option { return func(r *runner) { r.open = open } }

type runner struct {
	cfg  config.Config
	log  *logger.Logger
	src  datasource.Source
	open storage.Opener
}

// Run converts cfg.Source.Path into cfg.Storage.Path. On failure the output,
// if one was opened, is closed before Run returns and no output is created
// when none was.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (st Stats, err error) {
	r := &runner{cfg: cfg, log: logger.Nop()}
	for _, o := range opts {
		o(r)
	}

	start := time.Now()
	defer func() {
		if err != nil && ctx.Err() != nil && !perr.IsKind(err, perr.KindInterrupted) {
			err = perr.Wrap(err, perr.KindInterrupted, "conversion interrupted")
		}
		st.Duration = time.Since(start)
		metrics.RecordStep(cfg.Job, "convert", err, st.Duration)
		if err != nil {
			metrics.RecordError(cfg.Job, perr.KindOf(err).String())
		}
	}()

	for _, iss := range config.Validate(cfg) {
		if iss.Severity == config.SeverityError {
			return st, perr.Configf("invalid config: %s", iss.Error())
		}
		r.log.Warn().Str("path", iss.Path).Msg(iss.Message)
	}

	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (st Stats, err error) {
	cfg := r.cfg
	job := cfg.Job

	codec, err := datasource.ParseCodec(cfg.Source.Compression)
	if err != nil {
		return st, err
	}
	src := r.src
	if src == nil {
		src = SourceFor(cfg.Source.Path)
	}

	openStart := time.Now()
	in, err := datasource.Open(ctx, src, codec)
	metrics.RecordStep(job, "open_source", err, time.Since(openStart))
	if err != nil {
		return st, err
	}
	defer in.Close()
	if c, ok := datasource.CodecOf(in); ok {
		st.Codec = c.String()
	}

	open := r.open
	if open == nil {
		open = storage.OpenerFor(storage.Config{
			Kind:    cfg.Storage.Kind,
			Path:    cfg.Storage.Path,
			Table:   cfg.Storage.Table,
			Options: cfg.Storage.Options,
			Logger:  r.log,
		})
	}
	w := storage.NewWriter(open,
		storage.WithEmptySchema(changeset.Schema()),
		storage.WithLogger(logger.Named(r.log, "writer")),
	)
	acc, err := storage.NewAccumulator(w, cfg.Runtime.ChunkSize)
	if err != nil {
		return st, err
	}
	prog := progress.New(cfg.Runtime.ProgressEvery, r.log)
	dec := xmlparser.NewDecoder(in, cfg.Parser.Tag)

	defer func() {
		st.Changesets = acc.Total()
		st.Rows = w.Rows()
		st.Batches = w.Batches()
		st.Skipped = dec.Skipped()
		st.Output = w.Opened()
		if err == nil {
			return
		}
		acc.Discard()
		if aerr := w.Abort(); aerr != nil {
			r.log.Error().Err(aerr).Msg("closing output after failure")
		}
	}()

	r.log.Info().
		Str("input", cfg.Source.Path).
		Str("codec", st.Codec).
		Str("storage", cfg.Storage.Kind).
		Str("output", cfg.Storage.Path).
		Int("chunk_size", cfg.Runtime.ChunkSize).
		Msg("conversion started")

	for {
		if cerr := ctx.Err(); cerr != nil {
			return st, perr.Wrap(cerr, perr.KindInterrupted, "conversion interrupted")
		}
		el, nerr := dec.Next()
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			return st, nerr
		}
		rec := changeset.Project(el)
		dec.Release(el)
		if err := acc.Add(ctx, rec); err != nil {
			return st, err
		}
		prog.Inc()
	}

	if n := acc.Pending(); n > 0 {
		r.log.Info().Int("rows", n).Msgf("writing final chunk of size %d", n)
	}
	if err := acc.Flush(ctx); err != nil {
		return st, err
	}
	if err := w.Close(ctx); err != nil {
		return st, err
	}
	prog.Done()

	metrics.RecordRow(job, "changesets", dec.Records())
	metrics.RecordRow(job, "skipped", dec.Skipped())
	metrics.RecordBatches(job, w.Batches())
	return st, nil
}

// SourceFor picks the input implementation for loc: HTTP(S) URLs are read
// remotely, everything else is a local path.
func SourceFor(loc string) datasource.Source {
	if httpds.IsURL(loc) {
		return httpds.NewRemote(nil, loc)
	}
	return file.NewLocal(loc)
}
