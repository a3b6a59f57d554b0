// Package postgres implements a Postgres storage.Sink using pgx v5. Each
// batch is loaded with COPY FROM STDIN into a table created from the locked
// schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"changesets/internal/ddl"
	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
	"changesets/internal/storage"
)

// Kind is the registry name of this sink.
const Kind = "postgres"

// Config holds Postgres sink configuration.
type Config struct {
	DSN          string // connection string for pgxpool
	Table        string // target table, optionally schema-qualified ("public.changesets")
	DropExisting bool
}

// pool is the subset of *pgxpool.Pool the sink uses.
type pool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Close()
}

// connect is a test hook; tests replace it to avoid a real server.
var connect = func(ctx context.Context, dsn string) (pool, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Sink copies batches into one Postgres table.
type Sink struct {
	pool    pool
	cfg     Config
	columns []string
	log     *logger.Logger
	rows    int64
}

var _ storage.Sink = (*Sink)(nil)

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config, s *schema.Schema) (storage.Sink, error) {
		sink, err := Open(ctx, Config{
			DSN:          cfg.Path,
			Table:        cfg.Table,
			DropExisting: cfg.Options.Bool("drop_existing", true),
		}, s)
		if err != nil {
			return nil, err
		}
		sink.log = logger.Named(cfg.Logger, "postgres")
		return sink, nil
	})
}

// Open connects to cfg.DSN and (re)creates cfg.Table for s.
func Open(ctx context.Context, cfg Config, s *schema.Schema) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, perr.Configf("postgres: DSN must not be empty")
	}
	if len(splitFQN(cfg.Table)) == 0 {
		return nil, perr.Configf("postgres: table must not be empty")
	}
	stmts, err := ddl.Statements(cfg.Table, s, ddl.Postgres, cfg.DropExisting)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSchemaMismatch, "postgres: table definition")
	}

	p, err := connect(ctx, cfg.DSN)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSink, "postgres: connect")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, perr.Wrap(err, perr.KindSink, "postgres: ping")
	}
	for _, stmt := range stmts {
		if _, err := p.Exec(ctx, stmt); err != nil {
			p.Close()
			return nil, perr.Wrap(describe(err), perr.KindSink, "postgres: prepare table")
		}
	}
	return &Sink{pool: p, cfg: cfg, columns: s.Names(), log: logger.Nop()}, nil
}

// WriteBatch copies rows with COPY FROM STDIN.
func (s *Sink) WriteBatch(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, splitFQN(s.cfg.Table), s.columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy: %w", describe(err))
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("postgres: copy reported %d rows, sent %d", n, len(rows))
	}
	s.rows += n
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	log := s.log
	if log == nil {
		log = logger.Nop()
	}
	log.Debug().Str("table", s.cfg.Table).Int64("rows", s.rows).Msg("postgres sink closed")
	return nil
}

// describe surfaces the server's detail and SQLSTATE when present.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
	}
	return err
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			id = append(id, p)
		}
	}
	return id
}
