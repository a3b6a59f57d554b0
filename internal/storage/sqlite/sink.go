// Package sqlite implements a SQLite-backed storage.Sink using database/sql.
// Each batch is inserted inside its own transaction through a prepared
// INSERT; SQLite has no bulk-load API like Postgres COPY, but per-batch
// transactions keep throughput acceptable.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"changesets/internal/ddl"
	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
	"changesets/internal/storage"
)

// Kind is the registry name of this sink.
const Kind = "sqlite"

// Config holds SQLite sink configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:changesets.db?cache=shared"
	//   "changesets.db"
	DSN string

	// Table is the destination table. "main.changesets" is accepted.
	Table string

	// DropExisting drops the table before creating it.
	DropExisting bool
}

// Sink inserts batches into one SQLite table.
type Sink struct {
	db        *sql.DB
	cfg       Config
	insertSQL string
	log       *logger.Logger
	rows      int64
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
		sink.log = logger.Named(cfg.Logger, "sqlite")
		return sink, nil
	})
}

// Open connects to cfg.DSN and (re)creates cfg.Table for s.
func Open(ctx context.Context, cfg Config, s *schema.Schema) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, perr.Configf("sqlite: DSN must not be empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, perr.Configf("sqlite: table must not be empty")
	}
	stmts, err := ddl.Statements(cfg.Table, s, ddl.SQLite, cfg.DropExisting)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSchemaMismatch, "sqlite: table definition")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSink, "sqlite: open")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, perr.Wrap(err, perr.KindSink, "sqlite: ping")
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, perr.Wrap(err, perr.KindSink, "sqlite: prepare table")
		}
	}

	return &Sink{
		db:        db,
		cfg:       cfg,
		insertSQL: insertSQL(cfg.Table, s.Names()),
		log:       logger.Nop(),
	}, nil
}

// insertSQL renders INSERT INTO <table> (<cols>) VALUES (?, ?, ...).
func insertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ddl.SQLite.QuoteFQN(table),
		strings.Join(ddl.SQLite.QuoteAll(columns), ", "),
		strings.Join(placeholders, ", "),
	)
}

// WriteBatch inserts rows in one transaction.
func (s *Sink) WriteBatch(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	s.rows += int64(len(rows))
	return nil
}

// Close closes the database handle.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	log := s.log
	if log == nil {
		log = logger.Nop()
	}
	log.Debug().Str("table", s.cfg.Table).Int64("rows", s.rows).Msg("sqlite sink closed")
	return nil
}
