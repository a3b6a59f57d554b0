// Package mssql implements a Microsoft SQL Server storage.Sink using the
// go-mssqldb bulk copy API. Each batch is one bulk insert inside its own
// transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"changesets/internal/ddl"
	perr "changesets/internal/errors"
	"changesets/internal/logger"
	"changesets/internal/schema"
	"changesets/internal/storage"
)

// Kind is the registry name of this sink.
const Kind = "mssql"

// Config holds MSSQL sink configuration.
type Config struct {
	DSN          string
	Table        string // e.g. "dbo.changesets"
	DropExisting bool
}

// Sink bulk-copies batches into one SQL Server table.
type Sink struct {
	db      *sql.DB
	cfg     Config
	columns []string
	log     *logger.Logger
	rows    int64

	// copyRows is the bulk path; tests replace it.
	copyRows func(ctx context.Context, rows [][]any) (int64, error)
}

var _ storage.Sink = (*Sink)(nil)

// openDB is a test hook that points to sql.Open plus a ping by default.
var openDB = func(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

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
		sink.log = logger.Named(cfg.Logger, "mssql")
		return sink, nil
	})
}

// Open validates the DSN, connects and (re)creates cfg.Table for s.
func Open(ctx context.Context, cfg Config, s *schema.Schema) (*Sink, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, perr.Wrap(err, perr.KindConfig, "mssql dsn")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, perr.Configf("mssql: table must not be empty")
	}
	stmts, err := ddl.Statements(cfg.Table, s, ddl.MSSQL, cfg.DropExisting)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSchemaMismatch, "mssql: table definition")
	}

	db, err := openDB(ctx, cfg.DSN)
	if err != nil {
		return nil, perr.Wrap(err, perr.KindSink, "mssql: connect")
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, perr.Wrap(err, perr.KindSink, "mssql: prepare table")
		}
	}

	sink := &Sink{db: db, cfg: cfg, columns: s.Names(), log: logger.Nop()}
	sink.copyRows = sink.bulkCopy
	return sink, nil
}

// WriteBatch bulk-inserts rows.
func (s *Sink) WriteBatch(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.copyRows(ctx, rows)
	if err != nil {
		return fmt.Errorf("mssql: %w", err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("mssql: bulk copy reported %d rows, sent %d", n, len(rows))
	}
	s.rows += n
	return nil
}

func (s *Sink) bulkCopy(ctx context.Context, rows [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(s.cfg.Table, mssql.BulkOptions{}, s.columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Close closes the database handle.
func (s *Sink) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("mssql: close: %w", err)
		}
	}
	log := s.log
	if log == nil {
		log = logger.Nop()
	}
	log.Debug().Str("table", s.cfg.Table).Int64("rows", s.rows).Msg("mssql sink closed")
	return nil
}
