// Package postgres applies revisions to a PostgreSQL database. It works
// with any database/sql connection; the pgx stdlib adapter is the one the
// CLI opens:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	conn, err := sql.Open("pgx", dsn)
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/root-talis/rensa/driver"
	"github.com/root-talis/rensa/driver/sqlgen"
	"github.com/root-talis/rensa/revision"
)

type DriverConfig struct {
	RevisionsLogTable string // defaults to "revisions_log"
	CurrentTable      string // defaults to "schema_revision"
}

const (
	defaultLogTable     = "revisions_log"
	defaultCurrentTable = "schema_revision"
)

type postgresDriver struct {
	conn   *sql.DB
	config DriverConfig
	gen    sqlgen.Generator
}

func NewDriver(conn *sql.DB, config DriverConfig) driver.Driver {
	if config.RevisionsLogTable == "" {
		config.RevisionsLogTable = defaultLogTable
	}
	if config.CurrentTable == "" {
		config.CurrentTable = defaultCurrentTable
	}

	return &postgresDriver{
		conn:   conn,
		config: config,
		gen: sqlgen.Generator{
			Quote:               quoteIdent,
			DropIndexNeedsTable: false,
			AlterConstraints:    true,
		},
	}
}

// ---

func (drv *postgresDriver) Current(ctx context.Context) (revision.ID, error) {
	if err := drv.ensureStateTablesExist(ctx); err != nil {
		return revision.Root, fmt.Errorf("failed to read current revision: %w", err)
	}

	var current string
	err := drv.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT revision FROM %s LIMIT 1",
		quoteIdent(drv.config.CurrentTable),
	)).Scan(&current)

	switch {
	case err == sql.ErrNoRows:
		return revision.Root, nil
	case err != nil:
		return revision.Root, fmt.Errorf("failed to read current revision: %w", err)
	}

	return revision.ID(current), nil
}

func (drv *postgresDriver) ListRevisionsLog(ctx context.Context) (*[]revision.Log, error) {
	if err := drv.ensureStateTablesExist(ctx); err != nil {
		return nil, fmt.Errorf("failed to list applied revisions: %w", err)
	}

	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT revision, revision_name, direction, applied_at FROM %s ORDER BY id",
		quoteIdent(drv.config.RevisionsLogTable),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied revisions: %w", err)
	}
	defer rows.Close()

	result := make([]revision.Log, 0)
	for rows.Next() {
		var log revision.Log
		var direction string

		if err = rows.Scan(&log.ID, &log.Name, &direction, &log.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to query revisions log table: %w", err)
		}

		switch strings.ToLower(direction) {
		case "u":
			log.Direction = revision.Up
		case "d":
			log.Direction = revision.Down
		default:
			return nil, fmt.Errorf("%w: direction \"%s\" is unknown", driver.ErrInvalidLogTable, direction)
		}

		result = append(result, log)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query revisions log table: %w", err)
	}

	return &result, nil
}

func (drv *postgresDriver) Apply(ctx context.Context, rev revision.Revision, dir revision.Direction) error {
	ops := rev.Up
	if dir == revision.Down {
		ops = rev.Down
	}

	// render everything before touching the database
	stmts := make([]string, len(ops))
	for i, op := range ops {
		stmt, err := drv.gen.Statement(op)
		if err != nil {
			return &driver.OperationError{Revision: rev.ID, Op: op, Err: err}
		}
		stmts[i] = stmt
	}

	if err := drv.ensureStateTablesExist(ctx); err != nil {
		return fmt.Errorf("failed to apply revision %s: %w", rev.ID, err)
	}

	tx, err := drv.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to apply revision %s: %w", rev.ID, err)
	}

	for i, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return &driver.OperationError{Revision: rev.ID, Op: ops[i], Err: err}
		}
	}

	if err = drv.moveMarker(ctx, tx, rev, dir); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply revision %s: %w", rev.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to apply revision %s: %w", rev.ID, err)
	}

	return nil
}

func (drv *postgresDriver) moveMarker(ctx context.Context, tx *sql.Tx, rev revision.Revision, dir revision.Direction) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s", quoteIdent(drv.config.CurrentTable),
	)); err != nil {
		return err
	}

	current := rev.ID
	if dir == revision.Down {
		current = rev.Parent
	}

	if current != revision.Root {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (revision) VALUES ($1)",
			quoteIdent(drv.config.CurrentTable),
		), string(current))
		if err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (revision, revision_name, direction) VALUES ($1, $2, $3)",
		quoteIdent(drv.config.RevisionsLogTable),
	), string(rev.ID), rev.Name, string(dir))

	return err
}

func (drv *postgresDriver) ensureStateTablesExist(ctx context.Context) error {
	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id            bigserial primary key, "+
			"revision      varchar(100) not null, "+
			"revision_name varchar(100), "+
			"direction     char(1), "+ // "u" or "d"
			"applied_at    timestamptz not null default now()"+
			")",
		quoteIdent(drv.config.RevisionsLogTable),
	))
	if err != nil {
		return fmt.Errorf("failed to create revisions log table: %w", err)
	}

	_, err = drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"revision varchar(100) not null primary key"+
			")",
		quoteIdent(drv.config.CurrentTable),
	))
	if err != nil {
		return fmt.Errorf("failed to create current revision table: %w", err)
	}

	return nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
