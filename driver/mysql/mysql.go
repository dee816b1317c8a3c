package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/root-talis/rensa/driver"
	"github.com/root-talis/rensa/driver/sqlgen"
	"github.com/root-talis/rensa/revision"
)

type DriverConfig struct {
	DatabaseName      string
	RevisionsLogTable string // defaults to "revisions_log"
	CurrentTable      string // defaults to "schema_revision"
}

const (
	defaultLogTable     = "revisions_log"
	defaultCurrentTable = "schema_revision"
)

type mysqlDriver struct {
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

	return &mysqlDriver{
		conn:   conn,
		config: config,
		gen: sqlgen.Generator{
			Quote:               quoteIdent,
			DropIndexNeedsTable: true,
			AlterConstraints:    true,
		},
	}
}

// ---

func (drv *mysqlDriver) Current(ctx context.Context) (revision.ID, error) {
	if err := drv.ensureStateTablesExist(ctx); err != nil {
		return revision.Root, fmt.Errorf("failed to read current revision: %w", err)
	}

	var current string
	err := drv.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT revision FROM %s LIMIT 1",
		drv.currentTableName(),
	)).Scan(&current)

	switch {
	case err == sql.ErrNoRows:
		return revision.Root, nil
	case err != nil:
		return revision.Root, fmt.Errorf("failed to read current revision: %w", err)
	}

	return revision.ID(current), nil
}

func (drv *mysqlDriver) ListRevisionsLog(ctx context.Context) (*[]revision.Log, error) {
	if err := drv.ensureStateTablesExist(ctx); err != nil {
		return nil, fmt.Errorf("failed to list applied revisions: %w", err)
	}

	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT revision, revision_name, direction, applied_at FROM %s ORDER BY id",
		drv.logTableName(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied revisions: %w", err)
	}
	defer rows.Close()

	result, err := fetchRevisionsLog(rows)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func fetchRevisionsLog(rows *sql.Rows) ([]revision.Log, error) {
	result := make([]revision.Log, 0)
	for rows.Next() {
		var log revision.Log
		var appliedAt string
		var direction string

		err := rows.Scan(
			&log.ID,
			&log.Name,
			&direction,
			&appliedAt,
		)
		if err != nil {
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

		log.AppliedAt, err = time.Parse("2006-01-02 15:04:05", appliedAt)
		if err != nil {
			log.AppliedAt = time.Time{}
		}

		result = append(result, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query revisions log table: %w", err)
	}

	return result, nil
}

func (drv *mysqlDriver) Apply(ctx context.Context, rev revision.Revision, dir revision.Direction) error {
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

// moveMarker advances the single-row current-revision marker one link and
// appends to the log, inside the caller's transaction.
func (drv *mysqlDriver) moveMarker(ctx context.Context, tx *sql.Tx, rev revision.Revision, dir revision.Direction) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", drv.currentTableName())); err != nil {
		return err
	}

	current := rev.ID
	if dir == revision.Down {
		current = rev.Parent
	}

	if current != revision.Root {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (revision) VALUES (?)",
			drv.currentTableName(),
		), string(current))
		if err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (revision, revision_name, direction) VALUES (?, ?, ?)",
		drv.logTableName(),
	), string(rev.ID), rev.Name, string(dir))

	return err
}

// ---

func (drv *mysqlDriver) logTableName() string {
	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(drv.config.DatabaseName),
		escapeMysqlString(drv.config.RevisionsLogTable),
	)
}

func (drv *mysqlDriver) currentTableName() string {
	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(drv.config.DatabaseName),
		escapeMysqlString(drv.config.CurrentTable),
	)
}

func (drv *mysqlDriver) ensureStateTablesExist(ctx context.Context) error {
	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id            int not null auto_increment, "+
			"revision      varchar(100) not null, "+
			"revision_name varchar(100) null, "+
			"direction     char(1) null, "+ // "u" or "d"
			"applied_at    datetime default CURRENT_TIMESTAMP not null, "+
			"primary key (id)"+
			") default charset utf8",
		drv.logTableName(),
	))
	if err != nil {
		return fmt.Errorf("failed to create revisions log table %s: %w", drv.logTableName(), err)
	}

	_, err = drv.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"revision varchar(100) not null, "+
			"primary key (revision)"+
			") default charset utf8",
		drv.currentTableName(),
	))
	if err != nil {
		return fmt.Errorf("failed to create current revision table %s: %w", drv.currentTableName(), err)
	}

	return nil
}

func quoteIdent(ident string) string {
	return "`" + escapeMysqlString(ident) + "`"
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
