package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	mysqldsn "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/root-talis/rensa"
	"github.com/root-talis/rensa/driver"
	"github.com/root-talis/rensa/driver/mysql"
	"github.com/root-talis/rensa/driver/postgres"
	"github.com/root-talis/rensa/driver/sqlite"
	"github.com/root-talis/rensa/source/files"
)

// config is read from the environment; every value can be overridden with a
// command-line flag.
type config struct {
	DSN         string `env:"RENSA_DSN"`
	Dialect     string `env:"RENSA_DIALECT" envDefault:"sqlite"`
	Dir         string `env:"RENSA_DIR" envDefault:"revisions"`
	TablePrefix string `env:"RENSA_TABLE_PREFIX"`
	LogLevel    string `env:"RENSA_LOG_LEVEL" envDefault:"info"`
}

func parseConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ---

func openDriver(cfg config) (driver.Driver, *sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("no DSN configured (set RENSA_DSN or --dsn)")
	}

	logTable := ""
	currentTable := ""
	if cfg.TablePrefix != "" {
		logTable = cfg.TablePrefix + "revisions_log"
		currentTable = cfg.TablePrefix + "schema_revision"
	}

	switch cfg.Dialect {
	case "mysql":
		parsed, err := mysqldsn.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid mysql DSN: %w", err)
		}

		conn, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open mysql connection: %w", err)
		}

		return mysql.NewDriver(conn, mysql.DriverConfig{
			DatabaseName:      parsed.DBName,
			RevisionsLogTable: logTable,
			CurrentTable:      currentTable,
		}), conn, nil

	case "postgres":
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}

		return postgres.NewDriver(conn, postgres.DriverConfig{
			RevisionsLogTable: logTable,
			CurrentTable:      currentTable,
		}), conn, nil

	case "sqlite":
		conn, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite connection: %w", err)
		}
		conn.SetMaxOpenConns(1)

		return sqlite.NewDriver(conn, sqlite.DriverConfig{
			RevisionsLogTable: logTable,
			CurrentTable:      currentTable,
		}), conn, nil

	default:
		return nil, nil, fmt.Errorf("unknown dialect %q (expected mysql, postgres or sqlite)", cfg.Dialect)
	}
}

// openEngine wires the files source and the dialect driver into an engine.
// The returned closer must be called when the command is done.
func openEngine(cfg config, opts ...rensa.Option) (rensa.Rensa, func() error, error) {
	if _, err := os.Stat(cfg.Dir); err != nil {
		return nil, nil, fmt.Errorf("revisions directory %q is not accessible: %w", cfg.Dir, err)
	}

	src, err := files.NewFilesSource(os.DirFS(cfg.Dir), ".")
	if err != nil {
		return nil, nil, err
	}

	drv, conn, err := openDriver(cfg)
	if err != nil {
		return nil, nil, err
	}

	return rensa.New(src, drv, opts...), conn.Close, nil
}
