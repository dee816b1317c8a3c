//nolint:gochecknoglobals
package mysql_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/root-talis/rensa/driver/mysql"
	"github.com/root-talis/rensa/revision"
)

// RDBMS versions to test against
var versions = []string{
	"mysql:8.0",
	"mysql:5.7",

	"mariadb:10.7",
	"mariadb:10.4",
}

var bountiesRevision = revision.Revision{
	ID:     "013",
	Parent: revision.Root,
	Name:   "bounty_system",
	Up: []revision.Op{
		{
			Kind:  revision.CreateTable,
			Table: "bounties",
			Columns: []revision.Column{
				{Name: "id", Type: "int auto_increment", PrimaryKey: true},
				{Name: "target_id", Type: "bigint"},
				{Name: "is_active", Type: "tinyint(1)", Default: "1"},
			},
		},
		{
			Kind:  revision.CreateIndex,
			Table: "bounties",
			Index: revision.Index{Name: "ix_bounties_target_active", Columns: []string{"target_id", "is_active"}},
		},
	},
	Down: []revision.Op{
		{
			Kind:  revision.DropIndex,
			Table: "bounties",
			Index: revision.Index{Name: "ix_bounties_target_active"},
		},
		{
			Kind:  revision.DropTable,
			Table: "bounties",
		},
	},
}

func TestApplyRoundTrip(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/mysql")
	}

	runForAllMysqlVersions(t, "ApplyRoundTrip", func(t *testing.T, version string, conn *sql.DB) {
		t.Helper()

		ctx := context.Background()

		if _, err := conn.Exec("CREATE DATABASE testDatabase;"); err != nil {
			t.Fatalf("error when initializing database: %s", err)
		}
		defer func() {
			if _, err := conn.Exec("DROP DATABASE testDatabase;"); err != nil {
				t.Fatalf("failed to drop database after test: %s", err)
			}
		}()

		// pin the pool to one connection so that USE sticks and
		// unqualified DDL lands in testDatabase
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("USE testDatabase;"); err != nil {
			t.Fatalf("failed to switch to test database: %s", err)
		}

		drv := mysql.NewDriver(conn, mysql.DriverConfig{DatabaseName: "testDatabase"})

		current, err := drv.Current(ctx)
		assert.NoError(t, err)
		assert.Equal(t, revision.Root, current)

		rev := bountiesRevision

		assert.NoError(t, drv.Apply(ctx, rev, revision.Up))

		current, err = drv.Current(ctx)
		assert.NoError(t, err)
		assert.Equal(t, revision.ID("013"), current)

		// double-apply must fail: the table already exists
		assert.Error(t, drv.Apply(ctx, rev, revision.Up))

		assert.NoError(t, drv.Apply(ctx, rev, revision.Down))

		current, err = drv.Current(ctx)
		assert.NoError(t, err)
		assert.Equal(t, revision.Root, current)

		log, err := drv.ListRevisionsLog(ctx)
		assert.NoError(t, err)
		if assert.Len(t, *log, 2) {
			assert.Equal(t, revision.Up, (*log)[0].Direction)
			assert.Equal(t, revision.Down, (*log)[1].Direction)
		}
	})
}

//
// --- utility stuff ---------------------
//

func runForAllMysqlVersions(t *testing.T, baseName string, test func(t *testing.T, version string, conn *sql.DB)) {
	t.Helper()

	for _, version := range versions {
		version := version
		testName := fmt.Sprintf("%s@%s", baseName, version)
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			rootPassword := randomPassword()
			t.Logf("%s - root password: %s", testName, rootPassword)

			ctx, mysqlC := makeTestContainer(t, version, rootPassword)
			defer func() {
				err := mysqlC.Terminate(ctx)
				if err != nil {
					t.Fatalf("failed to terminate test container: %s", err)
				}
			}()

			conn := connect(ctx, t, mysqlC, rootPassword)
			defer func() {
				err := conn.Close()
				if err != nil {
					t.Fatalf("failed to close connection to test database: %s", err)
				}
			}()

			test(t, version, conn)
		})
	}
}

func makeTestContainer(t *testing.T, version string, rootPassword string) (context.Context, testcontainers.Container) {
	t.Helper()

	var env map[string]string

	if strings.HasPrefix(version, "mariadb") {
		env = map[string]string{
			"MARIADB_ROOT_PASSWORD": rootPassword,
		}
	} else {
		env = map[string]string{
			"MYSQL_ROOT_PASSWORD": rootPassword,
		}
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        version,
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForListeningPort("3306"),
		Env:          env,
		Cmd: []string{
			"--table_definition_cache=10",
			"--performance_schema=0",
		},
	}

	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	return ctx, mysqlC
}

func connect(ctx context.Context, t *testing.T, mysqlC testcontainers.Container, rootPassword string) *sql.DB {
	t.Helper()

	endpoint, err := mysqlC.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("mysql",
		fmt.Sprintf("root:%s@tcp(%s)/mysql?multiStatements=true", rootPassword, endpoint))

	if err != nil {
		t.Fatal(err)
	}

	return conn
}

func randomPassword() string {
	const length = 8
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to generate a random password: %w", err))
	}
	return fmt.Sprintf("%x", b)[:length]
}
