// Package integration runs the service bus against real PostgreSQL and Redis
// instances started with testcontainers. Every test skips under -short.
package integration

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/erp/servicebus/internal/infrastructure/config"
	"github.com/erp/servicebus/internal/infrastructure/logger"
	"github.com/erp/servicebus/internal/infrastructure/migration"
	"github.com/erp/servicebus/internal/infrastructure/persistence"
	"github.com/erp/servicebus/migrations"
)

var (
	sharedPostgres    *tcpostgres.PostgresContainer
	sharedPostgresMu  sync.Mutex
	sharedPostgresCfg config.DatabaseConfig
)

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// TestDB is a connection to the package's shared PostgreSQL container
type TestDB struct {
	DB  *gorm.DB
	Cfg config.DatabaseConfig
	t   *testing.T
}

// NewSharedTestDB starts the shared PostgreSQL container and migrates it on
// first use, then opens a connection through persistence.NewDatabase
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	skipIfShort(t)

	sharedPostgresMu.Lock()
	defer sharedPostgresMu.Unlock()

	if sharedPostgres == nil {
		startPostgres(t)
	}

	cfg := sharedPostgresCfg
	db, err := persistence.NewDatabase(&cfg, persistence.WithGormLogger(testGormLogger(t)))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	return &TestDB{DB: db.DB, Cfg: cfg, t: t}
}

func startPostgres(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("servicebus_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("servicebus"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Driver:       "postgres",
		Host:         host,
		Port:         port.Int(),
		User:         "postgres",
		Password:     "servicebus",
		DBName:       "servicebus_test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
	require.NoError(t, migration.Apply(&cfg, migrations.FS, zap.NewNop()), "Failed to migrate test database")

	sharedPostgres = container
	sharedPostgresCfg = cfg
}

// testGormLogger is silent unless TEST_DB_DEBUG is set, in which case every
// statement goes to the test log with its bound values
func testGormLogger(t *testing.T) *logger.GormLogger {
	if os.Getenv("TEST_DB_DEBUG") == "" {
		return logger.NewGormLogger(zap.NewNop(), logger.GormConfig{Level: "silent"})
	}
	return logger.NewGormLogger(zaptest.NewLogger(t), logger.GormConfig{Level: "debug", FullSQL: true})
}

// CleanTables empties every application table, leaving schema_migrations
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	require.NoError(tdb.t, tdb.DB.Raw(
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`,
	).Scan(&tables).Error)
	if len(tables) == 0 {
		return
	}
	require.NoError(tdb.t, tdb.DB.Exec("TRUNCATE TABLE "+strings.Join(tables, ", ")).Error)
}

// CleanupSharedContainers terminates the shared containers. TestMain calls it
// after the run.
func CleanupSharedContainers() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sharedPostgresMu.Lock()
	if sharedPostgres != nil {
		_ = sharedPostgres.Terminate(ctx)
		sharedPostgres = nil
	}
	sharedPostgresMu.Unlock()

	sharedRedisMu.Lock()
	if sharedRedis != nil {
		_ = sharedRedis.Terminate(ctx)
		sharedRedis = nil
		sharedRedisURL = ""
	}
	sharedRedisMu.Unlock()
}
