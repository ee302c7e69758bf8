package migration

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/infrastructure/config"
	"github.com/erp/servicebus/migrations"
)

func newSQLiteMigrator(t *testing.T) (*Migrator, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	m, err := New(db, "sqlite", migrations.FS, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&count))
	return count == 1
}

func TestEmbeddedMigrationsAreListed(t *testing.T) {
	list, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, Migration{Version: 1, Name: "create_user_directory"}, list[0])
}

func TestMigrator_UpAndDown(t *testing.T) {
	m, db := newSQLiteMigrator(t)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	assert.True(t, tableExists(t, db, "user_directory"))

	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// nothing left to apply
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, db, "user_directory"))
	require.NoError(t, m.Down())
}

func TestMigrator_StepsAndForce(t *testing.T) {
	m, _ := newSQLiteMigrator(t)

	require.NoError(t, m.Steps(1))
	version, _, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Force(1))
	require.NoError(t, m.Steps(-1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigrator_FailedMigrationLeavesDirtyVersion(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	files := fstest.MapFS{
		"000001_broken.up.sql":   {Data: []byte("CREATE TABLE")},
		"000001_broken.down.sql": {Data: []byte("")},
	}
	m, err := New(db, "sqlite", files, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	err = m.Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration up failed")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.True(t, dirty)

	require.NoError(t, m.Force(1))
	_, dirty, err = m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(nil, "mysql", migrations.FS, zap.NewNop())
	assert.EqualError(t, err, `unsupported migration driver "mysql"`)
}

func TestApply_SQLiteFile(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "directory.db"),
	}

	require.NoError(t, Apply(cfg, migrations.FS, zap.NewNop()))
	// applying again is a no-op
	require.NoError(t, Apply(cfg, migrations.FS, zap.NewNop()))

	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, tableExists(t, db, "user_directory"))
}
