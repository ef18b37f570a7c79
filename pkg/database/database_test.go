package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrator_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.RunMigrations(Migrations()))
	require.NoError(t, m.RunMigrations(Migrations()), "second run is a no-op")

	applied, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true}, applied)

	_, err = db.Exec(`INSERT INTO items (collection, id, data, status) VALUES ('documents', 'a', '{}', 'ACCEPTED')`)
	assert.NoError(t, err)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 1;")},
		"002_second.sql": {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
	}
	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "second", migrations[0].Name)
	assert.Equal(t, 10, migrations[1].Version)

	_, err = LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	err := m.RunMigrations(fstest.MapFS{"001_broken.sql": {Data: []byte("CREATE TABLE oops (;")}})
	require.Error(t, err)

	applied, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestDB_Check(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "check.db")}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, db.Check(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, db.Check(context.Background()))
}

func TestDSN_EnablesWAL(t *testing.T) {
	assert.Equal(t, "file:data/x.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", dsn("data/x.db"))
}
