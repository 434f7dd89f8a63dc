package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "wfm.db")

	db, err := New(Config{Path: path, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)

	_, err = New(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "wfm.db"), MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, zap.NewNop())
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)

	for _, table := range []string{"workflow_instances", "assignments", "workflow_history", "outbox_actions"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(fstest.MapFS{
		"002_outbox.sql":  {Data: []byte("SELECT 2;")},
		"001_initial.sql": {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("ignored")},
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, Migration{Version: 1, Name: "initial", SQL: "SELECT 1;"}, migrations[0])
	assert.Equal(t, 2, migrations[1].Version)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{"initial.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)
}
