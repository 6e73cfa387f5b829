package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/breakage/internal/model"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "db.local")
	viper.Set("db.port", "6543")
	viper.Set("db.username", "breaker")
	viper.Set("db.password", "pw")
	viper.Set("db.database", "levels")

	assert.Equal(t, "host=db.local port=6543 user=breaker password=pw dbname=levels sslmode=disable", PostgresDSN())
}

func TestManager_FallsBackToSqlite(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "127.0.0.1")
	viper.Set("db.port", "1")

	path := filepath.Join(t.TempDir(), "breakage.db")
	m := NewManager(zerolog.Nop(), path)
	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Close() })
	assert.True(t, m.Fallback)

	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&model.Snapshot{}))
	assert.True(t, m.DB.Migrator().HasTable(&model.TickPerformance{}))

	require.NoError(t, m.DB.Create(&model.TickPerformance{Time: time.Now(), Level: "docks", Events: 3}).Error)
	var n int64
	require.NoError(t, m.DB.Model(&model.TickPerformance{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestManager_NotConnected(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	assert.Error(t, m.Setup())
	assert.NoError(t, m.Close())
}

func TestVacuumInto(t *testing.T) {
	db, err := OpenSqlite(filepath.Join(t.TempDir(), "src.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.DatabaseModels...))
	require.NoError(t, db.Create(&model.Snapshot{ID: "a", Level: "docks", Data: []byte{1}}).Error)

	out := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))
	require.NoError(t, VacuumInto(db, out))

	dumped, err := OpenSqlite(out)
	require.NoError(t, err)
	var got model.Snapshot
	require.NoError(t, dumped.First(&got, "id = ?", "a").Error)
	assert.Equal(t, "docks", got.Level)

	assert.Error(t, VacuumInto(db, ""))
}

func TestListBackups(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db.migrated"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c.db"), 0o755))

	paths, err := ListBackups(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.db")}, paths)

	_, err = ListBackups(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))
}
