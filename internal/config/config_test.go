package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" },
		"breakage": { "mode": "disabled" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, "disabled", viper.GetString("breakage.mode"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./breaklogs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "", viper.GetString("api.apiKey"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "breakage", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "./snapshots", viper.GetString("storage.memory.outputDir"))
	assert.Equal(t, "./breakage.db", viper.GetString("storage.sqlite.path"))
	assert.Equal(t, "breakage", viper.GetString("otel.serviceName"))
	assert.Equal(t, 8192, viper.GetInt("breakage.memoryBudgetKB"))
	assert.Equal(t, "visibility", viper.GetString("breakage.evictionOrder"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetBreakageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	bc, err := GetBreakageConfig()
	require.NoError(t, err)

	assert.Equal(t, "allow,obey-global", bc.Mode)
	assert.True(t, bc.ProceduralBreaking)
	assert.True(t, bc.JointBreaking)
	assert.True(t, bc.Authoritative)
	assert.Equal(t, 0.5, bc.TreeReuseDistance)
	assert.Equal(t, 5*time.Second, bc.Fade.Delay)
	assert.Equal(t, 2*time.Second, bc.Fade.Time)
	assert.Equal(t, 6, bc.Glass.MaxPanesPerFrame)
	assert.Equal(t, 10.0, bc.Glass.Ceiling)
	assert.Equal(t, 8.0, bc.Tree.Ceiling)
	assert.Equal(t, 4, bc.Scheduler.Slots)
	assert.NoError(t, bc.Validate())
}

func TestGetBreakageConfig_PartialOverrideKeepsNestedDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"breakage": {
			"multiplayer": true,
			"glass": { "autoShatter": true, "forcedTimeout": "3s" }
		}
	}`)))

	bc, err := GetBreakageConfig()
	require.NoError(t, err)

	assert.True(t, bc.Multiplayer)
	assert.True(t, bc.Glass.AutoShatter)
	assert.Equal(t, 3*time.Second, bc.Glass.ForcedTimeout)
	assert.Equal(t, 6, bc.Glass.MaxPanesPerFrame)
	assert.Equal(t, 0.2, bc.Glass.Decrement)
	assert.Equal(t, 8192, bc.MemoryBudgetKB)
}

func TestBreakageConfig_Validate(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))
	base, err := GetBreakageConfig()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*BreakageConfig)
	}{
		{"unknown mode", func(c *BreakageConfig) { c.Mode = "sometimes" }},
		{"unknown eviction order", func(c *BreakageConfig) { c.EvictionOrder = "random" }},
		{"negative budget", func(c *BreakageConfig) { c.MemoryBudgetKB = -1 }},
		{"negative tree tolerance", func(c *BreakageConfig) { c.TreeReuseSizeTolerance = -0.1 }},
		{"negative glass decrement", func(c *BreakageConfig) { c.Glass.Decrement = -1 }},
		{"negative pane cap", func(c *BreakageConfig) { c.Glass.MaxPanesPerFrame = -2 }},
		{"negative fade", func(c *BreakageConfig) { c.Fade.Time = -time.Second }},
		{"negative slots", func(c *BreakageConfig) { c.Scheduler.Slots = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestBreakageConfig_Session(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"breakage": {
			"mode": "allow",
			"authoritative": false,
			"evictionOrder": "distance",
			"memoryBudgetKB": 1024,
			"seed": 99,
			"tree": { "glassCrossIncrement": 0.25 }
		}
	}`)))

	bc, err := GetBreakageConfig()
	require.NoError(t, err)
	sc, err := bc.Session()
	require.NoError(t, err)

	assert.Equal(t, ingest.ModeAllow, sc.Mode)
	assert.Equal(t, core.RoleClient, sc.Role)
	assert.Equal(t, meshcache.OrderDistance, sc.Mesh.Order)
	assert.Equal(t, 1024, sc.Mesh.BudgetKB)
	assert.Equal(t, uint64(99), sc.Seed)
	assert.Equal(t, 0.25, sc.Throttle.GlassCrossIncrement)
	assert.Equal(t, 1.0, sc.Throttle.TreeIncrement)
	assert.Equal(t, 4096, sc.QueueLimit)
}

func TestBreakageConfig_SessionRejectsInvalid(t *testing.T) {
	bc := BreakageConfig{Mode: "nope"}
	_, err := bc.Session()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "./snapshots", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, "./breakage.db", cfg.SQLite.Path)
	assert.Zero(t, cfg.SQLite.DumpInterval)
	assert.Equal(t, "", cfg.WebSocket.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "websocket",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "3m" },
			"websocket": { "url": "ws://relay:5000/ingest", "secret": "s3cret" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "websocket", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "ws://relay:5000/ingest", sc.WebSocket.URL)
	assert.Equal(t, "s3cret", sc.WebSocket.Secret)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "breakage", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetInfluxAndLoggingConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"logLevel": "warn",
		"graylog": { "enabled": true },
		"influx": { "enabled": true, "bucket": "frames" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "frames", ic.Bucket)
	assert.Equal(t, "breakage-metrics", ic.Org)

	lc := GetLoggingConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.True(t, lc.GraylogEnabled)
	assert.Equal(t, "localhost:12201", lc.GraylogAddress)
}
