package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/internal/throttle"
	"github.com/OCAP2/breakage/internal/treecache"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "breakage.cfg.json"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// GlassConfig holds the glass throttle and shatter settings.
type GlassConfig struct {
	ForcedTimeout           time.Duration `json:"forcedTimeout" mapstructure:"forcedTimeout"`
	ForcedTimeoutSpread     time.Duration `json:"forcedTimeoutSpread" mapstructure:"forcedTimeoutSpread"`
	MaxPanesPerFrame        int           `json:"maxPanesPerFrame" mapstructure:"maxPanesPerFrame"`
	AutoShatter             bool          `json:"autoShatter" mapstructure:"autoShatter"`
	AutoShatterOnExplosions bool          `json:"autoShatterOnExplosions" mapstructure:"autoShatterOnExplosions"`
	AutoShatterMinArea      float64       `json:"autoShatterMinArea" mapstructure:"autoShatterMinArea"`
	Ceiling                 float64       `json:"ceiling" mapstructure:"ceiling"`
	Increment               float64       `json:"increment" mapstructure:"increment"`
	Decrement               float64       `json:"decrement" mapstructure:"decrement"`
}

// TreeConfig holds the tree throttle settings.
type TreeConfig struct {
	Ceiling             float64 `json:"ceiling" mapstructure:"ceiling"`
	Increment           float64 `json:"increment" mapstructure:"increment"`
	Decrement           float64 `json:"decrement" mapstructure:"decrement"`
	GlassCrossIncrement float64 `json:"glassCrossIncrement" mapstructure:"glassCrossIncrement"`
}

// FadeConfig holds debris fade timing.
type FadeConfig struct {
	Delay time.Duration `json:"delay" mapstructure:"delay"`
	Time  time.Duration `json:"time" mapstructure:"time"`
}

// SchedulerConfig sizes the extraction workers and the immediate-work queue.
type SchedulerConfig struct {
	Slots      int `json:"slots" mapstructure:"slots"`
	QueueLimit int `json:"queueLimit" mapstructure:"queueLimit"`
}

// BreakageConfig is the breakage section of the config file.
type BreakageConfig struct {
	Mode                   string          `json:"mode" mapstructure:"mode"`
	ProceduralBreaking     bool            `json:"proceduralBreaking" mapstructure:"proceduralBreaking"`
	JointBreaking          bool            `json:"jointBreaking" mapstructure:"jointBreaking"`
	TreeReuseDistance      float64         `json:"treeReuseDistance" mapstructure:"treeReuseDistance"`
	TreeReuseSizeTolerance float64         `json:"treeReuseSizeTolerance" mapstructure:"treeReuseSizeTolerance"`
	NoSecondaryBreaking    bool            `json:"noSecondaryBreaking" mapstructure:"noSecondaryBreaking"`
	NoBreakingByObjects    bool            `json:"noBreakingByObjects" mapstructure:"noBreakingByObjects"`
	MemoryBudgetKB         int             `json:"memoryBudgetKB" mapstructure:"memoryBudgetKB"`
	EvictionOrder          string          `json:"evictionOrder" mapstructure:"evictionOrder"`
	VisibilityFrames       uint64          `json:"visibilityFrames" mapstructure:"visibilityFrames"`
	DebugOverlay           int             `json:"debugOverlay" mapstructure:"debugOverlay"`
	Multiplayer            bool            `json:"multiplayer" mapstructure:"multiplayer"`
	Authoritative          bool            `json:"authoritative" mapstructure:"authoritative"`
	Seed                   uint64          `json:"seed" mapstructure:"seed"`
	Fade                   FadeConfig      `json:"fade" mapstructure:"fade"`
	Glass                  GlassConfig     `json:"glass" mapstructure:"glass"`
	Tree                   TreeConfig      `json:"tree" mapstructure:"tree"`
	Scheduler              SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`
}

// MemoryConfig holds file snapshot storage settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// WebSocketConfig holds relay publisher settings
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the snapshot backend
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// SQLiteConfig holds sqlite database settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
	// DumpInterval above zero keeps the database in memory and vacuums it
	// to Path this often.
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level          string `json:"logLevel" mapstructure:"logLevel"`
	Dir            string `json:"logsDir" mapstructure:"logsDir"`
	GraylogEnabled bool   `json:"graylogEnabled" mapstructure:"graylogEnabled"`
	GraylogAddress string `json:"graylogAddress" mapstructure:"graylogAddress"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./breaklogs")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("breakage.mode", "allow,obey-global")
	viper.SetDefault("breakage.proceduralBreaking", true)
	viper.SetDefault("breakage.jointBreaking", true)
	viper.SetDefault("breakage.treeReuseDistance", 0.5)
	viper.SetDefault("breakage.treeReuseSizeTolerance", 0.1)
	viper.SetDefault("breakage.noSecondaryBreaking", false)
	viper.SetDefault("breakage.noBreakingByObjects", false)
	viper.SetDefault("breakage.memoryBudgetKB", 8192)
	viper.SetDefault("breakage.evictionOrder", "visibility")
	viper.SetDefault("breakage.visibilityFrames", 10)
	viper.SetDefault("breakage.debugOverlay", 0)
	viper.SetDefault("breakage.multiplayer", false)
	viper.SetDefault("breakage.authoritative", true)
	viper.SetDefault("breakage.seed", 0)

	viper.SetDefault("breakage.fade.delay", "5s")
	viper.SetDefault("breakage.fade.time", "2s")

	viper.SetDefault("breakage.glass.forcedTimeout", "0s")
	viper.SetDefault("breakage.glass.forcedTimeoutSpread", "0s")
	viper.SetDefault("breakage.glass.maxPanesPerFrame", 6)
	viper.SetDefault("breakage.glass.autoShatter", false)
	viper.SetDefault("breakage.glass.autoShatterOnExplosions", false)
	viper.SetDefault("breakage.glass.autoShatterMinArea", 0.0)
	viper.SetDefault("breakage.glass.ceiling", 10.0)
	viper.SetDefault("breakage.glass.increment", 1.0)
	viper.SetDefault("breakage.glass.decrement", 0.2)

	viper.SetDefault("breakage.tree.ceiling", 8.0)
	viper.SetDefault("breakage.tree.increment", 1.0)
	viper.SetDefault("breakage.tree.decrement", 0.1)
	viper.SetDefault("breakage.tree.glassCrossIncrement", 0.5)

	viper.SetDefault("breakage.scheduler.slots", 4)
	viper.SetDefault("breakage.scheduler.queueLimit", 4096)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "breakage")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "breakage-metrics")
	viper.SetDefault("influx.bucket", "breakage")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./snapshots")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./breakage.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "0s")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "breakage")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetBreakageConfig returns the breakage section.
func GetBreakageConfig() (BreakageConfig, error) {
	// Unmarshal walks every leaf key so nested defaults survive a partial file.
	var root struct {
		Breakage BreakageConfig `mapstructure:"breakage"`
	}
	if err := viper.Unmarshal(&root); err != nil {
		return BreakageConfig{}, fmt.Errorf("decoding breakage config: %w", err)
	}
	return root.Breakage, nil
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetLoggingConfig returns the log output settings.
func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:          viper.GetString("logLevel"),
		Dir:            viper.GetString("logsDir"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// Validate checks values viper cannot type-check.
func (c BreakageConfig) Validate() error {
	if _, err := ingest.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := meshcache.ParseOrder(c.EvictionOrder); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.MemoryBudgetKB < 0 {
		return fmt.Errorf("%w: memoryBudgetKB %d is negative", ErrInvalid, c.MemoryBudgetKB)
	}
	if c.TreeReuseDistance < 0 || c.TreeReuseSizeTolerance < 0 {
		return fmt.Errorf("%w: tree reuse tolerances must not be negative", ErrInvalid)
	}
	for name, v := range map[string]float64{
		"glass.ceiling":            c.Glass.Ceiling,
		"glass.increment":          c.Glass.Increment,
		"glass.decrement":          c.Glass.Decrement,
		"tree.ceiling":             c.Tree.Ceiling,
		"tree.increment":           c.Tree.Increment,
		"tree.decrement":           c.Tree.Decrement,
		"tree.glassCrossIncrement": c.Tree.GlassCrossIncrement,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalid, name)
		}
	}
	if c.Glass.MaxPanesPerFrame < 0 {
		return fmt.Errorf("%w: glass.maxPanesPerFrame is negative", ErrInvalid)
	}
	if c.Fade.Delay < 0 || c.Fade.Time < 0 {
		return fmt.Errorf("%w: fade durations must not be negative", ErrInvalid)
	}
	if c.Scheduler.Slots < 0 {
		return fmt.Errorf("%w: scheduler.slots is negative", ErrInvalid)
	}
	return nil
}

// Session converts the section into a session configuration.
func (c BreakageConfig) Session() (ingest.Config, error) {
	if err := c.Validate(); err != nil {
		return ingest.Config{}, err
	}
	mode, _ := ingest.ParseMode(c.Mode)
	order, _ := meshcache.ParseOrder(c.EvictionOrder)
	role := core.RoleAuthoritative
	if !c.Authoritative {
		role = core.RoleClient
	}
	return ingest.Config{
		Mode:                mode,
		ProceduralBreaking:  c.ProceduralBreaking,
		JointBreaking:       c.JointBreaking,
		NoSecondaryBreaking: c.NoSecondaryBreaking,
		NoBreakingByObjects: c.NoBreakingByObjects,
		Role:                role,
		Multiplayer:         c.Multiplayer,
		Glass: ingest.GlassConfig{
			ForcedTimeout:           c.Glass.ForcedTimeout,
			ForcedTimeoutSpread:     c.Glass.ForcedTimeoutSpread,
			AutoShatter:             c.Glass.AutoShatter,
			AutoShatterOnExplosions: c.Glass.AutoShatterOnExplosions,
			AutoShatterMinArea:      c.Glass.AutoShatterMinArea,
		},
		Throttle: throttle.Config{
			TreeCeiling:         c.Tree.Ceiling,
			TreeIncrement:       c.Tree.Increment,
			TreeDecrement:       c.Tree.Decrement,
			GlassCrossIncrement: c.Tree.GlassCrossIncrement,
			GlassCeiling:        c.Glass.Ceiling,
			GlassIncrement:      c.Glass.Increment,
			GlassDecrement:      c.Glass.Decrement,
			MaxPanesPerFrame:    c.Glass.MaxPanesPerFrame,
		},
		Mesh: meshcache.Config{
			BudgetKB:         c.MemoryBudgetKB,
			VisibilityFrames: c.VisibilityFrames,
			Order:            order,
		},
		Tree: treecache.Config{
			HeightTolerance: c.TreeReuseDistance,
			SizeTolerance:   c.TreeReuseSizeTolerance,
			Multiplayer:     c.Multiplayer,
		},
		Fade: fade.Config{
			Delay: c.Fade.Delay,
			Time:  c.Fade.Time,
		},
		Slots:      c.Scheduler.Slots,
		QueueLimit: c.Scheduler.QueueLimit,
		Seed:       c.Seed,
	}, nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
