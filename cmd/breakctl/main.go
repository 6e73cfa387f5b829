package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/logging"
	intOtel "github.com/OCAP2/breakage/internal/otel"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "breakctl"
)

// file paths
var (
	// ConfigDir holds breakage.cfg.json. BREAKAGE_CONFIG_DIR overrides the
	// working directory.
	ConfigDir string

	LogFilePath string
	LogFile     *os.File
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger feeds the database and influx managers.
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// LevelContext names the level snapshots are filed under.
	LevelContext = level.NewContext()
)

const usage = `usage: breakctl <command> [args]

commands:
  inspect <file>           print a snapshot file
  replay <file> [until]    replay a snapshot into the sandbox yard
  export <level> [file]    write the newest stored snapshot to a file
  import <file> <level>    store a snapshot file under level
  list <level>             list stored snapshots
  upload <file> <level>    send a snapshot file to the relay
  health                   check the relay is reachable
  simulate <n> [level]     run n random impacts against the sandbox yard
  setupdb                  migrate the database schema
  migratebackups           copy rows from sqlite backups into postgres
  version                  print the version`

func setup() {
	ConfigDir = os.Getenv("BREAKAGE_CONFIG_DIR")
	if ConfigDir == "" {
		ConfigDir = "."
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: viper.GetString("logLevel")})
	Logger = SlogManager.Logger()

	if err := config.Load(ConfigDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", ConfigDir)
	}
	logCfg := config.GetLoggingConfig()

	if err := os.MkdirAll(logCfg.Dir, 0o755); err != nil {
		Logger.Error("Failed to create logs dir", "error", err, "path", logCfg.Dir)
	}
	LogFilePath = logging.LogFilePath(logCfg.Dir, AppName, SessionStartTime)

	var err error
	LogFile, err = logging.OpenLogFile(LogFilePath)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var otelOut io.Writer
		if LogFile != nil {
			otelOut = LogFile
		}
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      otelOut,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := logging.Options{Level: logCfg.Level, Attrs: levelAttrs}
	if LogFile != nil {
		opts.File = LogFile
	}
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	opts.Provider = otelLogProvider
	if logCfg.GraylogEnabled {
		gw, err := logging.NewGraylogWriter(logCfg.GraylogAddress)
		if err != nil {
			Logger.Warn("Graylog disabled", "error", err)
		} else {
			opts.Graylog = gw
		}
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	zlevel, err := zerolog.ParseLevel(strings.ToLower(logCfg.Level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	zout := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if LogFile != nil {
		ZLogger = zerolog.New(LogFile).Level(zlevel).With().Timestamp().Logger()
	} else {
		ZLogger = zerolog.New(zout).Level(zlevel).With().Timestamp().Logger()
	}
}

// levelAttrs adds the loaded level to every log record.
func levelAttrs() []slog.Attr {
	l := LevelContext.Get()
	if !l.Loaded() {
		return nil
	}
	return []slog.Attr{slog.String("level", l.Name)}
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		Logger.Warn("Failed to flush logs", "error", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel", "error", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(2)
	}

	setup()
	Logger.Info("Starting up...", "version", CurrentVersion, "command", args[0])

	ctx := context.Background()
	var err error
	switch strings.ToLower(args[0]) {
	case "inspect":
		if len(args) < 2 {
			err = fmt.Errorf("inspect: no file provided")
			break
		}
		err = inspectSnapshot(os.Stdout, args[1])
	case "replay":
		if len(args) < 2 {
			err = fmt.Errorf("replay: no file provided")
			break
		}
		until := -1
		if len(args) > 2 {
			if until, err = strconv.Atoi(args[2]); err != nil {
				err = fmt.Errorf("replay: bad event index %q: %w", args[2], err)
				break
			}
		}
		err = replaySnapshot(ctx, os.Stdout, args[1], until)
	case "export":
		if len(args) < 2 {
			err = fmt.Errorf("export: no level provided")
			break
		}
		out := ""
		if len(args) > 2 {
			out = args[2]
		}
		err = exportSnapshot(ctx, args[1], out)
	case "import":
		if len(args) < 3 {
			err = fmt.Errorf("import: need a file and a level")
			break
		}
		err = importSnapshot(ctx, args[1], args[2])
	case "list":
		if len(args) < 2 {
			err = fmt.Errorf("list: no level provided")
			break
		}
		err = listSnapshots(ctx, os.Stdout, args[1])
	case "upload":
		if len(args) < 3 {
			err = fmt.Errorf("upload: need a file and a level")
			break
		}
		err = uploadSnapshot(ctx, args[1], args[2])
	case "health":
		err = checkRelay(ctx)
	case "simulate":
		n := 100
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				err = fmt.Errorf("simulate: bad impact count %q: %w", args[1], err)
				break
			}
		}
		name := "yard"
		if len(args) > 2 {
			name = args[2]
		}
		err = simulate(ctx, os.Stdout, n, name)
	case "setupdb":
		err = setupDB()
	case "migratebackups":
		err = migrateBackups(ctx)
	case "version":
		fmt.Println(CurrentVersion, BuildDate)
	default:
		fmt.Println(usage)
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		Logger.Error("Command failed", "command", args[0], "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		shutdown()
		os.Exit(1)
	}
	shutdown()
}
