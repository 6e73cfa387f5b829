package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console output when no file is configured; tests point it elsewhere
var osStdout io.Writer = os.Stdout

// Options selects the outputs of a SlogManager. Text goes to File, or to
// stdout when File is nil. Provider and Graylog add outputs alongside it.
type Options struct {
	File     io.Writer
	Level    string
	Provider *sdklog.LoggerProvider
	Graylog  MessageWriter
	Attrs    AttrFunc
}

// SlogManager owns the process slog.Logger. Setup may be called again once
// the config is loaded; the new outputs replace the old ones.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts the slog level names in any case and falls back to info.
func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey || a.Value.Kind() != slog.KindTime {
		return a
	}
	return slog.String(a.Key, a.Value.Time().UTC().Format(time.RFC3339))
}

func (m *SlogManager) Setup(opts Options) {
	lvl := parseLevel(opts.Level)
	m.provider = opts.Provider

	out := opts.File
	if out == nil {
		out = osStdout
	}
	h := slog.Handler(newTee(
		slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl, ReplaceAttr: utcTime}),
		m.otelHandler(),
		gelfOrNil(opts.Graylog, lvl),
	))
	if opts.Attrs != nil {
		h = dynamic{next: h, attrs: opts.Attrs}
	}

	m.logger = slog.New(h)
	m.logger.Debug("Logger ready", "level", lvl.String())
}

func (m *SlogManager) otelHandler() slog.Handler {
	if m.provider == nil {
		return nil
	}
	return otelslog.NewHandler("breakage", otelslog.WithLoggerProvider(m.provider))
}

func gelfOrNil(w MessageWriter, lvl slog.Level) slog.Handler {
	if w == nil {
		return nil
	}
	return NewGelfHandler(w, lvl)
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records to the exporter.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
