package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func useStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := osStdout
	osStdout = &buf
	t.Cleanup(func() { osStdout = prev })
	return &buf
}

func TestSetup_Outputs(t *testing.T) {
	t.Run("file only", func(t *testing.T) {
		stdout := useStdout(t)
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(Options{File: &file, Level: "debug"})
		m.Logger().Info("to file")

		assert.Contains(t, file.String(), "to file")
		assert.Empty(t, stdout.String())
	})
	t.Run("stdout fallback", func(t *testing.T) {
		stdout := useStdout(t)
		m := NewSlogManager()
		m.Setup(Options{Level: "info"})
		m.Logger().Info("to console")

		assert.Contains(t, stdout.String(), "to console")
	})
}

func TestSetup_LevelFiltering(t *testing.T) {
	for _, tc := range []struct {
		level     string
		wantDebug bool
	}{
		{"debug", true},
		{"info", false},
		{"", false},
	} {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Options{File: &buf, Level: tc.level})
			m.Logger().Debug("fine grained")
			m.Logger().Warn("coarse")

			assert.Equal(t, tc.wantDebug, bytes.Contains(buf.Bytes(), []byte("fine grained")))
			assert.Contains(t, buf.String(), "coarse")
		})
	}
}

func TestSetup_SecondCallReplacesOutputs(t *testing.T) {
	var early, late bytes.Buffer
	m := NewSlogManager()

	m.Setup(Options{File: &early})
	m.Logger().Info("bootstrap")
	m.Setup(Options{File: &late})
	m.Logger().Info("configured")

	assert.NotContains(t, early.String(), "configured")
	assert.Contains(t, late.String(), "configured")
}

func TestSetup_TimeIsUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf})
	m.Logger().Info("stamp")
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z `, buf.String())
}

func TestSetup_Attrs(t *testing.T) {
	var buf bytes.Buffer
	level := ""
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Attrs: func() []slog.Attr {
		if level == "" {
			return nil
		}
		return []slog.Attr{slog.String("level_name", level)}
	}})

	m.Logger().Info("idle")
	level = "docks"
	m.Logger().With("part", 3).Info("broke")

	out := buf.String()
	assert.NotContains(t, out, "idle level_name")
	assert.Contains(t, out, "part=3 level_name=docks")
}

func TestSetup_OTelAndGraylog(t *testing.T) {
	var buf bytes.Buffer
	gl := &fakeGelf{}
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Provider: sdklog.NewLoggerProvider(), Graylog: gl})

	m.Logger().Warn("budget exceeded", "totalKB", 9000)

	assert.Contains(t, buf.String(), "budget exceeded")
	msgs := gl.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, int64(9000), msgs[len(msgs)-1].Extra["_totalKB"])
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_BeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Same(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"WARN":   slog.LevelWarn,
		"Error":  slog.LevelError,
		"info+2": slog.LevelInfo + 2,
		"":       slog.LevelInfo,
		"loud":   slog.LevelInfo,
	} {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

type failing struct{}

func (failing) Enabled(context.Context, slog.Level) bool  { return true }
func (failing) Handle(context.Context, slog.Record) error { return errors.New("sink down") }
func (f failing) WithAttrs([]slog.Attr) slog.Handler      { return f }
func (f failing) WithGroup(string) slog.Handler           { return f }

func TestTee(t *testing.T) {
	var info, debug bytes.Buffer
	ih := slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})
	dh := slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := newTee(nil, ih, nil, dh)
	require.Len(t, h, 2)
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newTee(ih).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newTee().Enabled(context.Background(), slog.LevelError))

	slog.New(h).WithGroup("frag").With("id", 4).Debug("split")
	assert.Empty(t, info.String())
	assert.Contains(t, debug.String(), "frag.id=4")

	assert.Equal(t, h, h.WithGroup(""))
}

func TestTee_FailingChild(t *testing.T) {
	var buf bytes.Buffer
	h := newTee(failing{}, slog.NewTextHandler(&buf, nil))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := h.Handle(context.Background(), r)

	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "still delivered")
}
