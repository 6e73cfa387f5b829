package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestDispatcherLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("dropped", "handler", "session")
	dl.Info("registered", "kind", "collision", "priority", 10)
	dl.Error("handler failed", "err", "boom")

	got := lines(t, &buf)
	require.Len(t, got, 2)

	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "registered", got[0]["message"])
	assert.Equal(t, "collision", got[0]["kind"])
	assert.Equal(t, float64(10), got[0]["priority"])

	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "boom", got[1]["err"])
}

func TestDispatcherLogger_NoFields(t *testing.T) {
	var buf bytes.Buffer
	NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)).Debug("tick")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"level": "debug", "message": "tick"}, got[0])
}

func TestDispatcherLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.Disabled))
	dl.Error("nobody hears this", "k", "v")
	assert.Zero(t, buf.Len())
}
