package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGelf struct {
	mu   sync.Mutex
	msgs []gelf.Message
}

func (f *fakeGelf) WriteMessage(m *gelf.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeGelf) messages() []gelf.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gelf.Message(nil), f.msgs...)
}

func TestGelfHandler_Levels(t *testing.T) {
	gl := &fakeGelf{}
	logger := slog.New(NewGelfHandler(gl, slog.LevelInfo))

	logger.Debug("dropped")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	msgs := gl.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []int32{6, 4, 3}, []int32{msgs[0].Level, msgs[1].Level, msgs[2].Level})
	assert.Equal(t, "1.1", msgs[0].Version)
	assert.Equal(t, "breakage", msgs[0].Facility)
	assert.NotZero(t, msgs[0].TimeUnix)
}

func TestGelfHandler_AttrsAndGroups(t *testing.T) {
	gl := &fakeGelf{}
	logger := slog.New(NewGelfHandler(gl, slog.LevelDebug)).
		With("component", "meshcache").
		WithGroup("entry")

	logger.Info("evicted", "owner", 12, slog.Group("key", "part", 0))

	msgs := gl.messages()
	require.Len(t, msgs, 1)
	extra := msgs[0].Extra
	assert.Equal(t, "meshcache", extra["_component"])
	assert.Equal(t, int64(12), extra["_entry.owner"])
	assert.Equal(t, int64(0), extra["_entry.key.part"])
}

func TestGelfHandler_Enabled(t *testing.T) {
	h := NewGelfHandler(&fakeGelf{}, slog.LevelWarn)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.Same(t, h, h.WithGroup(""))
}
