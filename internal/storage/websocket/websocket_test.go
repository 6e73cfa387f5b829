package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/OCAP2/breakage/pkg/streaming"
)

var (
	_ storage.Backend = (*Backend)(nil)
	_ core.Notifier   = (*Backend)(nil)
)

// fakeRelay records every envelope it receives. It acks the request types
// unless silent is set, and drops the socket after the first ack when
// dropFirst is set.
type fakeRelay struct {
	silent    bool
	dropFirst bool

	mu      sync.Mutex
	got     []Envelope
	secrets []string
	conns   int
}

func (f *fakeRelay) serve(t *testing.T) *Backend {
	t.Helper()
	up := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		f.mu.Lock()
		f.conns++
		first := f.conns == 1
		f.secrets = append(f.secrets, r.URL.Query().Get("secret"))
		f.mu.Unlock()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(raw, &env) != nil {
				continue
			}
			f.mu.Lock()
			f.got = append(f.got, env)
			f.mu.Unlock()

			switch env.Type {
			case streaming.TypeStartLevel, streaming.TypeEndLevel, streaming.TypeSnapshot:
				if f.silent {
					continue
				}
				ack, _ := json.Marshal(AckMessage{Type: "ack", For: env.Type})
				if c.WriteMessage(ws.TextMessage, ack) != nil {
					return
				}
				if first && f.dropFirst {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	b := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Secret: "hunter2"}, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func (f *fakeRelay) received(kind string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, e := range f.got {
		if kind == "" || e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestLevelLifecycle(t *testing.T) {
	relay := &fakeRelay{}
	b := relay.serve(t)

	require.NoError(t, b.StartLevel(context.Background(), "docks"))
	require.NoError(t, b.EndLevel(context.Background()))

	all := relay.received("")
	require.Len(t, all, 2)
	assert.Equal(t, streaming.TypeStartLevel, all[0].Type)
	assert.Equal(t, streaming.TypeEndLevel, all[1].Type)

	var start streaming.StartLevelPayload
	require.NoError(t, json.Unmarshal(all[0].Payload, &start))
	assert.Equal(t, "docks", start.Level)

	relay.mu.Lock()
	assert.Equal(t, []string{"hunter2"}, relay.secrets)
	relay.mu.Unlock()
}

func TestSaveSnapshot(t *testing.T) {
	relay := &fakeRelay{}
	b := relay.serve(t)

	id, err := b.SaveSnapshot(context.Background(), "docks", []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	snaps := relay.received(streaming.TypeSnapshot)
	require.Len(t, snaps, 1)
	var p streaming.SnapshotPayload
	require.NoError(t, json.Unmarshal(snaps[0].Payload, &p))
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "docks", p.Level)
	assert.Equal(t, []byte{0xde, 0xad}, p.Data)
}

func TestSaveSnapshot_NoAck(t *testing.T) {
	b := (&fakeRelay{silent: true}).serve(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.SaveSnapshot(ctx, "docks", []byte{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSaveSnapshot_AfterClose(t *testing.T) {
	b := (&fakeRelay{silent: true}).serve(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.SaveSnapshot(context.Background(), "docks", []byte{1})
	assert.ErrorContains(t, err, "link closed")
}

func TestRedialReplaysStartLevel(t *testing.T) {
	prev := redialBase
	redialBase = 10 * time.Millisecond
	t.Cleanup(func() { redialBase = prev })

	relay := &fakeRelay{dropFirst: true}
	b := relay.serve(t)
	require.NoError(t, b.StartLevel(context.Background(), "docks"))

	require.Eventually(t, func() bool {
		return len(relay.received(streaming.TypeStartLevel)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err := b.SaveSnapshot(context.Background(), "docks", []byte{7})
	require.NoError(t, err)

	relay.mu.Lock()
	assert.Equal(t, 2, relay.conns)
	relay.mu.Unlock()
}

func TestNotifications(t *testing.T) {
	relay := &fakeRelay{}
	b := relay.serve(t)

	b.ObjectBroke(core.BreakEvent{Kind: core.BreakDeform, Entity: 7, ObjectIndex: 2}, 3)
	b.EntitySpawned(11, 4)
	require.NoError(t, b.PublishStatus(map[string]int{"events": 1}))

	require.Eventually(t, func() bool { return len(relay.received("")) == 3 }, time.Second, 10*time.Millisecond)

	breaks := relay.received(streaming.TypeBreak)
	require.Len(t, breaks, 1)
	var bp streaming.BreakPayload
	require.NoError(t, json.Unmarshal(breaks[0].Payload, &bp))
	assert.Equal(t, 3, bp.Index)
	assert.Equal(t, core.EntityID(7), bp.Event.Entity)
	assert.Equal(t, core.BreakDeform, bp.Event.Kind)

	spawns := relay.received(streaming.TypeSpawn)
	require.Len(t, spawns, 1)
	var sp streaming.SpawnPayload
	require.NoError(t, json.Unmarshal(spawns[0].Payload, &sp))
	assert.Equal(t, core.PhysHandle(11), sp.Handle)
	assert.Equal(t, core.PhysHandle(4), sp.Source)
}

func TestReadOnlyOperationsUnsupported(t *testing.T) {
	b := New(Config{}, nil)

	_, err := b.LoadSnapshot(context.Background(), "docks")
	assert.True(t, errors.Is(err, storage.ErrUnsupported))
	_, err = b.ListSnapshots(context.Background(), "docks")
	assert.True(t, errors.Is(err, storage.ErrUnsupported))
}

func TestInit_BadURL(t *testing.T) {
	assert.Error(t, New(Config{URL: "://nope"}, nil).Init())
	assert.Error(t, New(Config{URL: "ws://127.0.0.1:1/relay"}, nil).Init())
}
