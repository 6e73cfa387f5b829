package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/OCAP2/breakage/pkg/streaming"
	"github.com/google/uuid"
)

type (
	Envelope   = streaming.Envelope
	AckMessage = streaming.AckMessage
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend publishes snapshots and break notifications to a relay. It is
// write-only: loads and listings return storage.ErrUnsupported.
type Backend struct {
	link   *link
	cfg    Config
	logger *slog.Logger
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		link:   newLink(logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.link.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.link.shutdown()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.link.push(data)
	return nil
}

// StartLevel announces the level and waits for the relay's ack. The message
// is replayed after every reconnect.
func (b *Backend) StartLevel(ctx context.Context, level string) error {
	host, _ := os.Hostname()
	data, err := marshalEnvelope(streaming.TypeStartLevel, streaming.StartLevelPayload{Level: level, Host: host})
	if err != nil {
		return err
	}

	b.link.setSticky(data)
	return b.link.request(ctx, data, streaming.TypeStartLevel, ackTimeout)
}

// EndLevel sends end_level and waits for the ack.
func (b *Backend) EndLevel(ctx context.Context) error {
	data, err := marshalEnvelope(streaming.TypeEndLevel, nil)
	if err != nil {
		return err
	}
	b.link.setSticky(nil)
	return b.link.request(ctx, data, streaming.TypeEndLevel, ackTimeout)
}

// SaveSnapshot sends the snapshot and waits for the relay to acknowledge it.
func (b *Backend) SaveSnapshot(ctx context.Context, level string, data []byte) (string, error) {
	id := uuid.NewString()
	msg, err := marshalEnvelope(streaming.TypeSnapshot, streaming.SnapshotPayload{ID: id, Level: level, Data: data})
	if err != nil {
		return "", err
	}
	if err := b.link.request(ctx, msg, streaming.TypeSnapshot, ackTimeout); err != nil {
		return "", err
	}
	return id, nil
}

// LoadSnapshot is not supported.
func (b *Backend) LoadSnapshot(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("websocket load: %w", storage.ErrUnsupported)
}

// ListSnapshots is not supported.
func (b *Backend) ListSnapshots(context.Context, string) ([]storage.SnapshotInfo, error) {
	return nil, fmt.Errorf("websocket list: %w", storage.ErrUnsupported)
}

// ObjectBroke forwards a recorded break to the relay.
func (b *Backend) ObjectBroke(e core.BreakEvent, index int) {
	if err := b.sendEnvelope(streaming.TypeBreak, streaming.BreakPayload{Index: index, Event: e}); err != nil {
		b.logger.Warn("Failed to publish break", "index", index, "error", err)
	}
}

// EntitySpawned forwards a debris spawn to the relay.
func (b *Backend) EntitySpawned(h, source core.PhysHandle) {
	if err := b.sendEnvelope(streaming.TypeSpawn, streaming.SpawnPayload{Handle: h, Source: source}); err != nil {
		b.logger.Warn("Failed to publish spawn", "handle", h, "error", err)
	}
}

// PublishStatus sends a fire-and-forget status document.
func (b *Backend) PublishStatus(status any) error {
	return b.sendEnvelope(streaming.TypeStatus, status)
}
