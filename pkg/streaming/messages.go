// Package streaming defines the JSON envelopes exchanged with a breakage
// relay so joining peers can catch up on broken world state.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/breakage/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartLevel = "start_level"
	TypeEndLevel   = "end_level"
	TypeSnapshot   = "snapshot"
	TypeBreak      = "break"
	TypeSpawn      = "spawn"
	TypeStatus     = "status"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartLevelPayload names the level whose breaks follow.
type StartLevelPayload struct {
	Level string `json:"level"`
	Host  string `json:"host,omitempty"`
}

// SnapshotPayload carries an encoded break snapshot.
type SnapshotPayload struct {
	ID    string `json:"id"`
	Level string `json:"level"`
	Data  []byte `json:"data"`
}

// BreakPayload announces one recorded break.
type BreakPayload struct {
	Index int             `json:"index"`
	Event core.BreakEvent `json:"event"`
}

// SpawnPayload announces a debris entity spawned from a break.
type SpawnPayload struct {
	Handle core.PhysHandle `json:"handle"`
	Source core.PhysHandle `json:"source"`
}
