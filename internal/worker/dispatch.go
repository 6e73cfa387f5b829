package worker

import (
	"context"

	"github.com/OCAP2/breakage/internal/dispatcher"
	"github.com/OCAP2/breakage/pkg/core"
)

// EventKinds lists every physics callback the session consumes.
var EventKinds = []core.EventKind{
	core.EventCollision,
	core.EventPostStep,
	core.EventStateChange,
	core.EventCreatePart,
	core.EventUpdateMesh,
	core.EventEntityDeleted,
}

// RegisterHandlers registers all event handlers with the dispatcher.
// Every kind runs inline: part creation must see the object record made by
// the collision before it, and immediate callbacks need their veto in the
// same call.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	for _, kind := range EventKinds {
		d.Register(kind, m.handleEvent, dispatcher.Logged())
	}
}

// handleEvent runs one callback under the session lock. Immediate callbacks
// can be raised by the physics layer from inside a session call that already
// holds the lock, so they never wait for it.
func (m *Manager) handleEvent(ctx context.Context, ev core.PhysicsEvent) (bool, error) {
	if ev.Mode != core.Immediate {
		m.mu.Lock()
	} else if !m.mu.TryLock() {
		m.inst.offered.Add(ctx, 1)
		return m.session.Offer(ev).Veto, nil
	}
	defer m.mu.Unlock()
	return m.session.HandleEvent(ctx, ev).Veto, nil
}
