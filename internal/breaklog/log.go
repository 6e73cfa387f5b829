// Package breaklog holds the append-only history of break events together
// with the broken object table and the id-remap tables needed to reproduce
// world state on load or join.
package breaklog

import "github.com/OCAP2/breakage/pkg/core"

// Log is the ordered list of break events. Indices are assigned on append
// and never change.
type Log struct {
	events []core.BreakEvent
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append stores e and returns its index.
func (l *Log) Append(e core.BreakEvent) int {
	l.events = append(l.events, e)
	return len(l.events) - 1
}

// Get returns the event at index.
func (l *Log) Get(index int) (core.BreakEvent, bool) {
	if index < 0 || index >= len(l.events) {
		return core.BreakEvent{}, false
	}
	return l.events[index], true
}

// Len returns the number of events.
func (l *Log) Len() int {
	return len(l.events)
}

// MarkProcessed moves an event to the processed state.
func (l *Log) MarkProcessed(index int) bool {
	if index < 0 || index >= len(l.events) {
		return false
	}
	l.events[index].State = core.StateProcessed
	return true
}

// SetObjectIndex assigns the broken object an event produced. An index that
// is already assigned is never overwritten.
func (l *Log) SetObjectIndex(index, object int) bool {
	if index < 0 || index >= len(l.events) {
		return false
	}
	e := &l.events[index]
	if e.ObjectIndex != core.NoObject && e.ObjectIndex != object {
		return false
	}
	e.ObjectIndex = object
	return true
}

// Events returns a copy of the log.
func (l *Log) Events() []core.BreakEvent {
	return append([]core.BreakEvent(nil), l.events...)
}

// Replace installs a loaded history.
func (l *Log) Replace(events []core.BreakEvent) {
	l.events = append([]core.BreakEvent(nil), events...)
}

// Clear drops every event. Only a full history clear or level unload does this.
func (l *Log) Clear() {
	l.events = nil
}
