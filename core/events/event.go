package events

import "zusd/core/types"

// Emitter broadcasts committed state-change events to downstream subscribers
// (RPC streams, indexers, metrics).
type Emitter interface {
	Emit(types.Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(types.Event) {}
