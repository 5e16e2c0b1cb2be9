// internal/wsbridge/state.go
// WebSocket Bridge (spec.md §4.6): two symmetric session actors sharing one
// state machine. Grounded on original_source/forward_service/src/actors.rs
// for the actor roles, using the standard gorilla/websocket upgrade/dial
// idiom.
package wsbridge

import "sync/atomic"

// State is a WS session actor's lifecycle stage (spec.md §4.6).
type State int32

const (
	Opening State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateBox is an atomically-updated State shared between an actor's reader
// and writer goroutines.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) set(s State)  { b.v.Store(int32(s)) }
func (b *stateBox) get() State   { return State(b.v.Load()) }
func (b *stateBox) isClosed() bool { return b.get() == Closed }
