package overlay

// EventKind discriminates the Event union.
type EventKind int

const (
	// PeerConnected fires in the gRPC binding each time a new outbound
	// connection is dialed, before any Exchange is sent on it; the
	// loopback binding never emits it.
	PeerConnected EventKind = iota
	// PeerDisconnected fires in the gRPC binding only when a pooled
	// connection reaches the Shutdown state, and in the loopback binding
	// from Disconnect; a failed dial emits nothing. The event loop purges
	// that peer's Session Registry entries (spec.md §4.4). In the gRPC
	// binding Peer is the dial address, not the peer id.
	PeerDisconnected
)

// Event is a peer lifecycle notification delivered on Transport.Events().
type Event struct {
	Kind EventKind
	Peer string
}
