// internal/overlay/transport.go
// Package overlay is the concrete binding for spec.md §4.1's Overlay
// Transport contract. The spec describes the contract only in terms of
// "gossip publish/subscribe" and "request/response exchange" and explicitly
// treats the transport as an assumed external dependency; SPEC_FULL.md §4.1
// resolves that into two real, already-imported pack dependencies instead of
// a fabricated libp2p stub: a unary gRPC "Exchange" RPC for the
// request/response half (grpcservice.go, grpcpeer.go) and Redis Pub/Sub for
// the gossip half (pubsub.go). loopback.go supplies an in-process
// implementation of the same interface for tests that don't need a network.
package overlay

import "context"

// ExchangeHandler processes one inbound Exchange request from peer and
// returns the opaque reply bytes. The event loop installs this at Start
// time; req and the return value are codec-framed envelopes the transport
// never inspects.
type ExchangeHandler func(ctx context.Context, peer string, req []byte) ([]byte, error)

// Transport is the contract every overlay binding satisfies. All methods
// must be safe for concurrent use: Exchange and Publish are called from the
// forward listener's handlers, the WS bridge actors and the event loop's
// forwarding goroutines, and Events delivers from a background goroutine the
// transport owns.
type Transport interface {
	// Start begins serving inbound Exchange requests via handler and
	// joining the gossip plane. It returns once the transport is ready to
	// accept Exchange/Publish calls; it does not block for the lifetime of
	// the transport.
	Start(ctx context.Context, handler ExchangeHandler) error

	// Exchange sends req to peer and blocks for its reply, honouring ctx's
	// deadline (spec.md §4.1's request/response half).
	Exchange(ctx context.Context, peer string, req []byte) ([]byte, error)

	// Publish broadcasts payload to every peer subscribed to topic
	// (spec.md §4.1's gossip half, used for catalogue replication).
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a channel of payloads published to topic by any
	// peer, including this one. The channel is closed when ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Events delivers peer lifecycle notifications (spec.md §4.4's
	// ConnectionClosed case, used to purge the Session Registry).
	Events() <-chan Event

	// LocalPeerID identifies this process on the overlay.
	LocalPeerID() string

	// Advertise returns the address other peers should dial to reach this
	// process's Exchange server (the production binding's --grpc-addr; the
	// loopback binding's own id, since identity and address coincide
	// there). The event loop broadcasts this over the peer-directory gossip
	// channel so remote nodes can resolve LocalPeerID() to a dialable
	// address before calling Exchange.
	Advertise() string

	// RegisterPeerAddr records that peerID is reachable at addr. Exchange
	// consults this mapping before dialing, since peer identity (the
	// sha256/random id stamped on owner_peer and sent as x-apron-peer) is
	// never itself a dialable address. The loopback binding ignores this:
	// its peer ids already are the dial key.
	RegisterPeerAddr(peerID, addr string)

	// Close releases all transport resources.
	Close() error
}
