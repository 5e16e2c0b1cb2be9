// internal/overlay/loopback.go
// In-process Transport for unit tests (internal/eventloop, internal/session
// integration) that exercise overlay semantics without a real gRPC/Redis
// pair. Grounded on internal/gateway/retention/inmem.go's pattern of a
// lightweight, mutex-guarded stand-in for the networked store.
package overlay

import (
	"context"
	"fmt"
	"sync"
)

// LoopbackMesh wires together any number of LoopbackTransport instances
// that share gossip topics and can Exchange directly with each other by
// peer id, with no network involved.
type LoopbackMesh struct {
	mu       sync.Mutex
	peers    map[string]*LoopbackTransport
	topics   map[string][]chan []byte
}

// NewLoopbackMesh returns an empty mesh; call Join for each participant.
func NewLoopbackMesh() *LoopbackMesh {
	return &LoopbackMesh{
		peers:  make(map[string]*LoopbackTransport),
		topics: make(map[string][]chan []byte),
	}
}

// Join registers a new peer id on the mesh and returns its Transport.
func (m *LoopbackMesh) Join(peerID string) *LoopbackTransport {
	t := &LoopbackTransport{
		id:     peerID,
		mesh:   m,
		events: make(chan Event, 16),
	}
	m.mu.Lock()
	m.peers[peerID] = t
	m.mu.Unlock()
	return t
}

// LoopbackTransport implements Transport entirely in memory.
type LoopbackTransport struct {
	id      string
	mesh    *LoopbackMesh
	handler ExchangeHandler
	events  chan Event
}

func (t *LoopbackTransport) Start(ctx context.Context, handler ExchangeHandler) error {
	t.handler = handler
	return nil
}

func (t *LoopbackTransport) Exchange(ctx context.Context, peer string, req []byte) ([]byte, error) {
	t.mesh.mu.Lock()
	dst, ok := t.mesh.peers[peer]
	t.mesh.mu.Unlock()
	if !ok || dst.handler == nil {
		return nil, fmt.Errorf("overlay/loopback: peer %q not reachable", peer)
	}
	return dst.handler(ctx, t.id, req)
}

func (t *LoopbackTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mesh.mu.Lock()
	listeners := append([]chan []byte(nil), t.mesh.topics[topic]...)
	t.mesh.mu.Unlock()
	for _, l := range listeners {
		select {
		case l <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *LoopbackTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	t.mesh.mu.Lock()
	t.mesh.topics[topic] = append(t.mesh.topics[topic], ch)
	t.mesh.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mesh.mu.Lock()
		defer t.mesh.mu.Unlock()
		listeners := t.mesh.topics[topic]
		for i, l := range listeners {
			if l == ch {
				t.mesh.topics[topic] = append(listeners[:i], listeners[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

func (t *LoopbackTransport) Events() <-chan Event {
	return t.events
}

func (t *LoopbackTransport) LocalPeerID() string {
	return t.id
}

// Advertise returns the peer's own id: in the loopback mesh, identity and
// dial key are the same string by construction, so there is nothing
// separate to advertise.
func (t *LoopbackTransport) Advertise() string {
	return t.id
}

// RegisterPeerAddr is a no-op: LoopbackMesh.Exchange already dials by peer
// id directly, so there is no separate address to record.
func (t *LoopbackTransport) RegisterPeerAddr(peerID, addr string) {}

func (t *LoopbackTransport) Close() error {
	t.mesh.mu.Lock()
	delete(t.mesh.peers, t.id)
	t.mesh.mu.Unlock()
	return nil
}

// Disconnect simulates a peer vanishing: subsequent Exchange calls to it
// fail and every remaining peer observes a PeerDisconnected event, mirroring
// the production transport's watchPeer behaviour.
func (m *LoopbackMesh) Disconnect(peerID string) {
	m.mu.Lock()
	_, ok := m.peers[peerID]
	delete(m.peers, peerID)
	remaining := make([]*LoopbackTransport, 0, len(m.peers))
	for _, t := range m.peers {
		remaining = append(remaining, t)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, t := range remaining {
		select {
		case t.events <- Event{Kind: PeerDisconnected, Peer: peerID}:
		default:
		}
	}
}
