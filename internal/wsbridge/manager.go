// internal/wsbridge/manager.go
package wsbridge

import (
	"context"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
)

// Manager spins up ServiceSideSession actors on demand. The event loop
// holds one instance and calls OpenUplink from its RequestReceived(tag 0,
// is_websocket=true) handler (spec.md §4.4); OpenUplink returns immediately
// so the loop can ack the Exchange call without waiting on the backend
// dial, matching spec.md §4.4's "emit ... and immediately ack".
type Manager struct {
	transport overlay.Transport
	sessions  *session.Registry
}

// NewManager builds a Manager sharing the event loop's transport and
// Session Registry.
func NewManager(transport overlay.Transport, sessions *session.Registry) *Manager {
	return &Manager{transport: transport, sessions: sessions}
}

// OpenUplink starts a ServiceSideSession in its own goroutine.
func (m *Manager) OpenUplink(ctx context.Context, originPeer string, info codec.ProxyRequestInfo, baseURL string) {
	go Open(ctx, m.transport, m.sessions, originPeer, info, baseURL)
}
