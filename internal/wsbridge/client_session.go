// internal/wsbridge/client_session.go
package wsbridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
)

// ClientSideSession is the CSG actor owning the end user's WebSocket
// connection (spec.md §4.6). The Forward Listener constructs one per
// accepted upgrade, reusing the response channel it already registered
// under request_id.
type ClientSideSession struct {
	conn      *websocket.Conn
	transport overlay.Transport
	sessions  *session.Registry
	requestID string
	ownerPeer string
	respCh    chan session.Delivery
	state     stateBox
}

// NewClientSideSession wires a freshly-upgraded user socket to ownerPeer's
// eventual ServiceSideSession. respCh must already be registered in
// sessions under requestID (internal/listener does this right after the
// upgrade succeeds, before constructing the session).
func NewClientSideSession(conn *websocket.Conn, transport overlay.Transport, sessions *session.Registry, requestID, ownerPeer string, respCh chan session.Delivery) *ClientSideSession {
	s := &ClientSideSession{
		conn:      conn,
		transport: transport,
		sessions:  sessions,
		requestID: requestID,
		ownerPeer: ownerPeer,
		respCh:    respCh,
	}
	s.state.set(Opening)
	return s
}

// Run sends the initial tag-0 InitRequest, then bridges frames until either
// side closes. It blocks until the session is fully drained; callers
// typically invoke it in its own goroutine.
func (s *ClientSideSession) Run(ctx context.Context, info codec.ProxyRequestInfo) {
	defer s.terminate()

	framed, err := codec.Encode(codec.TagInitRequest, info)
	if err != nil {
		logging.Sugar().Errorw("wsbridge: encode init request", "request_id", s.requestID, "err", err)
		return
	}
	if _, err := s.transport.Exchange(ctx, s.ownerPeer, framed); err != nil {
		logging.Sugar().Warnw("wsbridge: init request exchange failed", "request_id", s.requestID, "peer", s.ownerPeer, "err", err)
		return
	}
	s.state.set(Active)
	metrics.ActiveWSSessions.WithLabelValues("client").Inc()
	defer metrics.ActiveWSSessions.WithLabelValues("client").Dec()

	done := make(chan struct{})
	go s.pumpUserFrames(ctx, done)
	s.pumpDeliveries(ctx, done)
}

// pumpUserFrames reads frames the end user sends and relays each as a
// tag-1 ClientWsFrame to the SSG.
func (s *ClientSideSession) pumpUserFrames(ctx context.Context, done chan struct{}) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.beginDraining()
			close(done)
			return
		}
		frame := codec.ProxyData{RequestID: s.requestID, IsBinary: msgType == websocket.BinaryMessage, Data: data}
		framed, err := codec.Encode(codec.TagClientWsFrame, frame)
		if err != nil {
			continue
		}
		if _, err := s.transport.Exchange(ctx, s.ownerPeer, framed); err != nil {
			logging.Sugar().Warnw("wsbridge: client frame exchange failed", "request_id", s.requestID, "err", err)
			s.beginDraining()
			close(done)
			return
		}
	}
}

// pumpDeliveries reads ServiceWsFrame deliveries off the response channel
// (forwarded by the event loop on tag 2) and writes them to the user
// socket.
func (s *ClientSideSession) pumpDeliveries(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case d := <-s.respCh:
			if d.Closed || d.Err != nil {
				s.beginDraining()
				return
			}
			if d.Frame == nil {
				continue
			}
			msgType := websocket.TextMessage
			if d.Frame.IsBinary {
				msgType = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(msgType, d.Frame.Data); err != nil {
				s.beginDraining()
				return
			}
		}
	}
}

func (s *ClientSideSession) beginDraining() {
	s.state.set(Draining)
}

func (s *ClientSideSession) terminate() {
	s.state.set(Closed)
	s.sessions.RemoveCSG(s.requestID)
	if framed, err := codec.Encode(codec.TagSessionClose, codec.SessionClose{RequestID: s.requestID, Reason: "client socket closed"}); err == nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = s.transport.Exchange(closeCtx, s.ownerPeer, framed)
		cancel()
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}
