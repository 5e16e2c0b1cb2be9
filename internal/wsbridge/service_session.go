// internal/wsbridge/service_session.go
package wsbridge

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
)

// ServiceSideSession is the SSG actor owning the backend WebSocket
// connection (spec.md §4.6). The event loop creates one per OpenWsUplink.
type ServiceSideSession struct {
	conn       *websocket.Conn
	transport  overlay.Transport
	sessions   *session.Registry
	uplink     *session.Uplink
	requestID  string
	originPeer string
	state      stateBox
}

// dialTimeout bounds how long opening the backend socket may take.
const dialTimeout = 10 * time.Second

// Open dials baseURL+info.Path as a WebSocket, registers the session under
// (originPeer, request_id), and runs its two pump loops. It blocks until
// the session terminates; callers invoke it in its own goroutine (see
// Manager.OpenUplink).
func Open(ctx context.Context, transport overlay.Transport, sessions *session.Registry, originPeer string, info codec.ProxyRequestInfo, baseURL string) {
	s := &ServiceSideSession{
		transport:  transport,
		sessions:   sessions,
		requestID:  info.RequestID,
		originPeer: originPeer,
	}
	s.state.set(Opening)

	target, err := backendWSURL(baseURL, info.Path, info.QueryArgs)
	if err != nil {
		logging.Sugar().Errorw("wsbridge: bad backend url", "request_id", s.requestID, "err", err)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	if err != nil {
		logging.Sugar().Warnw("wsbridge: backend dial failed", "request_id", s.requestID, "url", target, "err", err)
		return
	}
	s.conn = conn
	s.uplink = sessions.RegisterSSG(originPeer, info.RequestID)
	s.state.set(Active)
	metrics.ActiveWSSessions.WithLabelValues("service").Inc()
	defer metrics.ActiveWSSessions.WithLabelValues("service").Dec()

	done := make(chan struct{})
	go s.pumpBackendFrames(ctx, done)
	s.pumpMailbox(ctx, done)
}

// pumpBackendFrames reads frames the backend sends and relays each as a
// tag-2 ServiceWsFrame Exchange call to the origin CSG.
func (s *ServiceSideSession) pumpBackendFrames(ctx context.Context, done chan struct{}) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.beginDraining()
			close(done)
			return
		}
		frame := codec.ProxyData{RequestID: s.requestID, IsBinary: msgType == websocket.BinaryMessage, Data: data}
		framed, err := codec.Encode(codec.TagServiceWsFrame, frame)
		if err != nil {
			continue
		}
		if _, err := s.transport.Exchange(ctx, s.originPeer, framed); err != nil {
			logging.Sugar().Warnw("wsbridge: service frame exchange failed", "request_id", s.requestID, "err", err)
			s.beginDraining()
			close(done)
			return
		}
	}
}

// pumpMailbox writes ClientWsFrame deliveries (tag 1, forwarded by the
// event loop) to the backend socket.
func (s *ServiceSideSession) pumpMailbox(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-done:
			s.terminate()
			return
		case <-ctx.Done():
			s.terminate()
			return
		case <-s.uplink.Close:
			s.terminate()
			return
		case frame := <-s.uplink.Mailbox:
			msgType := websocket.TextMessage
			if frame.IsBinary {
				msgType = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(msgType, frame.Data); err != nil {
				s.terminate()
				return
			}
		}
	}
}

func (s *ServiceSideSession) beginDraining() {
	s.state.set(Draining)
}

func (s *ServiceSideSession) terminate() {
	s.state.set(Closed)
	s.sessions.RemoveSSG(s.originPeer, s.requestID)
	if framed, err := codec.Encode(codec.TagSessionClose, codec.SessionClose{RequestID: s.requestID, Reason: "service socket closed"}); err == nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = s.transport.Exchange(closeCtx, s.originPeer, framed)
		cancel()
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}

func backendWSURL(baseURL, path string, query map[string]string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
