package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
)

// newEchoServer runs a trivial echo WS backend used as the "service" the
// ServiceSideSession dials.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestServiceSideSessionBridgesFramesOverExchange(t *testing.T) {
	echo := newEchoServer(t)
	defer echo.Close()
	baseURL := "http" + strings.TrimPrefix(echo.URL, "http")

	mesh := overlay.NewLoopbackMesh()
	ssg := mesh.Join("ssg")
	csg := mesh.Join("csg")

	sessions := session.New()

	// csg's Exchange handler plays the role of the event loop receiving
	// tag-2 ServiceWsFrame deliveries and pushing them into the CSG
	// response channel.
	respCh := sessions.RegisterCSG("req1", "ssg")
	csgDone := make(chan struct{})
	if err := csg.Start(context.Background(), func(ctx context.Context, peer string, req []byte) ([]byte, error) {
		tag, raw, err := codec.Decode(req)
		if err != nil {
			return nil, err
		}
		if tag == codec.TagServiceWsFrame {
			var frame codec.ProxyData
			if err := codec.Unmarshal(raw, &frame); err != nil {
				return nil, err
			}
			select {
			case respCh <- session.Delivery{Frame: &frame}:
			case <-ctx.Done():
			}
			close(csgDone)
		}
		return []byte("ok"), nil
	}); err != nil {
		t.Fatalf("csg.Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Open(ctx, ssg, sessions, "csg", codec.ProxyRequestInfo{RequestID: "req1", Path: "/"}, baseURL)

	// Wait for the uplink to register, then push a ClientWsFrame the way
	// the event loop would on tag 1.
	var uplink *session.Uplink
	deadline := time.After(2 * time.Second)
	for uplink == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for SSG uplink registration")
		default:
		}
		if u, ok := sessions.LookupSSG("csg", "req1"); ok {
			uplink = u
		}
	}
	uplink.Offer(codec.ProxyData{RequestID: "req1", Data: []byte("hello")})

	select {
	case <-csgDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame to reach the origin CSG")
	}
}
