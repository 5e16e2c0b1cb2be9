// internal/listener/listener.go
// Forward Listener (spec.md §4.7): the CSG's user-facing HTTP surface.
// Grounded on internal/gateway/listener.go's net/http.ServeMux + promhttp
// mounting style; the wildcard routes themselves use the Go 1.22
// stdlib mux's {name}/{name...} patterns (see DESIGN.md for why no router
// dependency is used — none exists anywhere in the example pack).
package listener

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
	"github.com/apron-network/apron-gateway-go/internal/tracing"
	"github.com/apron-network/apron-gateway-go/internal/util"
	"github.com/apron-network/apron-gateway-go/internal/wsbridge"
)

// requestTimeout bounds how long a plain HTTP proxy waits for its response
// channel before replying 504 (spec.md §4.7 step 5).
const requestTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener is the Forward Listener's HTTP server.
type Listener struct {
	transport overlay.Transport
	catalogue *catalogue.Store
	sessions  *session.Registry
	wsMgr     *wsbridge.Manager

	srv *http.Server
}

// New builds a Listener bound to addr. enableMetrics mounts /metrics via
// promhttp, matching the teacher's listener. Usage accounting is not hooked
// here: spec.md §9 fixes on_request_received/on_response_sent at SSG-side
// InitRequest arrival and HttpResult emission (internal/eventloop.Loop),
// not at the CSG's Forward Listener, so a node that only terminates the
// user's connection without owning the backend accrues no usage for it.
func New(addr string, transport overlay.Transport, cat *catalogue.Store, sessions *session.Registry, enableMetrics bool) *Listener {
	l := &Listener{
		transport: transport,
		catalogue: cat,
		sessions:  sessions,
		wsMgr:     wsbridge.NewManager(transport, sessions),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v{ver}/{user_key}/{path...}", l.handleHTTP)
	mux.HandleFunc("GET /ws/v{ver}/{user_key}/{path...}", l.handleWS)
	if enableMetrics {
		metrics.Register()
		mux.Handle("/metrics", promhttp.Handler())
	}

	l.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
	}
	return l
}

// Start begins serving in its own goroutine.
func (l *Listener) Start() {
	go func() {
		logging.Sugar().Infow("listener: forward listener starting", "addr", l.srv.Addr)
		if err := l.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Sugar().Errorw("listener: serve failed", "err", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

// resolveServiceID implements the source's still-TODO user_key handling
// (original_source/forward_service_utils.rs: "user key should be split
// into service id and user id" — never done upstream): user_key doubles as
// both the Catalogue Store lookup key and the usage-accounting account_id
// (spec.md §3's "UsageReport — one per account_id (= user_key)"),
// preserved here rather than invented.
func resolveServiceID(userKey string) string { return userKey }

func (l *Listener) handleHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := util.NewRequestID()
	info := codec.ProxyRequestInfo{
		RequestID:  requestID,
		ServiceID:  resolveServiceID(r.PathValue("user_key")),
		Version:    r.PathValue("ver"),
		UserKey:    r.PathValue("user_key"),
		Path:       r.PathValue("path"),
		HTTPMethod: r.Method,
		Headers:    flattenHeader(r.Header),
		QueryArgs:  flattenQuery(r.URL.Query()),
	}
	body, _ := readBoundedBody(r)
	info.RawBody = body

	ctx, span := tracing.StartRequestSpan(r.Context(), "forward_http", requestID, info.ServiceID)
	defer span.End()

	rec, ok := l.catalogue.Get(info.ServiceID)
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}

	respCh := l.sessions.RegisterCSG(requestID, rec.OwnerPeer)
	defer l.sessions.RemoveCSG(requestID)

	framed, err := codec.Encode(codec.TagInitRequest, info)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	if _, err := l.transport.Exchange(ctx, rec.OwnerPeer, framed); err != nil {
		http.Error(w, "upstream unreachable", http.StatusServiceUnavailable)
		return
	}

	select {
	case d := <-respCh:
		if d.Err != nil || d.Response == nil {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		for k, v := range d.Response.Headers {
			w.Header().Set(k, string(v))
		}
		w.WriteHeader(d.Response.StatusCode)
		w.Write(d.Response.Body)
	case <-time.After(requestTimeout):
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func (l *Listener) handleWS(w http.ResponseWriter, r *http.Request) {
	requestID := util.NewRequestID()
	userKey := r.PathValue("user_key")
	serviceID := resolveServiceID(userKey)

	rec, ok := l.catalogue.Get(serviceID)
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Sugar().Warnw("listener: ws upgrade failed", "err", err)
		return
	}

	respCh := l.sessions.RegisterCSG(requestID, rec.OwnerPeer)
	info := codec.ProxyRequestInfo{
		RequestID:   requestID,
		ServiceID:   serviceID,
		Version:     r.PathValue("ver"),
		UserKey:     userKey,
		Path:        r.PathValue("path"),
		HTTPMethod:  http.MethodGet,
		Headers:     flattenHeader(r.Header),
		QueryArgs:   flattenQuery(r.URL.Query()),
		IsWebsocket: true,
	}

	cs := wsbridge.NewClientSideSession(conn, l.transport, l.sessions, requestID, rec.OwnerPeer, respCh)
	cs.Run(r.Context(), info)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenQuery(q map[string][]string) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

const maxRequestBodyBytes = 20 << 20 // mirrors the Forwarder's response cap

func readBoundedBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
}
