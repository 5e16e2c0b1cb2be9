// internal/forwarder/forwarder.go
// HTTP Forwarder (spec.md §4.5, redesigned per spec.md §9 / SPEC_FULL.md
// §4.5 off the event loop goroutine onto a bounded worker pool). Grounded
// on the teacher's worker-pool-free net/http usage throughout
// internal/gateway; stdlib net/http is used directly (see DESIGN.md: no
// pack dependency offers an HTTP client, and a buffered-body proxy needs
// the body as bytes to cross the overlay, ruling out a streaming
// httputil.ReverseProxy approach).
package forwarder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
)

// MaxResponseBytes bounds an upstream response body (spec.md §4.5).
const MaxResponseBytes = 20 << 20 // 20 MiB

const truncatedHeader = "x-gateway-truncated"

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// Forwarder issues one blocking upstream HTTP call per job on a bounded
// worker pool and never lets a panic or error reach the event loop.
type Forwarder struct {
	client *http.Client
	jobs   chan job
}

type job struct {
	ctx     context.Context
	info    codec.ProxyRequestInfo
	baseURL string
	reply   chan codec.HttpProxyResponse
}

// Option configures a Forwarder at construction time.
type Option func(*Forwarder)

// WithHTTPClient overrides the default client (tests inject one pointed at
// an httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// New starts a Forwarder with workers goroutines draining its job queue.
// workers defaults to runtime.GOMAXPROCS(0)*4 when <= 0 (spec.md §4.5 /
// SPEC_FULL.md §4.5).
func New(workers int, opts ...Option) *Forwarder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 4
	}
	f := &Forwarder{
		client: &http.Client{Timeout: 30 * time.Second},
		jobs:   make(chan job, workers*4),
	}
	for _, opt := range opts {
		opt(f)
	}
	for i := 0; i < workers; i++ {
		go f.worker()
	}
	return f
}

func (f *Forwarder) worker() {
	for j := range f.jobs {
		j.reply <- f.do(j.ctx, j.info, j.baseURL)
	}
}

// Forward enqueues one upstream call and blocks for its result. Safe to
// call concurrently; never panics or propagates a transport error to the
// caller (spec.md §4.5: "no exception propagates to the event loop").
func (f *Forwarder) Forward(ctx context.Context, info codec.ProxyRequestInfo, baseURL string) codec.HttpProxyResponse {
	reply := make(chan codec.HttpProxyResponse, 1)
	select {
	case f.jobs <- job{ctx: ctx, info: info, baseURL: baseURL, reply: reply}:
	case <-ctx.Done():
		return errorResponse(info.RequestID, http.StatusGatewayTimeout, "request cancelled before forwarding")
	}
	select {
	case resp := <-reply:
		return resp
	case <-ctx.Done():
		return errorResponse(info.RequestID, http.StatusGatewayTimeout, "upstream call cancelled")
	}
}

func (f *Forwarder) do(ctx context.Context, info codec.ProxyRequestInfo, baseURL string) (resp codec.HttpProxyResponse) {
	defer func() {
		if r := recover(); r != nil {
			logging.Sugar().Errorw("forwarder: recovered panic", "request_id", info.RequestID, "panic", r)
			resp = errorResponse(info.RequestID, http.StatusBadGateway, "internal forwarder error")
			metrics.RequestsTotal.WithLabelValues("panic").Inc()
		}
	}()

	if !allowedMethods[info.HTTPMethod] {
		metrics.RequestsTotal.WithLabelValues("method_not_allowed").Inc()
		return codec.HttpProxyResponse{RequestID: info.RequestID, StatusCode: http.StatusMethodNotAllowed}
	}

	target, err := buildTargetURL(baseURL, info)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("bad_upstream_url").Inc()
		return errorResponse(info.RequestID, http.StatusBadGateway, err.Error())
	}

	var bodyReader io.Reader
	if len(info.RawBody) > 0 {
		bodyReader = bytes.NewReader(info.RawBody)
	}

	req, err := http.NewRequestWithContext(ctx, info.HTTPMethod, target, bodyReader)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
		return errorResponse(info.RequestID, http.StatusBadGateway, err.Error())
	}
	for k, v := range info.Headers {
		req.Header.Set(k, v)
	}

	upstream, err := f.client.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("upstream_error").Inc()
		return errorResponse(info.RequestID, http.StatusBadGateway, err.Error())
	}
	defer upstream.Body.Close()

	headers := make(map[string][]byte, len(upstream.Header))
	for k, vals := range upstream.Header {
		if len(vals) > 0 {
			headers[k] = []byte(vals[0])
		}
	}

	limited := io.LimitReader(upstream.Body, MaxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("upstream_read_error").Inc()
		return errorResponse(info.RequestID, http.StatusBadGateway, err.Error())
	}
	if len(body) > MaxResponseBytes {
		body = body[:MaxResponseBytes]
		headers[truncatedHeader] = []byte("1")
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	return codec.HttpProxyResponse{
		RequestID:  info.RequestID,
		StatusCode: upstream.StatusCode,
		Headers:    headers,
		Body:       body,
	}
}

func buildTargetURL(baseURL string, info codec.ProxyRequestInfo) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u.Path = joinPath(u.Path, info.Path)
	if len(info.QueryArgs) > 0 {
		q := u.Query()
		for k, v := range info.QueryArgs {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func joinPath(base, rest string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	if rest == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + rest
}

func errorResponse(requestID string, status int, reason string) codec.HttpProxyResponse {
	return codec.HttpProxyResponse{
		RequestID:  requestID,
		StatusCode: status,
		Body:       []byte(reason),
	}
}
