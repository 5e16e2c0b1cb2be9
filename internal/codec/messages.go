// internal/codec/messages.go
// Payload types carried inside a codec envelope (spec.md §3, §4.2). Bodies
// are JSON-encoded: the original Rust implementation used bincode, but
// spec.md's own wire-format note and the teacher's own practice of sending
// "raw JSON blob[s] to keep proto schema stable" (see
// internal/agent/exporter/grpc_exporter.go) both favour a schema that does
// not require a shared binary layout between gateway versions.
package codec

// ProxyRequestInfo is carried once per logical request (tag InitRequest).
type ProxyRequestInfo struct {
	RequestID  string            `json:"request_id"`
	ServiceID  string            `json:"service_id"`
	Version    string            `json:"version"`
	UserKey    string            `json:"user_key"`
	Path       string            `json:"path"`
	HTTPMethod string            `json:"http_method"`
	Headers    map[string]string `json:"headers"`
	QueryArgs  map[string]string `json:"query_args"`
	RawBody    []byte            `json:"raw_body,omitempty"`
	JSONData   map[string]any    `json:"json_data,omitempty"`
	FormData   map[string]string `json:"form_data,omitempty"`
	IsWebsocket bool             `json:"is_websocket"`
}

// ProxyData is one WebSocket frame payload carried across the overlay
// (tags ClientWsFrame / ServiceWsFrame).
type ProxyData struct {
	RequestID string `json:"request_id"`
	IsBinary  bool   `json:"is_binary"`
	Data      []byte `json:"data"`
}

// HttpProxyResponse is the final reply on the HTTP path, carried back on the
// HttpResult tag. WS frames travel back as ProxyData on the ServiceWsFrame
// tag instead; nothing in this module sets IsWebsocketResp.
type HttpProxyResponse struct {
	RequestID       string            `json:"request_id"`
	IsWebsocketResp bool              `json:"is_websocket_resp"`
	StatusCode      int               `json:"status_code"`
	Headers         map[string][]byte `json:"headers"`
	Body            []byte            `json:"body"`
}

// SessionClose is the tag-4 envelope added by spec.md §9's design note to
// close the WS-leak the original implementation had no way to signal.
type SessionClose struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}
