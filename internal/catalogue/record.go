// internal/catalogue/record.go
// Data types for the Catalogue Store (spec.md §3, §4.3).
package catalogue

import (
	"strings"
	"time"
)

// Schema is the transport scheme a Provider answers on.
type Schema string

const (
	SchemaHTTP  Schema = "http"
	SchemaHTTPS Schema = "https"
	SchemaWS    Schema = "ws"
	SchemaWSS   Schema = "wss"
)

// Provider describes one backend endpoint behind a ServiceRecord.
type Provider struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	BaseURL     string    `json:"base_url"`
	Schema      Schema    `json:"schema"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	ExtraDetail string    `json:"extra_detail,omitempty"`
}

// isWebsocketSchema reports whether p answers WebSocket upgrades rather
// than plain HTTP.
func (p Provider) isWebsocketSchema() bool {
	return p.Schema == SchemaWS || p.Schema == SchemaWSS
}

// TargetURL builds the dialable origin for p. BaseURL is stored without a
// scheme (spec.md's own example scenarios: "httpbin.org/anything" paired
// with schema "http", "localhost:9000/echo" paired with schema "ws") — the
// same convention original_source/src/service.rs's get_http_provider /
// get_ws_provider helpers use, building the origin as schema + "://" +
// base_url rather than expecting BaseURL to be self-describing. A BaseURL
// that already carries a scheme is passed through unchanged, so operators
// who do register a full URL aren't double-prefixed.
func (p Provider) TargetURL() string {
	if p.BaseURL == "" {
		return ""
	}
	if strings.Contains(p.BaseURL, "://") {
		return p.BaseURL
	}
	schema := p.Schema
	if schema == "" {
		schema = SchemaHTTP
	}
	return string(schema) + "://" + p.BaseURL
}

// ServiceRecord describes one registered service, replicated across peers
// over the gossip bus.
type ServiceRecord struct {
	ID          string `json:"id"`
	OwnerPeer   string `json:"owner_peer"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	UsageText   string `json:"usage_text,omitempty"`
	PricePlan   string `json:"price_plan,omitempty"`
	UserID      string `json:"user_id,omitempty"`

	// Providers is an ordered sequence; order is preserved across merges
	// (new providers append, existing ones update in place).
	Providers []Provider `json:"providers,omitempty"`

	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SelectProvider picks the Provider this request should be forwarded to:
// the first one whose schema matches the request kind (ws/wss for a
// WebSocket upgrade, anything else for plain HTTP). Falls back to the
// first registered provider if none match the requested kind, so a
// service with only an HTTP provider still gets a best-effort WS dial
// (forwarder/wsbridge flip the scheme) rather than being dropped outright.
func (r ServiceRecord) SelectProvider(websocket bool) (Provider, bool) {
	for _, p := range r.Providers {
		if p.isWebsocketSchema() == websocket {
			return p, true
		}
	}
	if len(r.Providers) > 0 {
		return r.Providers[0], true
	}
	return Provider{}, false
}

// Clone returns a deep copy so callers (store internals, gossip encoders)
// never alias caller-owned slices.
func (r ServiceRecord) Clone() ServiceRecord {
	out := r
	if r.Providers != nil {
		out.Providers = make([]Provider, len(r.Providers))
		copy(out.Providers, r.Providers)
	}
	return out
}

// providerIndex returns the index of the provider with the given id, or -1.
func providerIndex(providers []Provider, id string) int {
	for i := range providers {
		if providers[i].ID == id {
			return i
		}
	}
	return -1
}

// mergeProviders merges incoming providers into base, additively: existing
// ids are updated field-wise (non-zero incoming fields win), new ids are
// appended. Providers are never removed by a merge (spec.md §4.3).
func mergeProviders(base, incoming []Provider) []Provider {
	out := make([]Provider, len(base))
	copy(out, base)
	for _, p := range incoming {
		if idx := providerIndex(out, p.ID); idx >= 0 {
			out[idx] = mergeProvider(out[idx], p)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func mergeProvider(base, incoming Provider) Provider {
	out := base
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Description != "" {
		out.Description = incoming.Description
	}
	if incoming.BaseURL != "" {
		out.BaseURL = incoming.BaseURL
	}
	if incoming.Schema != "" {
		out.Schema = incoming.Schema
	}
	if !incoming.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.ExtraDetail != "" {
		out.ExtraDetail = incoming.ExtraDetail
	}
	return out
}

// merge applies incoming on top of base: every non-zero scalar field of
// incoming overwrites base (last-writer-wins, commutative since fields are
// independent), and Providers merge additively. owner_peer is preserved
// from base once set (spec.md §3 invariant: "never mutated by a
// non-owner"), unless base had none yet (first publication).
func merge(base, incoming ServiceRecord) ServiceRecord {
	out := base
	if out.OwnerPeer == "" {
		out.OwnerPeer = incoming.OwnerPeer
	}
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Description != "" {
		out.Description = incoming.Description
	}
	if incoming.Logo != "" {
		out.Logo = incoming.Logo
	}
	if incoming.UsageText != "" {
		out.UsageText = incoming.UsageText
	}
	if incoming.PricePlan != "" {
		out.PricePlan = incoming.PricePlan
	}
	if incoming.UserID != "" {
		out.UserID = incoming.UserID
	}
	out.Providers = mergeProviders(out.Providers, incoming.Providers)
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	}
	out.Deleted = false
	return out
}
