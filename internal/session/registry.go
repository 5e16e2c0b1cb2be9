// internal/session/registry.go
// Package session implements the Session Registry (spec.md §3, §4.4, §9):
// two mappings serialised by a single mutex each, with short critical
// sections (spec.md §5) so no suspension ever happens while a lock is held.
//
// CSG side keys on request_id alone (unique within the minting CSG). SSG
// side keys on the composite (origin_peer, request_id) per spec.md §9's
// open-question resolution: request_id is only unique within one CSG, so
// two different CSGs can mint the same id and the SSG must not conflate
// their sessions.
package session

import (
	"sync"

	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
)

// Delivery is what a CSG-side response channel carries. Exactly one of
// Response, Frame is set on a successful delivery; Err/Closed signal a
// terminal failure (overlay timeout, peer disconnect, user-socket close).
type Delivery struct {
	Response *codec.HttpProxyResponse
	Frame    *codec.ProxyData
	Err      error
	Closed   bool
}

// Uplink is the SSG-side handle for one live WebSocket session: a bounded
// mailbox the event loop uses to forward ClientWsFrame envelopes to the
// ServiceSideSession actor that owns the backend socket, plus the peer the
// session belongs to (needed to purge on ConnectionClosed).
type Uplink struct {
	OriginPeer string
	RequestID  string
	Mailbox    chan codec.ProxyData // bounded, 256 slots (spec.md §5)
	Close      chan struct{}        // closed exactly once, by the owning actor
}

// Offer enqueues frame onto the mailbox, dropping the oldest queued frame
// to make room when full (spec.md §4.6: overflow drops the oldest frame
// rather than blocking the event loop or the overlay RPC that delivered
// it). Reports whether a frame was dropped.
func (u *Uplink) Offer(frame codec.ProxyData) (dropped bool) {
	select {
	case u.Mailbox <- frame:
		return false
	default:
	}
	select {
	case <-u.Mailbox:
		dropped = true
	default:
	}
	select {
	case u.Mailbox <- frame:
	default:
		// Another goroutine raced us and refilled it; give up silently
		// rather than spin, the next Offer will retry.
	}
	if dropped {
		metrics.DroppedFramesTotal.Inc()
	}
	return dropped
}

type csgKey = string

type ssgKey struct {
	originPeer string
	requestID  string
}

// csgEntry pairs the response channel with the owner_peer the request was
// sent to, so a ConnectionClosed event can find every pending request
// bound to that peer (spec.md §4.4).
type csgEntry struct {
	ch   chan Delivery
	peer string
}

// Registry is the Session Registry. The zero value is not usable;
// construct via New().
type Registry struct {
	csgMu sync.Mutex
	csg   map[csgKey]csgEntry

	ssgMu sync.Mutex
	ssg   map[ssgKey]*Uplink
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		csg: make(map[csgKey]csgEntry),
		ssg: make(map[ssgKey]*Uplink),
	}
}

// RegisterCSG installs a synchronous (capacity-0) response channel for
// request_id, per spec.md §4.7 step 3, and returns it. peer is the
// owner_peer the request was routed to, recorded so PurgeCSGPeer can find
// it on disconnect. Overwrites any previous registration for the same id
// (callers mint fresh random ids).
func (r *Registry) RegisterCSG(requestID, peer string) chan Delivery {
	ch := make(chan Delivery)
	r.csgMu.Lock()
	r.csg[requestID] = csgEntry{ch: ch, peer: peer}
	r.csgMu.Unlock()
	return ch
}

// LookupCSG returns the response channel for request_id, if still
// registered.
func (r *Registry) LookupCSG(requestID string) (chan Delivery, bool) {
	r.csgMu.Lock()
	defer r.csgMu.Unlock()
	e, ok := r.csg[requestID]
	return e.ch, ok
}

// RemoveCSG drops the request_id entry; safe to call more than once.
func (r *Registry) RemoveCSG(requestID string) {
	r.csgMu.Lock()
	delete(r.csg, requestID)
	r.csgMu.Unlock()
}

// CSGLen reports the number of live CSG-side entries (for tests/metrics).
func (r *Registry) CSGLen() int {
	r.csgMu.Lock()
	defer r.csgMu.Unlock()
	return len(r.csg)
}

// RegisterSSG installs a new Uplink for (originPeer, requestID), created
// when the SSG opens the backend WebSocket connection (spec.md §4.6).
func (r *Registry) RegisterSSG(originPeer, requestID string) *Uplink {
	u := &Uplink{
		OriginPeer: originPeer,
		RequestID:  requestID,
		Mailbox:    make(chan codec.ProxyData, 256),
		Close:      make(chan struct{}),
	}
	r.ssgMu.Lock()
	r.ssg[ssgKey{originPeer, requestID}] = u
	r.ssgMu.Unlock()
	return u
}

// LookupSSG returns the Uplink for (originPeer, requestID), if still
// registered.
func (r *Registry) LookupSSG(originPeer, requestID string) (*Uplink, bool) {
	r.ssgMu.Lock()
	defer r.ssgMu.Unlock()
	u, ok := r.ssg[ssgKey{originPeer, requestID}]
	return u, ok
}

// RemoveSSG drops the (originPeer, requestID) entry; safe to call more
// than once.
func (r *Registry) RemoveSSG(originPeer, requestID string) {
	r.ssgMu.Lock()
	delete(r.ssg, ssgKey{originPeer, requestID})
	r.ssgMu.Unlock()
}

// PurgePeer removes every SSG uplink bound to peer and returns them, so the
// caller (event loop, on ConnectionClosed) can signal each one to drain.
// Matches spec.md §4.4's ConnectionClosed handling.
func (r *Registry) PurgePeer(peer string) []*Uplink {
	r.ssgMu.Lock()
	defer r.ssgMu.Unlock()
	var purged []*Uplink
	for k, u := range r.ssg {
		if k.originPeer == peer {
			purged = append(purged, u)
			delete(r.ssg, k)
		}
	}
	return purged
}

// SSGLen reports the number of live SSG-side entries (for tests/metrics).
func (r *Registry) SSGLen() int {
	r.ssgMu.Lock()
	defer r.ssgMu.Unlock()
	return len(r.ssg)
}

// PurgeCSGPeer removes every CSG response channel whose request was routed
// to peer and returns them, so the caller can deliver a terminal error to
// each (spec.md §4.4's ConnectionClosed handling on the CSG side).
func (r *Registry) PurgeCSGPeer(peer string) []chan Delivery {
	r.csgMu.Lock()
	defer r.csgMu.Unlock()
	var purged []chan Delivery
	for id, e := range r.csg {
		if e.peer == peer {
			purged = append(purged, e.ch)
			delete(r.csg, id)
		}
	}
	return purged
}
