// internal/overlay/directory.go
// Peer-address registry closing the gap between peer identity and peer
// network address: catalogue.ServiceRecord.OwnerPeer and the x-apron-peer
// Exchange header are both opaque identities (internal/util/peerid.go), not
// host:port pairs, so something has to remember which address each identity
// is reachable at. Populated from two sources (internal/eventloop/loop.go's
// peer-announcement gossip, and cmd/apron-gateway/start.go's --peer
// bootstrap flag) and consulted by grpcTransport.Exchange before dialing.
package overlay

import "sync"

// PeerDirectory is a concurrency-safe peer-id -> dial-address map.
type PeerDirectory struct {
	mu   sync.RWMutex
	addr map[string]string
}

// NewPeerDirectory returns an empty directory.
func NewPeerDirectory() *PeerDirectory {
	return &PeerDirectory{addr: make(map[string]string)}
}

// Set records that peerID is reachable at addr, overwriting any previous
// entry (addresses can change across restarts even when the identity, if
// seeded via --secret-key-seed, does not).
func (d *PeerDirectory) Set(peerID, addr string) {
	if peerID == "" || addr == "" {
		return
	}
	d.mu.Lock()
	d.addr[peerID] = addr
	d.mu.Unlock()
}

// Resolve returns the last known address for peerID.
func (d *PeerDirectory) Resolve(peerID string) (string, bool) {
	d.mu.RLock()
	addr, ok := d.addr[peerID]
	d.mu.RUnlock()
	return addr, ok
}
