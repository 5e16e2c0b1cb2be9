// internal/util/peerid.go
// Peer identity derivation for --secret-key-seed (spec.md §6): "optional
// deterministic identity seed". A seed byte always yields the same peer id
// across restarts (useful for fixed bootstrap peer addresses in tests and
// compose files); without one a fresh random identity is minted.
package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// NewPeerID returns a stable peer id derived from seed when hasSeed is
// true, or a fresh random one otherwise.
func NewPeerID(seed uint8, hasSeed bool) string {
	if hasSeed {
		sum := sha256.Sum256([]byte{seed})
		return "peer-" + hex.EncodeToString(sum[:8])
	}
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("util: crypto/rand unavailable: " + err.Error())
	}
	return "peer-" + hex.EncodeToString(buf[:])
}
