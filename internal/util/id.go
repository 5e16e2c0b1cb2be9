// internal/util/id.go
// Request-id helper. spec.md §3 fixes the wire format of a request_id: a
// random 10-character alphanumeric string, unique within the originating
// CSG. This is a hard invariant of the wire protocol, not a free choice, so
// it is generated directly rather than borrowing a general-purpose id
// scheme (ULID's 26-char Crockford base32 output does not fit). Process-
// wide correlation ids that do not travel on the wire live in
// internal/tracing instead.
package util

import (
	"crypto/rand"
)

const requestIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const requestIDLength = 10

// NewRequestID returns a random 10-character alphanumeric request id, as
// specified for ProxyRequestInfo.request_id. It panics only if the system
// CSPRNG fails, which in practice never happens on supported platforms.
func NewRequestID() string {
	var buf [requestIDLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("util: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, requestIDLength)
	for i, b := range buf {
		out[i] = requestIDAlphabet[int(b)%len(requestIDAlphabet)]
	}
	return string(out)
}
