// internal/codec/envelope.go
// Wire framing for the request plane (spec.md §4.2): every overlay
// request-channel payload is a two-field envelope, a 1-byte schema tag
// followed by a length-prefixed payload. The tag is a single raw byte; only
// the payload carries an unsigned varint length prefix (max 1 MiB). This
// exact shape is a spec invariant
// independent of any third-party library, so it is implemented directly on
// encoding/binary's varint helpers (see DESIGN.md for why this part is
// deliberately stdlib-only).
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// Tag identifies the payload schema of an envelope.
type Tag byte

const (
	TagInitRequest  Tag = 0 // CSG -> SSG, ProxyRequestInfo
	TagClientWsFrame Tag = 1 // CSG -> SSG, ProxyData
	TagServiceWsFrame Tag = 2 // SSG -> CSG, ProxyData
	TagHttpResult   Tag = 3 // SSG -> CSG, HttpProxyResponse
	TagSessionClose Tag = 4 // either direction, SessionClose
)

// MaxPayloadBytes bounds a single envelope payload (spec.md §4.2).
const MaxPayloadBytes = 1 << 20 // 1 MiB

// ErrPayloadTooLarge is returned when a decoded length exceeds
// MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("codec: payload exceeds 1 MiB limit")

// ErrUnknownTag names the case of a tag byte that matches no known schema.
// Nothing in this package returns it: Decode passes any tag byte through
// unchanged, and the event loop logs, drops and still acks envelopes whose
// tag it does not recognise, never treating them as a fatal framing error.
var ErrUnknownTag = errors.New("codec: unknown schema tag")

// Encode frames tag and the JSON encoding of payload into a single byte
// slice ready to hand to the overlay transport as an opaque exchange body.
func Encode(tag Tag, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(tag))

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(body)))
	buf.Write(lenBuf[:n])
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode splits a framed envelope back into its schema tag and raw JSON
// payload bytes. It does not unmarshal the payload: callers dispatch on tag
// first (internal/eventloop) and unmarshal into the concrete type only
// once they know which one applies.
func Decode(framed []byte) (Tag, []byte, error) {
	if len(framed) < 1 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	tag := Tag(framed[0])
	r := bytes.NewReader(framed[1:])
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	if n > MaxPayloadBytes {
		return 0, nil, ErrPayloadTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}

// Unmarshal is a small convenience wrapper so call sites read naturally:
// tag, raw, _ := codec.Decode(b); var info ProxyRequestInfo;
// codec.Unmarshal(raw, &info).
func Unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
