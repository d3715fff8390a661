// Package wire implements the gochatd binary frame format: a fixed 6-byte
// header followed by a tag-length-value encoded payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of every frame header.
const HeaderSize = 6

// ProtocolVersion is the only wire protocol version this implementation
// speaks. Frames declaring a higher version MUST be rejected.
const ProtocolVersion uint8 = 3

// MaxPayloadLen is the largest payload a single frame may carry.
// payload_len values above this are a hard frame-level error.
const MaxPayloadLen = 1024

// Sentinel errors for header validation failures.
var (
	// ErrHeaderTooShort indicates fewer than HeaderSize bytes were available
	// to decode a header.
	ErrHeaderTooShort = errors.New("header too short")

	// ErrUnsupportedVersion indicates the header's version byte is not
	// ProtocolVersion.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrPayloadTooLarge indicates payload_len exceeds MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

	// ErrBufTooSmall indicates the caller-provided buffer cannot hold the
	// header being encoded.
	ErrBufTooSmall = errors.New("buffer too small for frame header")
)

// Header is the fixed 6-byte preamble of every frame.
//
// Wire format:
//
//	Byte 0:     Type
//	Byte 1:     Version
//	Bytes 2-3:  SenderID   (big-endian)
//	Bytes 4-5:  PayloadLen (big-endian)
type Header struct {
	Type       uint8
	Version    uint8
	SenderID   uint16
	PayloadLen uint16
}

// EncodeHeader writes h into buf in network byte order. buf must be at
// least HeaderSize bytes long.
func EncodeHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("encode header: need %d bytes, got %d: %w", HeaderSize, len(buf), ErrBufTooSmall)
	}

	buf[0] = h.Type
	buf[1] = h.Version
	binary.BigEndian.PutUint16(buf[2:4], h.SenderID)
	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLen)

	return nil
}

// DecodeHeader parses the first HeaderSize bytes of buf into a Header.
//
// Validation performed here:
//  1. at least HeaderSize bytes are present
//  2. Version equals ProtocolVersion
//  3. PayloadLen does not exceed MaxPayloadLen
//
// Dispatch-level errors (unknown Type) are not checked here; the codec only
// owns frame shape, not packet semantics.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("decode header: received %d bytes, need %d: %w",
			len(buf), HeaderSize, ErrHeaderTooShort)
	}

	h := Header{
		Type:       buf[0],
		Version:    buf[1],
		SenderID:   binary.BigEndian.Uint16(buf[2:4]),
		PayloadLen: binary.BigEndian.Uint16(buf[4:6]),
	}

	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("decode header: version %d: %w", h.Version, ErrUnsupportedVersion)
	}

	if h.PayloadLen > MaxPayloadLen {
		return Header{}, fmt.Errorf("decode header: payload_len %d: %w", h.PayloadLen, ErrPayloadTooLarge)
	}

	return h, nil
}

// Frame is a fully decoded header plus its raw payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode appends the wire representation of f (header then payload) to buf
// and returns the extended slice. The header's PayloadLen is derived from
// len(f.Payload) and converted to network byte order once, here, at the
// boundary, rather than threaded through as a separately tracked field.
func Encode(f Frame, buf []byte) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("encode frame: payload length %d: %w", len(f.Payload), ErrPayloadTooLarge)
	}

	h := f.Header
	h.PayloadLen = uint16(len(f.Payload))

	var hdr [HeaderSize]byte
	if err := EncodeHeader(h, hdr[:]); err != nil {
		return nil, err
	}

	buf = append(buf, hdr[:]...)
	buf = append(buf, f.Payload...)

	return buf, nil
}
