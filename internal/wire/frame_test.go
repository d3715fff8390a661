package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/gochatd/internal/wire"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []wire.Header{
		{Type: 0x0A, Version: wire.ProtocolVersion, SenderID: 0, PayloadLen: 13},
		{Type: 0x00, Version: wire.ProtocolVersion, SenderID: 7, PayloadLen: 0},
		{Type: 0x14, Version: wire.ProtocolVersion, SenderID: 0xFFFF, PayloadLen: wire.MaxPayloadLen},
	}

	for _, h := range tests {
		var buf [wire.HeaderSize]byte
		if err := wire.EncodeHeader(h, buf[:]); err != nil {
			t.Fatalf("encode: %v", err)
		}

		got, err := wire.DecodeHeader(buf[:])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	t.Parallel()

	_, err := wire.DecodeHeader([]byte{0x0A, 0x03, 0x00})
	if !errors.Is(err, wire.ErrHeaderTooShort) {
		t.Fatalf("expected ErrHeaderTooShort, got %v", err)
	}
}

func TestDecodeHeaderWrongVersion(t *testing.T) {
	t.Parallel()

	var buf [wire.HeaderSize]byte
	_ = wire.EncodeHeader(wire.Header{Type: 0x0A, Version: 2}, buf[:])

	_, err := wire.DecodeHeader(buf[:])
	if !errors.Is(err, wire.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeHeaderPayloadTooLarge(t *testing.T) {
	t.Parallel()

	var buf [wire.HeaderSize]byte
	_ = wire.EncodeHeader(wire.Header{Type: 0x0A, Version: wire.ProtocolVersion, PayloadLen: 2000}, buf[:])

	_, err := wire.DecodeHeader(buf[:])
	if !errors.Is(err, wire.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeFrameComputesPayloadLen(t *testing.T) {
	t.Parallel()

	f := wire.Frame{
		Header:  wire.Header{Type: 0x00, Version: wire.ProtocolVersion},
		Payload: []byte{0x0A, 0x01, 0x0D},
	}

	out, err := wire.Encode(f, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x03, 0x0A, 0x01, 0x0D}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % X, want % X", out, want)
	}
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	t.Parallel()

	f := wire.Frame{
		Header:  wire.Header{Type: 0x14, Version: wire.ProtocolVersion},
		Payload: make([]byte, wire.MaxPayloadLen+1),
	}

	_, err := wire.Encode(f, nil)
	if !errors.Is(err, wire.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
