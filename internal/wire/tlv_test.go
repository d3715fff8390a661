package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/gochatd/internal/wire"
)

func TestTLVStrRoundTrip(t *testing.T) {
	t.Parallel()

	w := wire.NewWriter()
	w.WriteStr(wire.TagStr, []byte("alice"))
	w.WriteStr(wire.TagStr, []byte("pw"))

	r := wire.NewReader(w.Bytes())

	user, err := r.ReadStr()
	if err != nil {
		t.Fatalf("read username: %v", err)
	}
	if !bytes.Equal(user, []byte("alice")) {
		t.Fatalf("got %q, want alice", user)
	}

	pass, err := r.ReadStr()
	if err != nil {
		t.Fatalf("read password: %v", err)
	}
	if !bytes.Equal(pass, []byte("pw")) {
		t.Fatalf("got %q, want pw", pass)
	}

	if !r.Done() {
		t.Fatalf("expected reader to be exhausted")
	}
}

func TestTLVIntRoundTrip(t *testing.T) {
	t.Parallel()

	w := wire.NewWriter()
	w.WriteInt16(0x0001)

	r := wire.NewReader(w.Bytes())
	got, err := r.ReadInt()
	if err != nil {
		t.Fatalf("read int: %v", err)
	}
	if got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestTLVEnumRoundTrip(t *testing.T) {
	t.Parallel()

	w := wire.NewWriter()
	w.WriteEnum(0x0D)

	r := wire.NewReader(w.Bytes())
	got, err := r.ReadEnum()
	if err != nil {
		t.Fatalf("read enum: %v", err)
	}
	if got != 0x0D {
		t.Fatalf("got 0x%02X, want 0x0D", got)
	}
}

func TestTLVUTCTimeRoundTrip(t *testing.T) {
	t.Parallel()

	ts := []byte("20250304160000Z")

	w := wire.NewWriter()
	if err := w.WriteUTCTime(ts); err != nil {
		t.Fatalf("write utc_time: %v", err)
	}

	r := wire.NewReader(w.Bytes())
	got, err := r.ReadUTCTime()
	if err != nil {
		t.Fatalf("read utc_time: %v", err)
	}
	if !bytes.Equal(got, ts) {
		t.Fatalf("got %q, want %q", got, ts)
	}
}

func TestTLVZeroLengthStrRejected(t *testing.T) {
	t.Parallel()

	r := wire.NewReader([]byte{byte(wire.TagStr), 0x00})
	_, err := r.ReadStr()
	if !errors.Is(err, wire.ErrTLVZeroLength) {
		t.Fatalf("expected ErrTLVZeroLength, got %v", err)
	}
}

func TestTLVTruncatedValueRejected(t *testing.T) {
	t.Parallel()

	r := wire.NewReader([]byte{byte(wire.TagStr), 0x05, 'a', 'b'})
	_, err := r.ReadStr()
	if !errors.Is(err, wire.ErrTLVTruncated) {
		t.Fatalf("expected ErrTLVTruncated, got %v", err)
	}
}

func TestTLVBadIntWidthRejected(t *testing.T) {
	t.Parallel()

	r := wire.NewReader([]byte{byte(wire.TagInt), 0x03, 1, 2, 3})
	_, err := r.ReadInt()
	if !errors.Is(err, wire.ErrTLVBadIntWidth) {
		t.Fatalf("expected ErrTLVBadIntWidth, got %v", err)
	}
}

func TestTLVBadTimeWidthRejected(t *testing.T) {
	t.Parallel()

	r := wire.NewReader([]byte{byte(wire.TagUTCTime), 0x03, 'a', 'b', 'c'})
	_, err := r.ReadUTCTime()
	if !errors.Is(err, wire.ErrTLVBadTimeWidth) {
		t.Fatalf("expected ErrTLVBadTimeWidth, got %v", err)
	}
}
