package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies the type of a TLV field's value.
type Tag uint8

// Recognized tags (see chat protocol payload grammar).
const (
	TagBool     Tag = 0x01
	TagInt      Tag = 0x02
	TagNull     Tag = 0x05
	TagEnum     Tag = 0x0A
	TagStr      Tag = 0x0C
	TagPrintStr Tag = 0x13
	TagUTCTime  Tag = 0x17
	TagTime     Tag = 0x18
	TagSeqOf    Tag = 0x30
)

// UTCTimeLen is the fixed length of a UTC_TIME/TIME value: "YYYYMMDDHHMMSSZ".
const UTCTimeLen = 15

// Sentinel errors for TLV decoding failures. All of these map to a single
// EC_INV_REQ (invalid-request) wire error at the dispatcher layer.
var (
	ErrTLVTruncated    = errors.New("tlv truncated")
	ErrTLVZeroLength   = errors.New("tlv zero length not permitted for this tag")
	ErrTLVBadIntWidth  = errors.New("tlv int width must be 1 or 2 bytes")
	ErrTLVBadTimeWidth = errors.New("tlv time value must be 15 bytes")
	ErrTLVNonZeroNull  = errors.New("tlv null value must have zero length")
)

// Reader walks a payload's TLV fields without allocating beyond the slices
// it returns, which all alias the original buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of payload.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// Done reports whether every byte of the payload has been consumed.
func (r *Reader) Done() bool {
	return r.pos >= len(r.buf)
}

// field is one decoded TLV triple.
type field struct {
	Tag   Tag
	Value []byte
}

// next decodes one TLV triple at the current position and advances past it.
func (r *Reader) next() (field, error) {
	if r.pos+2 > len(r.buf) {
		return field{}, fmt.Errorf("read tlv header at offset %d: %w", r.pos, ErrTLVTruncated)
	}

	tag := Tag(r.buf[r.pos])
	length := int(r.buf[r.pos+1])
	start := r.pos + 2

	if start+length > len(r.buf) {
		return field{}, fmt.Errorf("read tlv value at offset %d (tag 0x%02X, len %d): %w",
			r.pos, tag, length, ErrTLVTruncated)
	}

	value := r.buf[start : start+length]
	r.pos = start + length

	return field{Tag: tag, Value: value}, nil
}

// ReadStr decodes a STR/PRINTSTR field and returns its bytes. Zero-length
// strings are rejected per the payload grammar.
func (r *Reader) ReadStr() ([]byte, error) {
	f, err := r.next()
	if err != nil {
		return nil, err
	}

	if len(f.Value) == 0 {
		return nil, fmt.Errorf("read str (tag 0x%02X): %w", f.Tag, ErrTLVZeroLength)
	}

	return f.Value, nil
}

// ReadInt decodes an INT field as a signed integer stored in 1 or 2
// big-endian bytes.
func (r *Reader) ReadInt() (int32, error) {
	f, err := r.next()
	if err != nil {
		return 0, err
	}

	switch len(f.Value) {
	case 0:
		return 0, fmt.Errorf("read int (tag 0x%02X): %w", f.Tag, ErrTLVZeroLength)
	case 1:
		return int32(int8(f.Value[0])), nil
	case 2:
		return int32(int16(binary.BigEndian.Uint16(f.Value))), nil
	default:
		return 0, fmt.Errorf("read int (tag 0x%02X, len %d): %w", f.Tag, len(f.Value), ErrTLVBadIntWidth)
	}
}

// ReadEnum decodes a one-byte ENUM field.
func (r *Reader) ReadEnum() (uint8, error) {
	f, err := r.next()
	if err != nil {
		return 0, err
	}

	if len(f.Value) != 1 {
		return 0, fmt.Errorf("read enum (tag 0x%02X, len %d): %w", f.Tag, len(f.Value), ErrTLVBadIntWidth)
	}

	return f.Value[0], nil
}

// ReadUTCTime decodes a UTC_TIME/TIME field, returning its raw 15-byte ASCII
// timestamp unparsed (the dispatcher does not interpret the timestamp, it
// only relays it verbatim on broadcast).
func (r *Reader) ReadUTCTime() ([]byte, error) {
	f, err := r.next()
	if err != nil {
		return nil, err
	}

	if len(f.Value) != UTCTimeLen {
		return nil, fmt.Errorf("read utc_time (tag 0x%02X, len %d): %w", f.Tag, len(f.Value), ErrTLVBadTimeWidth)
	}

	return f.Value, nil
}

// ReadNull decodes a NULL field, which must carry zero bytes of value.
func (r *Reader) ReadNull() error {
	f, err := r.next()
	if err != nil {
		return err
	}

	if len(f.Value) != 0 {
		return fmt.Errorf("read null (tag 0x%02X, len %d): %w", f.Tag, len(f.Value), ErrTLVNonZeroNull)
	}

	return nil
}

// Writer appends TLV-encoded fields to an owned buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer appending to an empty buffer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// writeTLV appends one tag-length-value triple. The caller guarantees
// len(value) fits in a single byte (<= 255), which holds for every field
// this protocol emits (usernames/passwords are capped at 255 bytes and
// UTC_TIME/ENUM/INT values are always small).
func (w *Writer) writeTLV(tag Tag, value []byte) {
	w.buf = append(w.buf, byte(tag), byte(len(value)))
	w.buf = append(w.buf, value...)
}

// WriteStr appends a STR field.
func (w *Writer) WriteStr(tag Tag, value []byte) {
	w.writeTLV(tag, value)
}

// WriteEnum appends a one-byte ENUM field.
func (w *Writer) WriteEnum(value uint8) {
	w.writeTLV(TagEnum, []byte{value})
}

// WriteInt16 appends a two-byte big-endian INT field.
func (w *Writer) WriteInt16(value uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], value)
	w.writeTLV(TagInt, b[:])
}

// WriteInt8 appends a one-byte INT field.
func (w *Writer) WriteInt8(value uint8) {
	w.writeTLV(TagInt, []byte{value})
}

// WriteInt32 appends a four-byte big-endian INT field.
func (w *Writer) WriteInt32(value uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], value)
	w.writeTLV(TagInt, b[:])
}

// WriteUTCTime appends a 15-byte UTC_TIME field verbatim.
func (w *Writer) WriteUTCTime(value []byte) error {
	if len(value) != UTCTimeLen {
		return fmt.Errorf("write utc_time (len %d): %w", len(value), ErrTLVBadTimeWidth)
	}
	w.writeTLV(TagUTCTime, value)
	return nil
}
