package chat

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/gochatd/internal/wire"
)

// ErrCredentialTooLong indicates a username or password exceeds
// MaxCredentialLen.
var ErrCredentialTooLong = errors.New("credential field too long")

// header builds a canonical server-originated header: sender_id is always
// zero for frames the server emits, version is always ProtocolVersion.
func header(pt PacketType) wire.Header {
	return wire.Header{Type: uint8(pt), Version: wire.ProtocolVersion}
}

// EncodeSuccess builds a SYS_SUCCESS frame acknowledging the given original
// packet type.
func EncodeSuccess(original PacketType) wire.Frame {
	w := wire.NewWriter()
	w.WriteEnum(uint8(original))
	return wire.Frame{Header: header(SysSuccess), Payload: w.Bytes()}
}

// EncodeError builds a SYS_ERROR frame for the given error code.
func EncodeError(ec ErrorCode) wire.Frame {
	w := wire.NewWriter()
	w.WriteInt8(uint8(ec))
	w.WriteStr(wire.TagStr, []byte(ec.Message()))
	return wire.Frame{Header: header(SysError), Payload: w.Bytes()}
}

// EncodeLoginSuccess builds an ACC_LOGIN_SUCCESS frame carrying the
// authenticated user's id.
func EncodeLoginSuccess(userID uint16) wire.Frame {
	w := wire.NewWriter()
	w.WriteInt16(userID)
	return wire.Frame{Header: header(AccLoginSuccess), Payload: w.Bytes()}
}

// EncodeDiagnostic builds the fixed-shape manager diagnostic frame: a
// two-byte user_count INT and a four-byte msg_count INT.
func EncodeDiagnostic(userCount uint16, msgCount uint32) wire.Frame {
	w := wire.NewWriter()
	w.WriteInt16(userCount)
	w.WriteInt32(msgCount)

	return wire.Frame{Header: header(SvrDiagnostic), Payload: w.Bytes()}
}

// Credentials holds a decoded username/password pair.
type Credentials struct {
	Username []byte
	Password []byte
}

// DecodeCredentials parses an ACC_LOGIN/ACC_CREATE/ACC_EDIT payload:
// STR(username) + STR(password).
func DecodeCredentials(payload []byte) (Credentials, error) {
	r := wire.NewReader(payload)

	username, err := r.ReadStr()
	if err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: username: %w", err)
	}

	password, err := r.ReadStr()
	if err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: password: %w", err)
	}

	if len(username) > MaxCredentialLen || len(password) > MaxCredentialLen {
		return Credentials{}, fmt.Errorf("decode credentials: field exceeds %d bytes: %w", MaxCredentialLen, ErrCredentialTooLong)
	}

	return Credentials{Username: username, Password: password}, nil
}
