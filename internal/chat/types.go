// Package chat implements the gochatd application protocol: packet types,
// error codes, the per-connection session state machine, and the request
// dispatcher that ties them to the credential store.
package chat

import "fmt"

// PacketType identifies the first byte of a frame header.
type PacketType uint8

// Packet types recognized on the wire. Names follow the protocol's own
// namespacing (SYS_*, ACC_*, CHT_*, LST_*, GRP_*).
const (
	SysSuccess      PacketType = 0x00
	SysError        PacketType = 0x01
	AccLogin        PacketType = 0x0A
	AccLoginSuccess PacketType = 0x0B
	AccLogout       PacketType = 0x0C
	AccCreate       PacketType = 0x0D
	AccEdit         PacketType = 0x0E
	ChtSend         PacketType = 0x14
	LstGet          PacketType = 0x1E
	LstResponse     PacketType = 0x1F
	GrpJoin         PacketType = 0x28
	GrpExit         PacketType = 0x29
	GrpCreate       PacketType = 0x2A
	SvrDiagnostic   PacketType = 0x0A // manager channel only; distinct namespace from client traffic
)

var packetTypeNames = map[PacketType]string{
	SysSuccess:      "SYS_SUCCESS",
	SysError:        "SYS_ERROR",
	AccLogin:        "ACC_LOGIN",
	AccLoginSuccess: "ACC_LOGIN_SUCCESS",
	AccLogout:       "ACC_LOGOUT",
	AccCreate:       "ACC_CREATE",
	AccEdit:         "ACC_EDIT",
	ChtSend:         "CHT_SEND",
	LstGet:          "LST_GET",
	LstResponse:     "LST_RESPONSE",
	GrpJoin:         "GRP_JOIN",
	GrpExit:         "GRP_EXIT",
	GrpCreate:       "GRP_CREATE",
}

// String returns the human-readable name for the packet type.
func (pt PacketType) String() string {
	if name, ok := packetTypeNames[pt]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(pt))
}

// ErrorCode is the value carried in a SYS_ERROR frame's INT field.
type ErrorCode uint8

// Wire error codes.
const (
	ECGood        ErrorCode = 0x00
	ECInvUserID   ErrorCode = 0x0B
	ECInvAuthInfo ErrorCode = 0x0C
	ECUserExists  ErrorCode = 0x0D
	ECServer      ErrorCode = 0x15
	ECInvReq      ErrorCode = 0x1F
	ECReqTimeout  ErrorCode = 0x20
)

var errorMessages = map[ErrorCode]string{
	ECInvUserID:   "Invalid User ID",
	ECInvAuthInfo: "Invalid Authentication",
	ECUserExists:  "User Already Exist",
	ECServer:      "Internal Server Error",
	ECInvReq:      "Invalid Request",
	ECReqTimeout:  "Request Timeout",
}

// Message returns the human-readable string sent alongside an error code in
// a SYS_ERROR frame's STR field.
func (ec ErrorCode) Message() string {
	if msg, ok := errorMessages[ec]; ok {
		return msg
	}
	return "Unknown Error"
}

// String returns the human-readable name for the error code.
func (ec ErrorCode) String() string {
	return fmt.Sprintf("0x%02X (%s)", uint8(ec), ec.Message())
}

// MaxCredentialLen is the maximum length, in bytes, of a username or
// password on the wire (one-byte TLV length prefix).
const MaxCredentialLen = 255

// MaxFDs is the default size of the fixed descriptor table: one listening
// socket plus MaxFDs-1 client sessions.
const MaxFDs = 5
