package chat

import (
	"bytes"
	"log/slog"

	"github.com/dantte-lp/gochatd/internal/wire"
)

// Store is the credential-store surface the dispatcher depends on. The
// concrete implementation (internal/store.Credentials) is backed by an
// embedded KV engine; tests substitute a fake.
type Store interface {
	GetPassword(username []byte) (password []byte, found bool, err error)
	GetUserID(username []byte) (userID uint16, found bool, err error)
	PutUser(username, password []byte) (userID uint16, err error)
	SetPassword(username, newPassword []byte) error
}

// Result is the outcome of dispatching one frame against one session.
type Result struct {
	// Reply, if non-nil, is written back to the originating session.
	Reply *wire.Frame

	// Broadcast, if non-nil, is written to every other occupied session
	// (CHT_SEND only).
	Broadcast *wire.Frame

	// Close indicates the originating session's socket must be torn down
	// after Reply is written (protocol-level errors only).
	Close bool

	// MessageSent indicates a chat message was accepted, for the caller to
	// increment msg_count exactly once.
	MessageSent bool
}

// Dispatcher turns decoded frames into store operations and wire
// responses. It holds no per-connection state; all of that lives in the
// Session passed to Dispatch.
type Dispatcher struct {
	store  Store
	logger *slog.Logger
}

// NewDispatcher returns a Dispatcher backed by store. A nil logger falls
// back to slog.Default().
func NewDispatcher(s Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: s, logger: logger}
}

// Dispatch decodes and handles one frame for sess, returning the protocol
// outcome. Application-level failures (bad credentials, duplicate user,
// etc.) are expressed in the returned Result's Reply rather than a Go
// error; a structurally invalid frame maps to EC_INV_REQ with the session
// closed.
func (d *Dispatcher) Dispatch(sess *Session, frame wire.Frame) Result {
	switch PacketType(frame.Header.Type) {
	case AccCreate:
		return d.handleCreate(sess, frame.Payload)
	case AccLogin:
		return d.handleLogin(sess, frame.Payload)
	case AccEdit:
		return d.handleEdit(sess, frame.Payload)
	case AccLogout:
		return d.handleLogout(sess)
	case ChtSend:
		return d.handleChatSend(sess, frame)
	default:
		d.logger.Warn("rejecting unknown packet type",
			slog.Int("slot", sess.Slot),
			slog.String("type", PacketType(frame.Header.Type).String()),
		)
		reply := EncodeError(ECInvReq)
		return Result{Reply: &reply, Close: true}
	}
}

// DispatchInvalid builds the SYS_ERROR(EC_INV_REQ) response for a frame
// that failed to decode at the codec layer (bad header, oversize payload,
// malformed TLV). The session is always closed.
func DispatchInvalid() Result {
	reply := EncodeError(ECInvReq)
	return Result{Reply: &reply, Close: true}
}

func (d *Dispatcher) handleCreate(sess *Session, payload []byte) Result {
	creds, err := DecodeCredentials(payload)
	if err != nil {
		return DispatchInvalid()
	}

	_, found, err := d.store.GetPassword(creds.Username)
	if err != nil {
		d.logger.Error("store failure checking for existing user", slog.String("error", err.Error()))
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}
	if found {
		reply := EncodeError(ECUserExists)
		return Result{Reply: &reply}
	}

	uid, err := d.store.PutUser(creds.Username, creds.Password)
	if err != nil {
		d.logger.Error("store failure creating user", slog.String("error", err.Error()))
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}

	sess.SetUser(uid, creds.Username)

	reply := EncodeSuccess(AccCreate)
	return Result{Reply: &reply}
}

func (d *Dispatcher) handleLogin(sess *Session, payload []byte) Result {
	creds, err := DecodeCredentials(payload)
	if err != nil {
		return DispatchInvalid()
	}

	stored, found, err := d.store.GetPassword(creds.Username)
	if err != nil {
		d.logger.Error("store failure during login", slog.String("error", err.Error()))
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}
	if !found {
		reply := EncodeError(ECInvUserID)
		return Result{Reply: &reply}
	}

	if !bytes.Equal(stored, creds.Password) {
		reply := EncodeError(ECInvAuthInfo)
		return Result{Reply: &reply}
	}

	uid, found, err := d.store.GetUserID(creds.Username)
	if err != nil || !found {
		d.logger.Error("index_db missing entry for authenticated user",
			slog.String("username", string(creds.Username)),
		)
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}

	sess.SetUser(uid, creds.Username)

	reply := EncodeLoginSuccess(uid)
	return Result{Reply: &reply}
}

func (d *Dispatcher) handleEdit(sess *Session, payload []byte) Result {
	creds, err := DecodeCredentials(payload)
	if err != nil {
		return DispatchInvalid()
	}

	uid, found, err := d.store.GetUserID(creds.Username)
	if err != nil {
		d.logger.Error("store failure during edit", slog.String("error", err.Error()))
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}
	if !found {
		reply := EncodeError(ECInvUserID)
		return Result{Reply: &reply}
	}

	// The session must be logged in as the very account it is editing;
	// authenticating as one user does not authorize editing another's
	// credentials just by naming them.
	if sess.UserID == nil {
		reply := EncodeError(ECInvUserID)
		return Result{Reply: &reply}
	}
	if *sess.UserID != uid {
		reply := EncodeError(ECInvAuthInfo)
		return Result{Reply: &reply}
	}

	if err := d.store.SetPassword(creds.Username, creds.Password); err != nil {
		d.logger.Error("store failure setting password", slog.String("error", err.Error()))
		reply := EncodeError(ECServer)
		return Result{Reply: &reply}
	}

	reply := EncodeSuccess(AccEdit)
	return Result{Reply: &reply}
}

func (d *Dispatcher) handleLogout(sess *Session) Result {
	sess.ClearUser()
	return Result{}
}

func (d *Dispatcher) handleChatSend(sess *Session, frame wire.Frame) Result {
	r := wire.NewReader(frame.Payload)
	if _, err := r.ReadUTCTime(); err != nil {
		return DispatchInvalid()
	}
	if _, err := r.ReadStr(); err != nil { // content
		return DispatchInvalid()
	}
	if _, err := r.ReadStr(); err != nil { // username
		return DispatchInvalid()
	}

	ack := EncodeSuccess(ChtSend)
	broadcast := frame

	return Result{Reply: &ack, Broadcast: &broadcast, MessageSent: true}
}
