package chat

// State identifies a session's position in the per-connection read state
// machine (header → payload → dispatch, repeated).
type State uint8

const (
	// AwaitingHeader means the next bytes off the socket are a fresh
	// 6-byte frame header.
	AwaitingHeader State = iota

	// AwaitingPayload means a header has been decoded and ExpectedLen
	// bytes of payload remain to be read before dispatch.
	AwaitingPayload

	// Closed means the session's socket has been torn down; the slot
	// holding it is eligible for reuse.
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "AwaitingHeader"
	case AwaitingPayload:
		return "AwaitingPayload"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the server-side state bound to one accepted socket. It is
// created on accept and destroyed when the socket closes (peer hang-up,
// protocol error, or logout followed by disconnect).
type Session struct {
	// Slot is the index into the server's fixed descriptor table.
	Slot int

	// UserID is set by a successful ACC_CREATE or ACC_LOGIN and cleared by
	// ACC_LOGOUT. nil means the session has not authenticated.
	UserID *uint16

	// Username mirrors the credential the session authenticated with. It is
	// set and cleared together with UserID; ACC_EDIT's identity check
	// compares UserID, not Username.
	Username []byte

	state        State
	expectedLen  uint16
	pendingType  uint8
	pendingSndID uint16
}

// NewSession returns a freshly accepted session, positioned to read a
// header next.
func NewSession(slot int) *Session {
	return &Session{Slot: slot, state: AwaitingHeader}
}

// State reports the session's current position in the read state machine.
func (s *Session) State() State {
	return s.state
}

// ExpectPayload transitions the session into AwaitingPayload, recording the
// decoded header's type, sender id, and payload length so the event loop can
// reassemble a full frame once the payload bytes arrive.
func (s *Session) ExpectPayload(pt uint8, senderID uint16, length uint16) {
	s.pendingType = pt
	s.pendingSndID = senderID
	s.expectedLen = length
	s.state = AwaitingPayload
}

// ExpectedLen returns the number of payload bytes the session is waiting on
// while in AwaitingPayload.
func (s *Session) ExpectedLen() uint16 {
	return s.expectedLen
}

// PendingType returns the packet type recorded by ExpectPayload.
func (s *Session) PendingType() uint8 {
	return s.pendingType
}

// PendingSenderID returns the sender id recorded by ExpectPayload.
func (s *Session) PendingSenderID() uint16 {
	return s.pendingSndID
}

// ResetToHeader transitions the session back to AwaitingHeader after a
// payload has been consumed (successfully or not).
func (s *Session) ResetToHeader() {
	s.expectedLen = 0
	s.state = AwaitingHeader
}

// Close marks the session as torn down.
func (s *Session) Close() {
	s.state = Closed
}

// Authenticated reports whether the session has an associated user id.
func (s *Session) Authenticated() bool {
	return s.UserID != nil
}

// SetUser records the session's authenticated identity.
func (s *Session) SetUser(userID uint16, username []byte) {
	id := userID
	s.UserID = &id
	s.Username = append([]byte(nil), username...)
}

// ClearUser removes the session's authenticated identity (ACC_LOGOUT).
func (s *Session) ClearUser() {
	s.UserID = nil
	s.Username = nil
}
