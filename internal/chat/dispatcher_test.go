package chat_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/gochatd/internal/chat"
	"github.com/dantte-lp/gochatd/internal/wire"
)

// fakeStore is an in-memory chat.Store used to exercise the dispatcher
// without an on-disk database.
type fakeStore struct {
	passwords map[string][]byte
	ids       map[string]uint16
	nextID    uint16
	failNext  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		passwords: map[string][]byte{},
		ids:       map[string]uint16{},
		nextID:    1,
	}
}

func (f *fakeStore) GetPassword(username []byte) ([]byte, bool, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, false, err
	}
	pw, ok := f.passwords[string(username)]
	return pw, ok, nil
}

func (f *fakeStore) GetUserID(username []byte) (uint16, bool, error) {
	id, ok := f.ids[string(username)]
	return id, ok, nil
}

func (f *fakeStore) PutUser(username, password []byte) (uint16, error) {
	id := f.nextID
	f.nextID++
	f.passwords[string(username)] = append([]byte(nil), password...)
	f.ids[string(username)] = id
	return id, nil
}

func (f *fakeStore) SetPassword(username, newPassword []byte) error {
	if _, ok := f.passwords[string(username)]; !ok {
		return errors.New("no such user")
	}
	f.passwords[string(username)] = append([]byte(nil), newPassword...)
	return nil
}

func credentialsFrame(pt chat.PacketType, username, password string) wire.Frame {
	w := wire.NewWriter()
	w.WriteStr(wire.TagStr, []byte(username))
	w.WriteStr(wire.TagStr, []byte(password))
	return wire.Frame{Header: wire.Header{Type: uint8(pt), Version: wire.ProtocolVersion}, Payload: w.Bytes()}
}

func decodeErrorCode(t *testing.T, f *wire.Frame) uint8 {
	t.Helper()
	r := wire.NewReader(f.Payload)
	code, err := r.ReadInt()
	if err != nil {
		t.Fatalf("decode error code: %v", err)
	}
	return uint8(code)
}

func TestDispatchCreateSucceedsAndAuthenticatesSession(t *testing.T) {
	d := chat.NewDispatcher(newFakeStore(), nil)
	sess := chat.NewSession(1)

	result := d.Dispatch(sess, credentialsFrame(chat.AccCreate, "alice", "secret"))

	if result.Reply == nil {
		t.Fatalf("expected a reply")
	}
	if chat.PacketType(result.Reply.Header.Type) != chat.SysSuccess {
		t.Fatalf("got packet type %v, want SYS_SUCCESS", chat.PacketType(result.Reply.Header.Type))
	}
	if !sess.Authenticated() {
		t.Fatalf("expected session to be authenticated after ACC_CREATE")
	}
}

func TestDispatchCreateDuplicateRejected(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccCreate, "alice", "secret"))
	result := d.Dispatch(chat.NewSession(2), credentialsFrame(chat.AccCreate, "alice", "other"))

	if chat.PacketType(result.Reply.Header.Type) != chat.SysError {
		t.Fatalf("got %v, want SYS_ERROR", chat.PacketType(result.Reply.Header.Type))
	}
	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECUserExists) {
		t.Fatalf("got error code 0x%02X, want EC_USER_EXISTS", got)
	}
}

func TestDispatchLoginSuccess(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccCreate, "alice", "secret"))

	sess := chat.NewSession(2)
	result := d.Dispatch(sess, credentialsFrame(chat.AccLogin, "alice", "secret"))

	if chat.PacketType(result.Reply.Header.Type) != chat.AccLoginSuccess {
		t.Fatalf("got %v, want ACC_LOGIN_SUCCESS", chat.PacketType(result.Reply.Header.Type))
	}
	if !sess.Authenticated() {
		t.Fatalf("expected session to be authenticated after login")
	}
}

func TestDispatchLoginWrongPassword(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccCreate, "alice", "secret"))
	result := d.Dispatch(chat.NewSession(2), credentialsFrame(chat.AccLogin, "alice", "wrong"))

	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECInvAuthInfo) {
		t.Fatalf("got error code 0x%02X, want EC_INV_AUTH_INFO", got)
	}
}

func TestDispatchLoginUnknownUser(t *testing.T) {
	d := chat.NewDispatcher(newFakeStore(), nil)
	result := d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccLogin, "ghost", "x"))

	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECInvUserID) {
		t.Fatalf("got error code 0x%02X, want EC_INV_USER_ID", got)
	}
}

func TestDispatchEditRequiresMatchingSessionIdentity(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccCreate, "alice", "secret"))

	bobSession := chat.NewSession(2)
	d.Dispatch(bobSession, credentialsFrame(chat.AccCreate, "bob", "secret2"))

	// bob tries to edit alice's password.
	result := d.Dispatch(bobSession, credentialsFrame(chat.AccEdit, "alice", "hijacked"))

	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECInvAuthInfo) {
		t.Fatalf("got error code 0x%02X, want EC_INV_AUTH_INFO", got)
	}

	pw, _, _ := st.GetPassword([]byte("alice"))
	if string(pw) != "secret" {
		t.Fatalf("alice's password was changed by bob's request")
	}
}

func TestDispatchEditOwnAccountSucceeds(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	aliceSession := chat.NewSession(1)
	d.Dispatch(aliceSession, credentialsFrame(chat.AccCreate, "alice", "secret"))

	result := d.Dispatch(aliceSession, credentialsFrame(chat.AccEdit, "alice", "newsecret"))

	if chat.PacketType(result.Reply.Header.Type) != chat.SysSuccess {
		t.Fatalf("got %v, want SYS_SUCCESS", chat.PacketType(result.Reply.Header.Type))
	}

	pw, _, _ := st.GetPassword([]byte("alice"))
	if string(pw) != "newsecret" {
		t.Fatalf("password not updated")
	}
}

func TestDispatchEditWithoutLoginRejected(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	d.Dispatch(chat.NewSession(1), credentialsFrame(chat.AccCreate, "alice", "secret"))

	// A fresh, never-authenticated session tries to edit an existing account.
	anonSession := chat.NewSession(2)
	result := d.Dispatch(anonSession, credentialsFrame(chat.AccEdit, "alice", "hijacked"))

	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECInvUserID) {
		t.Fatalf("got error code 0x%02X, want EC_INV_USER_ID", got)
	}

	pw, _, _ := st.GetPassword([]byte("alice"))
	if string(pw) != "secret" {
		t.Fatalf("alice's password was changed by an unauthenticated request")
	}
}

func TestDispatchLogoutClearsIdentity(t *testing.T) {
	st := newFakeStore()
	d := chat.NewDispatcher(st, nil)

	sess := chat.NewSession(1)
	d.Dispatch(sess, credentialsFrame(chat.AccCreate, "alice", "secret"))

	result := d.Dispatch(sess, wire.Frame{Header: wire.Header{Type: uint8(chat.AccLogout), Version: wire.ProtocolVersion}})
	if result.Close {
		t.Fatalf("logout should not close the session")
	}
	if sess.Authenticated() {
		t.Fatalf("expected session to be unauthenticated after logout")
	}
}

func TestDispatchChatSendProducesReplyAndBroadcast(t *testing.T) {
	d := chat.NewDispatcher(newFakeStore(), nil)
	sess := chat.NewSession(1)
	d.Dispatch(sess, credentialsFrame(chat.AccCreate, "alice", "secret"))

	w := wire.NewWriter()
	if err := w.WriteUTCTime([]byte("20260101000000Z")); err != nil {
		t.Fatalf("write utc_time: %v", err)
	}
	w.WriteStr(wire.TagStr, []byte("hello"))
	w.WriteStr(wire.TagStr, []byte("alice"))

	frame := wire.Frame{Header: wire.Header{Type: uint8(chat.ChtSend), Version: wire.ProtocolVersion}, Payload: w.Bytes()}

	result := d.Dispatch(sess, frame)
	if result.Reply == nil {
		t.Fatalf("expected an ack reply")
	}
	if result.Broadcast == nil {
		t.Fatalf("expected a broadcast frame")
	}
	if !result.MessageSent {
		t.Fatalf("expected MessageSent to be true")
	}
}

func TestDispatchUnknownPacketTypeClosesSession(t *testing.T) {
	d := chat.NewDispatcher(newFakeStore(), nil)
	sess := chat.NewSession(1)

	result := d.Dispatch(sess, wire.Frame{Header: wire.Header{Type: 0x7F, Version: wire.ProtocolVersion}})

	if !result.Close {
		t.Fatalf("expected session to be closed on unknown packet type")
	}
	if got := decodeErrorCode(t, result.Reply); got != uint8(chat.ECInvReq) {
		t.Fatalf("got error code 0x%02X, want EC_INV_REQ", got)
	}
}

func TestDispatchMalformedCredentialsClosesSession(t *testing.T) {
	d := chat.NewDispatcher(newFakeStore(), nil)
	sess := chat.NewSession(1)

	result := d.Dispatch(sess, wire.Frame{Header: wire.Header{Type: uint8(chat.AccLogin), Version: wire.ProtocolVersion}, Payload: []byte{0x0C, 0x00}})

	if !result.Close {
		t.Fatalf("expected session to be closed on malformed payload")
	}
}
