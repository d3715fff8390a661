// Package server implements the client-facing TCP event loop: a single
// readiness-poll cycle over a fixed descriptor table that drives every
// accepted connection through the chat protocol's per-connection state
// machine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gochatd/internal/chat"
	"github.com/dantte-lp/gochatd/internal/metrics"
	"github.com/dantte-lp/gochatd/internal/wire"
)

// -------------------------------------------------------------------------
// CounterPersister and DiagnosticSink
// -------------------------------------------------------------------------

// CounterPersister flushes the credential store's next_user_id counter.
// Satisfied by *store.Credentials; a minimal interface so this package does
// not import the storage engine directly.
type CounterPersister interface {
	PersistCounters() error
}

// DiagnosticSink receives the periodic (user_count, msg_count) frame. A nil
// sink is valid: the server simply never calls it, matching the "proceed
// without manager" rule for a failed or absent manager-channel attach.
type DiagnosticSink interface {
	Emit(userCount uint16, msgCount uint32) error
}

// -------------------------------------------------------------------------
// Server
// -------------------------------------------------------------------------

// Server runs the single-threaded poll loop described in the chat protocol's
// session/event-loop component: one listening socket, a fixed table of
// client slots, and a diagnostic tick, checked after every poll return, that
// fires once each DiagEvery interval has elapsed.
type Server struct {
	listener *net.TCPListener
	slots    []*clientSlot // index 0 unused; slots[1:] are client sessions

	dispatcher  *chat.Dispatcher
	persister   CounterPersister
	diag        DiagnosticSink
	collector   *metrics.Collector
	logger      *slog.Logger
	pollTimeout time.Duration
	diagEvery   time.Duration

	msgCount uint32
}

// clientSlot is one occupied entry in the descriptor table.
type clientSlot struct {
	fd   int
	conn *net.TCPConn
	sess *chat.Session
}

// Config bundles the construction-time parameters for New.
type Config struct {
	Addr        string
	MaxFDs      int
	PollTimeout time.Duration
	DiagEvery   time.Duration
}

// New binds the client-facing listener and returns a Server ready to Run.
func New(cfg Config, dispatcher *chat.Dispatcher, persister CounterPersister, diag DiagnosticSink, collector *metrics.Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFDs < 2 {
		cfg.MaxFDs = chat.MaxFDs
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.Addr, err)
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", cfg.Addr, err)
	}

	return &Server{
		listener:    ln,
		slots:       make([]*clientSlot, cfg.MaxFDs),
		dispatcher:  dispatcher,
		persister:   persister,
		diag:        diag,
		collector:   collector,
		logger:      logger,
		pollTimeout: cfg.PollTimeout,
		diagEvery:   cfg.DiagEvery,
	}, nil
}

// Addr returns the listener's bound address, useful when Config.Addr used a
// ":0" ephemeral port (as tests do).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run drives the poll loop until ctx is canceled. It always closes the
// listener and every open session before returning, and persists counters
// one last time on the way out.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeAll()

	listenerFD, err := rawFD(s.listener)
	if err != nil {
		return fmt.Errorf("listener file descriptor: %w", err)
	}

	timeoutMillis := int(s.pollTimeout / time.Millisecond)
	if timeoutMillis <= 0 {
		timeoutMillis = 1000
	}

	nextTick := time.Now().Add(s.diagEvery)

	for {
		if ctx.Err() != nil {
			return nil
		}

		pollFDs := s.buildPollSet(listenerFD)

		n, err := unix.Poll(pollFDs, timeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		if n == 0 {
			s.maybeEmitDiagnostic(&nextTick)
			continue
		}

		for _, pfd := range pollFDs {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == listenerFD {
				s.acceptOne()
				continue
			}
			s.serviceSlot(int(pfd.Fd), pfd.Revents)
		}

		s.maybeEmitDiagnostic(&nextTick)
	}
}

func (s *Server) maybeEmitDiagnostic(nextTick *time.Time) {
	if !time.Now().After(*nextTick) {
		return
	}
	*nextTick = time.Now().Add(s.diagEvery)

	if s.persister != nil {
		if err := s.persister.PersistCounters(); err != nil {
			s.logger.Error("persist counters failed", slog.String("error", err.Error()))
		}
	}

	if s.diag == nil {
		return
	}
	userCount := uint16(s.occupiedSlots())
	if err := s.diag.Emit(userCount, s.msgCount); err != nil {
		s.logger.Warn("diagnostic emit failed", slog.String("error", err.Error()))
	}
}

func (s *Server) occupiedSlots() int {
	n := 0
	for _, cs := range s.slots {
		if cs != nil {
			n++
		}
	}
	return n
}

// buildPollSet returns the listener fd plus every occupied slot's fd, in
// ascending slot order, matching the protocol's broadcast-ordering guarantee
// for the same iteration pass.
func (s *Server) buildPollSet(listenerFD int) []unix.PollFd {
	pollFDs := make([]unix.PollFd, 0, 1+len(s.slots))
	pollFDs = append(pollFDs, unix.PollFd{Fd: int32(listenerFD), Events: unix.POLLIN})

	for _, i := range s.occupiedIndices() {
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(s.slots[i].fd), Events: unix.POLLIN})
	}

	return pollFDs
}

func (s *Server) occupiedIndices() []int {
	indices := make([]int, 0, len(s.slots))
	for i, cs := range s.slots {
		if cs != nil {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	return indices
}

func (s *Server) freeSlot() (int, bool) {
	for i := 1; i < len(s.slots); i++ {
		if s.slots[i] == nil {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) findSlot(fd int) (int, *clientSlot) {
	for i, cs := range s.slots {
		if cs != nil && cs.fd == fd {
			return i, cs
		}
	}
	return 0, nil
}

// -------------------------------------------------------------------------
// Accept
// -------------------------------------------------------------------------

func (s *Server) acceptOne() {
	conn, err := s.listener.AcceptTCP()
	if err != nil {
		s.logger.Warn("accept failed", slog.String("error", err.Error()))
		return
	}

	idx, ok := s.freeSlot()
	if !ok {
		s.logger.Warn("descriptor table full, rejecting connection", slog.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	fd, err := rawFD(conn)
	if err != nil {
		s.logger.Error("accepted connection file descriptor", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	s.slots[idx] = &clientSlot{fd: fd, conn: conn, sess: chat.NewSession(idx)}
	if s.collector != nil {
		s.collector.RegisterSession()
	}

	s.logger.Debug("accepted connection",
		slog.Int("slot", idx),
		slog.String("remote", conn.RemoteAddr().String()),
	)
}

// -------------------------------------------------------------------------
// Per-slot servicing
// -------------------------------------------------------------------------

func (s *Server) serviceSlot(fd int, revents int16) {
	idx, cs := s.findSlot(fd)
	if cs == nil {
		return
	}

	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		s.closeSlot(idx)
		return
	}
	if revents&unix.POLLIN == 0 {
		return
	}

	switch cs.sess.State() {
	case chat.AwaitingHeader:
		s.readHeader(idx, cs)
	case chat.AwaitingPayload:
		s.readPayload(idx, cs)
	}
}

func (s *Server) readHeader(idx int, cs *clientSlot) {
	var buf [wire.HeaderSize]byte
	if _, err := io.ReadFull(cs.conn, buf[:]); err != nil {
		s.closeSlot(idx)
		return
	}

	h, err := wire.DecodeHeader(buf[:])
	if err != nil {
		s.logger.Warn("header decode failed", slog.Int("slot", idx), slog.String("error", err.Error()))
		if s.collector != nil {
			s.collector.IncRejectedFrames()
		}
		s.writeResultAndMaybeClose(idx, cs, chat.DispatchInvalid())
		return
	}

	if h.PayloadLen == 0 {
		s.dispatch(idx, cs, wire.Frame{Header: h})
		return
	}

	cs.sess.ExpectPayload(h.Type, h.SenderID, h.PayloadLen)
}

func (s *Server) readPayload(idx int, cs *clientSlot) {
	payload := make([]byte, cs.sess.ExpectedLen())
	if _, err := io.ReadFull(cs.conn, payload); err != nil {
		s.closeSlot(idx)
		return
	}

	h := wire.Header{
		Type:       cs.sess.PendingType(),
		Version:    wire.ProtocolVersion,
		SenderID:   cs.sess.PendingSenderID(),
		PayloadLen: cs.sess.ExpectedLen(),
	}

	cs.sess.ResetToHeader()
	s.dispatch(idx, cs, wire.Frame{Header: h, Payload: payload})
}

func (s *Server) dispatch(idx int, cs *clientSlot, frame wire.Frame) {
	start := time.Now()
	result := s.safeDispatch(cs.sess, frame)
	duration := time.Since(start)

	if result.Reply != nil && chat.PacketType(result.Reply.Header.Type) == chat.SysError {
		s.logger.Warn("request completed with error",
			slog.Int("slot", idx),
			slog.String("type", chat.PacketType(frame.Header.Type).String()),
			slog.Duration("duration", duration),
		)
	} else {
		s.logger.Debug("request completed",
			slog.Int("slot", idx),
			slog.String("type", chat.PacketType(frame.Header.Type).String()),
			slog.Duration("duration", duration),
		)
	}

	if result.MessageSent {
		s.msgCount++
		if s.collector != nil {
			s.collector.IncMessages()
		}
	}
	if isAuthFailure(frame, result) && s.collector != nil {
		s.collector.IncAuthFailures()
	}
	if result.Close && result.Reply != nil && s.collector != nil {
		// For these packet types, EC_INV_REQ plus a close means the payload's
		// TLV fields failed to decode.
		switch chat.PacketType(frame.Header.Type) {
		case chat.AccCreate, chat.AccLogin, chat.AccEdit, chat.ChtSend:
			if code, err := wire.NewReader(result.Reply.Payload).ReadInt(); err == nil && chat.ErrorCode(code) == chat.ECInvReq {
				s.collector.IncRejectedFrames()
			}
		}
	}

	if result.Broadcast != nil {
		s.broadcast(idx, *result.Broadcast)
	}

	s.writeResultAndMaybeClose(idx, cs, result)
}

// safeDispatch calls the dispatcher and recovers a panicking handler so one
// misbehaving frame cannot bring down the single poll loop every other
// session depends on. A recovered panic is treated as an internal server
// error and the session is closed.
func (s *Server) safeDispatch(sess *chat.Session, frame wire.Frame) (result chat.Result) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.logger.Error("panic recovered in dispatch",
				slog.Int("slot", sess.Slot),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			reply := chat.EncodeError(chat.ECServer)
			result = chat.Result{Reply: &reply, Close: true}
		}
	}()

	return s.dispatcher.Dispatch(sess, frame)
}

// isAuthFailure reports whether result represents an ACC_LOGIN rejected for
// bad credentials, the only case the auth-failure counter tracks.
func isAuthFailure(frame wire.Frame, result chat.Result) bool {
	if chat.PacketType(frame.Header.Type) != chat.AccLogin {
		return false
	}
	if result.Reply == nil {
		return false
	}
	if chat.PacketType(result.Reply.Header.Type) != chat.SysError {
		return false
	}
	code, err := wire.NewReader(result.Reply.Payload).ReadInt()
	if err != nil {
		return false
	}
	ec := chat.ErrorCode(code)
	return ec == chat.ECInvUserID || ec == chat.ECInvAuthInfo
}

func (s *Server) writeResultAndMaybeClose(idx int, cs *clientSlot, result chat.Result) {
	if result.Reply != nil {
		if err := writeFrame(cs.conn, *result.Reply); err != nil {
			s.logger.Warn("write reply failed", slog.Int("slot", idx), slog.String("error", err.Error()))
			s.closeSlot(idx)
			return
		}
	}

	if result.Close {
		s.closeSlot(idx)
	}
}

// broadcast writes frame to every occupied slot except origin, in ascending
// slot order. A write failure closes only the failing peer's session.
func (s *Server) broadcast(origin int, frame wire.Frame) {
	for _, i := range s.occupiedIndices() {
		if i == origin {
			continue
		}
		cs := s.slots[i]
		if err := writeFrame(cs.conn, frame); err != nil {
			s.logger.Warn("broadcast write failed, closing peer", slog.Int("slot", i), slog.String("error", err.Error()))
			s.closeSlot(i)
		}
	}
}

func (s *Server) closeSlot(idx int) {
	cs := s.slots[idx]
	if cs == nil {
		return
	}
	_ = cs.conn.Close()
	cs.sess.Close()
	s.slots[idx] = nil

	if s.collector != nil {
		s.collector.UnregisterSession()
	}
}

func (s *Server) closeAll() {
	for i := range s.slots {
		s.closeSlot(i)
	}
	if err := s.listener.Close(); err != nil {
		s.logger.Warn("close listener failed", slog.String("error", err.Error()))
	}
	if s.persister != nil {
		if err := s.persister.PersistCounters(); err != nil {
			s.logger.Error("final persist counters failed", slog.String("error", err.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// Wire helpers
// -------------------------------------------------------------------------

func writeFrame(conn *net.TCPConn, frame wire.Frame) error {
	buf, err := wire.Encode(frame, make([]byte, 0, wire.HeaderSize+len(frame.Payload)))
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// rawFD extracts the underlying file descriptor from a syscall.Conn without
// taking ownership of it — the descriptor remains valid for as long as conn
// is open, and is only used here to build the unix.Poll readiness set.
func rawFD(conn syscall.Conn) (int, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("syscall conn: %w", err)
	}

	var fd int
	if err := rc.Control(func(rawFD uintptr) {
		fd = int(rawFD)
	}); err != nil {
		return -1, fmt.Errorf("control: %w", err)
	}

	return fd, nil
}
