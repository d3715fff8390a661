// Package diag implements the outbound manager channel: a single TCP dial
// attempt at startup and periodic SVR_DIAGNOSTIC frame writes.
package diag

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/gochatd/internal/chat"
	"github.com/dantte-lp/gochatd/internal/wire"
)

// Emitter writes periodic diagnostic frames to an optional manager process.
// A nil-conn Emitter is valid and Emit becomes a no-op, matching the
// "proceed without manager" rule when the dial at startup fails or no
// manager address was configured.
type Emitter struct {
	conn   net.Conn
	logger *slog.Logger
}

// Dial attempts a single outbound TCP connection to addr. Failure is logged
// and an Emitter with no connection is returned rather than an error — the
// daemon always starts, with or without a manager attached.
func Dial(addr string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return &Emitter{logger: logger}
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		logger.Warn("manager channel unavailable, proceeding without it",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
		return &Emitter{logger: logger}
	}

	logger.Info("manager channel attached", slog.String("addr", addr))
	return &Emitter{conn: conn, logger: logger}
}

// Attached reports whether a manager connection is currently open.
func (e *Emitter) Attached() bool {
	return e.conn != nil
}

// Emit writes one SVR_DIAGNOSTIC frame carrying userCount and msgCount. If
// no manager is attached, Emit is a no-op returning nil. A write failure
// closes the connection and detaches the manager permanently for this
// process's lifetime — the protocol gives no retry or reconnect guidance.
func (e *Emitter) Emit(userCount uint16, msgCount uint32) error {
	if e.conn == nil {
		return nil
	}

	frame := chat.EncodeDiagnostic(userCount, msgCount)
	buf, err := wire.Encode(frame, make([]byte, 0, wire.HeaderSize+len(frame.Payload)))
	if err != nil {
		return fmt.Errorf("encode diagnostic frame: %w", err)
	}

	if _, err := e.conn.Write(buf); err != nil {
		e.logger.Warn("manager channel write failed, detaching", slog.String("error", err.Error()))
		_ = e.conn.Close()
		e.conn = nil
		return fmt.Errorf("write diagnostic frame: %w", err)
	}

	return nil
}

// Close releases the manager connection, if any.
func (e *Emitter) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
