// Package session implements the per-connection 9P2000.u state
// machine: framing incoming bytes into messages, dispatching each to
// a handler, and writing back a framed response, per spec.md §4.4 and
// §4.6.
//
// Go has no cooperative polled network stack to hang this off of the
// way the original single-task reactor did; the idiomatic translation
// used here is that a Session's Serve method IS one goroutine's whole
// job (spec.md's "Context B" reactor slice for that connection) — it
// runs the read/dispatch/write loop to completion for one connection,
// synchronously, exactly as the spec prescribes for a single session.
// The Server (package server) is what bounds how many such goroutines
// may run at once, replacing the original's fixed session-slot array.
package session

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/picocalc/ninepfs/config"
	"github.com/picocalc/ninepfs/fidtable"
	"github.com/picocalc/ninepfs/ninep"
	"github.com/picocalc/ninepfs/storage"
)

// Conn is the subset of net.Conn a Session needs; tests substitute an
// in-memory pipe instead of a real socket.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	SetWriteDeadline(time.Time) error
}

// Session is one client connection's framer, dispatcher and FID
// table.
type Session struct {
	ID  uint64
	log *logrus.Entry

	conn Conn
	gw   *storage.Gateway
	cfg  config.Options

	state State
	msize uint32 // negotiated; cfg.DefaultMessageSize until Tversion

	recv []byte // bytes received but not yet framed into a message
	fids *fidtable.Table
}

// New returns a session in the Connected state, ready for Serve.
func New(id uint64, conn Conn, gw *storage.Gateway, cfg config.Options, log *logrus.Entry) *Session {
	return &Session{
		ID:    id,
		log:   log,
		conn:  conn,
		gw:    gw,
		cfg:   cfg,
		state: Connected,
		msize: cfg.DefaultMessageSize,
		fids:  fidtable.New(cfg.MaxFIDsPerSession),
	}
}

// State reports the session's current position in the state machine
// (exported for tests and diagnostics).
func (s *Session) State() State { return s.state }

// Serve runs the session's read/dispatch/write loop until the
// connection closes, a framing error occurs, or an oversized message
// is received — the terminal transitions of spec.md §4.4. It always
// closes the underlying connection and frees every FID before
// returning, matching the "MUST free all FIDs and close its socket on
// any terminal transition" requirement; calling it is safe to do only
// once per Session (teardown's fidtable.FreeAll is a no-op on an
// already-cleared table).
func (s *Session) Serve() error {
	defer s.teardown()

	chunk := make([]byte, s.cfg.MaxMessageSize)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.recv = append(s.recv, chunk[:n]...)
			if ferr := s.drainFrames(); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *Session) teardown() {
	s.state = Errored
	if err := s.fids.FreeAll(s.gw); err != nil {
		s.log.WithError(err).Warn("errors closing fids during teardown")
	}
	_ = s.conn.Close()
}

// drainFrames extracts and dispatches every complete frame currently
// buffered in s.recv, per spec.md §4.4's framing algorithm: while at
// least 4 bytes are buffered, inspect the leading size field; abort
// fatally if it is out of [7, msize]; otherwise wait for size bytes
// to accumulate, then extract one frame and shift the remainder down.
func (s *Session) drainFrames() error {
	for {
		size, ok := ninep.PeekSize(s.recv)
		if !ok {
			return nil // fewer than 4 bytes buffered, wait for more
		}
		if size < 7 || size > s.effectiveMaxFrame() {
			return fmt.Errorf("session %d: fatal framing error: message size %d outside [7, %d]", s.ID, size, s.effectiveMaxFrame())
		}
		if uint32(len(s.recv)) < size {
			return nil // wait for the rest of this frame
		}

		frame := make([]byte, size)
		copy(frame, s.recv[:size])
		s.recv = append(s.recv[:0], s.recv[size:]...)

		reply, err := s.handleFrame(frame)
		if err != nil {
			return err
		}
		if err := s.send(reply); err != nil {
			return err
		}
	}
}

// effectiveMaxFrame is the largest frame this session will currently
// accept: the negotiated msize once Tversion has run, or the
// server's absolute ceiling before that (a client cannot be held to a
// msize it hasn't negotiated yet, but it also cannot be allowed to
// force an arbitrarily large pre-negotiation allocation).
func (s *Session) effectiveMaxFrame() uint32 {
	if s.state == Connected {
		return s.cfg.MaxMessageSize
	}
	return s.msize
}

func (s *Session) handleFrame(frame []byte) ([]byte, error) {
	msg, err := ninep.Parse(frame)
	if err != nil {
		return nil, fmt.Errorf("session %d: fatal: %w", s.ID, err)
	}
	fid := requestFID(&msg)
	buf := make([]byte, s.msize)
	reply, replyType := dispatch(s, &msg, buf)

	fields := logrus.Fields{
		"fid":  fid,
		"type": msg.Type,
		"tag":  msg.Tag,
	}
	if replyType == ninep.Rerror {
		fields["error"] = replyErrorText(reply)
	}
	s.log.WithFields(fields).Debug("handled request")
	return reply, nil
}

// requestFID extracts the fid a request names, for the per-request
// log line mandated alongside level, session id and request type.
// Tversion carries no fid at all and Tflush's leading field is a tag,
// not a fid; every other request type leads with one.
func requestFID(msg *ninep.Message) uint32 {
	switch msg.Type {
	case ninep.Tversion, ninep.Tflush:
		return ninep.NoFID
	default:
		return msg.PeekFID()
	}
}

// replyErrorText recovers the error string carried by an already
// finalized Rerror reply frame, for the log line's "error" field.
func replyErrorText(frame []byte) string {
	m, err := ninep.Parse(frame)
	if err != nil {
		return "unknown error"
	}
	return m.GetString()
}

// send writes reply to the connection, bounded by the session's
// configured send-window timeout. A saturated send window that never
// clears within the timeout is the one transient error that closes
// the session rather than just failing one reply (spec.md §5, §7.5).
func (s *Session) send(reply []byte) error {
	deadline := time.Now().Add(s.cfg.SendWindowTimeout)
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := s.conn.Write(reply)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("session %d: send-window timeout: %w", s.ID, err)
		}
		return err
	}
	return nil
}
