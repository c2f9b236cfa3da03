// Package server runs the 9P2000.u listener: it accepts TCP
// connections, bounds how many may be served concurrently, and hands
// each one to its own session.Session goroutine, per spec.md §4.1 and
// §5. The original reactor polled a fixed array of session slots from
// a single task; Go has no such cooperative scheduler to hang that
// off of; the idiomatic replacement is one goroutine per connection
// with a weighted semaphore standing in for the slot array's capacity
// bound — acquired with TryAcquire so a connection over the cap is
// refused immediately rather than queued, the same pattern the
// teacher's serve/ftp and serve/webdav commands use to cap concurrent
// transfers with golang.org/x/sync.
package server

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/picocalc/ninepfs/config"
	"github.com/picocalc/ninepfs/session"
	"github.com/picocalc/ninepfs/storage"
)

// Server listens for 9P2000.u connections and serves each one on its
// own goroutine, bounded to cfg.MaxSessions concurrent sessions.
type Server struct {
	cfg config.Options
	gw  *storage.Gateway
	log *logrus.Logger

	running atomic.Bool
	sem     *semaphore.Weighted

	mu             sync.Mutex
	listener       net.Listener
	nextID         uint64
	sessionsServed uint64
	activeSessions int
}

// Stats is a point-in-time snapshot of the server's global counters
// (spec.md §3's Data Model "global statistics" attribute). Callers get
// a copy taken under a short-held lock, never a live reference.
type Stats struct {
	SessionsServed uint64
	ActiveSessions int
}

// Stats reports the server's current counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{SessionsServed: s.sessionsServed, ActiveSessions: s.activeSessions}
}

// New builds a Server against an already-wrapped storage Gateway. The
// Gateway is the one serialization point across every session
// (spec.md §4.2); Server itself holds no storage state.
func New(cfg config.Options, gw *storage.Gateway, log *logrus.Logger) *Server {
	return &Server{
		cfg: cfg,
		gw:  gw,
		log: log,
		sem: semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}
}

// Start binds cfg.ListenAddr and begins accepting connections in a
// background goroutine. Start is not reentrant: calling it twice
// without an intervening Stop returns an error rather than binding a
// second listener.
func (s *Server) Start() error {
	if !s.running.CAS(false, true) {
		return errAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.log.WithField("addr", ln.Addr().String()).Info("listening for 9P2000.u connections")
	return nil
}

// Stop closes the listener. Sessions already being served run to
// their own natural completion; Stop does not forcibly terminate
// them, matching the teacher's graceful-shutdown convention of
// closing the listener first and letting in-flight work drain.
func (s *Server) Stop() error {
	if !s.running.CAS(true, false) {
		return nil
	}
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Addr reports the bound listener's address, or nil if not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts connections as fast as the listener delivers
// them and never blocks Accept on a full session table: a slot is
// claimed with TryAcquire before a connection is handed to its own
// goroutine, and a connection that arrives with no slot free is
// refused outright (closed immediately), per spec.md §5 — "exceeding
// any cap results in a refused accept ... never silent truncation."
func (s *Server) acceptLoop(ln net.Listener) {
	var wg errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				break // Stop closed the listener; this is expected
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.log.WithField("remote", conn.RemoteAddr().String()).Warn("refusing connection: max sessions reached")
			_ = conn.Close()
			continue
		}
		c := conn
		wg.Go(func() error {
			defer s.sem.Release(1)
			s.serveOne(c)
			return nil
		})
	}
	_ = wg.Wait()
}

func (s *Server) serveOne(conn net.Conn) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.sessionsServed++
	s.activeSessions++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeSessions--
		s.mu.Unlock()
	}()

	entry := s.log.WithField("session", id)
	entry.WithField("remote", conn.RemoteAddr().String()).Info("session started")

	sess := session.New(id, conn, s.gw, s.cfg, entry)
	if err := sess.Serve(); err != nil {
		entry.WithError(err).Warn("session ended")
		return
	}
	entry.Info("session closed")
}
