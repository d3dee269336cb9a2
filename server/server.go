package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// pollTimeoutMs bounds how long a single poll(2) call blocks when no
// session has a pending close to reap immediately, per spec.md §4.5.
const pollTimeoutMs = 100

// acceptBacklog is the listen(2) backlog for the control-channel listener.
const acceptBacklog = 64

// Server drives every session through one shared poll() call per loop
// iteration, per spec.md §4.5 and §5. There is exactly one goroutine
// running the loop; Driver and ClientContext implementations are only
// ever called from it.
type Server struct {
	config  Config
	driver  Driver
	logSink LogSink
	metrics MetricsCollector
	welcome string

	listener *socket
	sessions []*session
	nextID   uint64

	pasvCursor int
}

// nextPasvPort advances the rolling passive-port cursor shared across all
// sessions, wrapping at hi, per spec.md §4.6.4.
func (s *Server) nextPasvPort(lo, hi int) int {
	if s.pasvCursor < lo || s.pasvCursor >= hi {
		s.pasvCursor = lo
	}
	port := s.pasvCursor
	s.pasvCursor++
	if s.pasvCursor >= hi {
		s.pasvCursor = lo
	}
	return port
}

// NewServer builds a Server from options. WithDriver is required.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		config:  DefaultConfig(),
		logSink: discardSink{},
		metrics: noopMetrics{},
		welcome: "FTP server ready.",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver == nil {
		return nil, errors.New("server: NewServer requires WithDriver")
	}
	return s, nil
}

func (s *Server) log() LogSink           { return s.logSink }
func (s *Server) welcomeMessage() string { return s.welcome }
func (s *Server) Config() Config         { return s.config }

// listen binds and starts listening on s.config.Port, per spec.md §4.5
// step 1. It is idempotent: a second call is a no-op.
func (s *Server) listen() error {
	if s.listener != nil {
		return nil
	}
	if s.config.Port < 1024 && !s.config.AllowPrivilegedPort {
		return fmt.Errorf("server: refusing privileged port %d without AllowPrivilegedPort", s.config.Port)
	}
	sock, err := newSocket(s.logSink)
	if err != nil {
		return err
	}
	sock.SetReuseAddress(true)
	if err := sock.Bind(sockAddr{Port: uint16(s.config.Port)}); err != nil {
		sock.Close()
		return err
	}
	if err := sock.Listen(acceptBacklog); err != nil {
		sock.Close()
		return err
	}
	s.listener = sock
	s.logSink.Info(fields{"port": s.config.Port}, "listening")
	return nil
}

// ListenAndServe runs the single poll loop until ctx is cancelled or a
// fatal listener error occurs, per spec.md §4.5's five-step cycle:
// bind if needed, build the combined poll set, issue one poll(), route
// events, reap dead sessions.
func (s *Server) ListenAndServe(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	for s.listener == nil {
		if err := s.listen(); err != nil {
			s.logSink.Error(fields{"err": err.Error()}, "listen failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
	}
	defer s.listener.Close()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		default:
		}
		if err := s.runOnce(); err != nil {
			return err
		}
	}
}

// runOnce performs exactly one poll() call and its event dispatch.
func (s *Server) runOnce() error {
	infos := []pollInfo{{Socket: s.listener, Events: PollIn}}
	socketToSession := make(map[*socket]*session)

	for _, sess := range s.sessions {
		for _, info := range sess.pollRequests() {
			infos = append(infos, info)
			socketToSession[info.Socket] = sess
		}
	}

	timeout := pollTimeoutMs
	for _, sess := range s.sessions {
		if len(sess.pendingClose) > 0 {
			timeout = 0
			break
		}
	}

	if _, err := pollSockets(infos, timeout); err != nil {
		return fmt.Errorf("server: poll failed: %w", err)
	}

	listenerRevents := infos[0].Revents
	perSession := make(map[*session]map[*socket]int16, len(s.sessions))
	for _, info := range infos[1:] {
		if info.Revents == 0 {
			continue
		}
		sess := socketToSession[info.Socket]
		if sess == nil {
			continue
		}
		m := perSession[sess]
		if m == nil {
			m = make(map[*socket]int16)
			perSession[sess] = m
		}
		m[info.Socket] = info.Revents
	}

	if listenerRevents&PollIn != 0 {
		s.acceptOne()
	}

	for _, sess := range s.sessions {
		if ev, ok := perSession[sess]; ok {
			sess.dispatchEvents(ev)
		}
	}

	s.reapDeadSessions()
	return nil
}

// acceptOne accepts at most one pending connection per loop iteration,
// matching the one-poll-per-cycle discipline: a burst of connects drains
// over successive iterations rather than starving existing sessions.
func (s *Server) acceptOne() {
	ns, err := s.listener.Accept()
	if err != nil {
		if err != errAgain {
			s.logSink.Error(fields{"err": err.Error()}, "accept failed")
		}
		return
	}
	id := fmt.Sprintf("sess-%d", atomic.AddUint64(&s.nextID, 1))
	sess := newSession(s, ns, id)
	s.sessions = append(s.sessions, sess)
	s.logSink.Info(fields{"session": id, "peer": ns.peer.String()}, "connection accepted")
}

func (s *Server) reapDeadSessions() {
	live := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.isDead() {
			sess.close()
			continue
		}
		live = append(live, sess)
	}
	s.sessions = live
}

func (s *Server) shutdown() {
	for _, sess := range s.sessions {
		sess.close()
	}
	s.sessions = nil
}

