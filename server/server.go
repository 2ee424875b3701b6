// Package server implements the single-threaded, readiness-driven event
// loop of spec.md §4.8: it owns every listener, the poller, and the
// fd→connection map, and is the only component permitted to perform a
// network syscall in the running process.
//
// The structure — a Server owning listeners and connection bookkeeping —
// is grounded on the teacher's Server type (types_server.go),
// generalized from goroutine-per-connection
// (net.Listener.Accept blocking in a loop, one goroutine per accepted
// conn) to the accept-until-WouldBlock / one-syscall-per-event model
// shown in other_examples/…go_raw_epoll_http_server….
package server

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/badu/evserver/internal/conn"
	"github.com/badu/evserver/internal/config"
	"github.com/badu/evserver/internal/poll"
	"github.com/badu/evserver/internal/request"
	"github.com/badu/evserver/internal/router"
)

const (
	// TimeoutCheckMS is the poll timeout, also the cleanup-pass cadence,
	// per spec.md §4.8 step 1.
	TimeoutCheckMS = 1000
	// IdleTimeoutSecs closes connections quiet for this long.
	IdleTimeoutSecs = 30
	// RequestTimeoutSecs closes connections whose in-flight request has
	// been pending this long, sending a best-effort 408 first (adopted
	// per SPEC_FULL.md §4.8, resolving spec.md §9's open question).
	RequestTimeoutSecs = 10
	// MaxRequestsPerConn bounds keep-alive reuse.
	MaxRequestsPerConn = 100

	readChunkSize = 65536
)

// Server owns the listeners, the poller, and every live connection.
type Server struct {
	cfg *config.ServerConfig
	log *logrus.Logger

	poller *poll.Poller

	listenerFds map[int]bool
	conns       map[int]*conn.Conn

	now func() time.Time
}

// New constructs a Server bound to cfg. log may be nil, in which case a
// default logrus.Logger is used.
func New(cfg *config.ServerConfig, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logrus.New()
	}
	p, err := poll.Create()
	if err != nil {
		return nil, fmt.Errorf("server: create poller: %w", err)
	}
	return &Server{
		cfg:         cfg,
		log:         log,
		poller:      p,
		listenerFds: make(map[int]bool),
		conns:       make(map[int]*conn.Conn),
		now:         time.Now,
	}, nil
}

// Run binds every configured listener and drives the event loop until
// an unrecoverable poll error occurs. A poll failure without EINTR is
// fatal to the process, per spec.md §7.
func (s *Server) Run() error {
	bound := 0
	for _, addr := range s.cfg.ListenAddresses {
		fd, err := bindListener(addr)
		if err != nil {
			s.log.WithError(err).WithField("addr", addr).Warn("server: failed to bind listener")
			continue
		}
		if err := s.poller.Register(fd, poll.Readable); err != nil {
			s.log.WithError(err).WithField("addr", addr).Warn("server: failed to register listener")
			unix.Close(fd)
			continue
		}
		s.listenerFds[fd] = true
		bound++
		s.log.WithField("addr", addr).Info("server: listening")
	}
	if bound == 0 {
		return fmt.Errorf("server: no listener could be bound")
	}

	for {
		if err := s.iterate(); err != nil {
			return err
		}
	}
}

// iterate runs exactly one event-loop iteration: poll, dispatch, clean
// up. Kept as its own unexported method rather than inlined into Run.
func (s *Server) iterate() error {
	events, err := s.poller.Poll(TimeoutCheckMS)
	if err != nil {
		return fmt.Errorf("server: poll: %w", err)
	}

	for _, ev := range events {
		if s.listenerFds[ev.Fd] {
			s.acceptAll(ev.Fd)
			continue
		}
		s.handleConnEvent(ev)
	}

	s.cleanup()
	return nil
}

func (s *Server) acceptAll(listenerFd int) {
	for {
		fd, sa, err := unix.Accept(listenerFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.log.WithError(err).Warn("server: accept failed")
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		if err := s.poller.Register(fd, poll.Readable); err != nil {
			unix.Close(fd)
			continue
		}
		now := s.now()
		s.conns[fd] = conn.New(fd, peerString(sa), now)
	}
}

func (s *Server) handleConnEvent(ev poll.Event) {
	c, ok := s.conns[ev.Fd]
	if !ok {
		return
	}

	if ev.Error || ev.HungUp {
		c.State = conn.Closing
		return
	}

	now := s.now()

	if ev.Readable && c.State == conn.Reading {
		s.readOnce(c, now)
	}
	if ev.Writable && c.State == conn.Writing {
		s.writeOnce(c, now)
	}
}

// readOnce performs at most one non-blocking read, per the
// one-read-one-write-per-event rule (spec.md §4.8).
func (s *Server) readOnce(c *conn.Conn, now time.Time) {
	buf := make([]byte, readChunkSize)
	n, err := unix.Read(c.Fd, buf)
	if n > 0 {
		c.ReadBuffer = append(c.ReadBuffer, buf[:n]...)
		c.LastActivity = now
		if c.RequestStartedAt.IsZero() {
			c.RequestStartedAt = now
		}
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		c.State = conn.Closing
		return
	}
	if n == 0 && err == nil {
		c.State = conn.Closing
		return
	}

	s.tryParse(c, now)
}

// tryParse attempts to parse a complete request from the connection's
// read buffer, routes it, queues the response, and keeps any pipelined
// surplus in the read buffer; writeOnce re-offers that surplus to the
// parser right after a keep-alive reset — the adopted resolution to
// spec.md §9's residual-buffer open question.
func (s *Server) tryParse(c *conn.Conn, now time.Time) {
	result := request.Parse(c.ReadBuffer)
	if result.Err != nil {
		s.writeBadRequest(c)
		return
	}
	if !result.Complete {
		return
	}

	req := result.Request
	c.KeepAlive = keepAliveFromHeader(req.Headers.Get("Connection"))

	resp := router.Route(req, s.cfg, now)
	if !c.KeepAlive {
		resp.Header.Set("Connection", "close")
	}

	surplus := c.ReadBuffer[result.Consumed:]
	remainder := make([]byte, len(surplus))
	copy(remainder, surplus)
	c.ReadBuffer = remainder

	c.QueueResponse(resp.ToBytes())
	s.poller.Modify(c.Fd, poll.Writable)
}

func (s *Server) writeBadRequest(c *conn.Conn) {
	const resp = "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	c.KeepAlive = false
	c.QueueResponse([]byte(resp))
	s.poller.Modify(c.Fd, poll.Writable)
}

// writeOnce performs at most one non-blocking write, per the
// one-read-one-write-per-event rule.
func (s *Server) writeOnce(c *conn.Conn, now time.Time) {
	remaining := c.WriteBuffer[c.BytesWritten:]
	n, err := unix.Write(c.Fd, remaining)
	if n > 0 {
		c.BytesWritten += n
		c.LastActivity = now
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		c.State = conn.Closing
		return
	}

	if c.WriteRemaining() {
		return
	}

	if c.KeepAlive && c.RequestsHandled < MaxRequestsPerConn {
		hasSurplus := len(c.ReadBuffer) > 0
		c.ResetForNextRequest(now)
		s.poller.Modify(c.Fd, poll.Readable)
		if hasSurplus {
			s.tryParse(c, now)
		}
		return
	}

	c.State = conn.Closing
}

// cleanup tears down every connection in Closing, idle past
// IdleTimeoutSecs, or whose in-flight request exceeded
// RequestTimeoutSecs, per spec.md §4.8 step 3.
func (s *Server) cleanup() {
	now := s.now()
	for fd, c := range s.conns {
		if c.State != conn.Closing {
			if c.IdleFor(now) > IdleTimeoutSecs*time.Second {
				c.State = conn.Closing
			} else if c.State == conn.Reading && c.RequestAgeFor(now) > RequestTimeoutSecs*time.Second {
				s.sendBestEffort408(c)
				c.State = conn.Closing
			}
		}
		if c.State != conn.Closing {
			continue
		}
		s.poller.Unregister(fd)
		unix.Close(fd)
		delete(s.conns, fd)
	}
}

// sendBestEffort408 writes a 408 without waiting for writability: the
// connection is about to be torn down regardless, so a short, discarded
// write is acceptable (spec.md §4.8's per-request-timeout contract).
func (s *Server) sendBestEffort408(c *conn.Conn) {
	const body = "HTTP/1.1 408 Request Timeout\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	unix.Write(c.Fd, []byte(body))
}

func keepAliveFromHeader(connectionHeader string) bool {
	return connectionHeader == "" || !equalFoldClose(connectionHeader)
}

func equalFoldClose(s string) bool {
	if len(s) != len("close") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != "close"[i] {
			return false
		}
	}
	return true
}

func peerString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", v.Addr, v.Port)
	default:
		return "?"
	}
}
