// Package conn implements the per-connection state the event loop
// drives: a non-blocking socket, its read/write buffers, and the
// three-state machine {Reading, Writing, Closing} spec.md §4.8 assigns
// to every accepted connection.
//
// This generalizes the teacher's ConnState enumeration
// (types_server.go: StateNew/StateActive/StateIdle/StateClosed, driven
// from callbacks fired by a per-connection goroutine) down to the three
// states a single-threaded, non-blocking loop actually needs to make
// scheduling decisions about, and makes the struct a plain value the
// loop pokes directly rather than a goroutine coordinating over
// channels and context.Context.
package conn

import (
	"time"
)

// State is one of the three states a connection can be in.
type State int

const (
	// Reading: waiting for readable bytes that complete a request.
	Reading State = iota
	// Writing: a response is queued and partially or fully unsent.
	Writing
	// Closing: the connection must be torn down at the next cleanup pass.
	Closing
)

func (s State) String() string {
	switch s {
	case Reading:
		return "Reading"
	case Writing:
		return "Writing"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Conn is one accepted, non-blocking client connection. It owns a raw
// file descriptor rather than a net.Conn: the event loop drives reads
// and writes itself in response to poller readiness, so there is no
// blocking net.Conn.Read/Write call anywhere in this path.
type Conn struct {
	Fd         int
	RemoteAddr string

	State State

	ReadBuffer []byte

	WriteBuffer  []byte
	BytesWritten int

	ConnectedAt      time.Time
	LastActivity     time.Time
	RequestStartedAt time.Time

	KeepAlive       bool
	RequestsHandled int
}

// New wraps an accepted fd in Reading state.
func New(fd int, remoteAddr string, now time.Time) *Conn {
	return &Conn{
		Fd:           fd,
		RemoteAddr:   remoteAddr,
		State:        Reading,
		KeepAlive:    true,
		ConnectedAt:  now,
		LastActivity: now,
	}
}

// WantsRead reports whether the loop should watch this connection for
// readability.
func (c *Conn) WantsRead() bool {
	return c.State == Reading
}

// WantsWrite reports whether the loop should watch this connection for
// writability.
func (c *Conn) WantsWrite() bool {
	return c.State == Writing
}

// MustClose reports whether the connection should be torn down at the
// next cleanup pass.
func (c *Conn) MustClose() bool {
	return c.State == Closing
}

// QueueResponse arms the write buffer with a fully materialized
// response and switches to Writing, per spec.md §4.8 step 2.
func (c *Conn) QueueResponse(b []byte) {
	c.WriteBuffer = b
	c.BytesWritten = 0
	c.State = Writing
}

// WriteRemaining reports whether bytes still need writing.
func (c *Conn) WriteRemaining() bool {
	return c.BytesWritten < len(c.WriteBuffer)
}

// ResetForNextRequest clears per-request state and returns to Reading,
// incrementing the request counter, per the keep-alive lifecycle in
// spec.md §4.8.
func (c *Conn) ResetForNextRequest(now time.Time) {
	c.WriteBuffer = nil
	c.BytesWritten = 0
	c.RequestsHandled++
	c.RequestStartedAt = time.Time{}
	c.State = Reading
	c.LastActivity = now
}

// IdleFor reports how long the connection has been without activity.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastActivity)
}

// RequestAgeFor reports how long the current request has been pending,
// or zero if none is in flight.
func (c *Conn) RequestAgeFor(now time.Time) time.Duration {
	if c.RequestStartedAt.IsZero() {
		return 0
	}
	return now.Sub(c.RequestStartedAt)
}
