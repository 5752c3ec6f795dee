//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Interest is a bit-set of readiness interests a channel can register for.
type Interest uint8

const (
	// InterestReadable requests EPOLLIN-style readiness.
	InterestReadable Interest = 1 << iota
	// InterestWritable requests EPOLLOUT-style readiness.
	InterestWritable
)

// String renders an interest set the way EpollEngine::event_desc did, for
// use by callers that want to log it; the core package itself never logs.
func (i Interest) String() string {
	switch {
	case i&InterestReadable != 0 && i&InterestWritable != 0:
		return "Readable|Writable"
	case i&InterestReadable != 0:
		return "Readable"
	case i&InterestWritable != 0:
		return "Writable"
	default:
		return "none"
	}
}

// readyEvent is one readiness notification delivered by epoll_wait, scoped
// to a single shard.
type readyEvent struct {
	fd       int
	readable bool
	writable bool
	errOrHup bool
}

// poller wraps one shard's epoll instance, its self-pipe and its
// epoll_wait scratch array (spec: "{multiplexer-handle, self-pipe(r,w),
// event scratch array[M]}").
type poller struct {
	epfd        int
	pipeR       int
	pipeW       int
	pipeWClosed bool // set once wake() has closed pipeW, so Close() doesn't re-close it
	scratch     []unix.EpollEvent
	maxEvent    int
}

// newPoller creates one shard's epoll instance, self-pipe and scratch
// array. Matches EpollEngine::create_epoll_info: on any failure, every
// partial resource already allocated is closed and an error is returned.
func newPoller(maxFd int) (p *poller, err error) {
	p = &poller{maxEvent: maxFd}
	partial := p // p itself is set to nil by the error returns below
	ok := false
	defer func() {
		if !ok {
			partial.Close()
		}
	}()

	p.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	var fds [2]int
	if err = unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, errors.Wrap(err, "pipe2")
	}
	p.pipeR, p.pipeW = fds[0], fds[1]

	if err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.pipeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(p.pipeR),
	}); err != nil {
		return nil, errors.Wrap(err, "epoll_ctl(self-pipe)")
	}

	p.scratch = make([]unix.EpollEvent, maxFd)
	ok = true
	return p, nil
}

// ctl issues one epoll_ctl call translating interests to EPOLLIN/EPOLLOUT.
func (p *poller) ctl(op int, fd int, interests Interest) error {
	var ev unix.EpollEvent
	ev.Fd = int32(fd)
	if interests&InterestReadable != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interests&InterestWritable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// add registers a new fd (EPOLL_CTL_ADD).
func (p *poller) add(fd int, interests Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, interests)
}

// mod updates an already-registered fd's interests (EPOLL_CTL_MOD).
func (p *poller) mod(fd int, interests Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, interests)
}

// del deregisters fd (EPOLL_CTL_DEL).
func (p *poller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks (infinite timeout) for readiness events and translates them,
// applying the precedence rule of spec §4.D step 3: error or
// hup-without-rdhup implies both directions ready; else readable; else
// writable. An EINTR return is retried transparently; the self-pipe's read
// end, if woken, is reported as a readyEvent with fd == pipeR so the worker
// loop can detect shutdown.
func (p *poller) wait() ([]readyEvent, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.scratch, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, errors.Wrap(err, "epoll_wait")
		}

		out := make([]readyEvent, 0, n)
		for i := 0; i < n; i++ {
			ev := p.scratch[i]
			fd := int(ev.Fd)
			if fd == p.pipeR {
				out = append(out, readyEvent{fd: fd})
				continue
			}

			re := readyEvent{fd: fd}
			switch {
			case ev.Events&unix.EPOLLERR != 0:
				re.errOrHup = true
			case ev.Events&unix.EPOLLHUP != 0 && ev.Events&unix.EPOLLRDHUP == 0:
				re.errOrHup = true
			case ev.Events&unix.EPOLLIN != 0:
				re.readable = true
			case ev.Events&unix.EPOLLOUT != 0:
				re.writable = true
			}
			out = append(out, re)
		}
		return out, nil
	}
}

// wake closes the self-pipe's write end, kicking the worker out of
// epoll_wait. Idempotent on its own, and marks pipeW closed so a later
// Close() doesn't close it a second time: on a busy process an fd number
// freed by this close can be reassigned to an unrelated descriptor before
// Close() runs, and closing it again would close that unrelated fd instead.
func (p *poller) wake() {
	if p.pipeWClosed {
		return
	}
	p.pipeWClosed = true
	unix.Close(p.pipeW)
}

// Close tears down the poller's epoll fd and self-pipe. Safe to call after
// wake() already closed pipeW: that close is skipped here, not repeated.
func (p *poller) Close() error {
	if p.pipeR != 0 {
		unix.Close(p.pipeR)
	}
	if !p.pipeWClosed && p.pipeW != 0 {
		unix.Close(p.pipeW)
	}
	if p.epfd != 0 {
		unix.Close(p.epfd)
	}
	return nil
}
