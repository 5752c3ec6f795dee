//go:build linux

package reactor

import (
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

const defaultChannelBufferSize = 1024

var ignoreSigpipeOnce sync.Once

// channelEntry is the reactor's record for one registered fd (spec:
// "map fd -> {fd, shard-index, channel}").
type channelEntry struct {
	fd    int
	shard int
	ch    channelHandler
}

// channelHandler is the subset of behavior every channel variant
// (ServerChannel, ClientChannel, ConnectedChannel) shares, letting the
// reactor dispatch readiness callbacks without caring which variant it
// holds.
type channelHandler interface {
	onRecv()
	onSend()
	isReleased() bool
	fd() int
	closeFd()
}

// shard owns one poller and the worker goroutine driving it.
type shard struct {
	p *poller
}

// Reactor is a sharded readiness multiplexer: T worker goroutines, each
// sovereign over its own epoll instance, driving a disjoint set of file
// descriptors assigned by fd modulo T.
type Reactor struct {
	threadCount int
	maxFd       int

	shards []shard

	mu         sync.Mutex
	fds        map[int]*channelEntry
	terminated bool

	wg sync.WaitGroup
}

// NewReactor constructs a reactor with threadCount worker goroutines that
// together track up to maxFd file descriptors (the limit applies to the
// reactor as a whole, not to each shard). Construction ignores
// SIGPIPE process-wide (EpollEngine::EpollEngine). Failure to allocate any
// shard tears down all partial shards and returns an error.
func NewReactor(threadCount, maxFd int) (*Reactor, error) {
	if threadCount <= 0 {
		threadCount = 1
	}
	ignoreSigpipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})

	r := &Reactor{
		threadCount: threadCount,
		maxFd:       maxFd,
		shards:      make([]shard, threadCount),
		fds:         make(map[int]*channelEntry),
	}

	for i := 0; i < threadCount; i++ {
		p, err := newPoller(maxFd)
		if err != nil {
			for j := 0; j < i; j++ {
				r.shards[j].p.Close()
			}
			return nil, errors.Wrapf(err, "reactor: allocate shard %d", i)
		}
		r.shards[i].p = p
	}

	for i := 0; i < threadCount; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}

	return r, nil
}

// shardFor returns the shard index a given fd belongs to for its whole
// lifetime: fd mod threadCount.
func (r *Reactor) shardFor(fd int) int {
	return fd % r.threadCount
}

// set registers interests for ch, or updates them if ch's fd is
// already registered (idempotent with respect to the interest set).
// Assignment to a shard is fd mod threadCount and never changes for the
// fd's lifetime.
func (r *Reactor) set(ch channelHandler, interests Interest) bool {
	fd := ch.fd()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated {
		return false
	}

	_, exists := r.fds[fd]
	shardIdx := r.shardFor(fd)
	p := r.shards[shardIdx].p

	if !exists && len(r.fds) >= r.maxFd {
		return false
	}

	var err error
	if exists {
		err = p.mod(fd, interests)
	} else {
		err = p.add(fd, interests)
	}
	if err != nil {
		return false
	}

	r.fds[fd] = &channelEntry{fd: fd, shard: shardIdx, ch: ch}
	return true
}

// del deregisters ch's fd from the poller, then erases the map entry.
func (r *Reactor) del(ch channelHandler) bool {
	fd := ch.fd()
	r.mu.Lock()
	entry, ok := r.fds[fd]
	if !ok {
		r.mu.Unlock()
		return false
	}
	p := r.shards[entry.shard].p
	r.mu.Unlock()

	err := p.del(fd)

	r.mu.Lock()
	if r.fds[fd] == entry {
		delete(r.fds, fd)
	}
	r.mu.Unlock()
	return err == nil
}

// FdCount returns the number of fds currently registered with the reactor.
func (r *Reactor) FdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fds)
}

// Terminate atomically marks the reactor terminated, wakes every shard's
// worker via its self-pipe, joins all workers, closes the pollers and drops
// remaining channel references (their destructors/Close close the
// underlying fd). Idempotent.
func (r *Reactor) Terminate() {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return
	}
	r.terminated = true
	remaining := r.fds
	r.fds = make(map[int]*channelEntry)
	r.mu.Unlock()

	for i := range r.shards {
		r.shards[i].p.wake()
	}
	r.wg.Wait()

	for i := range r.shards {
		r.shards[i].p.Close()
	}

	for _, entry := range remaining {
		entry.ch.closeFd()
	}
}

// workerLoop is the core event loop of shard index i (spec §4.D "Worker
// loop"). It never holds the reactor mutex across a callback or syscall.
func (r *Reactor) workerLoop(i int) {
	defer r.wg.Done()
	p := r.shards[i].p

	for {
		events, err := p.wait()
		if err != nil {
			// Fatal per spec §7.5: anything other than EINTR (already
			// retried inside poller.wait) ends this shard's loop.
			return
		}

		for _, e := range events {
			if e.fd == p.pipeR {
				return
			}

			r.mu.Lock()
			entry, ok := r.fds[e.fd]
			r.mu.Unlock()
			if !ok {
				// A miss here is a bug: the poller should never report an
				// fd the reactor didn't register. Skip rather than panic
				// a worker goroutine shared by many connections.
				continue
			}
			ch := entry.ch

			recvReady, sendReady := translateEvent(e)

			if recvReady && !ch.isReleased() {
				ch.onRecv()
			}
			if sendReady && !ch.isReleased() {
				ch.onSend()
			}
			if ch.isReleased() {
				// Channel.Release() already deregisters and closes the fd
				// the moment it's called; both calls are here only as a
				// backstop for a channel released by its own onRecv/onSend
				// handler above (e.g. on EPIPE/peer-close), and are no-ops
				// when Release already did the work.
				r.del(ch)
				ch.closeFd()
			}
		}
	}
}

// translateEvent derives (recv_ready, send_ready) from one readyEvent with
// the precedence required by spec §4.D step 3.
func translateEvent(e readyEvent) (recv, send bool) {
	if e.errOrHup {
		return true, true
	}
	if e.readable {
		return true, false
	}
	if e.writable {
		return false, true
	}
	return false, false
}
