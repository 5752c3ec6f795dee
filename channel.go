//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const recvChunkSize = 32 * 1024 // RECV_BUF_SIZE in the source this package was ported from.

// Decoder maps a byte prefix to (consumed, message). consumed == 0 means
// "need more bytes"; consumed > 0 means exactly one framed message was
// produced and consumed bytes should be discarded. Decoders must be pure
// functions of the prefix: concrete frame codecs are an external
// collaborator, not part of this package.
type Decoder interface {
	Decode(data []byte) (consumed int, message []byte)
}

// Hooks are the user-overridable callbacks a channel delivers events
// through. Which fields a given channel variant actually invokes is
// documented on that variant.
type Hooks struct {
	// OnAccept fires on every Readable event of a ServerChannel; the user
	// is expected to accept() and register a ConnectedChannel.
	OnAccept func()
	// OnConnect fires once, on the first Writable event of a ClientChannel.
	OnConnect func()
	// OnMessage delivers one decoded frame, in byte-stream order, without
	// the channel's mutex held.
	OnMessage func(message []byte)
	// OnClose fires once, when the peer closes or send hits EPIPE.
	OnClose func()
	// OnError fires once, on any other transport error, with the errno.
	OnError func(err error)
}

// Channel is the common base of the Server/Client/Connected hierarchy: one
// file descriptor bound to a reactor worker. fd is -1 before init.
type Channel struct {
	socketFd int32
	reactor  *Reactor
	arg      interface{}
	released int32 // one-way latch; atomic so handlers can short-circuit lock-free.

	// self points at the outermost concrete channel type (ConnectedChannel,
	// ClientChannel or ServerChannel). Go has no virtual dispatch, so
	// setEvents registers self with the reactor rather than the embedded
	// *Channel, which would otherwise shadow the outer type's onRecv/onSend
	// overrides.
	self channelHandler
}

func newChannelBase(r *Reactor, fd int, arg interface{}) *Channel {
	return &Channel{socketFd: int32(fd), reactor: r, arg: arg}
}

// bindSelf records the outermost concrete channel value; every exported
// constructor must call this once, after it has the fully-formed value.
func (c *Channel) bindSelf(h channelHandler) { c.self = h }

// fd satisfies channelHandler. The value is set by Init (setFd) and reset to
// -1 by closeFd; both writes and this read are atomic, so no lock is needed
// (EpollChannel::get_fd is likewise unguarded in the source).
func (c *Channel) fd() int { return int(atomic.LoadInt32(&c.socketFd)) }

// Fd returns the channel's file descriptor, or -1 before init.
func (c *Channel) Fd() int { return c.fd() }

func (c *Channel) setFd(fd int) { atomic.StoreInt32(&c.socketFd, int32(fd)) }

// Arg returns the opaque user argument supplied at construction.
func (c *Channel) Arg() interface{} { return c.arg }

// Release marks the channel for deregistration and immediately deregisters
// and closes its fd: the Go analog of the reactor's fd-map entry holding the
// sole strong reference to the channel, whose destructor closes _fd once
// that entry is erased. Monotonic; calling it twice is equivalent to calling
// it once (the CAS below ensures only the first caller deregisters/closes).
// A worker loop that later visits this fd's shard also deregisters it as a
// backstop, but that must not be the only path: a channel released by
// application code between readiness events (idle timeout, an explicit
// hang-up) may never be visited again otherwise.
func (c *Channel) Release() {
	if !atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		return
	}
	if c.reactor != nil && c.self != nil {
		c.reactor.del(c.self)
	}
	c.closeFd()
}

func (c *Channel) isReleased() bool {
	return atomic.LoadInt32(&c.released) != 0
}

// Released reports whether Release has been called.
func (c *Channel) Released() bool { return c.isReleased() }

// setEvents is the only interest-modification entry point; it delegates to
// the owning reactor, promoting the weak back-reference and failing
// gracefully if the reactor is gone.
func (c *Channel) setEvents(interests Interest) bool {
	if c.reactor == nil || c.self == nil {
		return false
	}
	return c.reactor.set(c.self, interests)
}

// closeFd closes the underlying fd exactly once, the Go equivalent of
// ~EpollChannel closing _fd in its destructor. Safe to call redundantly.
func (c *Channel) closeFd() {
	fd := int(atomic.SwapInt32(&c.socketFd, -1))
	if fd != -1 {
		unix.Close(fd)
	}
}

// onRecv/onSend have no meaning for the bare base Channel; every concrete
// variant below provides its own.

// ConnectedChannel is an already-connected socket (accepted by a
// ServerChannel, or a ClientChannel once its connect completes). It owns
// the read/write buffers and runs the decode loop.
type ConnectedChannel struct {
	*Channel

	decoder Decoder
	hooks   Hooks

	mu          sync.Mutex
	readBuf     *LinearBuffer
	writeBuf    *LinearBuffer
	established bool
}

// NewConnectedChannel wraps an already-connected fd (typically just
// accepted by a ServerChannel). decoder must be non-nil.
func NewConnectedChannel(r *Reactor, fd int, arg interface{}, decoder Decoder, hooks Hooks) *ConnectedChannel {
	c := &ConnectedChannel{
		Channel:  newChannelBase(r, fd, arg),
		decoder:  decoder,
		hooks:    hooks,
		readBuf:  NewLinearBuffer(defaultChannelBufferSize),
		writeBuf: NewLinearBuffer(defaultChannelBufferSize),
	}
	c.bindSelf(c)
	return c
}

// Init registers the channel for Readable interest and marks it
// established. Already-connected sockets have nothing else to set up.
func (c *ConnectedChannel) Init() bool {
	if !c.setEvents(InterestReadable) {
		return false
	}
	c.mu.Lock()
	c.established = true
	c.mu.Unlock()
	return true
}

func (c *ConnectedChannel) isOK() bool {
	return !c.isReleased() && c.established
}

// onSend is the reactor worker callback for writable readiness (spec
// §4.E "on_send handler").
func (c *ConnectedChannel) onSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isOK() {
		return
	}
	if c.writeBuf.Used() == 0 {
		c.setEvents(InterestReadable)
		return
	}

	used := c.writeBuf.Used()
	n, err := unix.Write(c.fd(), c.writeBuf.Data()[:used])
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return
	}
	if err != nil {
		if err == unix.EPIPE {
			c.invokeClose()
		} else {
			c.invokeError(errors.Wrap(err, "send"))
		}
		c.Release()
		return
	}

	if n > 0 {
		c.writeBuf.Consume(n)
	}
	if n == used {
		c.setEvents(InterestReadable)
	}
}

// onRecv is the reactor worker callback for readable readiness (spec
// §4.E "on_recv handler").
func (c *ConnectedChannel) onRecv() {
	c.mu.Lock()
	ok := c.isOK()
	c.mu.Unlock()
	if !ok {
		return
	}

	var buf [recvChunkSize]byte
	n, err := unix.Read(c.fd(), buf[:])
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return
	}
	if err != nil {
		c.invokeError(errors.Wrap(err, "recv"))
		c.Release()
		return
	}
	if n == 0 {
		c.invokeClose()
		c.Release()
		return
	}

	c.mu.Lock()
	c.readBuf.Append(buf[:n])
	c.mu.Unlock()

	for {
		c.mu.Lock()
		consumed, message := c.decoder.Decode(c.readBuf.Data())
		if consumed <= 0 {
			c.mu.Unlock()
			return
		}
		c.readBuf.Consume(consumed)
		c.mu.Unlock()

		if c.hooks.OnMessage != nil {
			c.hooks.OnMessage(message)
		}
	}
}

// SendBuffer enqueues bytes for transmission and arms writable interest
// (spec §4.E "Send path"). Returns false without writing anything if the
// channel is released, not yet established, or registration fails.
func (c *ConnectedChannel) SendBuffer(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOK() {
		return false
	}

	oldW := c.writeBuf.WriteOffset()
	c.writeBuf.Append(data)

	if !c.setEvents(InterestReadable | InterestWritable) {
		c.writeBuf.Truncate(oldW)
		return false
	}
	return true
}

func (c *ConnectedChannel) invokeClose() {
	if c.hooks.OnClose != nil {
		c.hooks.OnClose()
	}
}

func (c *ConnectedChannel) invokeError(err error) {
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}
