//go:build linux

package reactor

import "github.com/pkg/errors"

// ClientChannel is an outbound socket that starts a non-blocking connect in
// Init and only becomes a full ConnectedChannel once the first Writable
// event confirms the connect finished.
type ClientChannel struct {
	*ConnectedChannel

	host string
	port int
}

// NewClientChannel constructs a client channel that will connect to
// host:port once Init is called.
func NewClientChannel(r *Reactor, host string, port int, arg interface{}, decoder Decoder, hooks Hooks) *ClientChannel {
	c := &ClientChannel{
		ConnectedChannel: NewConnectedChannel(r, -1, arg, decoder, hooks),
		host:             host,
		port:             port,
	}
	// Override self: ConnectedChannel's constructor bound the reactor-facing
	// handler to the embedded *ConnectedChannel, but ClientChannel overrides
	// onSend, so registrations must dispatch through the outer type.
	c.bindSelf(c)
	return c
}

func (c *ClientChannel) Host() string { return c.host }
func (c *ClientChannel) Port() int    { return c.port }

// Init creates a non-blocking socket and starts an async connect. Both
// immediate success and EINPROGRESS are accepted; any other error closes
// the newly created fd (not a stale -1, fixing the original source's
// error-path bug described in spec §9) and fails. Registers for
// Readable|Writable; establishment itself happens on the first Writable
// event, in onSend.
func (c *ClientChannel) Init() bool {
	fd, err := connectSocket(c.host, c.port)
	if err != nil {
		return false
	}
	c.setFd(fd)

	if !c.setEvents(InterestReadable | InterestWritable) {
		c.closeFd()
		return false
	}
	return true
}

// onSend overrides ConnectedChannel.onSend: the first Writable event means
// the non-blocking connect finished (EpollChannelClient::on_send), which
// must be confirmed via SO_ERROR since a failed connect also delivers a
// Writable (or error/hup) readiness event. Success marks the channel
// established and fires OnConnect; failure fires OnError and releases.
// Every subsequent Writable event falls through to the normal Connected
// send path.
func (c *ClientChannel) onSend() {
	c.mu.Lock()
	if c.isReleased() {
		c.mu.Unlock()
		return
	}
	firstEvent := !c.established

	if firstEvent {
		if err := socketError(c.fd()); err != nil {
			c.mu.Unlock()
			c.invokeError(errors.Wrap(err, "connect"))
			c.Release()
			return
		}
		c.established = true
	}
	c.mu.Unlock()

	if firstEvent {
		if c.hooks.OnConnect != nil {
			c.hooks.OnConnect()
		}
		c.setEvents(InterestReadable | InterestWritable)
		return
	}

	c.ConnectedChannel.onSend()
}
