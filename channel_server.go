//go:build linux

package reactor

// ServerChannel is a bound, listening socket. Its only event is
// Readable, which it turns into an OnAccept callback; the callback is
// expected to accept() the connection and register a ConnectedChannel.
type ServerChannel struct {
	*Channel

	host    string
	port    int
	backlog int
	hooks   Hooks
}

// NewServerChannel constructs a server channel bound to host:port (host
// empty means INADDR_ANY), not yet listening — call Init to bind and
// listen.
func NewServerChannel(r *Reactor, host string, port, backlog int, arg interface{}, hooks Hooks) *ServerChannel {
	s := &ServerChannel{
		Channel: newChannelBase(r, -1, arg),
		host:    host,
		port:    port,
		backlog: backlog,
		hooks:   hooks,
	}
	s.bindSelf(s)
	return s
}

func (s *ServerChannel) Host() string { return s.host }
func (s *ServerChannel) Port() int    { return s.port }
func (s *ServerChannel) Backlog() int { return s.backlog }

// Init creates the socket, sets SO_REUSEADDR, binds, listens with backlog
// and registers for Readable only. On any step failure the socket is
// closed and Init returns false.
func (s *ServerChannel) Init() bool {
	fd, boundPort, err := listenSocket(s.host, s.port, s.backlog)
	if err != nil {
		return false
	}
	s.port = boundPort
	s.setFd(fd)

	if !s.setEvents(InterestReadable) {
		s.closeFd()
		return false
	}
	return true
}

// Accept accepts one pending connection off the listening socket. Callers
// use this from their OnAccept hook, then wrap the returned fd in a
// ConnectedChannel and register it with the same reactor.
func (s *ServerChannel) Accept() (fd int, err error) {
	fd, _, err = acceptSocket(s.fd())
	return fd, err
}

func (s *ServerChannel) onRecv() {
	if s.hooks.OnAccept != nil {
		s.hooks.OnAccept()
	}
}

func (s *ServerChannel) onSend() {
	// A listening socket never arms Writable interest; nothing to do.
}
