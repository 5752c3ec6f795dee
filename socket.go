package reactor

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// setNonblock puts fd into non-blocking mode, the Go equivalent of
// NetUtils::set_socket_unblock.
func setNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return errors.Wrap(err, "setNonblock")
	}
	return nil
}

// setReuseAddr sets SO_REUSEADDR, the only socket option this layer needs
// (NetUtils::set_socket_reuseaddr).
func setReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return errors.Wrap(err, "setReuseAddr")
	}
	return nil
}

// parseIPv4 parses a dotted-quad host, or returns INADDR_ANY for an empty
// host, matching EpollChannelServer::init's host handling.
func parseIPv4(host string) ([4]byte, error) {
	var addr [4]byte
	if host == "" {
		return addr, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return addr, errors.Errorf("invalid host %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return addr, errors.Errorf("host %q is not an IPv4 address", host)
	}
	copy(addr[:], ip4)
	return addr, nil
}

// listenSocket creates, binds and listens a non-blocking IPv4 TCP socket,
// mirroring EpollChannelServer::init. boundPort is the port actually bound,
// which differs from the requested port when port == 0 (OS-assigned).
func listenSocket(host string, port int, backlog int) (fd int, boundPort int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, errors.Wrap(err, "socket")
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err = setReuseAddr(fd); err != nil {
		return -1, 0, err
	}
	if err = setNonblock(fd); err != nil {
		return -1, 0, err
	}

	addr, err := parseIPv4(host)
	if err != nil {
		return -1, 0, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err = unix.Bind(fd, sa); err != nil {
		return -1, 0, errors.Wrap(err, "bind")
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return -1, 0, errors.Wrap(err, "listen")
	}

	boundPort = port
	if bound, err := unix.Getsockname(fd); err == nil {
		if in4, ok := bound.(*unix.SockaddrInet4); ok {
			boundPort = in4.Port
		}
	}

	ok = true
	return fd, boundPort, nil
}

// acceptSocket accepts one connection off a listening fd, setting the
// accepted socket non-blocking before returning it.
func acceptSocket(listenFd int) (fd int, sa unix.Sockaddr, err error) {
	fd, sa, err = unix.Accept(listenFd)
	if err != nil {
		return -1, nil, err
	}
	if err = setNonblock(fd); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sa, nil
}

// connectSocket creates a non-blocking socket and starts an async connect,
// mirroring EpollChannelClient::init. Both immediate success and
// EINPROGRESS are treated as a successful start.
func connectSocket(host string, port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err = setNonblock(fd); err != nil {
		return -1, err
	}

	addr, err := parseIPv4(host)
	if err != nil {
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		return -1, errors.Wrap(err, "connect")
	}

	ok = true
	return fd, nil
}

// socketError reads SO_ERROR off fd, the Go equivalent of get_socket_error
// in epoll_channel.cpp.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}
