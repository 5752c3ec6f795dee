package main

import (
	"net"
	"strconv"
)

// splitHostPort parses "host:port" into the (host, port) pair the reactor
// package's channel constructors take directly, rather than a combined
// address string.
func splitHostPort(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return "", 0, err
	}
	return h, port, nil
}
