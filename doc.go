// Package reactor is a multi-threaded event-driven TCP reactor.
//
// A pool of I/O worker goroutines, each owning an independent epoll
// instance, drives a set of non-blocking sockets through listen/accept,
// connect, recv, send and close. A Channel hierarchy sits on top of the
// reactor and owns per-connection read/write buffers, turning raw byte
// streams into application messages via a user-supplied Decoder. A
// companion Timer service fires callbacks after a requested delay on a
// small pool of its own goroutines.
//
// Concrete frame codecs, application protocol logic, and socket option
// helpers beyond the few this package needs are external collaborators;
// see Decoder.
package reactor
