package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// makeSocketpair returns two ends of a connected, non-blocking unix socket
// pair, cheap stand-ins for a real TCP fd when a test only cares about
// reactor-level registration bookkeeping rather than the Connected/Server/
// Client state machines.
func makeSocketpair(t *testing.T) (fd1, fd2 int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReactorSetBoundaryWithRawPipes(t *testing.T) {
	r, err := NewReactor(1, 1)
	require.NoError(t, err)
	defer r.Terminate()

	fd1, fd2 := makeSocketpair(t)
	c1 := newChannelBase(r, fd1, nil)
	c1.bindSelf(&stubHandler{Channel: c1})
	c2 := newChannelBase(r, fd2, nil)
	c2.bindSelf(&stubHandler{Channel: c2})

	assert.True(t, c1.setEvents(InterestReadable), "registration at exactly max_fd must succeed")
	assert.False(t, c2.setEvents(InterestReadable), "registration past max_fd must fail")
	assert.Equal(t, 1, r.FdCount())
}

func TestReactorSetIdempotentOnSameInterest(t *testing.T) {
	r, err := NewReactor(1, 4)
	require.NoError(t, err)
	defer r.Terminate()

	fd1, _ := makeSocketpair(t)
	c1 := newChannelBase(r, fd1, nil)
	c1.bindSelf(&stubHandler{Channel: c1})

	require.True(t, c1.setEvents(InterestReadable))
	before := r.FdCount()
	require.True(t, c1.setEvents(InterestReadable))
	assert.Equal(t, before, r.FdCount())
}

func TestReactorTerminateWithManyChannels(t *testing.T) {
	r, err := NewReactor(4, 4096)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		fd1, _ := makeSocketpair(t)
		c := newChannelBase(r, fd1, nil)
		c.bindSelf(&stubHandler{Channel: c})
		require.True(t, c.setEvents(InterestReadable))
	}
	require.Equal(t, n, r.FdCount())

	done := make(chan struct{})
	go func() {
		r.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminate did not return within a bounded time")
	}
	assert.Equal(t, 0, r.FdCount())
}

func TestReactorTerminateIsIdempotent(t *testing.T) {
	r, err := NewReactor(1, 4)
	require.NoError(t, err)
	r.Terminate()
	r.Terminate() // must not panic or block
}

// stubHandler is a minimal channelHandler for reactor-level tests that don't
// need the full Connected/Server/Client state machines.
type stubHandler struct {
	*Channel
}

func (s *stubHandler) onRecv() {}
func (s *stubHandler) onSend() {}
