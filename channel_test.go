package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedFrameDecoder treats every n bytes as one frame.
type fixedFrameDecoder struct{ n int }

func (d fixedFrameDecoder) Decode(data []byte) (int, []byte) {
	if len(data) < d.n {
		return 0, nil
	}
	msg := make([]byte, d.n)
	copy(msg, data[:d.n])
	return d.n, msg
}

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := NewReactor(2, 64)
	require.NoError(t, err)
	t.Cleanup(r.Terminate)
	return r
}

func TestChannelEcho(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var serverFrames [][]byte
	var clientFrames [][]byte
	serverGotTwo := make(chan struct{})
	clientGotTwo := make(chan struct{})
	var serverOnce, clientOnce sync.Once

	srv := NewServerChannel(r, "127.0.0.1", 0, 16, nil, Hooks{})
	require.True(t, srv.Init())

	acceptAndRegister := func() {
		fd, err := srv.Accept()
		require.NoError(t, err)
		var cc *ConnectedChannel
		cc = NewConnectedChannel(r, fd, nil, fixedFrameDecoder{4}, Hooks{
			OnMessage: func(msg []byte) {
				mu.Lock()
				serverFrames = append(serverFrames, append([]byte(nil), msg...))
				n := len(serverFrames)
				mu.Unlock()
				cc.SendBuffer(msg)
				if n == 2 {
					serverOnce.Do(func() { close(serverGotTwo) })
				}
			},
		})
		require.True(t, cc.Init())
	}
	srv.hooks.OnAccept = acceptAndRegister

	var client *ClientChannel
	client = NewClientChannel(r, "127.0.0.1", srv.Port(), nil, fixedFrameDecoder{4}, Hooks{
		OnConnect: func() {
			client.SendBuffer([]byte("ABCDEFGH"))
		},
		OnMessage: func(msg []byte) {
			mu.Lock()
			clientFrames = append(clientFrames, append([]byte(nil), msg...))
			n := len(clientFrames)
			mu.Unlock()
			if n == 2 {
				clientOnce.Do(func() { close(clientGotTwo) })
			}
		},
	})
	require.True(t, client.Init())

	select {
	case <-serverGotTwo:
	case <-time.After(2 * time.Second):
		t.Fatal("server never decoded both frames")
	}
	select {
	case <-clientGotTwo:
	case <-time.After(2 * time.Second):
		t.Fatal("client never got both echoed frames back")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, serverFrames, 2)
	require.Equal(t, "ABCD", string(serverFrames[0]))
	require.Equal(t, "EFGH", string(serverFrames[1]))
	require.Len(t, clientFrames, 2)
	require.Equal(t, "ABCD", string(clientFrames[0]))
	require.Equal(t, "EFGH", string(clientFrames[1]))
}

func TestChannelPeerClose(t *testing.T) {
	r := newTestReactor(t)

	acceptedCh := make(chan *ConnectedChannel, 1)
	closed := make(chan struct{})
	var closeOnce sync.Once

	srv := NewServerChannel(r, "127.0.0.1", 0, 16, nil, Hooks{})
	require.True(t, srv.Init())
	srv.hooks.OnAccept = func() {
		fd, err := srv.Accept()
		require.NoError(t, err)
		cc := NewConnectedChannel(r, fd, nil, fixedFrameDecoder{1}, Hooks{})
		require.True(t, cc.Init())
		acceptedCh <- cc
	}

	client := NewClientChannel(r, "127.0.0.1", srv.Port(), nil, fixedFrameDecoder{1}, Hooks{
		OnClose: func() {
			closeOnce.Do(func() { close(closed) })
		},
	})
	require.True(t, client.Init())

	var accepted *ConnectedChannel
	select {
	case accepted = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the client connection")
	}
	accepted.Release()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed on_close after peer release")
	}
	require.True(t, client.Released())
}
