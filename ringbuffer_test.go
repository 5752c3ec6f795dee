package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferAppendConsumeRoundTrip(t *testing.T) {
	b := NewRingBuffer(8)
	b.Append([]byte("ABCD"))
	assert.Equal(t, 4, b.Used())

	got := make([]byte, 4)
	require.Equal(t, 4, b.Peek(got))
	assert.Equal(t, "ABCD", string(got))
	assert.Equal(t, 4, b.Used(), "peek must not consume")

	require.Equal(t, 4, b.Consume(4))
	assert.True(t, b.Empty())
}

func TestRingBufferStraddlesBoundaryIntact(t *testing.T) {
	b := NewRingBuffer(8)
	b.Append([]byte("ABCDEF")) // r=0 w=6
	b.Consume(4)               // r=4 w=6, used=2
	b.Append([]byte("WXYZ"))   // wraps: w goes 6->8->2

	got := make([]byte, 6)
	n := b.Peek(got)
	require.Equal(t, 6, n)
	assert.Equal(t, "EFWXYZ", string(got))
}

func TestRingBufferGrowRelinearizes(t *testing.T) {
	b := NewRingBuffer(4)
	b.Append([]byte("ABCD"))
	b.Consume(2)
	b.Append([]byte("EFGH")) // forces growth past the wrap point

	got := make([]byte, b.Used())
	b.Peek(got)
	assert.Equal(t, "CDEFGH", string(got))
}
