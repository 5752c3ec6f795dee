package reactor

// RingBuffer is a circular byte buffer with the same FIFO Append/Peek/
// Consume/Used/Capacity/Free methods as LinearBuffer, offered as an
// alternate storage strategy (spec component B). It has no Data, Truncate
// or WriteOffset methods: buffered bytes are read only by copying them out
// with Peek, and an append cannot be rolled back. Unlike LinearBuffer, r
// and w wrap modulo capacity and a separate used counter distinguishes
// "empty" from "full" (both have r == w).
type RingBuffer struct {
	data []byte
	r, w int
	used int
}

// NewRingBuffer allocates a ring buffer with the given initial capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultChannelBufferSize
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Append writes src into the ring, wrapping across the boundary as needed,
// growing first if there isn't enough free space.
func (b *RingBuffer) Append(src []byte) {
	n := len(src)
	if n == 0 {
		return
	}
	if n > b.Free() {
		b.grow(n)
	}
	pos := b.w
	left := n
	if pos+left > len(b.data) {
		head := len(b.data) - pos
		copy(b.data[pos:], src[:head])
		left -= head
		src = src[head:]
		pos = 0
	}
	copy(b.data[pos:pos+left], src)
	b.w = (b.w + n) % len(b.data)
	b.used += n
}

// Peek assembles up to len(dst) logical bytes, starting at r, from up to
// two physical segments, without advancing r.
func (b *RingBuffer) Peek(dst []byte) int {
	n := len(dst)
	if n > b.used {
		n = b.used
	}
	if n == 0 {
		return 0
	}
	if b.r+n > len(b.data) {
		head := len(b.data) - b.r
		copy(dst, b.data[b.r:])
		copy(dst[head:], b.data[:n-head])
	} else {
		copy(dst, b.data[b.r:b.r+n])
	}
	return n
}

// Consume advances r by up to n bytes (bounded by used()).
func (b *RingBuffer) Consume(n int) int {
	if n > b.used {
		n = b.used
	}
	if n > 0 {
		b.r = (b.r + n) % len(b.data)
		b.used -= n
	}
	return n
}

// Used returns the number of logical bytes currently buffered.
func (b *RingBuffer) Used() int {
	return b.used
}

// Capacity returns the ring's current allocated capacity.
func (b *RingBuffer) Capacity() int {
	return len(b.data)
}

// Free returns the number of bytes that can be appended before a grow is
// required.
func (b *RingBuffer) Free() int {
	return len(b.data) - b.used
}

// Empty reports whether the ring currently holds no bytes.
func (b *RingBuffer) Empty() bool {
	return b.used == 0
}

// grow doubles capacity until it can hold used()+need bytes, relocating the
// wrapped segment (if any) so the logical sequence becomes contiguous
// starting at the original r in the new, larger layout.
func (b *RingBuffer) grow(need int) {
	newCap := len(b.data)
	if newCap == 0 {
		newCap = defaultChannelBufferSize
	}
	for newCap < b.used+need {
		newCap *= 2
	}
	nd := make([]byte, newCap)
	// Re-linearize regardless of wraparound, keeping r where it was: grow
	// is only reached when used+need exceeds the old capacity, so newCap is
	// at least twice the old one and r+used always fits below it.
	if b.used > 0 {
		b.Peek(nd[b.r : b.r+b.used])
	}
	b.data = nd
	b.w = (b.r + b.used) % len(b.data)
}
