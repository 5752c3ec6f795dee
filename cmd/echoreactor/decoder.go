package main

import "bytes"

// lineDecoder treats '\n' as a frame delimiter, the simplest Decoder that
// exercises reactor.ConnectedChannel's "consume a prefix, return a message"
// contract against real, variable-length input.
type lineDecoder struct{}

func (lineDecoder) Decode(data []byte) (consumed int, message []byte) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return 0, nil
	}
	msg := make([]byte, i)
	copy(msg, data[:i])
	return i + 1, msg
}
