// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"fmt"
	"strconv"
)

// lastChunk terminates a chunked body.
const lastChunk = "0\r\n\r\n"

// ChunkCapacity returns the largest chunk payload whose framing
// (hex length, CRLF, payload, CRLF) fits a window of the given size.
func ChunkCapacity(window int) int {
	return window - len(strconv.FormatInt(int64(window), 16)) - 4
}

// ChunkEncoder frames a borrowed payload as HTTP/1.1 chunks, one chunk
// per call, so a large body can be pushed one send window at a time.
type ChunkEncoder struct {
	payload  []byte
	offset   int
	capacity int
	started  bool
	finished bool
}

// NewChunkEncoder returns an encoder emitting chunks of at most capacity
// payload bytes.
func NewChunkEncoder(payload []byte, capacity int) *ChunkEncoder {
	return &ChunkEncoder{payload: payload, capacity: capacity}
}

// Remaining returns how many payload bytes have not been framed yet.
func (e *ChunkEncoder) Remaining() int {
	return len(e.payload) - e.offset
}

// Offset returns how many payload bytes have been framed.
func (e *ChunkEncoder) Offset() int {
	return e.offset
}

// Len returns the total payload length.
func (e *ChunkEncoder) Len() int {
	return len(e.payload)
}

// Started reports whether the request header block has been sent.
func (e *ChunkEncoder) Started() bool {
	return e.started
}

// MarkStarted records that the header block went out.
func (e *ChunkEncoder) MarkStarted() {
	e.started = true
}

// Finished reports whether the terminating chunk has been emitted.
func (e *ChunkEncoder) Finished() bool {
	return e.finished
}

// AppendNext appends the next frame to dst. When no payload remains the
// frame is the terminating zero-length chunk and last is true.
func (e *ChunkEncoder) AppendNext(dst []byte) (frame []byte, last bool) {
	n := e.Remaining()
	if n > e.capacity {
		n = e.capacity
	}
	if n == 0 {
		e.finished = true
		return append(dst, lastChunk...), true
	}
	dst = fmt.Appendf(dst, "%X\r\n", n)
	dst = append(dst, e.payload[e.offset:e.offset+n]...)
	dst = append(dst, "\r\n"...)
	e.offset += n
	return dst, false
}

// Reset rewinds the encoder so the payload can be sent again from the
// start on a fresh connection.
func (e *ChunkEncoder) Reset() {
	e.offset = 0
	e.started = false
	e.finished = false
}
