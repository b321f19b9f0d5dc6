// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"bytes"

	"github.com/indigo-web/utils/uf"
	"go.uber.org/zap"
)

// ResponseBuffer accumulates serial input between recognized events.
// It never grows and never wraps: once capacity-1 bytes are held, further
// input stays in the transport until the owning machine clears the buffer.
type ResponseBuffer struct {
	buf  []byte
	full bool
	log  *zap.Logger
}

// NewResponseBuffer creates a buffer holding at most capacity-1 bytes.
func NewResponseBuffer(capacity int, log *zap.Logger) *ResponseBuffer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponseBuffer{
		buf: make([]byte, 0, capacity-1),
		log: log,
	}
}

// Load copies available transport bytes into the buffer until the
// transport is drained or the buffer is full. It returns the number of
// bytes copied. Every step that tests markers must Load first.
func (b *ResponseBuffer) Load(t Transport) int {
	n := 0
	for len(b.buf) < cap(b.buf) && t.Buffered() > 0 {
		c, err := t.ReadByte()
		if err != nil {
			break
		}
		b.buf = append(b.buf, c)
		n++
	}
	if len(b.buf) == cap(b.buf) {
		if !b.full {
			b.log.Warn("input buffer is full", zap.Int("size", len(b.buf)))
		}
		b.full = true
	}
	return n
}

// Contains reports whether marker occurs in the buffer.
func (b *ResponseBuffer) Contains(marker string) bool {
	return bytes.Contains(b.buf, []byte(marker))
}

// ExtractThrough returns a copy of the buffer up to and including the first
// occurrence of marker.
func (b *ResponseBuffer) ExtractThrough(marker string) ([]byte, bool) {
	i := bytes.Index(b.buf, []byte(marker))
	if i < 0 {
		return nil, false
	}
	return bytes.Clone(b.buf[:i+len(marker)]), true
}

// ExtractBetween returns a copy of the buffer from the first occurrence of
// start through the first occurrence of end that follows it, both markers
// included.
func (b *ResponseBuffer) ExtractBetween(start, end string) ([]byte, bool) {
	i := bytes.Index(b.buf, []byte(start))
	if i < 0 {
		return nil, false
	}
	j := bytes.Index(b.buf[i+len(start):], []byte(end))
	if j < 0 {
		return nil, false
	}
	stop := i + len(start) + j + len(end)
	return bytes.Clone(b.buf[i:stop]), true
}

// Clear logically truncates the buffer to empty.
func (b *ResponseBuffer) Clear() {
	b.buf = b.buf[:0]
	b.full = false
}

// Len returns the number of buffered bytes.
func (b *ResponseBuffer) Len() int {
	return len(b.buf)
}

// Full reports whether the capacity ceiling was reached.
func (b *ResponseBuffer) Full() bool {
	return b.full
}

// Bytes returns the buffered bytes. The slice is only valid until the next
// Load or Clear.
func (b *ResponseBuffer) Bytes() []byte {
	return b.buf
}

// String returns a view of the buffer, valid until the next Load or Clear.
func (b *ResponseBuffer) String() string {
	return uf.B2S(b.buf)
}
