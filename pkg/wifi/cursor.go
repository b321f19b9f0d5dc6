// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import "bytes"

// cursor walks a byte slice without ever indexing past its end.
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) done() bool {
	return c.pos >= len(c.b)
}

// skipPast advances past the next occurrence of ch. It returns false and
// leaves the cursor at the end if ch does not occur.
func (c *cursor) skipPast(ch byte) bool {
	i := bytes.IndexByte(c.b[c.pos:], ch)
	if i < 0 {
		c.pos = len(c.b)
		return false
	}
	c.pos += i + 1
	return true
}

// until returns the bytes up to (not including) the first of stops, and
// leaves the cursor on that byte.
func (c *cursor) until(stops ...byte) []byte {
	start := c.pos
	for ; c.pos < len(c.b); c.pos++ {
		if bytes.IndexByte(stops, c.b[c.pos]) >= 0 {
			break
		}
	}
	return c.b[start:c.pos]
}

// digitAt parses the single decimal digit at offset.
func digitAt(b []byte, offset int) (int, bool) {
	if offset < 0 || offset >= len(b) {
		return 0, false
	}
	c := b[offset]
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

// parseStatus extracts the connection status digit following "STATUS:".
// It returns -1 unless the input also carries an OK and a digit.
func parseStatus(b []byte) int {
	if !bytes.Contains(b, []byte(MarkerOK)) {
		return -1
	}
	i := bytes.Index(b, []byte(MarkerStatus))
	if i < 0 {
		return -1
	}
	status, ok := digitAt(b, i+len(MarkerStatus))
	if !ok {
		return -1
	}
	return status
}

// parseRequestLine splits a captured request line such as
// "GET /path?a=1 HTTP/1.1\r\nHost" into its path and raw query data.
// The leading '?' is not part of the returned data.
func parseRequestLine(line []byte) (path, data []byte, ok bool) {
	c := cursor{b: line}
	if !c.skipPast(' ') {
		return nil, nil, false
	}
	path = c.until('?', ' ')
	if c.done() {
		return path, nil, len(path) > 0
	}
	if c.b[c.pos] == '?' {
		c.pos++
		data = c.until(' ')
	}
	return path, data, len(path) > 0
}
