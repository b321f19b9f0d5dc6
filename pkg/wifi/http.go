// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import "strconv"

// HTTP framing fragments
const (
	httpGet       = "GET "
	httpPost      = "POST "
	httpHost      = " HTTP/1.1\r\nHost: "
	httpLength    = "\r\nAccept:*/*\r\nContent-Length: "
	httpForm      = "\r\nContent-Type: application/x-www-form-urlencoded"
	httpJSON      = "\r\nContent-Type:application/json"
	httpChunked   = "\r\nAccept:*/*\r\nTransfer-Encoding:chunked"
	httpHeaderEnd = "\r\n\r\n"
)

func appendHost(dst []byte, r *Request) []byte {
	dst = append(dst, httpHost...)
	dst = append(dst, r.Domain...)
	dst = append(dst, ':')
	return strconv.AppendInt(dst, int64(r.Port), 10)
}

// AppendGet frames r as a GET with its data as the (already encoded)
// query string.
func AppendGet(dst []byte, r *Request) []byte {
	dst = append(dst, httpGet...)
	dst = append(dst, r.Path...)
	dst = append(dst, '?')
	dst = append(dst, r.Data...)
	dst = appendHost(dst, r)
	return append(dst, httpHeaderEnd...)
}

// AppendPost frames r as a form-encoded POST carrying its data as body.
func AppendPost(dst []byte, r *Request) []byte {
	dst = append(dst, httpPost...)
	dst = append(dst, r.Path...)
	dst = appendHost(dst, r)
	dst = append(dst, httpLength...)
	dst = strconv.AppendInt(dst, int64(len(r.Data)), 10)
	dst = append(dst, httpForm...)
	dst = append(dst, httpHeaderEnd...)
	return append(dst, r.Data...)
}

// AppendChunkedHeader frames the header block of a chunked POST.
func AppendChunkedHeader(dst []byte, r *Request) []byte {
	dst = append(dst, httpPost...)
	dst = append(dst, r.Path...)
	dst = appendHost(dst, r)
	dst = append(dst, httpJSON...)
	dst = append(dst, httpChunked...)
	return append(dst, httpHeaderEnd...)
}

// AppendRequest frames a small request according to its method.
func AppendRequest(dst []byte, r *Request) []byte {
	if r.Method == MethodPost {
		return AppendPost(dst, r)
	}
	return AppendGet(dst, r)
}
