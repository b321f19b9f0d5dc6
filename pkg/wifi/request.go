// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"fmt"
	"strings"
)

// Method is an HTTP request method supported by the driver.
type Method int

// Supported methods
const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts "GET" or "POST" (any case) to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case "GET":
		return MethodGet, nil
	case "POST":
		return MethodPost, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// Request is one outbound client request.
type Request struct {
	Domain    string
	Path      string
	Data      string // inline payload: URL parameters for GET, form body for POST
	Port      int
	Method    Method
	AutoRetry bool
	TLS       bool

	// Large requests stream an external payload as a chunked POST. The
	// payload is borrowed: it is never copied and must stay alive until the
	// request settles.
	large *ChunkEncoder
}

// Large reports whether the request streams a borrowed payload.
func (r *Request) Large() bool {
	return r.large != nil
}

// Validate checks every field against its fixed capacity.
func (r *Request) Validate() error {
	if r.Method != MethodGet && r.Method != MethodPost {
		return ErrInvalidMethod
	}
	if err := checkCapacity("domain", r.Domain, DomainSize); err != nil {
		return err
	}
	if err := checkCapacity("path", r.Path, PathSize); err != nil {
		return err
	}
	if r.large == nil {
		if err := checkCapacity("data", r.Data, DataSize); err != nil {
			return err
		}
	}
	return nil
}

// RequestSlot holds the single outstanding client request.
type RequestSlot struct {
	req     Request
	pending bool
}

// Accept validates r and makes it the active request. It fails with
// ErrBusy while another request is pending, leaving that one untouched.
func (s *RequestSlot) Accept(r Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if s.pending {
		return ErrBusy
	}
	s.req = r
	s.pending = true
	return nil
}

// Pending reports whether a request is waiting to be executed.
func (s *RequestSlot) Pending() bool {
	return s.pending
}

// Active returns the current request. It stays readable after the slot
// settles so status reporting can show what ran last.
func (s *RequestSlot) Active() *Request {
	return &s.req
}

// Settle ends the current attempt. A failed attempt stays pending only if
// the request asked for automatic retry.
func (s *RequestSlot) Settle(success bool) {
	if success {
		s.pending = false
		return
	}
	s.pending = s.req.AutoRetry
}

// Clear drops the pending request and any transfer progress.
func (s *RequestSlot) Clear() {
	s.pending = false
	if s.req.large != nil {
		s.req.large.Reset()
	}
}
