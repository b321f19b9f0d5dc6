// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"errors"
	"fmt"
)

// Validation and setup errors returned synchronously by the Driver API.
var (
	ErrBusy          = errors.New("a request is already in progress")
	ErrFieldTooLong  = errors.New("field exceeds capacity")
	ErrEmptySSID     = errors.New("the empty string is not a valid SSID")
	ErrInvalidMethod = errors.New("request method must be GET or POST")
	ErrStoreFull     = errors.New("no more pages can be set")
	ErrEmptyPath     = errors.New("page path is empty")
	ErrWrongMode     = errors.New("operation not supported in this mode")
	ErrNotPresent    = errors.New("module not responding")
	ErrSetup         = errors.New("module setup failed")
)

// checkCapacity rejects s when it does not fit a field of the given size.
// A size-byte field holds at most size-1 bytes of content.
func checkCapacity(field, s string, size int) error {
	if len(s) > size-1 {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFieldTooLong, field, len(s), size-1)
	}
	return nil
}

// FailureKind classifies why an in-flight attempt was abandoned.
type FailureKind int

// Failure kinds
const (
	KindProtocol FailureKind = iota // module replied with ERROR or FAIL
	KindTimeout                     // state budget elapsed
	KindClosed                      // remote closed the link
	KindSendFail                    // module reported SEND FAIL
	KindStatus                      // connection status could not be determined
)

func (k FailureKind) Error() string {
	switch k {
	case KindProtocol:
		return "module reported an error"
	case KindTimeout:
		return "timed out"
	case KindClosed:
		return "link closed"
	case KindSendFail:
		return "send failed"
	case KindStatus:
		return "connection status unknown"
	default:
		return fmt.Sprintf("unknown failure kind: %d", int(k))
	}
}

// AttemptError records the most recent failed attempt of a state machine.
type AttemptError struct {
	State string
	Kind  FailureKind
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Kind)
}

func (e *AttemptError) Unwrap() error {
	return e.Kind
}
