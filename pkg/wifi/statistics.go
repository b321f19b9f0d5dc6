// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"fmt"
	"time"
)

// Statistics tracks request traffic through the module.
type Statistics struct {
	StartTime time.Time

	Transmitted uint64 // requests the module confirmed as sent
	Received    uint64 // responses (or inbound requests) captured
	Failures    uint64 // abandoned attempts
	Timeouts    uint64 // abandoned attempts caused by a state timeout
	Retries     uint64 // failed attempts re-armed by auto-retry
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

func (s *Statistics) recordFailure(kind FailureKind, retried bool) {
	s.Failures++
	if kind == KindTimeout {
		s.Timeouts++
	}
	if retried {
		s.Retries++
	}
}

// ResetTransmitted zeroes the transmit counter.
func (s *Statistics) ResetTransmitted() {
	s.Transmitted = 0
}

// ResetReceived zeroes the receive counter.
func (s *Statistics) ResetReceived() {
	s.Received = 0
}

// Reset zeroes all counters.
func (s *Statistics) Reset() {
	*s = Statistics{StartTime: time.Now()}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	elapsed := time.Since(s.StartTime)
	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Transmitted:     %8d\n", s.Transmitted)
	result += fmt.Sprintf("Received:        %8d\n", s.Received)
	if s.Failures > 0 {
		result += fmt.Sprintf("Failures:        %8d\n", s.Failures)
		if s.Timeouts > 0 {
			result += fmt.Sprintf("  Timeouts:         %5d\n", s.Timeouts)
		}
		if s.Retries > 0 {
			result += fmt.Sprintf("  Retried:          %5d\n", s.Retries)
		}
	}
	result += "================================\n"
	return result
}
