// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs a step function from a periodic tick. It stands in for
// the timer interrupt of the firmware: callers that mutate state shared
// with the step function bracket the mutation with Suspend and Resume,
// and no step runs in between.
type Scheduler struct {
	interval time.Duration
	step     func(now time.Time)

	mu sync.Mutex // held for each step and while suspended

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(interval time.Duration, step func(now time.Time)) *Scheduler {
	return &Scheduler{interval: interval, step: step}
}

// Start begins ticking until ctx is cancelled or Stop is called. Starting
// a running scheduler has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick runs one step at now. Tests call it directly with a fake clock.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(now)
}

// Stop halts the tick and waits for an in-progress step to finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Running reports whether the periodic tick is active. A tick stopped by
// its context being cancelled is not running.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running()
}

func (s *Scheduler) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Suspend blocks the tick until Resume is called.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
}

// Resume releases the tick.
func (s *Scheduler) Resume() {
	s.mu.Unlock()
}
