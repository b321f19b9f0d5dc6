// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// pollInterval is how long the blocking helpers sleep when the transport
// has nothing buffered.
const pollInterval = 200 * time.Microsecond

// CommandChannel is the synchronous command helper used during setup,
// while the tick is suspended. Its waits are bounded spin-waits.
type CommandChannel struct {
	t   Transport
	log *zap.Logger
}

// NewCommandChannel wraps t.
func NewCommandChannel(t Transport, log *zap.Logger) *CommandChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandChannel{t: t, log: log}
}

// Drain discards all buffered input.
func (c *CommandChannel) Drain() {
	drain(c.t)
}

// Send writes one command line.
func (c *CommandChannel) Send(line string) error {
	if _, err := c.t.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("failed to write %q: %w", line, err)
	}
	return nil
}

// WaitFor reads input until target has arrived or timeout elapses.
func (c *CommandChannel) WaitFor(target string, timeout time.Duration) bool {
	c.log.Debug("waiting", zap.String("target", target), zap.Duration("timeout", timeout))
	want := []byte(target)
	var resp []byte
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.t.Buffered() == 0 {
			time.Sleep(pollInterval)
			continue
		}
		b, err := c.t.ReadByte()
		if err != nil {
			continue
		}
		resp = append(resp, b)
		if bytes.HasSuffix(resp, want) {
			return true
		}
		if len(resp) >= BufferSize {
			resp = resp[len(resp)-len(want):]
		}
	}
	return false
}

// Exec drains input, sends line, and waits for target.
func (c *CommandChannel) Exec(line, target string, timeout time.Duration) bool {
	c.Drain()
	if err := c.Send(line); err != nil {
		c.log.Warn("command not sent", zap.Error(err))
		return false
	}
	ok := c.WaitFor(target, timeout)
	if !ok {
		c.log.Debug("command timed out", zap.String("command", line), zap.String("target", target))
	}
	return ok
}

// Collect sends line and returns everything received during window.
func (c *CommandChannel) Collect(line string, window time.Duration) (string, error) {
	c.Drain()
	if err := c.Send(line); err != nil {
		return "", err
	}
	var resp []byte
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if c.t.Buffered() == 0 {
			time.Sleep(pollInterval)
			continue
		}
		b, err := c.t.ReadByte()
		if err != nil {
			continue
		}
		resp = append(resp, b)
	}
	return string(resp), nil
}

// QueryMAC reads the module MAC address: the MACSize characters after the
// first quote of the reply, followed by OK.
func (c *CommandChannel) QueryMAC(timeout time.Duration) (string, error) {
	c.Drain()
	if err := c.Send(atQueryMAC); err != nil {
		return "", err
	}
	mac := make([]byte, 0, MACSize)
	inQuote := false
	start := time.Now()
	for time.Since(start) < timeout {
		if c.t.Buffered() == 0 {
			time.Sleep(pollInterval)
			continue
		}
		b, err := c.t.ReadByte()
		if err != nil {
			continue
		}
		if !inQuote {
			inQuote = b == '"'
			continue
		}
		mac = append(mac, b)
		if len(mac) >= MACSize {
			if c.WaitFor(MarkerOK, timeout-time.Since(start)) {
				return string(mac), nil
			}
			break
		}
	}
	c.log.Warn("MAC address request timed out", zap.Int("captured", len(mac)))
	return "", fmt.Errorf("%w: MAC address request timed out", ErrSetup)
}
