// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ClientState is a station-mode protocol state.
type ClientState int

// Station-mode states
const (
	StateIdle          ClientState = iota // nothing in progress
	StateCIPStatus                        // awaiting connection status reply
	StateCWJAP                            // associating with the network
	StateCIPStart                         // awaiting TCP/SSL connect reply
	StateCIPSend                          // awaiting send prompt
	StateDataOut                          // awaiting SEND OK
	StateAwaitResponse                    // awaiting the HTTP response
)

func (s ClientState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCIPStatus:
		return "CIPSTATUS"
	case StateCWJAP:
		return "CWJAP"
	case StateCIPStart:
		return "CIPSTART"
	case StateCIPSend:
		return "CIPSEND"
	case StateDataOut:
		return "DATAOUT"
	case StateAwaitResponse:
		return "AWAITRESPONSE"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// Status is the coarse client status reported to callers.
type Status int

// Client statuses
const (
	StatusIdle Status = iota
	StatusConnecting
	StatusSending
	StatusAwaitingResponse
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting to wifi"
	case StatusSending:
		return "Sending to server"
	case StatusAwaitingResponse:
		return "Waiting for server response"
	default:
		return "Status Unknown"
	}
}

// ClientMachine is the station-mode state machine. It is owned by a single
// task: Step and every other method must not run concurrently.
type ClientMachine struct {
	t        Transport
	buf      *ResponseBuffer
	log      *zap.Logger
	timeouts Timeouts
	stats    *Statistics
	quoted   string // start marker of the quoted-field response shape, if enabled

	state   ClientState
	entered time.Time

	ssid        string
	password    string
	newNetwork  bool
	connected   bool
	autoConnect bool
	reconnect   bool
	lastCheck   time.Time

	slot      RequestSlot
	out       []byte // framed small request
	outOffset int
	scratch   []byte // one send window

	response      string
	responseReady bool
	lastErr       error
}

// NewClientMachine creates an idle station-mode machine.
func NewClientMachine(t Transport, timeouts Timeouts, stats *Statistics, log *zap.Logger) *ClientMachine {
	if log == nil {
		log = zap.NewNop()
	}
	if stats == nil {
		stats = NewStatistics()
	}
	return &ClientMachine{
		t:           t,
		buf:         NewResponseBuffer(BufferSize, log),
		log:         log,
		timeouts:    timeouts,
		stats:       stats,
		autoConnect: true,
		scratch:     make([]byte, 0, DataSize),
	}
}

// SetQuotedResponse enables an alternate response shape: a JSON reply whose
// field starting with marker ends at the first following `",`.
func (c *ClientMachine) SetQuotedResponse(marker string) {
	c.quoted = marker
}

// SetNetwork stores credentials and queues association for the next idle
// cycle.
func (c *ClientMachine) SetNetwork(ssid, password string) error {
	if ssid == "" {
		return ErrEmptySSID
	}
	if err := checkCapacity("ssid", ssid, SSIDSize); err != nil {
		return err
	}
	if err := checkCapacity("password", password, PasswordSize); err != nil {
		return err
	}
	c.ssid = ssid
	c.password = password
	c.newNetwork = true
	return nil
}

// Submit makes r the pending request.
func (c *ClientMachine) Submit(r Request) error {
	if err := c.slot.Accept(r); err != nil {
		return err
	}
	c.responseReady = false
	return nil
}

// Clear cancels the pending request. A transfer in progress is abandoned
// mid-stream.
func (c *ClientMachine) Clear() {
	if c.slot.Pending() {
		c.log.Info("cleared in-progress request")
	}
	c.slot.Clear()
	c.out = c.out[:0]
	c.outOffset = 0
	if c.state >= StateCIPStart {
		c.send(atCIPClose)
		c.flush()
		c.log.Debug("transition", zap.Stringer("from", c.state), zap.Stringer("to", StateIdle))
		c.state = StateIdle
	}
}

// TakeResponse returns the captured response once; later calls return
// false until another request completes.
func (c *ClientMachine) TakeResponse() (string, bool) {
	if !c.responseReady {
		return "", false
	}
	r := c.response
	c.response = ""
	c.responseReady = false
	return r, true
}

// HasResponse reports whether a response is waiting.
func (c *ClientMachine) HasResponse() bool { return c.responseReady }

// Pending reports whether a request is queued or in flight.
func (c *ClientMachine) Pending() bool { return c.slot.Pending() }

// Connected reports the last known association state.
func (c *ClientMachine) Connected() bool { return c.connected }

// State returns the current protocol state.
func (c *ClientMachine) State() ClientState { return c.state }

// LastError returns the most recent abandoned attempt, or nil.
func (c *ClientMachine) LastError() error { return c.lastErr }

// AutoConnect reports whether periodic connection checks are enabled.
func (c *ClientMachine) AutoConnect() bool { return c.autoConnect }

// SetAutoConnect enables or disables periodic connection checks.
func (c *ClientMachine) SetAutoConnect(v bool) { c.autoConnect = v }

// Status maps the protocol state to a caller-facing status.
func (c *ClientMachine) Status() Status {
	switch c.state {
	case StateCWJAP:
		return StatusConnecting
	case StateCIPStart, StateCIPSend, StateDataOut:
		return StatusSending
	case StateAwaitResponse:
		return StatusAwaitingResponse
	default:
		return StatusIdle
	}
}

// Step advances the machine by one tick.
func (c *ClientMachine) Step(now time.Time) {
	if c.state != StateIdle {
		c.buf.Load(c.t)
	}
	switch c.state {
	case StateIdle:
		c.stepIdle(now)
	case StateCIPStatus:
		c.stepCIPStatus(now)
	case StateCWJAP:
		c.stepCWJAP(now)
	case StateCIPStart:
		c.stepCIPStart(now)
	case StateCIPSend:
		c.stepCIPSend(now)
	case StateDataOut:
		c.stepDataOut(now)
	case StateAwaitResponse:
		c.stepAwaitResponse(now)
	}
}

func (c *ClientMachine) stepIdle(now time.Time) {
	autoCheck := c.autoConnect && (now.Sub(c.lastCheck) > c.timeouts.ConnCheck || c.reconnect)
	if c.ssid != "" && (c.newNetwork || autoCheck) {
		c.flush()
		c.send(atCIPStatus)
		c.newNetwork = false
		c.enter(StateCIPStatus, now)
	} else if c.connected && c.slot.Pending() {
		c.flush()
		req := c.slot.Active()
		c.beginTransfer(req)
		c.send(connectCommand(req))
		c.responseReady = false
		c.enter(StateCIPStart, now)
	}
	c.reconnect = false
}

func (c *ClientMachine) stepCIPStatus(now time.Time) {
	switch {
	case c.buf.Contains(MarkerOK):
		status := parseStatus(c.buf.Bytes())
		switch status {
		case -1:
			c.log.Warn("couldn't determine connection status")
			c.statusUnknown(now, KindStatus)
		case 2, 3, 4:
			c.lastCheck = now
			c.connected = true
			c.flush()
			c.enter(StateIdle, now)
		default:
			c.log.Info("not connected, attempting to connect", zap.Int("status", status))
			c.connected = false
			c.flush()
			c.send(atCWJAP + quoteAT(c.ssid) + "," + quoteAT(c.password))
			c.enter(StateCWJAP, now)
		}
	case c.buf.Contains(MarkerError):
		c.log.Warn("couldn't determine connection status")
		c.statusUnknown(now, KindProtocol)
	case c.expired(now, c.timeouts.CIPStatus):
		c.log.Warn("CIPSTATUS timed out")
		c.statusUnknown(now, KindTimeout)
	}
}

// statusUnknown treats an indeterminate status check as disconnected and
// schedules another check on the next idle cycle.
func (c *ClientMachine) statusUnknown(now time.Time, kind FailureKind) {
	c.lastErr = &AttemptError{State: c.state.String(), Kind: kind}
	c.lastCheck = now
	c.connected = false
	c.reconnect = true
	c.flush()
	c.enter(StateIdle, now)
}

func (c *ClientMachine) stepCWJAP(now time.Time) {
	switch {
	case c.buf.Contains(MarkerOK):
		c.log.Info("associated", zap.String("ssid", c.ssid))
		c.connected = true
	case c.buf.Contains(MarkerFail):
		c.log.Warn("association failed", zap.String("ssid", c.ssid))
		c.lastErr = &AttemptError{State: c.state.String(), Kind: KindProtocol}
	case c.buf.Contains(MarkerError):
		c.log.Warn("malformed CWJAP instruction")
		c.lastErr = &AttemptError{State: c.state.String(), Kind: KindProtocol}
	case c.expired(now, c.timeouts.CWJAP):
		c.log.Warn("CWJAP instruction timed out")
		c.lastErr = &AttemptError{State: c.state.String(), Kind: KindTimeout}
	default:
		return
	}
	c.lastCheck = now
	c.flush()
	c.enter(StateIdle, now)
}

// stepCIPStart also drives the send loop: after each pushed segment the
// machine returns here, and the SEND OK for that segment satisfies the OK
// check that requests the next send window.
func (c *ClientMachine) stepCIPStart(now time.Time) {
	switch {
	case c.buf.Contains(MarkerClosed):
		c.log.Warn("connect failed, link closed")
		c.fail(now, KindClosed)
	case (c.buf.Contains(MarkerError) && c.buf.Contains(MarkerAlreadyConnected)) || c.buf.Contains(MarkerOK):
		c.flush()
		c.send(atCIPSend + strconv.Itoa(DataSize))
		c.enter(StateCIPSend, now)
	case c.buf.Contains(MarkerError):
		c.log.Warn("could not make TCP connection")
		c.fail(now, KindProtocol)
	case c.expired(now, c.timeouts.CIPStart):
		c.log.Warn("TCP connection attempt timed out")
		c.fail(now, KindTimeout)
	}
}

func (c *ClientMachine) stepCIPSend(now time.Time) {
	switch {
	case c.buf.Contains(MarkerPrompt):
		c.flush()
		if c.pushSegment() {
			c.enter(StateDataOut, now)
		} else {
			c.enter(StateCIPStart, now)
		}
	case c.buf.Contains(MarkerError):
		c.log.Warn("CIPSEND command failed")
		c.fail(now, KindProtocol)
	case c.expired(now, c.timeouts.CIPSend):
		c.log.Warn("CIPSEND command timed out")
		c.fail(now, KindTimeout)
	}
}

// pushSegment writes the next send window of the active request and
// reports whether the request is now fully written.
func (c *ClientMachine) pushSegment() bool {
	req := c.slot.Active()
	if enc := req.large; enc != nil {
		if !enc.Started() {
			c.writeSegment(AppendChunkedHeader(c.scratch[:0], req))
			enc.MarkStarted()
			return false
		}
		frame, last := enc.AppendNext(c.scratch[:0])
		c.writeSegment(frame)
		c.log.Debug("chunk sent", zap.Int("offset", enc.Offset()), zap.Int("total", enc.Len()))
		return last
	}
	seg := c.out[c.outOffset:]
	if len(seg) > DataSize {
		seg = seg[:DataSize]
	}
	c.writeSegment(seg)
	c.outOffset += len(seg)
	return c.outOffset >= len(c.out)
}

func (c *ClientMachine) writeSegment(p []byte) {
	if _, err := c.t.Write(p); err != nil {
		c.log.Warn("write failed", zap.Error(err))
	}
	if len(p) < DataSize {
		c.write(sendTerminator)
	}
}

func (c *ClientMachine) stepDataOut(now time.Time) {
	switch {
	case c.buf.Contains(MarkerSendOK):
		c.flush()
		c.stats.Transmitted++
		c.enter(StateAwaitResponse, now)
	case c.buf.Contains(MarkerError):
		c.log.Warn("problem sending HTTP data")
		c.fail(now, KindProtocol)
	case c.buf.Contains(MarkerSendFail):
		c.log.Warn("failed to send HTTP")
		c.fail(now, KindSendFail)
	case c.expired(now, c.timeouts.DataOut):
		c.log.Warn("timeout while confirming HTTP send")
		c.fail(now, KindTimeout)
	}
}

func (c *ClientMachine) stepAwaitResponse(now time.Time) {
	if c.buf.Contains(MarkerHTMLEnd) {
		body, _ := c.buf.ExtractBetween(MarkerHTMLStart, MarkerHTMLEnd)
		c.complete(now, body)
		return
	}
	if c.quoted != "" && c.buf.Contains(MarkerQuotedEnd) {
		if body, ok := c.buf.ExtractBetween(c.quoted, MarkerQuotedEnd); ok {
			c.complete(now, body)
			return
		}
	}
	switch {
	case c.expired(now, c.timeouts.HTTP):
		c.log.Warn("HTTP timeout")
		c.fail(now, KindTimeout)
	case c.buf.Contains(MarkerClosed):
		c.log.Warn("link closed before response completed")
		c.fail(now, KindClosed)
	}
}

func (c *ClientMachine) complete(now time.Time, body []byte) {
	if len(body) > ResponseSize-1 {
		body = body[:ResponseSize-1]
	}
	c.log.Info("got HTTP response",
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", now.Sub(c.entered)))
	c.send(atCIPClose)
	c.slot.Settle(true)
	c.response = string(body)
	c.responseReady = true
	c.stats.Received++
	c.lastErr = nil
	c.flush()
	c.enter(StateIdle, now)
}

// fail abandons the current attempt: the link is closed and the request is
// re-armed only if it asked for automatic retry.
func (c *ClientMachine) fail(now time.Time, kind FailureKind) {
	c.lastErr = &AttemptError{State: c.state.String(), Kind: kind}
	c.slot.Settle(false)
	c.stats.recordFailure(kind, c.slot.Pending())
	c.send(atCIPClose)
	c.flush()
	c.enter(StateIdle, now)
}

// beginTransfer frames req from the start for a fresh connection.
func (c *ClientMachine) beginTransfer(req *Request) {
	c.out = c.out[:0]
	c.outOffset = 0
	if req.large != nil {
		req.large.Reset()
		return
	}
	c.out = AppendRequest(c.out, req)
}

func connectCommand(req *Request) string {
	cmd := atCIPStart
	if req.TLS {
		cmd = atCIPStartSSL
	}
	return cmd + quoteAT(req.Domain) + "," + strconv.Itoa(req.Port)
}

// quoteAT quotes an AT string argument, escaping the characters the
// module's argument parser treats specially.
func quoteAT(s string) string {
	b := make([]byte, 0, len(s)+2)
	b = append(b, '"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', ',', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(append(b, '"'))
}

func (c *ClientMachine) enter(s ClientState, now time.Time) {
	if s != c.state {
		c.log.Debug("transition", zap.Stringer("from", c.state), zap.Stringer("to", s))
	}
	c.state = s
	c.entered = now
}

func (c *ClientMachine) expired(now time.Time, budget time.Duration) bool {
	return now.Sub(c.entered) > budget
}

// flush discards buffered transport input and the response buffer.
func (c *ClientMachine) flush() {
	drain(c.t)
	c.buf.Clear()
}

func (c *ClientMachine) send(line string) {
	c.write(line + "\r\n")
}

func (c *ClientMachine) write(s string) {
	if _, err := c.t.Write([]byte(s)); err != nil {
		c.log.Warn("write failed", zap.Error(err))
	}
}
