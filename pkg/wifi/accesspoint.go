// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// APState is an access-point mode protocol state.
type APState int

// Access-point states
const (
	APReset        APState = iota // verify or re-establish the listening server
	APAwaitClient                 // waiting for inbound data on a link
	APAwaitRequest                // waiting for a complete request line
	APSendResponse                // announcing and sending the page
	APDataOut                     // awaiting SEND OK
	APClose                       // closing the link
)

func (s APState) String() string {
	switch s {
	case APReset:
		return "RESET"
	case APAwaitClient:
		return "AWAITCLIENT"
	case APAwaitRequest:
		return "AWAITREQUEST"
	case APSendResponse:
		return "SENDRESPONSE"
	case APDataOut:
		return "DATAOUTAP"
	case APClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("APState(%d)", int(s))
	}
}

// APRequest is the most recent inbound request.
type APRequest struct {
	Method Method
	Path   string
	Data   string // raw query data, not yet decoded
}

// Values decodes the request data as URL query parameters.
func (r APRequest) Values() (url.Values, error) {
	return url.ParseQuery(r.Data)
}

// serverSetupCommands returns the command sequence that brings up the
// listening server.
func serverSetupCommands(ssid, password string) []string {
	var cmds []string
	if ssid != "" {
		cmds = append(cmds, atCWSAPSet+quoteAT(ssid)+","+quoteAT(password)+",1,4")
	}
	return append(cmds, atCIPMux, atCIPServer, atCIPAPSet)
}

// APMachine is the access-point mode state machine. Like ClientMachine it
// is owned by a single task.
type APMachine struct {
	t        Transport
	buf      *ResponseBuffer
	log      *zap.Logger
	timeouts Timeouts
	stats    *Statistics
	pages    *PageStore

	state   APState
	entered time.Time
	first   bool // entry action of the current state not yet run

	link        int
	req         APRequest
	html        string
	dataReady   bool
	forceCloses int

	ssid      string
	password  string
	serverUp  bool
	lastSetup time.Time
	setupStep int // -1 while checking, else index into the setup sequence
	lastErr   error
}

// NewAPMachine creates a machine waiting for clients, serving from pages.
func NewAPMachine(t Transport, pages *PageStore, timeouts Timeouts, stats *Statistics, log *zap.Logger) *APMachine {
	if log == nil {
		log = zap.NewNop()
	}
	if stats == nil {
		stats = NewStatistics()
	}
	return &APMachine{
		t:        t,
		buf:      NewResponseBuffer(BufferSize, log),
		log:      log,
		timeouts: timeouts,
		stats:    stats,
		pages:    pages,
		state:    APAwaitClient,
		first:    true,
	}
}

// SetServer records the access-point credentials and whether the server
// is known to be listening. Any exchange in progress was cut short by the
// setup commands, so the machine goes back to waiting for clients.
func (m *APMachine) SetServer(ssid, password string, up bool, now time.Time) {
	m.ssid = ssid
	m.password = password
	m.serverUp = up
	m.lastSetup = now
	m.flush()
	m.enter(APAwaitClient, now)
}

// Restarted records that the module rebooted and lost its server. A
// configured server is set up again on the next tick.
func (m *APMachine) Restarted(now time.Time) {
	m.serverUp = false
	m.lastSetup = time.Time{}
	m.flush()
	m.enter(APAwaitClient, now)
}

// State returns the current protocol state.
func (m *APMachine) State() APState { return m.state }

// ServerUp reports whether the listening server is known to be running.
func (m *APMachine) ServerUp() bool { return m.serverUp }

// Link returns the link id of the current or last client.
func (m *APMachine) Link() int { return m.link }

// Request returns the most recent parsed request.
func (m *APMachine) Request() APRequest { return m.req }

// LastError returns the most recent abandoned exchange, or nil.
func (m *APMachine) LastError() error { return m.lastErr }

// HasData reports whether an inbound request is waiting to be read.
func (m *APMachine) HasData() bool { return m.dataReady }

// TakeData returns the inbound request data once.
func (m *APMachine) TakeData() (string, bool) {
	if !m.dataReady {
		return "", false
	}
	d := m.req.Data
	m.req.Data = ""
	m.dataReady = false
	return d, true
}

// Step advances the machine by one tick.
func (m *APMachine) Step(now time.Time) {
	switch m.state {
	case APReset:
		m.stepReset(now)
	case APAwaitClient:
		m.stepAwaitClient(now)
	case APAwaitRequest:
		m.stepAwaitRequest(now)
	case APSendResponse:
		m.stepSendResponse(now)
	case APDataOut:
		m.stepDataOut(now)
	case APClose:
		m.stepClose(now)
	}
}

func (m *APMachine) stepReset(now time.Time) {
	if m.first {
		m.first = false
		m.setupStep = -1
		m.flush()
		m.send(atCWSAPGet)
		return
	}
	m.buf.Load(m.t)
	cmds := serverSetupCommands(m.ssid, m.password)

	if m.setupStep < 0 {
		switch {
		case m.buf.Contains(MarkerError), m.expired(now, m.timeouts.ServerCheck):
			m.log.Warn("server disconnected, attempting to restart the server")
			m.setupStep = 0
			m.flush()
			m.send(cmds[0])
			m.entered = now
		case m.buf.Contains(MarkerOK):
			m.serverUp = true
			m.flush()
			m.enter(APAwaitClient, now)
		}
		return
	}

	switch {
	case m.buf.Contains(MarkerOK):
		m.setupStep++
		m.flush()
		if m.setupStep == len(cmds) {
			m.log.Info("server started")
			m.serverUp = true
			m.lastSetup = now
			m.enter(APAwaitClient, now)
			return
		}
		m.send(cmds[m.setupStep])
		m.entered = now
	case m.buf.Contains(MarkerError), m.expired(now, m.timeouts.ServerSetup):
		m.log.Warn("error starting server", zap.String("command", cmds[m.setupStep]))
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindProtocol}
		m.serverUp = false
		m.lastSetup = now
		m.flush()
		m.enter(APAwaitClient, now)
	}
}

func (m *APMachine) stepAwaitClient(now time.Time) {
	if m.ssid != "" && !m.serverUp && now.Sub(m.lastSetup) > m.timeouts.ServerSetup {
		m.enter(APReset, now)
		return
	}
	m.buf.Load(m.t)

	// "+IPD,<link>,<len>:" carries the link id at a fixed offset; the
	// "PD" form covers a leading byte lost on the wire.
	marker, ok := m.buf.ExtractBetween(MarkerIPD, ":")
	offset := 4
	if !ok {
		marker, ok = m.buf.ExtractBetween(MarkerPD, ":")
		offset = 3
	}
	if !ok {
		if m.buf.Full() {
			m.log.Warn("discarding unrecognized input", zap.Int("bytes", m.buf.Len()))
			m.flush()
		}
		return
	}
	link, ok := digitAt(marker, offset)
	if !ok {
		m.log.Warn("malformed link id", zap.ByteString("marker", marker))
		m.flush()
		return
	}
	m.link = link
	m.log.Debug("client connected", zap.Int("link", link))
	m.enter(APAwaitRequest, now)
}

func (m *APMachine) stepAwaitRequest(now time.Time) {
	m.buf.Load(m.t)
	method, token, found := firstMethod(m.buf.Bytes())
	if found {
		if line, ok := m.buf.ExtractBetween(token, "Host"); ok {
			m.accept(now, method, line)
			return
		}
	}
	if m.expired(now, m.timeouts.AwaitRequest) {
		m.log.Warn("received an incomplete request", zap.Int("link", m.link))
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindTimeout}
		m.flush()
		m.enter(APAwaitClient, now)
	}
}

// firstMethod finds the method token that opens the request. A token
// appearing later, inside the path or a header, does not count.
func firstMethod(b []byte) (Method, string, bool) {
	get := bytes.Index(b, []byte("GET"))
	post := bytes.Index(b, []byte("POST"))
	switch {
	case post >= 0 && (get < 0 || post < get):
		return MethodPost, "POST", true
	case get >= 0:
		return MethodGet, "GET", true
	}
	return 0, "", false
}

func (m *APMachine) accept(now time.Time, method Method, line []byte) {
	path, data, ok := parseRequestLine(line)
	if !ok {
		m.log.Warn("malformed request line", zap.ByteString("line", line))
		m.flush()
		m.enter(APAwaitClient, now)
		return
	}
	req := APRequest{Method: method, Path: string(path), Data: string(data)}
	if len(req.Path) > PathSize-1 {
		req.Path = DefaultPath
	}
	if len(req.Data) > DataSize-1 {
		m.log.Warn("request data too long, dropped", zap.Int("bytes", len(req.Data)))
		req.Data = ""
	}
	m.req = req
	m.dataReady = true
	m.stats.Received++
	m.log.Info("request", zap.Stringer("method", method), zap.String("path", req.Path), zap.String("data", req.Data))
	m.enter(APSendResponse, now)
}

func (m *APMachine) stepSendResponse(now time.Time) {
	if m.first {
		m.first = false
		path := m.req.Path
		if !m.pages.PageExists(path) {
			path = DefaultPath
		}
		m.html = m.pages.GetPage(path)
		m.flush()
		m.send(atCIPSend + strconv.Itoa(m.link) + "," + strconv.Itoa(len(m.html)))
		m.log.Debug("serving page", zap.String("path", path), zap.Int("link", m.link))
		return
	}
	m.buf.Load(m.t)
	switch {
	case m.buf.Contains(MarkerPrompt):
		m.flush()
		m.write(m.html)
		m.enter(APDataOut, now)
	case m.buf.Contains(MarkerError):
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindProtocol}
		m.flush()
		m.enter(APClose, now)
	case m.expired(now, m.timeouts.SendResponse):
		m.log.Warn("CIPSEND timeout", zap.Int("link", m.link))
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindTimeout}
		m.enter(APClose, now)
	}
}

func (m *APMachine) stepDataOut(now time.Time) {
	m.buf.Load(m.t)
	switch {
	case m.buf.Contains(MarkerSendOK):
		m.flush()
		m.stats.Transmitted++
		m.enter(APClose, now)
	case m.buf.Contains(MarkerSendFail), m.buf.Contains(MarkerError):
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindSendFail}
		m.flush()
		m.enter(APClose, now)
	case m.expired(now, m.timeouts.CIPSend):
		m.log.Warn("CIPSEND error", zap.Int("link", m.link))
		m.lastErr = &AttemptError{State: m.state.String(), Kind: KindTimeout}
		m.flush()
		m.enter(APAwaitClient, now)
	}
}

// stepClose waits for the link to close. Any of the closed, OK or unlink
// markers ends the exchange; otherwise the link is force-closed after each
// timeout, a bounded number of times.
func (m *APMachine) stepClose(now time.Time) {
	if m.first {
		m.first = false
		m.forceCloses = 0
	}
	m.buf.Load(m.t)
	switch {
	case m.buf.Contains(MarkerClosed), m.buf.Contains(MarkerOK), m.buf.Contains(MarkerUnlink):
		m.flush()
		m.enter(APAwaitClient, now)
	case m.expired(now, m.timeouts.Close):
		if m.forceCloses >= maxForceCloses {
			m.log.Warn("link did not close", zap.Int("link", m.link))
			m.flush()
			m.enter(APAwaitClient, now)
			return
		}
		m.send(atCIPCloseAP + strconv.Itoa(m.link))
		m.forceCloses++
		m.entered = now
	}
}

func (m *APMachine) enter(s APState, now time.Time) {
	if s != m.state {
		m.log.Debug("transition", zap.Stringer("from", m.state), zap.Stringer("to", s))
	}
	m.state = s
	m.entered = now
	m.first = true
}

func (m *APMachine) expired(now time.Time, budget time.Duration) bool {
	return now.Sub(m.entered) > budget
}

func (m *APMachine) flush() {
	drain(m.t)
	m.buf.Clear()
}

func (m *APMachine) send(line string) {
	m.write(line + "\r\n")
}

func (m *APMachine) write(s string) {
	if _, err := m.t.Write([]byte(s)); err != nil {
		m.log.Warn("write failed", zap.Error(err))
	}
}
