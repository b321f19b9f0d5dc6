// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mode selects which protocol machine the driver runs.
type Mode int

// Driver modes
const (
	ModeStation     Mode = iota // HTTP client on an existing network
	ModeAccessPoint             // HTTP server on the module's own network
)

func (m Mode) String() string {
	switch m {
	case ModeStation:
		return "station"
	case ModeAccessPoint:
		return "access-point"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithMode selects station or access-point mode. The default is station.
func WithMode(m Mode) Option {
	return func(d *Driver) { d.mode = m }
}

// WithLogger sets the diagnostic logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithTimeouts overrides the per-state timeout budgets.
func WithTimeouts(t Timeouts) Option {
	return func(d *Driver) { d.timeouts = t }
}

// WithTickInterval overrides the mode's default tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(d *Driver) { d.interval = interval }
}

// WithQuotedResponse accepts responses shaped as a JSON string field that
// starts with marker, in addition to HTML documents.
func WithQuotedResponse(marker string) Option {
	return func(d *Driver) { d.quoted = marker }
}

// Driver owns one module: the transport, the active protocol machine and
// the tick that drives it. All methods are safe for concurrent use; each
// one suspends the tick while it touches shared state.
type Driver struct {
	t        Transport
	mode     Mode
	log      *zap.Logger
	timeouts Timeouts
	interval time.Duration
	quoted   string

	stats  *Statistics
	cmd    *CommandChannel
	client *ClientMachine
	ap     *APMachine
	pages  *PageStore
	sched  *Scheduler

	mac string
}

// New creates a driver for the module behind t. Nothing is sent until
// Begin.
func New(t Transport, opts ...Option) *Driver {
	d := &Driver{
		t:        t,
		log:      zap.NewNop(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.interval <= 0 {
		d.interval = StationTickInterval
		if d.mode == ModeAccessPoint {
			d.interval = AccessPointTickInterval
		}
	}

	d.stats = NewStatistics()
	d.cmd = NewCommandChannel(t, d.log.Named("setup"))
	switch d.mode {
	case ModeAccessPoint:
		d.pages = NewPageStore(d.log.Named("pages"))
		d.ap = NewAPMachine(t, d.pages, d.timeouts, d.stats, d.log.Named("ap"))
		d.sched = NewScheduler(d.interval, d.ap.Step)
	default:
		d.client = NewClientMachine(t, d.timeouts, d.stats, d.log.Named("client"))
		d.client.SetQuotedResponse(d.quoted)
		d.sched = NewScheduler(d.interval, d.client.Step)
	}
	return d
}

// Begin checks that the module answers, prepares it for the selected mode
// and starts the tick. The tick runs until ctx is cancelled or Stop is
// called.
//
// An absent module returns ErrNotPresent and the tick is not started. A
// later setup step failing is reported as an error wrapping ErrSetup, but
// the tick is started anyway so the machine can recover on its own.
func (d *Driver) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.sched.Suspend()
	err := d.setup()
	d.sched.Resume()
	if errors.Is(err, ErrNotPresent) {
		return err
	}
	d.log.Info("driver loaded", zap.String("version", Version), zap.Stringer("mode", d.mode))
	d.sched.Start(ctx)
	return err
}

func (d *Driver) setup() error {
	d.cmd.Drain()
	if !d.cmd.Exec(atBasic, MarkerOK, d.timeouts.AT) {
		d.log.Warn("module not responding")
		return ErrNotPresent
	}
	if d.mode == ModeAccessPoint {
		return d.startAP()
	}

	var errs []error
	if err := d.reset(); err != nil {
		errs = append(errs, err)
	}
	mac, err := d.cmd.QueryMAC(d.timeouts.MAC)
	if err != nil {
		errs = append(errs, err)
	} else {
		d.mac = mac
	}
	if !d.cmd.Exec(atCIPSSLSize, MarkerOK, d.timeouts.AT) {
		d.log.Warn("SSL buffer size failed")
		errs = append(errs, fmt.Errorf("%w: SSL buffer size", ErrSetup))
	}
	d.cmd.Drain()
	return errors.Join(errs...)
}

// reset puts the module in station mode and restarts it.
func (d *Driver) reset() error {
	ok := d.cmd.Exec(atCWAutoConn, MarkerOK, d.timeouts.CWAutoConn) &&
		d.cmd.Exec(atCWModeSTA, MarkerOK, d.timeouts.CWMode) &&
		d.cmd.Exec(atReset, MarkerReady, d.timeouts.Reset)
	if !ok {
		d.log.Warn("reset unsuccessful")
		return fmt.Errorf("%w: reset", ErrSetup)
	}
	d.log.Info("reset successful")
	return nil
}

// startAP puts the module in access-point mode and restarts it. The
// restart drops the listening server, which the machine then brings back.
func (d *Driver) startAP() error {
	defer d.ap.Restarted(time.Now())
	if !d.cmd.Exec(atCWModeAP, MarkerOK, d.timeouts.CWMode) {
		d.log.Warn("CW_MODE set error")
		return fmt.Errorf("%w: access-point mode", ErrSetup)
	}
	if !d.cmd.Exec(atReset, MarkerOK, d.timeouts.Reset) {
		d.log.Warn("reset unsuccessful")
		return fmt.Errorf("%w: reset", ErrSetup)
	}
	d.log.Info("reset successful")
	return nil
}

// Stop halts the tick. Begin or Start resumes it.
func (d *Driver) Stop() {
	d.sched.Stop()
}

// Start resumes the tick after Stop without repeating setup.
func (d *Driver) Start(ctx context.Context) {
	d.sched.Start(ctx)
}

// Running reports whether the tick is active.
func (d *Driver) Running() bool {
	return d.sched.Running()
}

// Step runs a single tick at now. It is meant for driving the machine
// from an external clock; do not mix it with a running tick.
func (d *Driver) Step(now time.Time) {
	d.sched.Tick(now)
}

// Mode returns the mode the driver was created with.
func (d *Driver) Mode() Mode { return d.mode }

// Version returns the driver version.
func (d *Driver) Version() string { return Version }

// MAC returns the module MAC address read during Begin.
func (d *Driver) MAC() string {
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.mac
}

func (d *Driver) station() error {
	if d.client == nil {
		return fmt.Errorf("%w: requires %v mode", ErrWrongMode, ModeStation)
	}
	return nil
}

func (d *Driver) accessPoint() error {
	if d.ap == nil {
		return fmt.Errorf("%w: requires %v mode", ErrWrongMode, ModeAccessPoint)
	}
	return nil
}

// ConnectWifi stores network credentials. Association happens on the next
// idle cycle.
func (d *Driver) ConnectWifi(ssid, password string) error {
	if err := d.station(); err != nil {
		return err
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.SetNetwork(ssid, password)
}

// IsConnected reports the last known association state.
func (d *Driver) IsConnected() bool {
	if d.client == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.Connected()
}

// IsBusy reports whether a request is pending or in flight.
func (d *Driver) IsBusy() bool {
	if d.client == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.Pending()
}

// SendRequest queues a GET or POST with an inline payload. It fails with
// ErrBusy while another request is pending, and with ErrFieldTooLong if
// any field exceeds its capacity.
func (d *Driver) SendRequest(method Method, domain string, port int, path, data string, autoRetry bool) error {
	return d.Submit(Request{
		Method:    method,
		Domain:    domain,
		Port:      port,
		Path:      path,
		Data:      data,
		AutoRetry: autoRetry,
	})
}

// Submit queues r.
func (d *Driver) Submit(r Request) error {
	if err := d.station(); err != nil {
		return err
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	if err := d.client.Submit(r); err != nil {
		return err
	}
	d.log.Debug("request queued",
		zap.Stringer("method", r.Method),
		zap.String("domain", r.Domain),
		zap.String("path", r.Path))
	return nil
}

// SendLargeRequest queues a chunked POST of payload. The payload is not
// copied and must not be modified until the request settles. TLS is used
// when port is 443.
func (d *Driver) SendLargeRequest(domain string, port int, path string, payload []byte) error {
	return d.Submit(Request{
		Method: MethodPost,
		Domain: domain,
		Port:   port,
		Path:   path,
		TLS:    port == 443,
		large:  NewChunkEncoder(payload, ChunkCapacity(DataSize)),
	})
}

// ClearRequest cancels the pending request. A transfer in progress is
// abandoned.
func (d *Driver) ClearRequest() {
	if d.client == nil {
		return
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	d.client.Clear()
}

// HasResponse reports whether a response is waiting.
func (d *Driver) HasResponse() bool {
	if d.client == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.HasResponse()
}

// Response returns the extracted response body once. Later calls return
// "" until another request completes.
func (d *Driver) Response() string {
	if d.client == nil {
		return ""
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	r, _ := d.client.TakeResponse()
	return r
}

// Status returns the coarse client status.
func (d *Driver) Status() Status {
	if d.client == nil {
		return StatusIdle
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.Status()
}

// State returns the name of the active machine's current state.
func (d *Driver) State() string {
	d.sched.Suspend()
	defer d.sched.Resume()
	if d.ap != nil {
		return d.ap.State().String()
	}
	return d.client.State().String()
}

// AutoConnect reports whether periodic connection checks are enabled.
func (d *Driver) AutoConnect() bool {
	if d.client == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.client.AutoConnect()
}

// SetAutoConnect enables or disables periodic connection checks.
func (d *Driver) SetAutoConnect(v bool) {
	if d.client == nil {
		return
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	d.client.SetAutoConnect(v)
}

// StartServer configures the access point and starts the listening server.
func (d *Driver) StartServer(ssid, password string) error {
	if err := d.accessPoint(); err != nil {
		return err
	}
	if ssid == "" {
		return ErrEmptySSID
	}
	if err := checkCapacity("ssid", ssid, SSIDSize); err != nil {
		return err
	}
	if err := checkCapacity("password", password, PasswordSize); err != nil {
		return err
	}

	d.sched.Suspend()
	defer d.sched.Resume()
	d.cmd.Drain()
	ok := true
	for _, line := range serverSetupCommands(ssid, password) {
		if !d.cmd.Exec(line, MarkerOK, d.timeouts.ServerSetup) {
			d.log.Warn("error starting server", zap.String("command", line))
			ok = false
			break
		}
	}
	d.cmd.Drain()
	d.ap.SetServer(ssid, password, ok, time.Now())
	if !ok {
		return fmt.Errorf("%w: server", ErrSetup)
	}
	d.log.Info("server started", zap.String("ssid", ssid))
	return nil
}

// SetPage stores html under path for access-point mode.
func (d *Driver) SetPage(path, html string) error {
	if err := d.accessPoint(); err != nil {
		return err
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.pages.SetPage(path, html)
}

// PagesAvailable reports whether another page path can be stored.
func (d *Driver) PagesAvailable() bool {
	if d.pages == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.pages.PagesAvailable()
}

// HasData reports whether an inbound request is waiting.
func (d *Driver) HasData() bool {
	if d.ap == nil {
		return false
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.ap.HasData()
}

// Data returns the data of the most recent inbound request once.
func (d *Driver) Data() string {
	if d.ap == nil {
		return ""
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	data, _ := d.ap.TakeData()
	return data
}

// LastRequest returns the most recent inbound request.
func (d *Driver) LastRequest() APRequest {
	if d.ap == nil {
		return APRequest{}
	}
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.ap.Request()
}

// Reset restarts the module in the driver's mode.
func (d *Driver) Reset() error {
	d.sched.Suspend()
	defer d.sched.Resume()
	d.cmd.Drain()
	if d.mode == ModeAccessPoint {
		return d.startAP()
	}
	return d.reset()
}

// Restore returns the module to factory settings, then resets it.
func (d *Driver) Restore() error {
	d.sched.Suspend()
	defer d.sched.Resume()
	if !d.cmd.Exec(atRestore, MarkerReady, d.timeouts.Restore) {
		d.log.Warn("restore unsuccessful")
		return fmt.Errorf("%w: restore", ErrSetup)
	}
	if d.mode == ModeAccessPoint {
		return d.startAP()
	}
	return d.reset()
}

// CustomCommand sends a raw command line and returns everything the
// module sent back within window.
func (d *Driver) CustomCommand(line string, window time.Duration) (string, error) {
	d.sched.Suspend()
	defer d.sched.Resume()
	resp, err := d.cmd.Collect(line, window)
	d.cmd.Drain()
	return resp, err
}

// TransmitCount returns the number of requests the module confirmed sent.
func (d *Driver) TransmitCount() uint64 {
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.stats.Transmitted
}

// ReceiveCount returns the number of responses or inbound requests
// captured.
func (d *Driver) ReceiveCount() uint64 {
	d.sched.Suspend()
	defer d.sched.Resume()
	return d.stats.Received
}

// ResetTransmitCount zeroes the transmit counter.
func (d *Driver) ResetTransmitCount() {
	d.sched.Suspend()
	defer d.sched.Resume()
	d.stats.ResetTransmitted()
}

// ResetReceiveCount zeroes the receive counter.
func (d *Driver) ResetReceiveCount() {
	d.sched.Suspend()
	defer d.sched.Resume()
	d.stats.ResetReceived()
}

// Statistics returns a snapshot of the traffic counters.
func (d *Driver) Statistics() Statistics {
	d.sched.Suspend()
	defer d.sched.Resume()
	return *d.stats
}

// LastError returns the most recent abandoned attempt of the active
// machine, or nil.
func (d *Driver) LastError() error {
	d.sched.Suspend()
	defer d.sched.Resume()
	if d.ap != nil {
		return d.ap.LastError()
	}
	return d.client.LastError()
}
