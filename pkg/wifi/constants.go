// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wifi drives an ESP8266-class WiFi co-processor over a byte
// oriented serial link.
//
// The driver runs one of two cooperative state machines from a periodic
// tick: a station-mode HTTP client, or an access-point mode HTTP server
// backed by a small page store. The tick never blocks; every wait is
// expressed as "stay in this state and re-check next tick".
package wifi

import "time"

// Version is the driver version reported by Driver.Version.
const Version = "2.1"

// Buffer and field capacities. These are part of the wire contract:
// oversized inputs are rejected, never truncated.
const (
	BufferSize     = 4096 // serial input accumulator
	ResponseSize   = 4096 // extracted HTTP response body
	MACSize        = 17
	SSIDSize       = 32
	PasswordSize   = 64
	DomainSize     = 256
	PathSize       = 256
	DataSize       = 2048 // inline payload and the send window
	NumPages       = 8
	PagePathSize   = 64
	PageHTMLSize   = 1024
	maxForceCloses = 3
)

// Tick intervals.
const (
	StationTickInterval     = 1000 * time.Microsecond
	AccessPointTickInterval = 500 * time.Microsecond
)

// AT commands. Commands that take arguments end with '=' and are completed
// by the caller.
const (
	atBasic       = "AT"
	atCWModeSTA   = "AT+CWMODE_DEF=1"
	atCWAutoConn  = "AT+CWAUTOCONN=0"
	atReset       = "AT+RST"
	atRestore     = "AT+RESTORE"
	atQueryMAC    = "AT+CIPAPMAC?"
	atCIPStatus   = "AT+CIPSTATUS"
	atCWJAP       = "AT+CWJAP_DEF="
	atCIPStart    = "AT+CIPSTART=\"TCP\","
	atCIPStartSSL = "AT+CIPSTART=\"SSL\","
	atCIPSSLSize  = "AT+CIPSSLSIZE=4096"
	atCIPSend     = "AT+CIPSENDEX="
	atCIPClose    = "AT+CIPCLOSE"

	atCWModeAP   = "AT+CWMODE_DEF=2"
	atCWSAPSet   = "AT+CWSAP="
	atCWSAPGet   = "AT+CWSAP?"
	atCIPAPSet   = "AT+CIPAP=\"192.168.4.1\""
	atCIPMux     = "AT+CIPMUX=1"
	atCIPServer  = "AT+CIPSERVER=1,80"
	atCIPCloseAP = "AT+CIPCLOSE="
)

// Response markers scanned for in the serial input.
const (
	MarkerReady            = "ready"
	MarkerOK               = "OK"
	MarkerPrompt           = "OK\r\n>"
	MarkerSendOK           = "SEND OK"
	MarkerError            = "ERROR"
	MarkerFail             = "FAIL"
	MarkerStatus           = "STATUS:"
	MarkerAlreadyConnected = "ALREADY CONNECTED"
	MarkerHTMLStart        = "<html>"
	MarkerHTMLEnd          = "</html>"
	MarkerSendFail         = "SEND FAIL"
	MarkerClosed           = "CLOSED"
	MarkerUnlink           = "UNLINK"
	MarkerIPD              = "IPD"
	MarkerPD               = "PD"
	MarkerQuotedEnd        = "\","
)

// sendTerminator is the literal backslash-zero sequence that makes
// AT+CIPSENDEX transmit before the announced length is reached.
const sendTerminator = `\0`

// DefaultPath is the reserved page served when a lookup misses.
const DefaultPath = "default"

// DefaultHTML is the content of the reserved default page.
const DefaultHTML = "<html>\n<title>Page Error</title>\n<body>\n<h1>Page not set</h1>\n<p>The page you requested was not found</p>\n</body>\n</html>"

// Timeouts holds the per-state timeout budgets. They define observable
// latency and are part of the external contract.
type Timeouts struct {
	AT           time.Duration
	MAC          time.Duration
	CWMode       time.Duration
	CWAutoConn   time.Duration
	Reset        time.Duration
	Restore      time.Duration
	ConnCheck    time.Duration // periodic connection re-check interval
	CIPStatus    time.Duration
	CWJAP        time.Duration
	CIPStart     time.Duration
	CIPSend      time.Duration
	DataOut      time.Duration
	HTTP         time.Duration
	SendResponse time.Duration
	Close        time.Duration
	AwaitRequest time.Duration
	ServerSetup  time.Duration // CWSAP, CIPMUX, CIPSERVER, CIPAP
	ServerCheck  time.Duration
}

// DefaultTimeouts returns the timeout budgets of the reference firmware.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		AT:           1000 * time.Millisecond,
		MAC:          1000 * time.Millisecond,
		CWMode:       1000 * time.Millisecond,
		CWAutoConn:   1000 * time.Millisecond,
		Reset:        7000 * time.Millisecond,
		Restore:      7000 * time.Millisecond,
		ConnCheck:    10000 * time.Millisecond,
		CIPStatus:    5000 * time.Millisecond,
		CWJAP:        15000 * time.Millisecond,
		CIPStart:     15000 * time.Millisecond,
		CIPSend:      2000 * time.Millisecond,
		DataOut:      5000 * time.Millisecond,
		HTTP:         10000 * time.Millisecond,
		SendResponse: 300 * time.Millisecond,
		Close:        100 * time.Millisecond,
		AwaitRequest: 1000 * time.Millisecond,
		ServerSetup:  5000 * time.Millisecond,
		ServerCheck:  1000 * time.Millisecond,
	}
}
