package wifi

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dchest/uniuri"
	"github.com/stretchr/testify/require"
)

const testResponse = "\r\n+IPD,120:HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n" +
	"<html><body>hi</body></html>\r\nCLOSED\r\n"

type clientHarness struct {
	t   *testing.T
	f   *fakeTransport
	c   *ClientMachine
	now time.Time
}

func newClientHarness(t *testing.T) *clientHarness {
	f := newFakeTransport()
	return &clientHarness{
		t:   t,
		f:   f,
		c:   NewClientMachine(f, DefaultTimeouts(), nil, nil),
		now: time.Unix(1_700_000_000, 0),
	}
}

// step advances the fake clock by d and runs one tick.
func (h *clientHarness) step(d time.Duration) {
	h.now = h.now.Add(d)
	h.c.Step(h.now)
}

// reply queues input and runs one tick.
func (h *clientHarness) reply(s string) {
	h.f.feed(s)
	h.step(time.Millisecond)
}

func (h *clientHarness) requireState(want ClientState) {
	h.t.Helper()
	if got := h.c.State(); got != want {
		h.t.Fatalf("state = %v, want %v", got, want)
	}
}

// connect associates with a network that reports status 2.
func (h *clientHarness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.c.SetNetwork("net", "secret"))
	h.step(time.Millisecond)
	h.requireState(StateCIPStatus)
	h.reply("AT+CIPSTATUS\r\nSTATUS:2\r\n\r\nOK\r\n")
	h.requireState(StateIdle)
	require.True(h.t, h.c.Connected())
}

// sendThrough drives a submitted small request up to AWAITRESPONSE.
func (h *clientHarness) sendThrough() {
	h.t.Helper()
	h.step(time.Millisecond)
	h.requireState(StateCIPStart)
	h.reply("CONNECT\r\n\r\nOK\r\n")
	h.requireState(StateCIPSend)
	h.reply("OK\r\n> ")
	h.requireState(StateDataOut)
	h.reply("\r\nRecv 60 bytes\r\n\r\nSEND OK\r\n")
	h.requireState(StateAwaitResponse)
}

func TestClient_RoundTrip(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	h.f.clearSent()

	require.NoError(t, h.c.Submit(Request{Method: MethodGet, Domain: "example.com", Port: 80, Path: "/hello", Data: "x=1"}))
	h.sendThrough()

	sent := h.f.sent()
	require.Contains(t, sent, "AT+CIPSTART=\"TCP\",\"example.com\",80\r\n")
	require.Contains(t, sent, "AT+CIPSENDEX=2048\r\n")
	require.Contains(t, sent, "GET /hello?x=1 HTTP/1.1\r\nHost: example.com:80\r\n\r\n"+sendTerminator)

	h.reply(testResponse)
	h.requireState(StateIdle)
	require.False(t, h.c.Pending())
	require.True(t, h.c.HasResponse())
	require.Contains(t, h.f.sent(), atCIPClose+"\r\n")

	resp, ok := h.c.TakeResponse()
	require.True(t, ok)
	require.Equal(t, "<html><body>hi</body></html>", resp)

	resp, ok = h.c.TakeResponse()
	require.False(t, ok)
	require.Empty(t, resp)
	require.False(t, h.c.HasResponse())

	require.Equal(t, uint64(1), h.c.stats.Transmitted)
	require.Equal(t, uint64(1), h.c.stats.Received)
	require.NoError(t, h.c.LastError())
}

func TestClient_OnePendingAtATime(t *testing.T) {
	h := newClientHarness(t)
	first := Request{Method: MethodGet, Domain: "a.example", Port: 80, Path: "/one"}
	require.NoError(t, h.c.Submit(first))

	err := h.c.Submit(Request{Method: MethodGet, Domain: "b.example", Port: 80, Path: "/two"})
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, "/one", h.c.slot.Active().Path)
}

func TestClient_NotConnectedHoldsRequest(t *testing.T) {
	h := newClientHarness(t)
	require.NoError(t, h.c.Submit(Request{Method: MethodGet, Domain: "a.example", Port: 80, Path: "/"}))
	for i := 0; i < 10; i++ {
		h.step(time.Millisecond)
	}
	h.requireState(StateIdle)
	require.True(t, h.c.Pending())
	require.Empty(t, h.f.sent())
}

func TestClient_StatusParsing(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		wantState     ClientState
		wantConnected bool
		wantKind      error
	}{
		{"got ip", "STATUS:2\r\nOK\r\n", StateIdle, true, nil},
		{"connected", "STATUS:3\r\nOK\r\n", StateIdle, true, nil},
		{"link closed", "STATUS:4\r\nOK\r\n", StateIdle, true, nil},
		{"not associated", "STATUS:5\r\nOK\r\n", StateCWJAP, false, nil},
		{"no digit", "STATUS:\r\nOK\r\n", StateIdle, false, KindStatus},
		{"error", "ERROR\r\n", StateIdle, false, KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newClientHarness(t)
			require.NoError(t, h.c.SetNetwork("net", "secret"))
			h.step(time.Millisecond)
			h.requireState(StateCIPStatus)

			h.reply(tt.reply)
			h.requireState(tt.wantState)
			require.Equal(t, tt.wantConnected, h.c.Connected())
			if tt.wantKind != nil {
				require.ErrorIs(t, h.c.LastError(), tt.wantKind)
			}
			if tt.wantState == StateCWJAP {
				require.Contains(t, h.f.sent(), "AT+CWJAP_DEF=\"net\",\"secret\"\r\n")
			}
		})
	}
}

func TestClient_IndeterminateStatusRechecks(t *testing.T) {
	h := newClientHarness(t)
	require.NoError(t, h.c.SetNetwork("net", "secret"))
	h.step(time.Millisecond)
	h.reply("OK\r\n")
	h.requireState(StateIdle)

	h.f.clearSent()
	h.step(time.Millisecond)
	h.requireState(StateCIPStatus)
	require.Equal(t, atCIPStatus+"\r\n", h.f.sent())
}

func TestClient_PeriodicRecheck(t *testing.T) {
	h := newClientHarness(t)
	h.connect()

	h.step(h.c.timeouts.ConnCheck / 2)
	h.requireState(StateIdle)
	h.step(h.c.timeouts.ConnCheck)
	h.requireState(StateCIPStatus)

	h.reply("STATUS:2\r\nOK\r\n")
	h.c.SetAutoConnect(false)
	h.step(2 * h.c.timeouts.ConnCheck)
	h.requireState(StateIdle)
}

func TestClient_Association(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		wantConnected bool
	}{
		{"ok", "WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n", true},
		{"fail", "+CWJAP:3\r\n\r\nFAIL\r\n", false},
		{"error", "ERROR\r\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newClientHarness(t)
			require.NoError(t, h.c.SetNetwork("net", "secret"))
			h.step(time.Millisecond)
			h.reply("STATUS:5\r\nOK\r\n")
			h.requireState(StateCWJAP)

			h.reply(tt.reply)
			h.requireState(StateIdle)
			require.Equal(t, tt.wantConnected, h.c.Connected())
		})
	}
}

func TestClient_TimeoutConvergence(t *testing.T) {
	budgets := DefaultTimeouts()
	tests := []struct {
		state  ClientState
		budget time.Duration
		enter  func(h *clientHarness)
	}{
		{StateCIPStatus, budgets.CIPStatus, func(h *clientHarness) {
			require.NoError(h.t, h.c.SetNetwork("net", "secret"))
			h.step(time.Millisecond)
		}},
		{StateCWJAP, budgets.CWJAP, func(h *clientHarness) {
			require.NoError(h.t, h.c.SetNetwork("net", "secret"))
			h.step(time.Millisecond)
			h.reply("STATUS:5\r\nOK\r\n")
		}},
		{StateCIPStart, budgets.CIPStart, func(h *clientHarness) {
			h.connect()
			require.NoError(h.t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
			h.step(time.Millisecond)
		}},
		{StateCIPSend, budgets.CIPSend, func(h *clientHarness) {
			h.connect()
			require.NoError(h.t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
			h.step(time.Millisecond)
			h.reply("OK\r\n")
		}},
		{StateDataOut, budgets.DataOut, func(h *clientHarness) {
			h.connect()
			require.NoError(h.t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
			h.step(time.Millisecond)
			h.reply("OK\r\n")
			h.reply("OK\r\n>")
		}},
		{StateAwaitResponse, budgets.HTTP, func(h *clientHarness) {
			h.connect()
			require.NoError(h.t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
			h.sendThrough()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := newClientHarness(t)
			tt.enter(h)
			h.requireState(tt.state)

			h.step(tt.budget)
			h.requireState(tt.state)
			h.step(2 * time.Millisecond)
			h.requireState(StateIdle)
			require.ErrorIs(t, h.c.LastError(), KindTimeout)
			require.False(t, h.c.Pending(), "request without auto-retry must be dropped")
		})
	}
}

func TestClient_FailuresCloseLink(t *testing.T) {
	tests := []struct {
		name     string
		at       ClientState
		reply    string
		wantKind FailureKind
	}{
		{"connect error", StateCIPStart, "ERROR\r\n", KindProtocol},
		{"connect closed", StateCIPStart, "CLOSED\r\n", KindClosed},
		{"send error", StateCIPSend, "ERROR\r\n", KindProtocol},
		{"data send fail", StateDataOut, "SEND FAIL\r\n", KindSendFail},
		{"data error", StateDataOut, "ERROR\r\n", KindProtocol},
		{"response closed", StateAwaitResponse, "+IPD,10:HTTP/1.1\r\nCLOSED\r\n", KindClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newClientHarness(t)
			h.connect()
			require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
			h.step(time.Millisecond)
			if tt.at >= StateCIPSend {
				h.reply("OK\r\n")
			}
			if tt.at >= StateDataOut {
				h.reply("OK\r\n>")
			}
			if tt.at >= StateAwaitResponse {
				h.reply("SEND OK\r\n")
			}
			h.requireState(tt.at)
			h.f.clearSent()

			h.reply(tt.reply)
			h.requireState(StateIdle)
			require.Equal(t, atCIPClose+"\r\n", h.f.sent())
			var attempt *AttemptError
			require.True(t, errors.As(h.c.LastError(), &attempt))
			require.Equal(t, tt.at.String(), attempt.State)
			require.Equal(t, tt.wantKind, attempt.Kind)
			require.False(t, h.c.HasResponse())
		})
	}
}

func TestClient_AutoRetry(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80, AutoRetry: true}))
	h.step(time.Millisecond)
	h.reply("CLOSED\r\n")
	h.requireState(StateIdle)
	require.True(t, h.c.Pending())
	require.Equal(t, uint64(1), h.c.stats.Retries)

	h.f.clearSent()
	h.sendThrough()
	require.Contains(t, h.f.sent(), "AT+CIPSTART=")
	h.reply(testResponse)
	require.False(t, h.c.Pending())
	require.True(t, h.c.HasResponse())
}

func TestClient_AlreadyConnected(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
	h.step(time.Millisecond)
	h.reply("ALREADY CONNECTED\r\n\r\nERROR\r\n")
	h.requireState(StateCIPSend)
}

func TestClient_TLS(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "secure.example", Path: "/", Port: 443, TLS: true}))
	h.step(time.Millisecond)
	require.Contains(t, h.f.sent(), "AT+CIPSTART=\"SSL\",\"secure.example\",443\r\n")
}

func TestClient_LargeRequest(t *testing.T) {
	h := newClientHarness(t)
	h.connect()

	payload := []byte(uniuri.NewLen(5000))
	req := Request{
		Method: MethodPost,
		Domain: "upload.example",
		Port:   80,
		Path:   "/ingest",
		large:  NewChunkEncoder(payload, ChunkCapacity(DataSize)),
	}
	require.NoError(t, h.c.Submit(req))
	h.f.clearSent()

	h.step(time.Millisecond)
	h.requireState(StateCIPStart)
	h.reply("OK\r\n")
	// header, three data chunks, terminator
	for i := 0; i < 5; i++ {
		h.requireState(StateCIPSend)
		h.reply("OK\r\n> ")
		if i < 4 {
			h.requireState(StateCIPStart)
			h.reply("\r\nSEND OK\r\n")
		}
	}
	h.requireState(StateDataOut)

	segments := strings.Split(h.f.sent(), atCIPSend+"2048\r\n")
	require.Len(t, segments, 6)
	require.Equal(t, string(AppendChunkedHeader(nil, &req))+sendTerminator, segments[1])

	expect := NewChunkEncoder(payload, ChunkCapacity(DataSize))
	for i, seg := range segments[2:] {
		frame, _ := expect.AppendNext(nil)
		if len(frame) < DataSize {
			require.Equal(t, string(frame)+sendTerminator, seg, "segment %d", i)
		} else {
			require.Len(t, frame, DataSize)
			require.Equal(t, string(frame), seg, "segment %d", i)
		}
	}
	require.True(t, expect.Finished())

	h.reply("SEND OK\r\n")
	h.reply(testResponse)
	require.True(t, h.c.HasResponse())
	require.False(t, h.c.Pending())
}

func TestClient_LargeRequestRestartsOnRetry(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	enc := NewChunkEncoder([]byte(uniuri.NewLen(3000)), ChunkCapacity(DataSize))
	require.NoError(t, h.c.Submit(Request{Method: MethodPost, Domain: "x", Port: 80, Path: "/", AutoRetry: true, large: enc}))

	h.step(time.Millisecond)
	h.reply("OK\r\n")
	h.reply("OK\r\n>") // header
	h.reply("SEND OK\r\n")
	h.reply("OK\r\n>") // first chunk
	require.NotZero(t, enc.Offset())
	h.reply("SEND FAIL\r\n")
	// SEND FAIL contains no OK, so the connect step sees nothing usable
	// until the budget runs out.
	h.step(h.c.timeouts.CIPStart + time.Millisecond)
	h.requireState(StateIdle)
	require.True(t, h.c.Pending())

	h.step(time.Millisecond)
	h.requireState(StateCIPStart)
	require.Zero(t, enc.Offset())
	require.False(t, enc.Started())
}

func TestClient_LongSmallRequestIsSegmented(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	data := strings.Repeat("d", DataSize-1)
	require.NoError(t, h.c.Submit(Request{Method: MethodPost, Domain: "x", Port: 80, Path: "/p", Data: data}))
	h.f.clearSent()

	h.step(time.Millisecond)
	h.reply("OK\r\n")
	h.reply("OK\r\n>")
	h.requireState(StateCIPStart)
	h.reply("SEND OK\r\n")
	h.reply("OK\r\n>")
	h.requireState(StateDataOut)

	segments := strings.Split(h.f.sent(), atCIPSend+"2048\r\n")
	require.Len(t, segments, 3)
	require.Len(t, segments[1], DataSize)
	framed := string(AppendPost(nil, &Request{Domain: "x", Port: 80, Path: "/p", Data: data}))
	require.Equal(t, framed, segments[1]+strings.TrimSuffix(segments[2], sendTerminator))
}

func TestClient_ClearMidTransfer(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
	h.step(time.Millisecond)
	h.reply("OK\r\n")
	h.reply("OK\r\n>")
	h.requireState(StateDataOut)
	h.f.clearSent()

	h.c.Clear()
	h.requireState(StateIdle)
	require.False(t, h.c.Pending())
	require.Equal(t, atCIPClose+"\r\n", h.f.sent())

	h.reply(testResponse)
	require.False(t, h.c.HasResponse())
}

func TestClient_QuotedResponse(t *testing.T) {
	h := newClientHarness(t)
	h.c.SetQuotedResponse("transcript")
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
	h.sendThrough()

	h.reply("+IPD,80:HTTP/1.1 200 OK\r\n\r\n{\"transcript\": \"turn on\", \"confidence\": 0.9}")
	h.requireState(StateIdle)
	resp, ok := h.c.TakeResponse()
	require.True(t, ok)
	require.Equal(t, "transcript\": \"turn on\",", resp)
}

func TestClient_QuotedResponseDisabledByDefault(t *testing.T) {
	h := newClientHarness(t)
	h.connect()
	require.NoError(t, h.c.Submit(Request{Domain: "x", Path: "/", Port: 80}))
	h.sendThrough()

	h.reply("{\"transcript\": \"turn on\", \"confidence\": 0.9}")
	h.requireState(StateAwaitResponse)
}

func TestClient_SetNetworkValidation(t *testing.T) {
	h := newClientHarness(t)
	require.ErrorIs(t, h.c.SetNetwork("", "x"), ErrEmptySSID)
	require.ErrorIs(t, h.c.SetNetwork(strings.Repeat("s", SSIDSize), "x"), ErrFieldTooLong)
	require.ErrorIs(t, h.c.SetNetwork("net", strings.Repeat("p", PasswordSize)), ErrFieldTooLong)
	h.step(time.Millisecond)
	h.requireState(StateIdle)
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		state ClientState
		want  Status
	}{
		{StateIdle, StatusIdle},
		{StateCIPStatus, StatusIdle},
		{StateCWJAP, StatusConnecting},
		{StateCIPStart, StatusSending},
		{StateCIPSend, StatusSending},
		{StateDataOut, StatusSending},
		{StateAwaitResponse, StatusAwaitingResponse},
	}
	for _, tt := range tests {
		c := ClientMachine{state: tt.state}
		if got := c.Status(); got != tt.want {
			t.Errorf("%v: Status() = %v, want %v", tt.state, got, tt.want)
		}
	}
	if StatusAwaitingResponse.String() != "Waiting for server response" {
		t.Errorf("unexpected status text %q", StatusAwaitingResponse.String())
	}
}

func TestQuoteAT(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"home", `"home"`},
		{`a"b`, `"a\"b"`},
		{"a,b", `"a\,b"`},
		{`a\b`, `"a\\b"`},
	}
	for _, tt := range tests {
		if got := quoteAT(tt.in); got != tt.want {
			t.Errorf("quoteAT(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
