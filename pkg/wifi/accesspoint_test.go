package wifi

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type apHarness struct {
	t     *testing.T
	f     *fakeTransport
	pages *PageStore
	m     *APMachine
	now   time.Time
}

func newAPHarness(t *testing.T) *apHarness {
	f := newFakeTransport()
	pages := NewPageStore(nil)
	h := &apHarness{
		t:     t,
		f:     f,
		pages: pages,
		m:     NewAPMachine(f, pages, DefaultTimeouts(), nil, nil),
		now:   time.Unix(1_700_000_000, 0),
	}
	h.m.SetServer("esp", "password1", true, h.now)
	return h
}

func (h *apHarness) step(d time.Duration) {
	h.now = h.now.Add(d)
	h.m.Step(h.now)
}

func (h *apHarness) reply(s string) {
	h.f.feed(s)
	h.step(time.Millisecond)
}

func (h *apHarness) requireState(want APState) {
	h.t.Helper()
	if got := h.m.State(); got != want {
		h.t.Fatalf("state = %v, want %v", got, want)
	}
}

func inbound(link int, request string) string {
	return strconv.Itoa(link) + ",CONNECT\r\n\r\n+IPD," + strconv.Itoa(link) + "," +
		strconv.Itoa(len(request)) + ":" + request
}

func TestAP_ServesPage(t *testing.T) {
	h := newAPHarness(t)
	require.NoError(t, h.pages.SetPage("/led", "<html>led</html>"))

	h.reply(inbound(1, "GET /led?state=on HTTP/1.1\r\nHost: 192.168.4.1\r\n\r\n"))
	h.requireState(APAwaitRequest)
	require.Equal(t, 1, h.m.Link())

	h.step(time.Millisecond)
	h.requireState(APSendResponse)
	require.True(t, h.m.HasData())
	require.Equal(t, APRequest{Method: MethodGet, Path: "/led", Data: "state=on"}, h.m.Request())

	h.f.clearSent()
	h.step(time.Millisecond)
	require.Equal(t, "AT+CIPSENDEX=1,16\r\n", h.f.sent())

	h.f.clearSent()
	h.reply("OK\r\n> ")
	h.requireState(APDataOut)
	require.Equal(t, "<html>led</html>", h.f.sent())

	h.reply("\r\nRecv 16 bytes\r\n\r\nSEND OK\r\n")
	h.requireState(APClose)
	h.step(time.Millisecond)
	h.reply("1,CLOSED\r\n")
	h.requireState(APAwaitClient)

	require.Equal(t, uint64(1), h.m.stats.Transmitted)
	require.Equal(t, uint64(1), h.m.stats.Received)

	data, ok := h.m.TakeData()
	require.True(t, ok)
	require.Equal(t, "state=on", data)
	data, ok = h.m.TakeData()
	require.False(t, ok)
	require.Empty(t, data)
}

func TestAP_UnknownPathServesDefault(t *testing.T) {
	h := newAPHarness(t)
	h.reply(inbound(0, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	h.step(time.Millisecond)
	h.requireState(APSendResponse)

	h.f.clearSent()
	h.step(time.Millisecond)
	require.Equal(t, "AT+CIPSENDEX=0,"+strconv.Itoa(len(DefaultHTML))+"\r\n", h.f.sent())
	h.f.clearSent()
	h.reply("OK\r\n>")
	require.Equal(t, DefaultHTML, h.f.sent())
}

func TestAP_PostRequest(t *testing.T) {
	h := newAPHarness(t)
	h.reply(inbound(2, "POST /form?name=esp HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))
	h.step(time.Millisecond)
	h.requireState(APSendResponse)
	req := h.m.Request()
	require.Equal(t, MethodPost, req.Method)
	require.Equal(t, "/form", req.Path)

	v, err := req.Values()
	require.NoError(t, err)
	require.Equal(t, "esp", v.Get("name"))
}

func TestAP_LostPlusFallback(t *testing.T) {
	h := newAPHarness(t)
	h.reply("PD,3,40:GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	h.requireState(APAwaitRequest)
	require.Equal(t, 3, h.m.Link())
}

func TestAP_OversizedFields(t *testing.T) {
	h := newAPHarness(t)
	path := "/" + strings.Repeat("p", PathSize)
	data := strings.Repeat("d", DataSize)
	h.reply(inbound(0, "GET "+path+"?"+data+" HTTP/1.1\r\nHost: x\r\n\r\n"))
	h.step(time.Millisecond)
	h.requireState(APSendResponse)
	require.Equal(t, DefaultPath, h.m.Request().Path)
	require.Empty(t, h.m.Request().Data)
}

func TestAP_MalformedLinkIsDiscarded(t *testing.T) {
	h := newAPHarness(t)
	h.reply("+IPD,x,5:hello")
	h.requireState(APAwaitClient)
	require.Zero(t, h.m.buf.Len())
}

func TestAP_NoiseFillsBufferThenClears(t *testing.T) {
	h := newAPHarness(t)
	h.reply(strings.Repeat("n", BufferSize))
	h.requireState(APAwaitClient)
	require.Zero(t, h.m.buf.Len())
	require.Zero(t, h.f.Buffered())
}

func TestAP_AwaitRequestTimeout(t *testing.T) {
	h := newAPHarness(t)
	h.reply("+IPD,0,300:GET /partial")
	h.requireState(APAwaitRequest)
	h.step(h.m.timeouts.AwaitRequest)
	h.requireState(APAwaitRequest)
	h.step(time.Millisecond)
	h.requireState(APAwaitClient)
	require.False(t, h.m.HasData())
	require.ErrorIs(t, h.m.LastError(), KindTimeout)
}

func TestAP_SendResponseFailures(t *testing.T) {
	tests := []struct {
		name  string
		input string
		wait  time.Duration
	}{
		{"error", "ERROR\r\n", time.Millisecond},
		{"timeout", "", DefaultTimeouts().SendResponse + time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPHarness(t)
			h.reply(inbound(0, "GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
			h.step(time.Millisecond)
			h.step(time.Millisecond) // announce length
			h.requireState(APSendResponse)

			h.f.feed(tt.input)
			h.step(tt.wait)
			h.requireState(APClose)
		})
	}
}

func TestAP_DataOutOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wait      time.Duration
		wantState APState
		wantTx    uint64
	}{
		{"send ok", "SEND OK\r\n", time.Millisecond, APClose, 1},
		{"send fail", "SEND FAIL\r\n", time.Millisecond, APClose, 0},
		{"error", "ERROR\r\n", time.Millisecond, APClose, 0},
		{"timeout", "", DefaultTimeouts().CIPSend + time.Millisecond, APAwaitClient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPHarness(t)
			h.reply(inbound(0, "GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
			h.step(time.Millisecond)
			h.step(time.Millisecond)
			h.reply("OK\r\n>")
			h.requireState(APDataOut)

			h.f.feed(tt.input)
			h.step(tt.wait)
			h.requireState(tt.wantState)
			require.Equal(t, tt.wantTx, h.m.stats.Transmitted)
		})
	}
}

func TestAP_CloseMarkers(t *testing.T) {
	for _, marker := range []string{"0,CLOSED\r\n", "OK\r\n", "UNLINK\r\n"} {
		t.Run(strings.TrimSpace(marker), func(t *testing.T) {
			h := newAPHarness(t)
			h.m.enter(APClose, h.now)
			h.step(time.Millisecond)
			h.reply(marker)
			h.requireState(APAwaitClient)
		})
	}
}

func TestAP_CloseForcesAndGivesUp(t *testing.T) {
	h := newAPHarness(t)
	h.m.link = 2
	h.m.enter(APClose, h.now)
	h.step(time.Millisecond)

	budget := h.m.timeouts.Close + time.Millisecond
	for i := 0; i < maxForceCloses; i++ {
		h.step(budget)
		h.requireState(APClose)
	}
	require.Equal(t, maxForceCloses, strings.Count(h.f.sent(), "AT+CIPCLOSE=2\r\n"))

	h.step(budget)
	h.requireState(APAwaitClient)
	require.Equal(t, maxForceCloses, strings.Count(h.f.sent(), "AT+CIPCLOSE=2\r\n"))
}

func TestAP_ResetWhenServerDown(t *testing.T) {
	h := newAPHarness(t)
	h.m.SetServer("esp", "password1", false, h.now)
	for prefix := range map[string]bool{atCWSAPSet: true, atCIPMux: true, atCIPServer: true, atCIPAPSet: true} {
		h.f.reply(prefix, "\r\nOK\r\n")
	}
	h.f.reply(atCWSAPGet, "\r\nERROR\r\n")

	h.step(h.m.timeouts.ServerSetup)
	h.requireState(APAwaitClient)
	h.step(time.Millisecond)
	h.requireState(APReset)

	h.step(time.Millisecond) // query
	h.step(time.Millisecond) // ERROR, start replay
	for i := 0; i < 4; i++ {
		h.step(time.Millisecond)
	}
	h.requireState(APAwaitClient)
	require.True(t, h.m.ServerUp())

	sent := h.f.sent()
	for _, cmd := range serverSetupCommands("esp", "password1") {
		require.Contains(t, sent, cmd+"\r\n")
	}
	require.Contains(t, sent, `AT+CWSAP="esp","password1",1,4`)
}

func TestAP_ResetServerAlreadyUp(t *testing.T) {
	h := newAPHarness(t)
	h.m.SetServer("esp", "password1", false, h.now)
	h.f.reply(atCWSAPGet, "+CWSAP:\"esp\",\"password1\",1,4\r\n\r\nOK\r\n")

	h.step(h.m.timeouts.ServerSetup + time.Millisecond)
	h.requireState(APReset)
	h.step(time.Millisecond)
	h.step(time.Millisecond)
	h.requireState(APAwaitClient)
	require.True(t, h.m.ServerUp())
	require.NotContains(t, h.f.sent(), atCIPMux)
}

func TestAP_ResetSetupFailureBacksOff(t *testing.T) {
	h := newAPHarness(t)
	h.m.SetServer("esp", "password1", false, h.now)
	h.f.reply(atCWSAPGet, "ERROR\r\n")
	h.f.reply(atCWSAPSet, "ERROR\r\n")

	h.step(h.m.timeouts.ServerSetup + time.Millisecond)
	h.step(time.Millisecond)
	h.step(time.Millisecond)
	h.step(time.Millisecond)
	h.requireState(APAwaitClient)
	require.False(t, h.m.ServerUp())

	h.step(time.Millisecond)
	h.requireState(APAwaitClient)
	h.step(h.m.timeouts.ServerSetup)
	h.requireState(APReset)
}

func TestServerSetupCommands(t *testing.T) {
	got := serverSetupCommands("my,net", "p\"w")
	require.Equal(t, []string{
		`AT+CWSAP="my\,net","p\"w",1,4`,
		atCIPMux,
		atCIPServer,
		atCIPAPSet,
	}, got)
	require.Len(t, serverSetupCommands("", ""), 3)
}

func TestAP_MethodTokenInPath(t *testing.T) {
	tests := []struct {
		request    string
		wantMethod Method
		wantPath   string
	}{
		{"GET /POST HTTP/1.1\r\nHost: x\r\n\r\n", MethodGet, "/POST"},
		{"POST /GET?a=1 HTTP/1.1\r\nHost: x\r\n\r\n", MethodPost, "/GET"},
	}
	for _, tt := range tests {
		t.Run(tt.wantPath, func(t *testing.T) {
			h := newAPHarness(t)
			h.reply(inbound(0, tt.request))
			h.step(time.Millisecond)
			h.requireState(APSendResponse)
			require.Equal(t, tt.wantMethod, h.m.Request().Method)
			require.Equal(t, tt.wantPath, h.m.Request().Path)
		})
	}
}

func TestFirstMethod(t *testing.T) {
	m, token, ok := firstMethod([]byte("+IPD,0,9:GET /POST"))
	require.True(t, ok)
	require.Equal(t, MethodGet, m)
	require.Equal(t, "GET", token)

	_, _, ok = firstMethod([]byte("+IPD,0,3:PUT"))
	require.False(t, ok)
}

func TestAP_SetServerEndsReset(t *testing.T) {
	h := newAPHarness(t)
	h.m.enter(APReset, h.now)
	h.step(time.Millisecond)
	require.Contains(t, h.f.sent(), atCWSAPGet)

	h.m.SetServer("esp", "password1", true, h.now)
	h.requireState(APAwaitClient)

	h.f.clearSent()
	h.step(h.m.timeouts.ServerCheck + time.Millisecond)
	h.step(h.m.timeouts.ServerSetup + time.Millisecond)
	h.requireState(APAwaitClient)
	require.Empty(t, h.f.sent())
}

func TestAP_NoResetBeforeServerConfigured(t *testing.T) {
	f := newFakeTransport()
	m := NewAPMachine(f, NewPageStore(nil), DefaultTimeouts(), nil, nil)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		m.Step(now)
	}
	require.Equal(t, APAwaitClient, m.State())
	require.Empty(t, f.sent())
}

func TestAP_RestartedReplaysSetup(t *testing.T) {
	h := newAPHarness(t)
	h.f.reply(atCWSAPGet, "\r\nERROR\r\n")
	for _, cmd := range serverSetupCommands("esp", "password1") {
		h.f.reply(cmd, "\r\nOK\r\n")
	}

	h.m.Restarted(h.now)
	require.False(t, h.m.ServerUp())
	h.step(time.Millisecond)
	h.requireState(APReset)
	for i := 0; i < 8; i++ {
		h.step(time.Millisecond)
	}
	h.requireState(APAwaitClient)
	require.True(t, h.m.ServerUp())
	require.Contains(t, h.f.sent(), atCIPServer+"\r\n")
}
