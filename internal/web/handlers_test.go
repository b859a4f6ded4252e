package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// fakeDesk records calls; Move blocks until release is closed when set.
type fakeDesk struct {
	mu       sync.Mutex
	position uint16
	moves    []uint16
	commands []string
	release  chan struct{}
	started  chan struct{}
	err      error
}

func (d *fakeDesk) Move(target uint16) (bool, error) {
	d.mu.Lock()
	d.moves = append(d.moves, target)
	d.mu.Unlock()
	if d.started != nil {
		close(d.started)
	}
	if d.release != nil {
		<-d.release
	}
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	d.position = target
	d.mu.Unlock()
	return true, nil
}

func (d *fakeDesk) Status() (protocol.StatusReport, error) {
	if d.err != nil {
		return protocol.StatusReport{}, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return protocol.StatusReport{
		ReportID: protocol.CmdStatusReport,
		Ref1:     protocol.PositionSpeed{Position: d.position},
		Ref1Cnt:  d.position,
	}, nil
}

func (d *fakeDesk) command(name string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, name)
	return true, nil
}

func (d *fakeDesk) MoveUp() (bool, error)   { return d.command("up") }
func (d *fakeDesk) MoveDown() (bool, error) { return d.command("down") }
func (d *fakeDesk) Stop() (bool, error)     { return d.command("stop") }

func (d *fakeDesk) moveCalls() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.moves...)
}

func newTestServer(desk Desk) (http.Handler, *Handlers) {
	s := NewServer(":0", NewStatusBroadcaster(), desk)
	return s.Router(), s.handlers
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// waitIdle waits for the background move goroutine to clear the running flag.
func waitIdle(t *testing.T, h *Handlers) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.busy() }, time.Second, 5*time.Millisecond)
}

func TestHandleStatus(t *testing.T) {
	router, _ := newTestServer(&fakeDesk{position: 4900})

	rec := do(router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, uint16(4900), resp.Raw)
	assert.Equal(t, 50.0, resp.Cm)
	assert.Equal(t, uint16(4900), resp.Report.Ref1Cnt)
}

func TestHandleStatus_DeviceError(t *testing.T) {
	router, _ := newTestServer(&fakeDesk{err: protocol.Transport("get status", errors.New("no device"))})

	rec := do(router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "no device")
}

func TestHandleMove_Target(t *testing.T) {
	desk := &fakeDesk{}
	router, h := newTestServer(desk)

	rec := do(router, http.MethodPost, "/api/move", `{"target": 4900}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started"`)

	waitIdle(t, h)
	assert.Equal(t, []uint16{4900}, desk.moveCalls())
}

func TestHandleMove_Centimeters(t *testing.T) {
	desk := &fakeDesk{}
	router, h := newTestServer(desk)

	rec := do(router, http.MethodPost, "/api/move", `{"cm": 72.5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitIdle(t, h)
	assert.Equal(t, []uint16{7105}, desk.moveCalls())
}

func TestHandleMove_InvalidBody(t *testing.T) {
	router, _ := newTestServer(&fakeDesk{})

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"target": 100, "cm": 10}`,
		`{"target": 32767}`,
		`{"target": 32769}`,
		`{"target": 40000}`,
		`{"target": -5}`,
		`{"cm": -1}`,
		`{"cm": 500}`,
	} {
		t.Run(body, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/api/move", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleMove_ConflictWhileBusy(t *testing.T) {
	desk := &fakeDesk{release: make(chan struct{}), started: make(chan struct{})}
	router, h := newTestServer(desk)

	rec := do(router, http.MethodPost, "/api/move", `{"target": 1000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-desk.started

	rec = do(router, http.MethodPost, "/api/move", `{"target": 2000}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(router, http.MethodPost, "/api/up", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(desk.release)
	waitIdle(t, h)
	assert.Equal(t, []uint16{1000}, desk.moveCalls())
}

func TestHandleMove_FailureIsBroadcast(t *testing.T) {
	desk := &fakeDesk{err: errors.New("stalled")}
	router, h := newTestServer(desk)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	rec := do(router, http.MethodPost, "/api/move", `{"target": 1000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-ch:
		var evt StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg), &evt))
		assert.Equal(t, "error", evt.Level)
		assert.Contains(t, evt.Msg, "stalled")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for failure event")
	}
	waitIdle(t, h)
}

func TestHandleSingleCommands(t *testing.T) {
	desk := &fakeDesk{}
	router, _ := newTestServer(desk)

	for _, path := range []string{"/api/up", "/api/down", "/api/stop"} {
		rec := do(router, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"acknowledged":true`)
	}
	assert.Equal(t, []string{"up", "down", "stop"}, desk.commands)
}

func TestMethodNotAllowed(t *testing.T) {
	router, _ := newTestServer(&fakeDesk{})

	rec := do(router, http.MethodGet, "/api/move", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(router, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNoDesk(t *testing.T) {
	router, _ := newTestServer(nil)

	rec := do(router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(router, http.MethodPost, "/api/move", `{"target": 10}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatusStream(t *testing.T) {
	router, h := newTestServer(&fakeDesk{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	h.Broadcaster.Broadcast("info", "hello desk")
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt))
	assert.Equal(t, "hello desk", evt.Msg)
}
