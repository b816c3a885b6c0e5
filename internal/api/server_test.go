package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/brushlink/internal/coordinator"
	"github.com/srg/brushlink/internal/integration"
	"github.com/srg/brushlink/internal/ringchan"
	"github.com/srg/brushlink/internal/sonicare"
	"github.com/srg/brushlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	entries map[string]integration.EntryStatus
	stopped []string
	stopErr error
	subs    []*ringchan.RingChannel[integration.Event]
}

func newFakeBackend() *fakeBackend {
	battery := 66
	st := sonicare.NewState()
	st.Battery = &battery
	return &fakeBackend{entries: map[string]integration.EntryStatus{
		"bath": {
			Entry:     integration.Entry{ID: "bath", Title: "Bathroom", Address: "AA:BB:CC:DD:EE:FF"},
			Phase:     coordinator.PhaseConnected,
			Connected: true,
			State:     &st,
		},
	}}
}

func (b *fakeBackend) Entries() []integration.EntryStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []integration.EntryStatus
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

func (b *fakeBackend) Entry(id string) (integration.EntryStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return e, ok
}

func (b *fakeBackend) Sensors(id string) ([]integration.Sensor, error) {
	if _, ok := b.Entry(id); !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrEntryNotFound, id)
	}
	return []integration.Sensor{{Key: "battery", Name: "Bathroom Battery", Value: 66, Unit: "%", Available: true}}, nil
}

func (b *fakeBackend) StopEntry(_ context.Context, id string) error {
	if _, ok := b.Entry(id); !ok {
		return fmt.Errorf("%w: %s", integration.ErrEntryNotFound, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, id)
	return b.stopErr
}

func (b *fakeBackend) Subscribe(buffer int) (*ringchan.RingChannel[integration.Event], func()) {
	rc := ringchan.New[integration.Event](buffer)
	b.mu.Lock()
	b.subs = append(b.subs, rc)
	b.mu.Unlock()
	return rc, rc.Close
}

func (b *fakeBackend) publish(ev integration.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rc := range b.subs {
		rc.Send(ev)
	}
}

func (b *fakeBackend) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *httptest.Server) {
	backend := newFakeBackend()
	s := New(backend, "127.0.0.1:0", testutils.NewTestHelper(t).Logger)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, backend, ts
}

func do(t *testing.T, method, url string) (int, string) {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestEntriesEndpoints(t *testing.T) {
	_, _, ts := newTestServer(t)
	ja := testutils.NewJSONAsserter(t)

	code, body := do(t, http.MethodGet, ts.URL+"/api/entries")
	assert.Equal(t, http.StatusOK, code)
	ja.Assert(body, `[{
		"id": "bath",
		"title": "Bathroom",
		"address": "AA:BB:CC:DD:EE:FF",
		"phase": "connected",
		"connected": true,
		"state": {"battery": 66}
	}]`)

	code, body = do(t, http.MethodGet, ts.URL+"/api/entries/bath")
	assert.Equal(t, http.StatusOK, code)
	ja.Assert(body, `{"id": "bath", "phase": "connected"}`)

	code, body = do(t, http.MethodGet, ts.URL+"/api/entries/missing")
	assert.Equal(t, http.StatusNotFound, code)
	ja.Assert(body, `{"error": "entry missing not found"}`)
}

func TestSensorsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/api/entries/bath/sensors")
	assert.Equal(t, http.StatusOK, code)
	testutils.NewJSONAsserter(t).Assert(body, `[{"key": "battery", "value": 66, "unit": "%", "available": true}]`)

	code, _ = do(t, http.MethodGet, ts.URL+"/api/entries/missing/sensors")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStopEndpoint(t *testing.T) {
	_, backend, ts := newTestServer(t)

	code, _ := do(t, http.MethodPost, ts.URL+"/api/entries/bath/stop")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, []string{"bath"}, backend.stopped)

	code, _ = do(t, http.MethodPost, ts.URL+"/api/entries/missing/stop")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodGet, ts.URL+"/api/entries/bath/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	backend.stopErr = fmt.Errorf("cancel connection: broken pipe")
	code, body := do(t, http.MethodPost, ts.URL+"/api/entries/bath/stop")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body, "broken pipe")
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)
	code, body := do(t, http.MethodGet, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	testutils.NewJSONAsserter(t).Assert(body, `{"status": "ok"}`)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestWebsocketStreamsEvents(t *testing.T) {
	s, backend, ts := newTestServer(t)
	conn := dialWS(t, ts)
	ja := testutils.NewJSONAsserter(t)

	ja.Assert(readMessage(t, conn), `{"type": "entries", "entries": [{"id": "bath"}]}`)
	require.Eventually(t, func() bool { return backend.subscribers() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.ws.count())

	backend.publish(integration.Event{
		EntryID: "bath",
		Event:   coordinator.Event{Kind: coordinator.EventDisconnected, Address: "AA:BB:CC:DD:EE:FF"},
	})
	ja.Assert(readMessage(t, conn), `{
		"type": "event",
		"event": {"entry_id": "bath", "kind": "disconnected", "address": "AA:BB:CC:DD:EE:FF", "connected": false}
	}`)

	s.ws.shutdown()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return s.ws.count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebsocketClientDisconnectUnregisters(t *testing.T) {
	s, _, ts := newTestServer(t)
	conn := dialWS(t, ts)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool { return s.ws.count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebsocketDisconnectLogsDroppedEvents(t *testing.T) {
	backend := newFakeBackend()
	logger, hook := logtest.NewNullLogger()
	s := New(backend, "127.0.0.1:0", logger)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return backend.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return s.ws.count() == 0 }, time.Second, 5*time.Millisecond)

	var disconnected *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Websocket client disconnected" {
			disconnected = e
		}
	}
	require.NotNil(t, disconnected)
	assert.Equal(t, int64(0), disconnected.Data["events_dropped"])
	assert.Contains(t, disconnected.Data, "events_sent")
}

func TestStartAndShutdown(t *testing.T) {
	s := New(newFakeBackend(), "127.0.0.1:0", nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotEmpty(t, addr)

	code, _ := do(t, http.MethodGet, "http://"+addr+"/health")
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err := http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestShutdownWithoutStart(t *testing.T) {
	assert.NoError(t, New(newFakeBackend(), "127.0.0.1:0", nil).Shutdown(context.Background()))
}

func TestStartFailsOnBadAddress(t *testing.T) {
	err := New(newFakeBackend(), "256.0.0.1:99999", nil).Start()
	assert.Error(t, err)
}
