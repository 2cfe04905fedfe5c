package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmist/internal/alarmid"
	"alarmist/internal/store"
)

func newWSTestServer(t *testing.T) (*httptest.Server, *store.Store, *Server) {
	t.Helper()
	st := store.New(nil)
	srv := &Server{store: st, hub: newHub(st)}
	srv.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.hub.ServeHTTP)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, st, srv
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketStreamsMatchingEvents(t *testing.T) {
	ts, st, _ := newWSTestServer(t)
	conn := dialWS(t, ts, "?pattern=disk.pressure")
	defer conn.Close()

	// Give the register/subscribe handshake time to land before publishing.
	time.Sleep(50 * time.Millisecond)

	st.Put(alarmid.Leaf("other"), alarmid.Set, nil, alarmid.Warning)
	st.Put(alarmid.Leaf("disk.pressure"), alarmid.Set, "full", alarmid.Critical)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk.pressure")
	assert.Contains(t, string(data), "full")
}

func TestWebSocketDefaultPatternMatchesEveryAlarm(t *testing.T) {
	ts, st, _ := newWSTestServer(t)
	conn := dialWS(t, ts, "")
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	st.Put(alarmid.Leaf("anything"), alarmid.Set, nil, alarmid.Warning)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "anything")
}

func TestWebSocketRejectsMalformedPattern(t *testing.T) {
	ts, _, _ := newWSTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?pattern=" + "broken(a,b"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketClientCountCallbackFiresOnConnectAndClose(t *testing.T) {
	ts, _, srv := newWSTestServer(t)

	counts := make(chan int, 8)
	srv.hub.OnClientCountChanged = func(count int) { counts <- count }

	conn := dialWS(t, ts, "")

	select {
	case c := <-counts:
		assert.Equal(t, 1, c)
	case <-time.After(time.Second):
		t.Fatal("client count callback never fired on connect")
	}

	conn.Close()

	select {
	case c := <-counts:
		assert.Equal(t, 0, c)
	case <-time.After(time.Second):
		t.Fatal("client count callback never fired on disconnect")
	}
}
