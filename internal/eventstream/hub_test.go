package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/replisync/internal/session"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestFromEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	msg := FromEvent(session.Event{
		Type:    session.EventAuthFailed,
		Session: "s",
		From:    session.StateAuthenticating,
		To:      session.StateAuthenticating,
		Attempt: 3,
		Next:    8 * time.Second,
		Err:     errors.New("timeout"),
		At:      at,
	})

	assert.Equal(t, Message{
		Type:    "auth_failed",
		Session: "s",
		From:    "AUTHENTICATING",
		To:      "AUTHENTICATING",
		Attempt: 3,
		NextMs:  8000,
		Error:   "timeout",
		At:      at,
	}, msg)
}

func TestHub_SnapshotThenEvents(t *testing.T) {
	t.Parallel()
	hub, srv := newTestHub(t)

	hub.OnEvent(session.Event{Type: session.EventStateEntered, Session: "s1", From: session.StateInitial, To: session.StateStarted})
	require.Eventually(t, func() bool { return len(hub.broadcast) == 0 }, time.Second, time.Millisecond)

	conn := dial(t, srv)
	snap := readMessage(t, conn)
	assert.Equal(t, MessageSnapshot, snap.Type)
	assert.Equal(t, "s1", snap.Session)
	assert.Equal(t, "STARTED", snap.To)
	assert.Equal(t, 1, hub.ClientCount())

	hub.OnEvent(session.Event{Type: session.EventStateExited, Session: "s1", From: session.StateUnbound, To: session.StateBinding})
	hub.OnEvent(session.Event{Type: session.EventStateEntered, Session: "s1", From: session.StateUnbound, To: session.StateBinding})

	first := readMessage(t, conn)
	assert.Equal(t, "state_exited", first.Type)
	second := readMessage(t, conn)
	assert.Equal(t, "state_entered", second.Type)
	assert.Equal(t, "BINDING", second.To)
}

func TestHub_EmptySnapshot(t *testing.T) {
	t.Parallel()
	_, srv := newTestHub(t)

	snap := readMessage(t, dial(t, srv))
	assert.Equal(t, MessageSnapshot, snap.Type)
	assert.Empty(t, snap.To)
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	t.Parallel()
	hub, srv := newTestHub(t)

	conns := []*websocket.Conn{dial(t, srv), dial(t, srv), dial(t, srv)}
	for _, c := range conns {
		readMessage(t, c)
	}
	require.Equal(t, 3, hub.ClientCount())

	hub.OnEvent(session.Event{Type: session.EventTokenRefreshed, Session: "s", To: session.StateBound})
	for _, c := range conns {
		msg := readMessage(t, c)
		assert.Equal(t, "token_refreshed", msg.Type)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	t.Parallel()
	hub, srv := newTestHub(t)

	conn := dial(t, srv)
	readMessage(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Health(t *testing.T) {
	t.Parallel()
	_, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + "/health") //nolint:noctx // test request
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, string(body))
}

func TestHub_StartAndClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	addr, err := hub.Start("127.0.0.1:0")
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	_, _, err = conn.Read(ctx)
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.ClientCount())

	_, _, err = conn.Read(ctx)
	require.Error(t, err)

	// Events after Close are discarded
	hub.OnEvent(session.Event{Type: session.EventError})
}

func TestHub_StartBadAddress(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer func() { _ = hub.Close() }()

	_, err := hub.Start("not-an-address")
	require.Error(t, err)
}
