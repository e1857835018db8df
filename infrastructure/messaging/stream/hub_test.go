package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/messaging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func serveHub(t *testing.T, hub *Hub, sid valueobjects.SessionID) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _ = hub.Attach(conn, sid)
	}))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestHub_DeliversToSessionClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil)
	sid := valueobjects.NewSessionID()
	srv := serveHub(t, hub, sid)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount(sid) == 1 }, time.Second, 10*time.Millisecond)

	records := []events.Record{{
		EventID:   "evt-1",
		SessionID: sid.String(),
		EventType: events.TypeIdeaCreated,
		Version:   3,
		Payload:   json.RawMessage(`{"content":"queue the billing jobs"}`),
	}}
	require.NoError(t, hub.Notify(context.Background(), valueobjects.NewSessionID(), records), "other sessions are not delivered")
	require.NoError(t, hub.Notify(context.Background(), sid, records))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env messaging.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, events.TypeIdeaCreated, env.Type)
	assert.Equal(t, 3, env.Version)

	hub.Close()
	assert.Equal(t, 0, hub.ConnectionCount(sid))
}

func TestHub_ClientDisconnectDetaches(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil)
	sid := valueobjects.NewSessionID()
	srv := serveHub(t, hub, sid)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ConnectionCount(sid) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount(sid) == 0 }, time.Second, 10*time.Millisecond)

	hub.Close()
	assert.NoError(t, hub.Notify(context.Background(), sid, nil))
}
