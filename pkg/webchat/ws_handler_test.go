package webchat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil returns the first frame of type typ, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, typ EventType) outFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f outFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestWSHandler_EndToEnd(t *testing.T) {
	h := newHarness(t, SessionOptions{PresenceInterval: 50 * time.Millisecond})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(NewWSHandler(h.sv, upgrader))
	t.Cleanup(srv.Close)

	alice := dialTestServer(t, srv)
	bob := dialTestServer(t, srv)

	require.Empty(t, readUntil(t, alice, EventHistory).Messages)
	require.Empty(t, readUntil(t, bob, EventHistory).Messages)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "identify", "user_id": "u1"}))
	ident := readUntil(t, alice, EventIdentified)
	require.Equal(t, "alice", ident.Name)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "send_message", "body": "  hello bob "}))
	for _, c := range []*websocket.Conn{alice, bob} {
		f := readUntil(t, c, EventMessage)
		require.NotNil(t, f.Message)
		require.Equal(t, "hello bob", f.Message.Body)
		require.Equal(t, "alice", f.Message.From)
	}

	sawAlice := false
	for i := 0; i < 100 && !sawAlice; i++ {
		sawAlice = readUntil(t, bob, EventPresence).Users["u1"] == "alice"
	}
	require.True(t, sawAlice)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return h.sv.Presence().Len() == 0 && h.sv.Count() == 1 },
		3*time.Second, 10*time.Millisecond)

	late := dialTestServer(t, srv)
	hist := readUntil(t, late, EventHistory)
	require.Len(t, hist.Messages, 1)
	require.Equal(t, "hello bob", hist.Messages[0].Body)
}

func TestWSHandler_NilSupervisor(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWSHandler(nil, websocket.Upgrader{})(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
