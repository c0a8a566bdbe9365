package webchat

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-go-golems/chat2k/pkg/auth"
)

func TestServer_ServesRoutesAndShutsDown(t *testing.T) {
	h := newHarness(t, SessionOptions{})
	accounts, err := auth.NewSQLiteUserStore("file:" + filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	accounts.WithCost(bcrypt.MinCost)

	var metricsHit atomic.Bool
	handler := NewRouter(RouteDeps{
		Supervisor: h.sv,
		Accounts:   accounts,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			metricsHit.Store(true)
			_, _ = io.WriteString(w, "ok")
		}),
		Upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	})

	srv := NewServer("127.0.0.1:0", handler, h.sv)
	srv.HandleSignals = false
	closed := make(chan string, 1)
	srv.OnShutdown("accounts", func() error {
		closed <- "accounts"
		return accounts.Close()
	})
	bgStopped := make(chan struct{})
	srv.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(bgStopped)
		return nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()

	resp, err := http.Post(base+"/api/register", "application/json",
		strings.NewReader(`{"username":"alice","mail":"alice@example.com","password":"pw","password2":"pw"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	readUntil(t, conn, EventHistory)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Sessions)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.True(t, metricsHit.Load())

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.Equal(t, "accounts", <-closed)
	<-bgStopped

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return h.sv.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
