package webchat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	webhttp "github.com/go-go-golems/chat2k/pkg/webchat/http"
)

type RouteDeps struct {
	Supervisor *Supervisor
	Accounts   webhttp.Accounts
	// Metrics is served on /metrics when set.
	Metrics  http.Handler
	Upgrader websocket.Upgrader
}

// NewRouter mounts /ws, the account API, /healthz and /metrics.
func NewRouter(deps RouteDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", NewWSHandler(deps.Supervisor, deps.Upgrader))
	webhttp.NewAccountHandler(deps.Accounts).Mount(r)
	r.Get("/healthz", healthHandler(deps.Supervisor))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Online   int    `json:"online"`
}

func healthHandler(sv *Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		if sv != nil {
			resp.Sessions = sv.Count()
			resp.Online = sv.Presence().Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
