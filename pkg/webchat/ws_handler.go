package webchat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultReadLimit caps inbound frame size in bytes.
const DefaultReadLimit = 64 * 1024

// NewWSHandler upgrades the request and attaches the socket to sv. The
// handler returns when the connection ends.
func NewWSHandler(sv *Supervisor, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if sv == nil {
			http.Error(w, "chat supervisor not initialized", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", req.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		conn.SetReadLimit(DefaultReadLimit)
		sv.Attach(req.Context(), conn)
	}
}
