package api

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/perchlabs/perch/internal/logger"
)

// handleServerWS is the server-level control channel federation peers dial.
// Peers hold it open and ping; a readable socket is the liveness signal, so
// the server just drains frames until the peer goes away.
func (s *State) handleServerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was already checked by the middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("server ws accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	logger.Debug("federation peer connected", "remote", r.RemoteAddr)
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			logger.Debug("federation peer disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
