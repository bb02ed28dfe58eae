package api

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/fed"
	"github.com/perchlabs/perch/internal/logger"
)

// routed dispatches by the ?server= query parameter: empty or our own
// hostname stays local, anything else is forwarded to that backend.
func (s *State) routed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server := r.URL.Query().Get("server")
		if server == "" || server == s.Hostname {
			next(w, r)
			return
		}
		s.proxyTo(w, r, server)
	}
}

// proxyTo relays the request to the named backend. Only healthy backends are
// eligible; responses pass through the federation sanitizers.
func (s *State) proxyTo(w http.ResponseWriter, r *http.Request, hostname string) {
	b, ok := s.Fed.Registry().ByHostname(hostname)
	if !ok {
		writeErr(w, apierr.ServerNotFound(hostname))
		return
	}
	if b.Health != fed.HealthHealthy {
		writeErr(w, apierr.ServerUnavailable(hostname))
		return
	}

	if isWSUpgrade(r) {
		s.proxyWS(w, r, b)
		return
	}

	result, err := fed.ProxyHTTP(r.Context(), s.ProxyClient, b, r)
	if err != nil {
		logger.Warn("proxy request failed", "server", hostname, "path", r.URL.Path, "error", err)
		writeErr(w, apierr.ServerUnavailable(hostname))
		return
	}
	if len(result.Body) == 0 {
		w.WriteHeader(result.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// proxyWS bridges a client WebSocket to the backend. The backend leg is
// dialed first so a dead peer still yields a clean HTTP error instead of a
// half-upgraded socket.
func (s *State) proxyWS(w http.ResponseWriter, r *http.Request, b fed.Backend) {
	remote, err := fed.DialWS(r.Context(), s.ProxyClient, b, r.URL.Path, r.URL.RawQuery)
	if err != nil {
		logger.Warn("proxy ws dial failed", "server", b.Hostname, "path", r.URL.Path, "error", err)
		writeErr(w, apierr.ServerUnavailable(b.Hostname))
		return
	}
	defer remote.CloseNow()

	local, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was already checked by the middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("proxy ws accept failed", "error", err)
		return
	}
	defer local.CloseNow()
	local.SetReadLimit(wsReadLimit)

	err = fed.Bridge(r.Context(), local, remote)
	logger.Debug("proxy ws bridge closed", "server", b.Hostname, "error", err)
	local.Close(websocket.StatusNormalClosure, "")
	remote.Close(websocket.StatusNormalClosure, "")
}
