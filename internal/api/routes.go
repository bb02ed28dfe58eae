package api

import (
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/session"
)

// Handler builds the full HTTP surface. mcp, when non-nil, is mounted at
// /mcp behind the same protection as the rest of the API.
func (s *State) Handler(mcp http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/ws-ticket", s.protectBearerOnly(s.handleCreateTicket))

	mux.HandleFunc("GET /sessions", s.protect(s.routed(s.handleListSessions)))
	mux.HandleFunc("POST /sessions", s.protect(s.handleCreateSession))
	mux.HandleFunc("GET /sessions/{name}", s.protect(s.routed(s.handleGetSession)))
	mux.HandleFunc("PATCH /sessions/{name}", s.protect(s.routed(s.handlePatchSession)))
	mux.HandleFunc("DELETE /sessions/{name}", s.protect(s.routed(s.handleDeleteSession)))

	mux.HandleFunc("GET /sessions/{name}/screen", s.protect(s.routed(s.handleScreen)))
	mux.HandleFunc("GET /sessions/{name}/scrollback", s.protect(s.routed(s.handleScrollback)))
	mux.HandleFunc("GET /sessions/{name}/quiesce", s.protect(s.routed(s.handleQuiesce)))

	mux.HandleFunc("POST /sessions/{name}/input", s.protect(s.routed(s.handleInput)))
	mux.HandleFunc("GET /sessions/{name}/input/mode", s.protect(s.routed(s.handleInputMode)))
	mux.HandleFunc("POST /sessions/{name}/input/capture", s.protect(s.routed(s.handleCapture)))
	mux.HandleFunc("POST /sessions/{name}/input/release", s.protect(s.routed(s.handleRelease)))

	mux.HandleFunc("GET /sessions/{name}/overlay", s.protect(s.routed(s.handleListOverlays)))
	mux.HandleFunc("POST /sessions/{name}/overlay", s.protect(s.routed(s.handleCreateOverlay)))
	mux.HandleFunc("DELETE /sessions/{name}/overlay", s.protect(s.routed(s.handleClearOverlays)))
	mux.HandleFunc("GET /sessions/{name}/overlay/{id}", s.protect(s.routed(s.handleGetOverlay)))
	mux.HandleFunc("PUT /sessions/{name}/overlay/{id}", s.protect(s.routed(s.handleUpdateOverlay)))
	mux.HandleFunc("PATCH /sessions/{name}/overlay/{id}", s.protect(s.routed(s.handleMoveOverlay)))
	mux.HandleFunc("DELETE /sessions/{name}/overlay/{id}", s.protect(s.routed(s.handleDeleteOverlay)))

	mux.HandleFunc("GET /sessions/{name}/panel", s.protect(s.routed(s.handleListPanels)))
	mux.HandleFunc("POST /sessions/{name}/panel", s.protect(s.routed(s.handleCreatePanel)))
	mux.HandleFunc("DELETE /sessions/{name}/panel", s.protect(s.routed(s.handleClearPanels)))
	mux.HandleFunc("GET /sessions/{name}/panel/{id}", s.protect(s.routed(s.handleGetPanel)))
	mux.HandleFunc("PUT /sessions/{name}/panel/{id}", s.protect(s.routed(s.handleUpdatePanel)))
	mux.HandleFunc("PATCH /sessions/{name}/panel/{id}", s.protect(s.routed(s.handlePatchPanel)))
	mux.HandleFunc("DELETE /sessions/{name}/panel/{id}", s.protect(s.routed(s.handleDeletePanel)))
	mux.HandleFunc("POST /sessions/{name}/panel/{id}/update_spans", s.protect(s.routed(s.handleUpdatePanelSpans)))
	mux.HandleFunc("GET /sessions/{name}/layout", s.protect(s.routed(s.handleLayout)))

	mux.HandleFunc("GET /sessions/{name}/screen_mode", s.protect(s.routed(s.handleScreenMode)))
	mux.HandleFunc("POST /sessions/{name}/screen_mode/enter_alt", s.protect(s.routed(s.handleEnterAlt)))
	mux.HandleFunc("POST /sessions/{name}/screen_mode/exit_alt", s.protect(s.routed(s.handleExitAlt)))

	mux.HandleFunc("GET /sessions/{name}/focus", s.protect(s.routed(s.handleGetFocus)))
	mux.HandleFunc("POST /sessions/{name}/focus", s.protect(s.routed(s.handleSetFocus)))
	mux.HandleFunc("DELETE /sessions/{name}/focus", s.protect(s.routed(s.handleClearFocus)))

	mux.HandleFunc("GET /servers", s.protect(s.handleListServers))
	mux.HandleFunc("POST /servers", s.protect(s.handleAddServer))
	mux.HandleFunc("GET /servers/{hostname}", s.protect(s.handleGetServer))
	mux.HandleFunc("DELETE /servers/{hostname}", s.protect(s.handleRemoveServer))
	mux.HandleFunc("GET /server/info", s.protect(s.handleServerInfo))

	mux.HandleFunc("GET /sessions/{name}/ws/json", s.protect(s.routed(s.handleWSJSON)))
	mux.HandleFunc("GET /sessions/{name}/ws/raw", s.protect(s.routed(s.handleWSRaw)))
	mux.HandleFunc("GET /ws/json", s.protect(s.handleServerWS))

	if mcp != nil {
		mux.Handle("/mcp", s.protectHandler(mcp))
	}

	return mux
}

func (s *State) protectHandler(h http.Handler) http.Handler {
	return s.protect(h.ServeHTTP)
}

func (s *State) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookup resolves the session named in the request path.
func (s *State) lookup(r *http.Request) (*session.Session, error) {
	name := r.PathValue("name")
	if name == "" {
		return nil, apierr.InvalidRequest("missing session name")
	}
	return s.Registry.Get(name)
}
