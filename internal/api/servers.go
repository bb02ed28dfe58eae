package api

import (
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/fed"
)

// ServerEntry is the wire form of a federation peer. Token deliberately has
// no field here: credentials never leave the server.
type ServerEntry struct {
	Hostname string     `json:"hostname,omitempty"`
	Address  string     `json:"address"`
	Role     string     `json:"role"`
	Health   fed.Health `json:"health"`
	ServerID string     `json:"server_id,omitempty"`
}

func (s *State) localEntry() ServerEntry {
	return ServerEntry{
		Hostname: s.Hostname,
		Address:  "local",
		Role:     "local",
		Health:   fed.HealthHealthy,
		ServerID: s.ServerID,
	}
}

func remoteEntry(b fed.Backend) ServerEntry {
	return ServerEntry{
		Hostname: b.Hostname,
		Address:  b.Address,
		Role:     "remote",
		Health:   b.Health,
		ServerID: b.ServerID,
	}
}

func (s *State) handleListServers(w http.ResponseWriter, r *http.Request) {
	entries := []ServerEntry{s.localEntry()}
	for _, b := range s.Fed.Registry().List() {
		entries = append(entries, remoteEntry(b))
	}
	writeJSON(w, http.StatusOK, entries)
}

type addServerReq struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

func (s *State) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req addServerReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	normalized, err := s.Fed.AddBackend(r.Context(), req.Address, req.Token)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := s.Fed.Registry().ByAddress(normalized)
	writeJSON(w, http.StatusCreated, remoteEntry(b))
}

func (s *State) handleGetServer(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")
	if hostname == s.Hostname {
		writeJSON(w, http.StatusOK, s.localEntry())
		return
	}
	b, ok := s.Fed.Registry().ByHostname(hostname)
	if !ok {
		writeErr(w, apierr.ServerNotFound(hostname))
		return
	}
	writeJSON(w, http.StatusOK, remoteEntry(b))
}

func (s *State) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	if err := s.Fed.RemoveByHostname(r.PathValue("hostname")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleServerInfo is the identity probe federation peers hit after dialing.
// The self-loop guard compares server_id against its own.
func (s *State) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"hostname":  s.Hostname,
		"server_id": s.ServerID,
	})
}
