package api

import (
	"net/http"
)

// handleCreateTicket mints a single-use WebSocket ticket. Only a real bearer
// token may mint one; a ticket cannot mint further tickets.
func (s *State) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	nonce, err := s.Tickets.Create()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": nonce})
}
