package api

import (
	"net/http"

	"github.com/perchlabs/perch/internal/overlay"
)

func (s *State) handleScreenMode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]overlay.ScreenMode{"screen_mode": sess.ScreenMode()})
}

func (s *State) handleEnterAlt(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.EnterAltScreen(); err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *State) handleExitAlt(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.ExitAltScreen(); err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
