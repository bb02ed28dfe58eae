package api

import (
	"net/http"

	"github.com/perchlabs/perch/internal/overlay"
	"github.com/perchlabs/perch/internal/vterm"
)

func (s *State) handleListOverlays(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Overlays.List(sess.ScreenMode()))
}

type createOverlayReq struct {
	X            int                   `json:"x"`
	Y            int                   `json:"y"`
	Z            *int                  `json:"z"`
	Width        int                   `json:"width"`
	Height       int                   `json:"height"`
	Background   string                `json:"background"`
	Spans        []vterm.Span          `json:"spans"`
	RegionWrites []overlay.RegionWrite `json:"region_writes"`
	Focusable    bool                  `json:"focusable"`
}

func (s *State) handleCreateOverlay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createOverlayReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	o := overlay.Overlay{
		X:            req.X,
		Y:            req.Y,
		Width:        req.Width,
		Height:       req.Height,
		Background:   req.Background,
		Spans:        req.Spans,
		RegionWrites: req.RegionWrites,
		Focusable:    req.Focusable,
		ScreenMode:   sess.ScreenMode(),
	}
	if req.Z != nil {
		o.Z = *req.Z
	}
	created := sess.Overlays.Create(o, req.Z != nil)
	writeJSON(w, http.StatusCreated, created)
}

func (s *State) handleClearOverlays(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, id := range sess.Overlays.DestroyMode(sess.ScreenMode()) {
		sess.Focus.ClearIf(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *State) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	o, err := sess.Overlays.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type updateOverlayReq struct {
	Spans        []vterm.Span          `json:"spans"`
	RegionWrites []overlay.RegionWrite `json:"region_writes"`
}

func (s *State) handleUpdateOverlay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updateOverlayReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Overlays.Update(id, req.Spans, req.RegionWrites); err != nil {
		writeErr(w, err)
		return
	}
	o, err := sess.Overlays.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type moveOverlayReq struct {
	overlay.Move
	Visible *bool `json:"visible"`
}

func (s *State) handleMoveOverlay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req moveOverlayReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Overlays.ApplyMove(id, req.Move); err != nil {
		writeErr(w, err)
		return
	}
	if req.Visible != nil {
		if err := sess.Overlays.SetVisible(id, *req.Visible); err != nil {
			writeErr(w, err)
			return
		}
	}
	o, err := sess.Overlays.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *State) handleDeleteOverlay(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Overlays.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	sess.Focus.ClearIf(id)
	w.WriteHeader(http.StatusNoContent)
}
