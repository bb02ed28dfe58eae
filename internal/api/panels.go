package api

import (
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/overlay"
	"github.com/perchlabs/perch/internal/vterm"
)

func (s *State) handleListPanels(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Panels.List(sess.ScreenMode()))
}

type createPanelReq struct {
	Position     overlay.Position      `json:"position"`
	Height       int                   `json:"height"`
	Z            *int                  `json:"z"`
	Spans        []vterm.Span          `json:"spans"`
	RegionWrites []overlay.RegionWrite `json:"region_writes"`
	Background   string                `json:"background"`
	Focusable    bool                  `json:"focusable"`
}

func (s *State) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createPanelReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !overlay.ValidPosition(req.Position) {
		writeErr(w, apierr.InvalidOverlay("position must be \"top\" or \"bottom\""))
		return
	}
	if req.Height < 1 {
		writeErr(w, apierr.InvalidOverlay("height must be at least 1"))
		return
	}
	p := overlay.Panel{
		Position:     req.Position,
		Height:       req.Height,
		Spans:        req.Spans,
		RegionWrites: req.RegionWrites,
		Background:   req.Background,
		Focusable:    req.Focusable,
		ScreenMode:   sess.ScreenMode(),
	}
	if req.Z != nil {
		p.Z = *req.Z
	}
	created := sess.Panels.Create(p, req.Z != nil)
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *State) handleClearPanels(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, id := range sess.Panels.DestroyMode(sess.ScreenMode()) {
		sess.Focus.ClearIf(id)
	}
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *State) handleGetPanel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	p, err := sess.Panels.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updatePanelReq struct {
	Spans        []vterm.Span          `json:"spans"`
	RegionWrites []overlay.RegionWrite `json:"region_writes"`
}

func (s *State) handleUpdatePanel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updatePanelReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Panels.Update(id, req.Spans, req.RegionWrites); err != nil {
		writeErr(w, err)
		return
	}
	p, err := sess.Panels.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type patchPanelReq struct {
	overlay.PanelPatch
	Visible *bool `json:"visible"`
}

func (s *State) handlePatchPanel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req patchPanelReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Panels.Apply(id, req.PanelPatch); err != nil {
		writeErr(w, err)
		return
	}
	if req.Visible != nil {
		if err := sess.Panels.SetVisible(id, *req.Visible); err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	p, err := sess.Panels.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *State) handleDeletePanel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := sess.Panels.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	sess.Focus.ClearIf(id)
	if err := sess.RefreshViewport(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateSpansReq struct {
	Spans []vterm.Span `json:"spans"`
}

// handleUpdatePanelSpans retargets spans by id without touching geometry,
// for cheap ticker-style panel refreshes.
func (s *State) handleUpdatePanelSpans(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updateSpansReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	matched, err := sess.Panels.UpdateSpans(r.PathValue("id"), req.Spans)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"matched": matched})
}

func (s *State) handleLayout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Layout())
}
