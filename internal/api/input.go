package api

import (
	"io"
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/session"
)

// maxInputBytes bounds a single input POST.
const maxInputBytes = 1 << 20

func (s *State) handleInput(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes))
	if err != nil {
		writeErr(w, apierr.InputSendFailed(err))
		return
	}
	if err := sess.SendInput(data); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *State) handleInputMode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inputModeBody(sess))
}

func inputModeBody(sess *session.Session) map[string]any {
	body := map[string]any{"mode": sess.Mode.Mode()}
	if owner := sess.Mode.Owner(); owner != "" {
		body["owner"] = owner
	}
	return body
}

type ownerReq struct {
	Owner string `json:"owner"`
}

func (s *State) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req ownerReq
	if err := decodeJSONOptional(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Owner == "" {
		req.Owner = session.LocalOwner
	}
	if err := sess.Mode.Capture(req.Owner); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inputModeBody(sess))
}

func (s *State) handleRelease(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req ownerReq
	if err := decodeJSONOptional(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Owner == "" {
		req.Owner = session.LocalOwner
	}
	if err := sess.Mode.Release(req.Owner); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inputModeBody(sess))
}

type focusReq struct {
	ID string `json:"id"`
}

func (s *State) handleGetFocus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	body := map[string]any{}
	if id := sess.Focus.Focused(); id != "" {
		body["id"] = id
	}
	writeJSON(w, http.StatusOK, body)
}

// applyFocus focuses an overlay or panel. The element must exist in either
// store and be focusable.
func applyFocus(sess *session.Session, id string) error {
	focusable := false
	if o, err := sess.Overlays.Get(id); err == nil {
		focusable = o.Focusable
	} else if p, err := sess.Panels.Get(id); err == nil {
		focusable = p.Focusable
	} else {
		return apierr.NotFound("overlay or panel " + id)
	}
	if !focusable {
		return apierr.InvalidRequestf("element %q is not focusable", id)
	}
	sess.Focus.Set(id)
	return nil
}

func (s *State) handleSetFocus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req focusReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := applyFocus(sess, req.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func (s *State) handleClearFocus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sess.Focus.Clear()
	w.WriteHeader(http.StatusNoContent)
}
