package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/session"
)

func (s *State) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.Registry.List()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.sessionInfo(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

type createSessionReq struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Rows    int               `json:"rows"`
	Cols    int               `json:"cols"`
	CWD     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
	Tags    []string          `json:"tags"`
	Server  string            `json:"server"`
}

func (s *State) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, apierr.InvalidRequestf("read body: %v", err))
		return
	}
	var req createSessionReq
	if len(raw) > 0 {
		if err := jsonUnmarshal(raw, &req); err != nil {
			writeErr(w, err)
			return
		}
	}

	// The create body can name a target server; re-route with the body
	// restored so the peer sees the original request.
	if req.Server != "" && req.Server != s.Hostname {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		s.proxyTo(w, r, req.Server)
		return
	}

	sess, err := s.Registry.Create(session.Options{
		Command:    req.Command,
		Args:       req.Args,
		CWD:        req.CWD,
		Env:        req.Env,
		Rows:       req.Rows,
		Cols:       req.Cols,
		Scrollback: s.Cfg.Server.Scrollback,
		Tags:       req.Tags,
	}, req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.sessionDetail(sess))
}

func (s *State) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionDetail(sess))
}

type patchSessionReq struct {
	Name *string   `json:"name"`
	Rows *int      `json:"rows"`
	Cols *int      `json:"cols"`
	Tags *[]string `json:"tags"`
}

func (s *State) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req patchSessionReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if req.Rows != nil || req.Cols != nil {
		rows, cols := sess.Size()
		if req.Rows != nil {
			rows = *req.Rows
		}
		if req.Cols != nil {
			cols = *req.Cols
		}
		if err := sess.Resize(r.Context(), rows, cols); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.Tags != nil {
		sess.SetTags(*req.Tags)
	}
	if req.Name != nil && *req.Name != sess.Name() {
		if err := s.Registry.Rename(sess.Name(), *req.Name); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.sessionDetail(sess))
}

func (s *State) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Registry.Remove(name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
