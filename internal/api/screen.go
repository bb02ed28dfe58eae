package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/parser"
)

func (s *State) handleScreen(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	format, err := parser.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := sess.Parser().Snapshot(r.Context(), format)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *State) handleScrollback(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	format, err := parser.ParseFormat(q.Get("format"))
	if err != nil {
		writeErr(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), 1<<30)
	if err != nil {
		writeErr(w, err)
		return
	}
	chunk, err := sess.Parser().Scrollback(r.Context(), format, offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

// handleQuiesce blocks until the session has been silent for timeout_ms of
// fresh wall-clock time, then returns the settled screen. max_wait_ms bounds
// the whole wait; overruns return 408.
func (s *State) handleQuiesce(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	format, err := parser.ParseFormat(q.Get("format"))
	if err != nil {
		writeErr(w, err)
		return
	}
	timeoutMS, err := intParam(q.Get("timeout_ms"), 2000)
	if err != nil {
		writeErr(w, err)
		return
	}
	maxWaitMS, err := intParam(q.Get("max_wait_ms"), 30000)
	if err != nil {
		writeErr(w, err)
		return
	}
	if timeoutMS <= 0 || maxWaitMS <= 0 {
		writeErr(w, apierr.InvalidRequest("timeout_ms and max_wait_ms must be positive"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(maxWaitMS)*time.Millisecond)
	defer cancel()

	if _, err := sess.Activity.WaitFreshIdle(ctx, time.Duration(timeoutMS)*time.Millisecond); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeErr(w, apierr.QuiesceTimeout())
			return
		}
		writeErr(w, err)
		return
	}

	snap, err := sess.Parser().Snapshot(r.Context(), format)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"screen":           snap,
		"scrollback_lines": snap.FirstLineIndex,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.InvalidRequestf("invalid integer %q", raw)
	}
	return n, nil
}
