// Package api exposes the HTTP and WebSocket surface: session CRUD, screen
// and scrollback queries, input and capture, overlays and panels, federation
// routing, and the JSON/raw WebSocket protocols.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/fed"
	"github.com/perchlabs/perch/internal/overlay"
	"github.com/perchlabs/perch/internal/session"
	"github.com/perchlabs/perch/internal/ticket"
)

// State wires the server's long-lived components to the transport handlers.
type State struct {
	Registry *session.Registry
	Tickets  *ticket.Store
	Fed      *fed.Manager
	Cfg      *config.Config

	// Hostname is this server's federation identity; ServerID is the
	// per-process nonce behind the self-loop guard.
	Hostname string
	ServerID string

	// ProxyClient performs federation forwarding.
	ProxyClient *http.Client

	limiter *RateLimiter
}

// NewState assembles the shared handler state.
func NewState(cfg *config.Config, reg *session.Registry, tickets *ticket.Store, mgr *fed.Manager, hostname string) *State {
	return &State{
		Registry:    reg,
		Tickets:     tickets,
		Fed:         mgr,
		Cfg:         cfg,
		Hostname:    hostname,
		ServerID:    uuid.NewString(),
		ProxyClient: &http.Client{Timeout: 30 * time.Second},
		limiter:     NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst),
	}
}

// SessionInfo is the wire form of a session in list responses.
type SessionInfo struct {
	Name           string   `json:"name"`
	PID            int      `json:"pid"`
	Command        string   `json:"command"`
	Rows           int      `json:"rows"`
	Cols           int      `json:"cols"`
	Clients        int      `json:"clients"`
	Tags           []string `json:"tags,omitempty"`
	Server         string   `json:"server"`
	LastActivityMS int64    `json:"last_activity_ms"`
}

// SessionDetail extends SessionInfo for single-session responses.
type SessionDetail struct {
	SessionInfo
	ScreenMode  overlay.ScreenMode `json:"screen_mode"`
	ChildExited bool               `json:"child_exited"`
	ExitCode    *int               `json:"exit_code,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (s *State) sessionInfo(sess *session.Session) SessionInfo {
	rows, cols := sess.Size()
	return SessionInfo{
		Name:           sess.Name(),
		PID:            sess.PID(),
		Command:        sess.Command(),
		Rows:           rows,
		Cols:           cols,
		Clients:        sess.Clients(),
		Tags:           sess.Tags(),
		Server:         s.Hostname,
		LastActivityMS: sess.Activity.LastActivity().Milliseconds(),
	}
}

func (s *State) sessionDetail(sess *session.Session) SessionDetail {
	d := SessionDetail{
		SessionInfo: s.sessionInfo(sess),
		ScreenMode:  sess.ScreenMode(),
		ChildExited: sess.ChildExited(),
		CreatedAt:   sess.CreatedAt(),
	}
	if sess.ChildExited() {
		code := sess.ExitCode()
		d.ExitCode = &code
	}
	return d
}
