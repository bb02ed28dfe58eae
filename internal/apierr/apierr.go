// Package apierr defines the error taxonomy shared by the HTTP, WebSocket,
// and unix-socket surfaces. Every client-visible failure is an *E carrying a
// machine code, an HTTP status, and a human-readable message.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind int

const (
	KindClient Kind = iota
	KindDeadline
	KindOverload
	KindInternal
)

// E is a tagged API error.
type E struct {
	code    string
	status  int
	kind    Kind
	Message string
}

func (e *E) Error() string {
	return e.code + ": " + e.Message
}

// Code returns the machine-readable error code.
func (e *E) Code() string { return e.code }

// Status returns the HTTP status the code maps to.
func (e *E) Status() int { return e.status }

// Kind returns the error's classification.
func (e *E) Kind() Kind { return e.kind }

func newE(code string, status int, kind Kind, msg string) *E {
	return &E{code: code, status: status, kind: kind, Message: msg}
}

func AuthRequired() *E {
	return newE("auth_required", http.StatusUnauthorized, KindClient, "authentication required")
}

func AuthInvalid() *E {
	return newE("auth_invalid", http.StatusForbidden, KindClient, "invalid credentials")
}

func OriginNotAllowed(origin string) *E {
	return newE("origin_not_allowed", http.StatusForbidden, KindClient, fmt.Sprintf("origin %q not allowed", origin))
}

func NotFound(what string) *E {
	return newE("not_found", http.StatusNotFound, KindClient, what+" not found")
}

func SessionNotFound(name string) *E {
	return newE("session_not_found", http.StatusNotFound, KindClient, fmt.Sprintf("session %q not found", name))
}

func OverlayNotFound(id string) *E {
	return newE("overlay_not_found", http.StatusNotFound, KindClient, fmt.Sprintf("overlay %q not found", id))
}

func PanelNotFound(id string) *E {
	return newE("panel_not_found", http.StatusNotFound, KindClient, fmt.Sprintf("panel %q not found", id))
}

func ServerNotFound(hostname string) *E {
	return newE("server_not_found", http.StatusNotFound, KindClient, fmt.Sprintf("server %q not found", hostname))
}

func NoSessions() *E {
	return newE("no_sessions", http.StatusNotFound, KindClient, "no sessions exist")
}

func ServerUnavailable(hostname string) *E {
	return newE("server_unavailable", http.StatusServiceUnavailable, KindOverload, fmt.Sprintf("server %q is not connected", hostname))
}

func InvalidRequest(msg string) *E {
	return newE("invalid_request", http.StatusBadRequest, KindClient, msg)
}

func InvalidRequestf(format string, args ...any) *E {
	return InvalidRequest(fmt.Sprintf(format, args...))
}

func InvalidOverlay(msg string) *E {
	return newE("invalid_overlay", http.StatusBadRequest, KindClient, msg)
}

func InvalidInputMode(msg string) *E {
	return newE("invalid_input_mode", http.StatusBadRequest, KindClient, msg)
}

func InvalidFormat(format string) *E {
	return newE("invalid_format", http.StatusBadRequest, KindClient, fmt.Sprintf("unknown format %q", format))
}

func SessionNameConflict(name string) *E {
	return newE("session_name_conflict", http.StatusConflict, KindClient, fmt.Sprintf("session %q already exists", name))
}

func ServerAlreadyRegistered(detail string) *E {
	return newE("server_already_registered", http.StatusConflict, KindClient, detail)
}

func AlreadyInAltScreen() *E {
	return newE("already_in_alt_screen", http.StatusConflict, KindClient, "session is already in alt screen mode")
}

func NotInAltScreen() *E {
	return newE("not_in_alt_screen", http.StatusConflict, KindClient, "session is not in alt screen mode")
}

func QuiesceTimeout() *E {
	return newE("quiesce_timeout", http.StatusRequestTimeout, KindDeadline, "session did not quiesce in time")
}

func ChannelFull() *E {
	return newE("channel_full", http.StatusServiceUnavailable, KindOverload, "input channel full")
}

func MaxSessionsReached(max int) *E {
	return newE("max_sessions_reached", http.StatusServiceUnavailable, KindOverload, fmt.Sprintf("session limit of %d reached", max))
}

func ParserUnavailable() *E {
	return newE("parser_unavailable", http.StatusServiceUnavailable, KindInternal, "terminal parser is restarting")
}

func InputSendFailed(err error) *E {
	return newE("input_send_failed", http.StatusInternalServerError, KindInternal, "failed to send input: "+err.Error())
}

func SessionCreateFailed(err error) *E {
	return newE("session_create_failed", http.StatusInternalServerError, KindInternal, "failed to create session: "+err.Error())
}

func Internal(err error) *E {
	return newE("internal_error", http.StatusInternalServerError, KindInternal, err.Error())
}

// From coerces any error into an *E. Errors that already carry a code pass
// through unchanged; everything else becomes internal_error.
func From(err error) *E {
	var e *E
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// HasCode reports whether err carries the given machine code.
func HasCode(err error, code string) bool {
	var e *E
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}
