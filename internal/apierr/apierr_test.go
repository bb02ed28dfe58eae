package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *E
		code   string
		status int
	}{
		{AuthRequired(), "auth_required", http.StatusUnauthorized},
		{AuthInvalid(), "auth_invalid", http.StatusForbidden},
		{OriginNotAllowed("http://evil"), "origin_not_allowed", http.StatusForbidden},
		{SessionNotFound("x"), "session_not_found", http.StatusNotFound},
		{ServerNotFound("h"), "server_not_found", http.StatusNotFound},
		{InvalidInputMode("held"), "invalid_input_mode", http.StatusBadRequest},
		{SessionNameConflict("x"), "session_name_conflict", http.StatusConflict},
		{AlreadyInAltScreen(), "already_in_alt_screen", http.StatusConflict},
		{NotInAltScreen(), "not_in_alt_screen", http.StatusConflict},
		{QuiesceTimeout(), "quiesce_timeout", http.StatusRequestTimeout},
		{ChannelFull(), "channel_full", http.StatusServiceUnavailable},
		{MaxSessionsReached(5), "max_sessions_reached", http.StatusServiceUnavailable},
		{ParserUnavailable(), "parser_unavailable", http.StatusServiceUnavailable},
		{Internal(errors.New("boom")), "internal_error", http.StatusInternalServerError},
	}
	for _, c := range cases {
		if c.err.Code() != c.code {
			t.Errorf("expected code %s, got %s", c.code, c.err.Code())
		}
		if c.err.Status() != c.status {
			t.Errorf("%s: expected status %d, got %d", c.code, c.status, c.err.Status())
		}
	}
}

func TestKinds(t *testing.T) {
	if QuiesceTimeout().Kind() != KindDeadline {
		t.Errorf("expected quiesce_timeout to be a deadline error")
	}
	if ChannelFull().Kind() != KindOverload {
		t.Errorf("expected channel_full to be an overload error")
	}
	if SessionNotFound("a").Kind() != KindClient {
		t.Errorf("expected session_not_found to be a client error")
	}
	if ParserUnavailable().Kind() != KindInternal {
		t.Errorf("expected parser_unavailable to be an internal error")
	}
}

func TestFromPassthrough(t *testing.T) {
	orig := SessionNotFound("db")
	got := From(fmt.Errorf("lookup: %w", orig))
	if got.Code() != "session_not_found" {
		t.Errorf("expected wrapped error to keep its code, got %s", got.Code())
	}

	got = From(errors.New("plain failure"))
	if got.Code() != "internal_error" {
		t.Errorf("expected plain error to map to internal_error, got %s", got.Code())
	}
	if got.Status() != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got.Status())
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", AlreadyInAltScreen())
	if !HasCode(err, "already_in_alt_screen") {
		t.Errorf("expected HasCode to see through wrapping")
	}
	if HasCode(err, "not_in_alt_screen") {
		t.Errorf("expected HasCode to reject a different code")
	}
	if HasCode(errors.New("x"), "internal_error") {
		t.Errorf("expected HasCode to be false for untagged errors")
	}
}
