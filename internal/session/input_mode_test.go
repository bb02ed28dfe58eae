package session

import (
	"strings"
	"testing"

	"github.com/perchlabs/perch/internal/apierr"
)

func TestInputMode_DefaultsToPassthrough(t *testing.T) {
	m := NewInputMode()
	if m.Mode() != ModePassthrough {
		t.Errorf("mode = %q, want passthrough", m.Mode())
	}
	if m.IsCapture() {
		t.Error("IsCapture = true on a fresh mode")
	}
}

func TestInputMode_CaptureAndRelease(t *testing.T) {
	m := NewInputMode()
	if err := m.Capture("client-1"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if m.Owner() != "client-1" {
		t.Errorf("owner = %q, want client-1", m.Owner())
	}
	if err := m.Release("client-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if m.IsCapture() {
		t.Error("still captured after release")
	}
}

func TestInputMode_ConflictNamesHolder(t *testing.T) {
	m := NewInputMode()
	if err := m.Capture("alice"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	err := m.Capture("bob")
	if !apierr.HasCode(err, "invalid_input_mode") {
		t.Fatalf("second capture = %v, want invalid_input_mode", err)
	}
	if !strings.Contains(err.Error(), "alice") {
		t.Errorf("conflict error %q does not name the holder", err.Error())
	}
}

func TestInputMode_CaptureIdempotentForOwner(t *testing.T) {
	m := NewInputMode()
	if err := m.Capture("alice"); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if err := m.Capture("alice"); err != nil {
		t.Errorf("same-owner capture = %v, want nil", err)
	}
}

func TestInputMode_ReleaseByNonOwnerFails(t *testing.T) {
	m := NewInputMode()
	m.Capture("alice")
	err := m.Release("bob")
	if !apierr.HasCode(err, "invalid_input_mode") {
		t.Errorf("release by non-owner = %v, want invalid_input_mode", err)
	}
	if !m.IsCapture() {
		t.Error("capture lost after failed release")
	}
}

func TestInputMode_ReleaseWhenPassthroughIsNoop(t *testing.T) {
	m := NewInputMode()
	if err := m.Release("anyone"); err != nil {
		t.Errorf("release in passthrough = %v, want nil", err)
	}
}

func TestInputMode_ReleaseIfOwner(t *testing.T) {
	m := NewInputMode()
	m.Capture("alice")
	if m.ReleaseIfOwner("bob") {
		t.Error("ReleaseIfOwner released someone else's capture")
	}
	if !m.ReleaseIfOwner("alice") {
		t.Error("ReleaseIfOwner = false for the holder")
	}
	if m.IsCapture() {
		t.Error("still captured after owner release")
	}
}

func TestInputMode_Toggle(t *testing.T) {
	m := NewInputMode()
	if got := m.Toggle(); got != ModeCapture {
		t.Errorf("first toggle = %q, want capture", got)
	}
	if m.Owner() != LocalOwner {
		t.Errorf("toggle owner = %q, want %q", m.Owner(), LocalOwner)
	}
	if got := m.Toggle(); got != ModePassthrough {
		t.Errorf("second toggle = %q, want passthrough", got)
	}
}
