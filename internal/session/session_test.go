package session

import (
	"testing"
	"time"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/overlay"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Options{Command: "cat", Rows: 10, Cols: 40, Scrollback: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSession_InputReachesSubscribersAndActivity(t *testing.T) {
	s := newTestSession(t)
	sub := s.SubscribeInput(4)
	defer s.UnsubscribeInput(sub)

	before := s.Activity.Generation()
	if err := s.SendInput([]byte("hi")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if got := s.Activity.Generation(); got == before {
		t.Error("input did not touch the activity tracker")
	}
	select {
	case chunk := <-sub.C:
		if string(chunk) != "hi" {
			t.Errorf("input copy = %q, want hi", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("input subscriber saw nothing")
	}
}

func TestSession_CaptureDivertsInputFromPTY(t *testing.T) {
	s := newTestSession(t)
	if err := s.Mode.Capture("tester"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	out := s.SubscribeOutput(8)
	defer s.UnsubscribeOutput(out)

	if err := s.SendInput([]byte("invisible\n")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	// cat would echo anything written to the PTY; captured input must not
	// provoke any output.
	select {
	case chunk := <-out.C:
		t.Errorf("captured input leaked to the PTY, output %q", chunk)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSession_PassthroughInputEchoes(t *testing.T) {
	s := newTestSession(t)
	out := s.SubscribeOutput(32)
	defer s.UnsubscribeOutput(out)

	if err := s.SendInput([]byte("echo\n")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	deadline := time.After(3 * time.Second)
	var got []byte
	for {
		select {
		case chunk := <-out.C:
			got = append(got, chunk...)
			if len(got) >= 4 {
				return
			}
		case <-deadline:
			t.Fatalf("no echo from PTY, saw %q", got)
		}
	}
}

func TestSession_AltScreenTransitions(t *testing.T) {
	s := newTestSession(t)

	if got := s.ScreenMode(); got != overlay.ScreenNormal {
		t.Fatalf("initial mode = %q, want normal", got)
	}
	if err := s.EnterAltScreen(); err != nil {
		t.Fatalf("EnterAltScreen: %v", err)
	}
	if err := s.EnterAltScreen(); !apierr.HasCode(err, "already_in_alt_screen") {
		t.Errorf("double enter = %v, want already_in_alt_screen", err)
	}
	if err := s.ExitAltScreen(); err != nil {
		t.Fatalf("ExitAltScreen: %v", err)
	}
	if err := s.ExitAltScreen(); !apierr.HasCode(err, "not_in_alt_screen") {
		t.Errorf("double exit = %v, want not_in_alt_screen", err)
	}
}

func TestSession_AltExitDestroysAltElements(t *testing.T) {
	s := newTestSession(t)

	normal := s.Overlays.Create(overlay.Overlay{ScreenMode: s.ScreenMode()}, false)

	if err := s.EnterAltScreen(); err != nil {
		t.Fatalf("EnterAltScreen: %v", err)
	}
	if list := s.Overlays.List(s.ScreenMode()); len(list) != 0 {
		t.Errorf("alt list = %d overlays, want 0 (normal hidden)", len(list))
	}
	alt := s.Overlays.Create(overlay.Overlay{ScreenMode: s.ScreenMode()}, false)
	s.Focus.Set(alt.ID)

	if err := s.ExitAltScreen(); err != nil {
		t.Fatalf("ExitAltScreen: %v", err)
	}
	if _, err := s.Overlays.Get(alt.ID); !apierr.HasCode(err, "overlay_not_found") {
		t.Errorf("alt overlay survived exit: %v", err)
	}
	if s.Focus.Focused() != "" {
		t.Errorf("focus = %q after its holder was destroyed, want empty", s.Focus.Focused())
	}
	list := s.Overlays.List(s.ScreenMode())
	if len(list) != 1 || list[0].ID != normal.ID {
		t.Errorf("normal list after exit = %+v, want only %s", list, normal.ID)
	}
}

func TestSession_VTModeEventDrivesScreenMode(t *testing.T) {
	s := newTestSession(t)

	// Feed the alt-screen enter sequence straight through the broker, as
	// PTY output would arrive.
	s.broker.Publish([]byte("\x1b[?1049h"))

	deadline := time.Now().Add(3 * time.Second)
	for s.ScreenMode() != overlay.ScreenAlt {
		if time.Now().After(deadline) {
			t.Fatal("screen mode never followed the VT sequence")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.broker.Publish([]byte("\x1b[?1049l"))
	for s.ScreenMode() != overlay.ScreenNormal {
		if time.Now().After(deadline) {
			t.Fatal("screen mode never left alt after the VT exit sequence")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_LayoutCarvesViewport(t *testing.T) {
	s := newTestSession(t)
	s.Panels.Create(overlay.Panel{Position: overlay.PositionTop, Height: 3, ScreenMode: s.ScreenMode()}, false)

	layout := s.Layout()
	if layout.PtyRows != 7 {
		t.Errorf("pty_rows = %d, want 7", layout.PtyRows)
	}
	if layout.ScrollRegionTop != 4 || layout.ScrollRegionBottom != 10 {
		t.Errorf("scroll region = %d..%d, want 4..10", layout.ScrollRegionTop, layout.ScrollRegionBottom)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	s.Close()
	s.Close()
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Error("context not cancelled by Close")
	}
}
