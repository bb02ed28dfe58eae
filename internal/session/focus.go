package session

import "sync"

// FocusTracker remembers which overlay or panel currently holds focus. At
// most one element is focused per session; ids come from the overlay and
// panel stores.
type FocusTracker struct {
	mu sync.Mutex
	id string
}

func NewFocusTracker() *FocusTracker {
	return &FocusTracker{}
}

// Set focuses the given element id.
func (f *FocusTracker) Set(id string) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

// Clear removes focus.
func (f *FocusTracker) Clear() {
	f.mu.Lock()
	f.id = ""
	f.mu.Unlock()
}

// ClearIf removes focus only when id holds it. Every destroy path calls this
// so focus never points at a dead element.
func (f *FocusTracker) ClearIf(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == id {
		f.id = ""
		return true
	}
	return false
}

// Focused returns the focused element id, or "" when none.
func (f *FocusTracker) Focused() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}
