// Package overlay holds the compositor state layered on top of a session's
// PTY content: overlays are positioned drawings that consume no rows, panels
// are top-/bottom-anchored drawings that carve rows out of the PTY viewport.
// Both are scoped to the screen mode active when they were created.
package overlay

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/vterm"
)

// ScreenMode scopes an element to the VT buffer it belongs to.
type ScreenMode string

const (
	ScreenNormal ScreenMode = "normal"
	ScreenAlt    ScreenMode = "alt"
)

// RegionWrite places spans at a fixed offset inside an element's box,
// independent of the flowed spans. Row and col are 0-based.
type RegionWrite struct {
	Row   int          `json:"row"`
	Col   int          `json:"col"`
	Spans []vterm.Span `json:"spans"`
}

// Overlay is a positioned drawing. X/Y are 0-based terminal coordinates.
type Overlay struct {
	ID           string        `json:"id"`
	X            int           `json:"x"`
	Y            int           `json:"y"`
	Z            int           `json:"z"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Background   string        `json:"background,omitempty"`
	Spans        []vterm.Span  `json:"spans"`
	RegionWrites []RegionWrite `json:"region_writes,omitempty"`
	Visible      bool          `json:"visible"`
	Focusable    bool          `json:"focusable"`
	ScreenMode   ScreenMode    `json:"screen_mode"`
}

// Move is a partial geometry update; nil fields are left unchanged.
type Move struct {
	X      *int `json:"x,omitempty"`
	Y      *int `json:"y,omitempty"`
	Z      *int `json:"z,omitempty"`
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// Store is the per-session overlay collection. Ids are unique across both
// screen modes, so Get/Update/Delete work regardless of the current mode;
// only List filters.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Overlay
	nextZ int
}

func NewStore() *Store {
	return &Store{items: make(map[string]*Overlay)}
}

// Create inserts o under a fresh id and returns the stored copy. When
// explicitZ is false the z is auto-assigned from the monotonic counter;
// an explicit z at or above the counter bumps it past z.
func (s *Store) Create(o Overlay, explicitZ bool) Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = uuid.NewString()
	o.Visible = true
	if explicitZ {
		if o.Z >= s.nextZ {
			s.nextZ = o.Z + 1
		}
	} else {
		o.Z = s.nextZ
		s.nextZ++
	}
	stored := o
	stored.Spans = cloneSpans(o.Spans)
	stored.RegionWrites = cloneWrites(o.RegionWrites)
	s.items[o.ID] = &stored
	return copyOverlay(&stored)
}

// Get returns the overlay by id, in either screen mode.
func (s *Store) Get(id string) (Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.items[id]
	if !ok {
		return Overlay{}, apierr.OverlayNotFound(id)
	}
	return copyOverlay(o), nil
}

// List returns the overlays scoped to mode, sorted by z ascending.
func (s *Store) List(mode ScreenMode) []Overlay {
	s.mu.RLock()
	out := make([]Overlay, 0, len(s.items))
	for _, o := range s.items {
		if o.ScreenMode == mode {
			out = append(out, copyOverlay(o))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}

// Update replaces the overlay's spans and region writes.
func (s *Store) Update(id string, spans []vterm.Span, writes []RegionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[id]
	if !ok {
		return apierr.OverlayNotFound(id)
	}
	o.Spans = cloneSpans(spans)
	o.RegionWrites = cloneWrites(writes)
	return nil
}

// ApplyMove patches geometry fields; a z at or above the counter bumps it.
func (s *Store) ApplyMove(id string, m Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[id]
	if !ok {
		return apierr.OverlayNotFound(id)
	}
	if m.X != nil {
		o.X = *m.X
	}
	if m.Y != nil {
		o.Y = *m.Y
	}
	if m.Z != nil {
		o.Z = *m.Z
		if o.Z >= s.nextZ {
			s.nextZ = o.Z + 1
		}
	}
	if m.Width != nil {
		o.Width = *m.Width
	}
	if m.Height != nil {
		o.Height = *m.Height
	}
	return nil
}

// SetVisible toggles the overlay's visibility flag.
func (s *Store) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[id]
	if !ok {
		return apierr.OverlayNotFound(id)
	}
	o.Visible = visible
	return nil
}

// Delete removes the overlay.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return apierr.OverlayNotFound(id)
	}
	delete(s.items, id)
	return nil
}

// DestroyMode removes every overlay scoped to mode and returns their ids so
// the caller can clear focus holders. Used on alt-screen exit and by the
// collection DELETE.
func (s *Store) DestroyMode(mode ScreenMode) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, o := range s.items {
		if o.ScreenMode == mode {
			ids = append(ids, id)
			delete(s.items, id)
		}
	}
	return ids
}

// Len returns the total element count across both modes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func copyOverlay(o *Overlay) Overlay {
	out := *o
	out.Spans = cloneSpans(o.Spans)
	out.RegionWrites = cloneWrites(o.RegionWrites)
	return out
}

func cloneSpans(spans []vterm.Span) []vterm.Span {
	if spans == nil {
		return nil
	}
	return append([]vterm.Span(nil), spans...)
}

func cloneWrites(writes []RegionWrite) []RegionWrite {
	if writes == nil {
		return nil
	}
	out := make([]RegionWrite, len(writes))
	for i, w := range writes {
		out[i] = w
		out[i].Spans = cloneSpans(w.Spans)
	}
	return out
}

// retargetSpans replaces text and style of spans whose id matches one of the
// incoming spans. Spans without ids are never retargeted.
func retargetSpans(dst []vterm.Span, updates []vterm.Span) int {
	matched := 0
	for _, u := range updates {
		if u.ID == "" {
			continue
		}
		for i := range dst {
			if dst[i].ID == u.ID {
				id := dst[i].ID
				dst[i] = u
				dst[i].ID = id
				matched++
			}
		}
	}
	return matched
}
