package overlay

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/vterm"
)

// Position anchors a panel to a terminal edge.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// ValidPosition reports whether p is a known anchor.
func ValidPosition(p Position) bool {
	return p == PositionTop || p == PositionBottom
}

// Panel is an edge-anchored drawing that consumes PTY rows. Visible is the
// manual flag set by clients; whether the panel actually fits is computed by
// the layout and reported in LayoutResult, not written back here.
type Panel struct {
	ID           string        `json:"id"`
	Position     Position      `json:"position"`
	Height       int           `json:"height"`
	Z            int           `json:"z"`
	Spans        []vterm.Span  `json:"spans"`
	RegionWrites []RegionWrite `json:"region_writes,omitempty"`
	Background   string        `json:"background,omitempty"`
	Visible      bool          `json:"visible"`
	Focusable    bool          `json:"focusable"`
	ScreenMode   ScreenMode    `json:"screen_mode"`
}

// PanelPatch is a partial panel update; nil fields are left unchanged.
type PanelPatch struct {
	Position *Position     `json:"position,omitempty"`
	Height   *int          `json:"height,omitempty"`
	Z        *int          `json:"z,omitempty"`
	Spans    *[]vterm.Span `json:"spans,omitempty"`
}

// PanelStore is the per-session panel collection, sharing the overlay
// store's id and z-counter semantics.
type PanelStore struct {
	mu    sync.RWMutex
	items map[string]*Panel
	nextZ int
}

func NewPanelStore() *PanelStore {
	return &PanelStore{items: make(map[string]*Panel)}
}

// Create inserts p under a fresh id and returns the stored copy.
func (s *PanelStore) Create(p Panel, explicitZ bool) Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.NewString()
	p.Visible = true
	if explicitZ {
		if p.Z >= s.nextZ {
			s.nextZ = p.Z + 1
		}
	} else {
		p.Z = s.nextZ
		s.nextZ++
	}
	stored := p
	stored.Spans = cloneSpans(p.Spans)
	stored.RegionWrites = cloneWrites(p.RegionWrites)
	s.items[p.ID] = &stored
	return copyPanel(&stored)
}

// Get returns the panel by id, in either screen mode.
func (s *PanelStore) Get(id string) (Panel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return Panel{}, apierr.PanelNotFound(id)
	}
	return copyPanel(p), nil
}

// List returns the panels scoped to mode: top-position panels first, each
// position group sorted by z descending (edge first).
func (s *PanelStore) List(mode ScreenMode) []Panel {
	s.mu.RLock()
	out := make([]Panel, 0, len(s.items))
	for _, p := range s.items {
		if p.ScreenMode == mode {
			out = append(out, copyPanel(p))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position == PositionTop
		}
		return out[i].Z > out[j].Z
	})
	return out
}

// Update replaces the panel's spans and region writes.
func (s *PanelStore) Update(id string, spans []vterm.Span, writes []RegionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return apierr.PanelNotFound(id)
	}
	p.Spans = cloneSpans(spans)
	p.RegionWrites = cloneWrites(writes)
	return nil
}

// Apply patches position, height, z, and spans.
func (s *PanelStore) Apply(id string, patch PanelPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return apierr.PanelNotFound(id)
	}
	if patch.Position != nil {
		if !ValidPosition(*patch.Position) {
			return apierr.InvalidOverlay("position must be \"top\" or \"bottom\"")
		}
		p.Position = *patch.Position
	}
	if patch.Height != nil {
		if *patch.Height < 1 {
			return apierr.InvalidOverlay("height must be at least 1")
		}
		p.Height = *patch.Height
	}
	if patch.Z != nil {
		p.Z = *patch.Z
		if p.Z >= s.nextZ {
			s.nextZ = p.Z + 1
		}
	}
	if patch.Spans != nil {
		p.Spans = cloneSpans(*patch.Spans)
	}
	return nil
}

// UpdateSpans replaces text and style of spans whose id matches one of the
// incoming spans, in both the flowed spans and the region writes. Spans
// without a matching id are ignored.
func (s *PanelStore) UpdateSpans(id string, updates []vterm.Span) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return 0, apierr.PanelNotFound(id)
	}
	matched := retargetSpans(p.Spans, updates)
	for i := range p.RegionWrites {
		matched += retargetSpans(p.RegionWrites[i].Spans, updates)
	}
	return matched, nil
}

// SetVisible toggles the manual visibility flag; hidden panels are excluded
// from layout allocation.
func (s *PanelStore) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return apierr.PanelNotFound(id)
	}
	p.Visible = visible
	return nil
}

// Delete removes the panel.
func (s *PanelStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return apierr.PanelNotFound(id)
	}
	delete(s.items, id)
	return nil
}

// DestroyMode removes every panel scoped to mode and returns their ids.
func (s *PanelStore) DestroyMode(mode ScreenMode) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.items {
		if p.ScreenMode == mode {
			ids = append(ids, id)
			delete(s.items, id)
		}
	}
	return ids
}

// Len returns the total panel count across both modes.
func (s *PanelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func copyPanel(p *Panel) Panel {
	out := *p
	out.Spans = cloneSpans(p.Spans)
	out.RegionWrites = cloneWrites(p.RegionWrites)
	return out
}
