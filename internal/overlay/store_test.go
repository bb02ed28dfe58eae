package overlay

import (
	"testing"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/vterm"
)

func TestStore_CreateAssignsIDAndZ(t *testing.T) {
	s := NewStore()
	a := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	b := s.Create(Overlay{ScreenMode: ScreenNormal}, false)

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty ids")
	}
	if a.ID == b.ID {
		t.Errorf("ids collide: %q", a.ID)
	}
	if a.Z != 0 || b.Z != 1 {
		t.Errorf("auto z = %d, %d, want 0, 1", a.Z, b.Z)
	}
}

func TestStore_ExplicitZBumpsCounter(t *testing.T) {
	s := NewStore()
	s.Create(Overlay{ScreenMode: ScreenNormal, Z: 50}, true)
	next := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	if next.Z != 51 {
		t.Errorf("z after explicit 50 = %d, want 51", next.Z)
	}
}

func TestStore_ListSortedByZAscending(t *testing.T) {
	s := NewStore()
	s.Create(Overlay{ScreenMode: ScreenNormal, Z: 5}, true)
	s.Create(Overlay{ScreenMode: ScreenNormal, Z: 1}, true)
	s.Create(Overlay{ScreenMode: ScreenNormal, Z: 3}, true)

	list := s.List(ScreenNormal)
	if len(list) != 3 {
		t.Fatalf("list len = %d, want 3", len(list))
	}
	for i, wantZ := range []int{1, 3, 5} {
		if list[i].Z != wantZ {
			t.Errorf("list[%d].Z = %d, want %d", i, list[i].Z, wantZ)
		}
	}
}

func TestStore_ListFiltersByScreenMode(t *testing.T) {
	s := NewStore()
	n := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	a := s.Create(Overlay{ScreenMode: ScreenAlt}, false)

	normal := s.List(ScreenNormal)
	if len(normal) != 1 || normal[0].ID != n.ID {
		t.Errorf("normal list = %+v, want only %s", normal, n.ID)
	}
	alt := s.List(ScreenAlt)
	if len(alt) != 1 || alt[0].ID != a.ID {
		t.Errorf("alt list = %+v, want only %s", alt, a.ID)
	}
}

func TestStore_GetIgnoresMode(t *testing.T) {
	s := NewStore()
	a := s.Create(Overlay{ScreenMode: ScreenAlt}, false)
	got, err := s.Get(a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ScreenMode != ScreenAlt {
		t.Errorf("screen mode = %q, want alt", got.ScreenMode)
	}
}

func TestStore_MovePatchesGeometry(t *testing.T) {
	s := NewStore()
	o := s.Create(Overlay{ScreenMode: ScreenNormal, X: 1, Y: 2, Width: 10, Height: 3}, false)

	x, z := 7, 99
	if err := s.ApplyMove(o.ID, Move{X: &x, Z: &z}); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	got, _ := s.Get(o.ID)
	if got.X != 7 || got.Y != 2 || got.Z != 99 {
		t.Errorf("after move: x=%d y=%d z=%d, want 7 2 99", got.X, got.Y, got.Z)
	}
	// The explicit z must advance the counter past it.
	next := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	if next.Z != 100 {
		t.Errorf("next auto z = %d, want 100", next.Z)
	}
}

func TestStore_UpdateReplacesSpans(t *testing.T) {
	s := NewStore()
	o := s.Create(Overlay{ScreenMode: ScreenNormal, Spans: []vterm.Span{{Text: "old"}}}, false)
	err := s.Update(o.ID, []vterm.Span{{Text: "new", Bold: true}}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(o.ID)
	if len(got.Spans) != 1 || got.Spans[0].Text != "new" || !got.Spans[0].Bold {
		t.Errorf("spans = %+v, want single bold \"new\"", got.Spans)
	}
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	s := NewStore()
	o := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	if err := s.Delete(o.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(o.ID); !apierr.HasCode(err, "overlay_not_found") {
		t.Errorf("Get after delete = %v, want overlay_not_found", err)
	}
	if err := s.Delete(o.ID); !apierr.HasCode(err, "overlay_not_found") {
		t.Errorf("second Delete = %v, want overlay_not_found", err)
	}
}

func TestStore_DestroyModeRemovesOnlyThatMode(t *testing.T) {
	s := NewStore()
	n := s.Create(Overlay{ScreenMode: ScreenNormal}, false)
	a1 := s.Create(Overlay{ScreenMode: ScreenAlt}, false)
	a2 := s.Create(Overlay{ScreenMode: ScreenAlt}, false)

	ids := s.DestroyMode(ScreenAlt)
	if len(ids) != 2 {
		t.Fatalf("destroyed %d, want 2", len(ids))
	}
	for _, id := range []string{a1.ID, a2.ID} {
		if _, err := s.Get(id); !apierr.HasCode(err, "overlay_not_found") {
			t.Errorf("alt overlay %s survived destroy", id)
		}
	}
	if _, err := s.Get(n.ID); err != nil {
		t.Errorf("normal overlay destroyed along with alt: %v", err)
	}
}

func TestPanelStore_ListTopFirstThenZDescending(t *testing.T) {
	s := NewPanelStore()
	s.Create(Panel{Position: PositionBottom, Height: 1, Z: 9, ScreenMode: ScreenNormal}, true)
	s.Create(Panel{Position: PositionTop, Height: 1, Z: 2, ScreenMode: ScreenNormal}, true)
	s.Create(Panel{Position: PositionTop, Height: 1, Z: 7, ScreenMode: ScreenNormal}, true)

	list := s.List(ScreenNormal)
	if len(list) != 3 {
		t.Fatalf("list len = %d, want 3", len(list))
	}
	if list[0].Position != PositionTop || list[0].Z != 7 {
		t.Errorf("list[0] = %s z=%d, want top z=7", list[0].Position, list[0].Z)
	}
	if list[1].Position != PositionTop || list[1].Z != 2 {
		t.Errorf("list[1] = %s z=%d, want top z=2", list[1].Position, list[1].Z)
	}
	if list[2].Position != PositionBottom {
		t.Errorf("list[2] = %s, want bottom", list[2].Position)
	}
}

func TestPanelStore_UpdateSpansMatchesByID(t *testing.T) {
	s := NewPanelStore()
	p := s.Create(Panel{
		Position:   PositionTop,
		Height:     1,
		ScreenMode: ScreenNormal,
		Spans: []vterm.Span{
			{ID: "clock", Text: "12:00"},
			{Text: "static"},
		},
	}, false)

	matched, err := s.UpdateSpans(p.ID, []vterm.Span{
		{ID: "clock", Text: "12:01", Bold: true},
		{ID: "absent", Text: "x"},
	})
	if err != nil {
		t.Fatalf("UpdateSpans: %v", err)
	}
	if matched != 1 {
		t.Errorf("matched = %d, want 1", matched)
	}
	got, _ := s.Get(p.ID)
	if got.Spans[0].Text != "12:01" || !got.Spans[0].Bold {
		t.Errorf("span[0] = %+v, want updated clock", got.Spans[0])
	}
	if got.Spans[1].Text != "static" {
		t.Errorf("span[1] = %+v, want untouched", got.Spans[1])
	}
}

func TestPanelStore_PatchValidatesFields(t *testing.T) {
	s := NewPanelStore()
	p := s.Create(Panel{Position: PositionTop, Height: 2, ScreenMode: ScreenNormal}, false)

	bad := Position("middle")
	if err := s.Apply(p.ID, PanelPatch{Position: &bad}); !apierr.HasCode(err, "invalid_overlay") {
		t.Errorf("patch with bad position = %v, want invalid_overlay", err)
	}
	zero := 0
	if err := s.Apply(p.ID, PanelPatch{Height: &zero}); !apierr.HasCode(err, "invalid_overlay") {
		t.Errorf("patch with zero height = %v, want invalid_overlay", err)
	}

	pos := PositionBottom
	h := 4
	if err := s.Apply(p.ID, PanelPatch{Position: &pos, Height: &h}); err != nil {
		t.Fatalf("valid patch: %v", err)
	}
	got, _ := s.Get(p.ID)
	if got.Position != PositionBottom || got.Height != 4 {
		t.Errorf("after patch = %s h=%d, want bottom h=4", got.Position, got.Height)
	}
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	s := NewStore()
	o := s.Create(Overlay{ScreenMode: ScreenNormal, Spans: []vterm.Span{{Text: "a"}}}, false)

	got, _ := s.Get(o.ID)
	got.Spans[0].Text = "mutated"

	again, _ := s.Get(o.ID)
	if again.Spans[0].Text != "a" {
		t.Errorf("store leaked its span slice: %q", again.Spans[0].Text)
	}
}
