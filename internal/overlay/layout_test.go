package overlay

import "testing"

func mkPanel(pos Position, height, z int) Panel {
	return Panel{Position: pos, Height: height, Z: z, Visible: true}
}

func TestComputeLayout_Empty(t *testing.T) {
	res := ComputeLayout(nil, 24, 80)
	if res.PtyRows != 24 || res.PtyCols != 80 {
		t.Errorf("pty size = %dx%d, want 24x80", res.PtyRows, res.PtyCols)
	}
	if res.ScrollRegionTop != 1 || res.ScrollRegionBottom != 24 {
		t.Errorf("scroll region = %d..%d, want 1..24", res.ScrollRegionTop, res.ScrollRegionBottom)
	}
	if len(res.TopPanels) != 0 || len(res.BottomPanels) != 0 || len(res.HiddenPanels) != 0 {
		t.Errorf("expected empty groups, got top=%d bottom=%d hidden=%d",
			len(res.TopPanels), len(res.BottomPanels), len(res.HiddenPanels))
	}
}

func TestComputeLayout_TopAndBottom(t *testing.T) {
	panels := []Panel{
		mkPanel(PositionTop, 2, 1),
		mkPanel(PositionBottom, 3, 2),
	}
	res := ComputeLayout(panels, 24, 80)
	if len(res.TopPanels) != 1 || len(res.BottomPanels) != 1 {
		t.Fatalf("groups = top %d bottom %d, want 1 and 1", len(res.TopPanels), len(res.BottomPanels))
	}
	if res.PtyRows != 19 {
		t.Errorf("pty_rows = %d, want 19", res.PtyRows)
	}
	if res.ScrollRegionTop != 3 {
		t.Errorf("scroll_region_top = %d, want 3", res.ScrollRegionTop)
	}
	if res.ScrollRegionBottom != 21 {
		t.Errorf("scroll_region_bottom = %d, want 21", res.ScrollRegionBottom)
	}
}

func TestComputeLayout_HighZWinsUnderPressure(t *testing.T) {
	// Terminal too small for all three; allocation order is z descending.
	high := mkPanel(PositionTop, 2, 10)
	mid := mkPanel(PositionBottom, 2, 5)
	low := mkPanel(PositionTop, 2, 1)
	res := ComputeLayout([]Panel{low, high, mid}, 5, 80)

	if len(res.TopPanels) != 1 || res.TopPanels[0].Z != 10 {
		t.Errorf("top panels = %+v, want the z=10 panel only", res.TopPanels)
	}
	if len(res.BottomPanels) != 1 || res.BottomPanels[0].Z != 5 {
		t.Errorf("bottom panels = %+v, want the z=5 panel only", res.BottomPanels)
	}
	if len(res.HiddenPanels) != 1 || res.HiddenPanels[0].Z != 1 {
		t.Errorf("hidden panels = %+v, want the z=1 panel only", res.HiddenPanels)
	}
	if res.PtyRows != 1 {
		t.Errorf("pty_rows = %d, want 1", res.PtyRows)
	}
	if res.ScrollRegionTop != 3 || res.ScrollRegionBottom != 3 {
		t.Errorf("scroll region = %d..%d, want 3..3", res.ScrollRegionTop, res.ScrollRegionBottom)
	}
}

func TestComputeLayout_PanelsConsumeEveryRow(t *testing.T) {
	panels := []Panel{
		mkPanel(PositionTop, 3, 2),
		mkPanel(PositionBottom, 2, 1),
	}
	res := ComputeLayout(panels, 5, 80)
	if res.PtyRows != 0 {
		t.Errorf("pty_rows = %d, want 0", res.PtyRows)
	}
	if len(res.HiddenPanels) != 0 {
		t.Errorf("hidden = %d, want 0", len(res.HiddenPanels))
	}
	if res.ScrollRegionTop != 4 || res.ScrollRegionBottom != 3 {
		t.Errorf("scroll region = %d..%d, want 4..3", res.ScrollRegionTop, res.ScrollRegionBottom)
	}
}

func TestComputeLayout_GroupsSortedEdgeFirst(t *testing.T) {
	panels := []Panel{
		mkPanel(PositionTop, 1, 1),
		mkPanel(PositionTop, 1, 3),
		mkPanel(PositionTop, 1, 2),
	}
	res := ComputeLayout(panels, 24, 80)
	if len(res.TopPanels) != 3 {
		t.Fatalf("top panels = %d, want 3", len(res.TopPanels))
	}
	for i, wantZ := range []int{3, 2, 1} {
		if res.TopPanels[i].Z != wantZ {
			t.Errorf("top[%d].Z = %d, want %d", i, res.TopPanels[i].Z, wantZ)
		}
	}
}

func TestComputeLayout_ManuallyHiddenNeverAllocated(t *testing.T) {
	shown := mkPanel(PositionTop, 2, 1)
	hidden := mkPanel(PositionTop, 2, 10)
	hidden.Visible = false
	res := ComputeLayout([]Panel{shown, hidden}, 24, 80)

	if len(res.TopPanels) != 1 || res.TopPanels[0].Z != 1 {
		t.Errorf("top panels = %+v, want only the visible z=1 panel", res.TopPanels)
	}
	if len(res.HiddenPanels) != 1 || res.HiddenPanels[0].Z != 10 {
		t.Errorf("hidden panels = %+v, want the manually hidden panel", res.HiddenPanels)
	}
	if res.PtyRows != 22 {
		t.Errorf("pty_rows = %d, want 22", res.PtyRows)
	}
}
