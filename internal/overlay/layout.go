package overlay

import "sort"

// LayoutResult describes how panels carve the terminal. Scroll region rows
// are 1-indexed; pty_rows may be 0 when panels consume every row.
type LayoutResult struct {
	TopPanels          []Panel `json:"top_panels"`
	BottomPanels       []Panel `json:"bottom_panels"`
	HiddenPanels       []Panel `json:"hidden_panels"`
	ScrollRegionTop    int     `json:"scroll_region_top"`
	ScrollRegionBottom int     `json:"scroll_region_bottom"`
	PtyRows            int     `json:"pty_rows"`
	PtyCols            int     `json:"pty_cols"`
}

// ComputeLayout allocates terminal rows to panels greedily by z descending,
// across both positions. A panel that does not fit in the remaining rows is
// hidden; manually hidden panels never compete for rows. Position groups in
// the result are ordered z descending, edge first.
func ComputeLayout(panels []Panel, rows, cols int) LayoutResult {
	res := LayoutResult{
		TopPanels:    []Panel{},
		BottomPanels: []Panel{},
		HiddenPanels: []Panel{},
		PtyCols:      cols,
	}

	candidates := make([]Panel, 0, len(panels))
	for _, p := range panels {
		if !p.Visible {
			hidden := p
			res.HiddenPanels = append(res.HiddenPanels, hidden)
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Z > candidates[j].Z
	})

	remaining := rows
	topHeight, bottomHeight := 0, 0
	for _, p := range candidates {
		if p.Height > 0 && p.Height <= remaining {
			remaining -= p.Height
			p.Visible = true
			switch p.Position {
			case PositionBottom:
				bottomHeight += p.Height
				res.BottomPanels = append(res.BottomPanels, p)
			default:
				topHeight += p.Height
				res.TopPanels = append(res.TopPanels, p)
			}
		} else {
			p.Visible = false
			res.HiddenPanels = append(res.HiddenPanels, p)
		}
	}

	sort.SliceStable(res.TopPanels, func(i, j int) bool {
		return res.TopPanels[i].Z > res.TopPanels[j].Z
	})
	sort.SliceStable(res.BottomPanels, func(i, j int) bool {
		return res.BottomPanels[i].Z > res.BottomPanels[j].Z
	})

	res.ScrollRegionTop = topHeight + 1
	res.ScrollRegionBottom = rows - bottomHeight
	res.PtyRows = rows - topHeight - bottomHeight
	return res
}
