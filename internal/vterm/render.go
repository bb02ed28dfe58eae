package vterm

import "strings"

// plainLine renders cells as text with trailing ASCII whitespace trimmed.
func plainLine(cells []cell) string {
	var b strings.Builder
	for _, c := range cells {
		if c.width == 0 {
			continue
		}
		b.WriteRune(c.r)
	}
	return strings.TrimRight(b.String(), " \t")
}

// styledLine renders cells as one span per run of identical style. Wide-rune
// continuation cells are collapsed into the preceding span. Trailing spans
// are trimmed only while their style is default, so colored blanks survive.
func styledLine(cells []cell) []Span {
	spans := []Span{}
	var cur Style
	var text strings.Builder
	started := false

	flush := func() {
		if text.Len() > 0 {
			spans = append(spans, cur.span(text.String()))
			text.Reset()
		}
	}

	for _, c := range cells {
		if c.width == 0 {
			continue
		}
		if !started || c.style != cur {
			flush()
			cur = c.style
			started = true
		}
		text.WriteRune(c.r)
	}
	flush()

	for len(spans) > 0 {
		last := spans[len(spans)-1]
		if !defaultStyleSpan(last) {
			break
		}
		trimmed := strings.TrimRight(last.Text, " ")
		if trimmed == "" {
			spans = spans[:len(spans)-1]
			continue
		}
		spans[len(spans)-1].Text = trimmed
		break
	}
	return spans
}

func defaultStyleSpan(sp Span) bool {
	return sp.FG == "" && sp.BG == "" && !sp.Bold && !sp.Italic && !sp.Underline && !sp.Reverse
}
