package vterm

import (
	"fmt"
	"strconv"
)

type colorKind uint8

const (
	colorNone colorKind = iota
	colorIndexed
	colorRGB
)

// Color is a terminal color: unset, a palette index (0-255), or 24-bit RGB.
type Color struct {
	kind    colorKind
	index   uint8
	r, g, b uint8
}

func IndexedColor(i uint8) Color { return Color{kind: colorIndexed, index: i} }
func RGBColor(r, g, b uint8) Color {
	return Color{kind: colorRGB, r: r, g: g, b: b}
}

func (c Color) IsSet() bool { return c.kind != colorNone }

// String renders the color for the wire: "" when unset, a decimal palette
// index, or "#rrggbb".
func (c Color) String() string {
	switch c.kind {
	case colorIndexed:
		return strconv.Itoa(int(c.index))
	case colorRGB:
		return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b)
	default:
		return ""
	}
}

// SGR returns the color's SGR parameters with base 38 (foreground) or 48
// (background), empty when unset.
func (c Color) SGR(base int) string {
	switch c.kind {
	case colorIndexed:
		return fmt.Sprintf("%d;5;%d", base, c.index)
	case colorRGB:
		return fmt.Sprintf("%d;2;%d;%d;%d", base, c.r, c.g, c.b)
	default:
		return ""
	}
}

// ParseColor is the inverse of Color.String. Unknown strings map to unset.
func ParseColor(s string) Color {
	if s == "" {
		return Color{}
	}
	if len(s) == 7 && s[0] == '#' {
		var r, g, b uint8
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err == nil {
			return RGBColor(r, g, b)
		}
		return Color{}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 255 {
		return IndexedColor(uint8(n))
	}
	return Color{}
}

// Style is the SGR state carried by one cell.
type Style struct {
	FG        Color
	BG        Color
	Bold      bool
	Italic    bool
	Underline bool
	Reverse   bool
}

// IsDefault reports whether the style is entirely unset.
func (s Style) IsDefault() bool {
	return s == Style{}
}

// Span is one run of identically styled text within a line. The wire form
// is shared with overlay and panel spans, which additionally carry an id.
type Span struct {
	Text      string `json:"text"`
	ID        string `json:"id,omitempty"`
	FG        string `json:"fg,omitempty"`
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	Reverse   bool   `json:"reverse,omitempty"`
}

func (s Style) span(text string) Span {
	return Span{
		Text:      text,
		FG:        s.FG.String(),
		BG:        s.BG.String(),
		Bold:      s.Bold,
		Italic:    s.Italic,
		Underline: s.Underline,
		Reverse:   s.Reverse,
	}
}

// PlainText flattens spans to their concatenated text.
func PlainText(spans []Span) string {
	var out string
	for _, sp := range spans {
		out += sp.Text
	}
	return out
}
