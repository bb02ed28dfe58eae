package vterm

// applySGR interprets a Select Graphic Rendition parameter list against the
// current pen.
func (t *Terminal) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			t.pen = Style{}
		case p == 1:
			t.pen.Bold = true
		case p == 3:
			t.pen.Italic = true
		case p == 4:
			t.pen.Underline = true
		case p == 7:
			t.pen.Reverse = true
		case p == 21, p == 22:
			t.pen.Bold = false
		case p == 23:
			t.pen.Italic = false
		case p == 24:
			t.pen.Underline = false
		case p == 27:
			t.pen.Reverse = false
		case p >= 30 && p <= 37:
			t.pen.FG = IndexedColor(uint8(p - 30))
		case p == 38:
			var c Color
			i += extendedColor(&c, params[i+1:])
			t.pen.FG = c
		case p == 39:
			t.pen.FG = Color{}
		case p >= 40 && p <= 47:
			t.pen.BG = IndexedColor(uint8(p - 40))
		case p == 48:
			var c Color
			i += extendedColor(&c, params[i+1:])
			t.pen.BG = c
		case p == 49:
			t.pen.BG = Color{}
		case p >= 90 && p <= 97:
			t.pen.FG = IndexedColor(uint8(p - 90 + 8))
		case p >= 100 && p <= 107:
			t.pen.BG = IndexedColor(uint8(p - 100 + 8))
		}
	}
}

// extendedColor parses the tail of a 38/48 SGR: `5;n` indexed or `2;r;g;b`
// truecolor. Returns the number of parameters consumed.
func extendedColor(dst *Color, rest []int) int {
	if len(rest) >= 2 && rest[0] == 5 {
		*dst = IndexedColor(clamp255(rest[1]))
		return 2
	}
	if len(rest) >= 4 && rest[0] == 2 {
		*dst = RGBColor(clamp255(rest[1]), clamp255(rest[2]), clamp255(rest[3]))
		return 4
	}
	return len(rest)
}

func clamp255(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
