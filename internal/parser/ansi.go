package parser

import (
	"bytes"
	"fmt"

	"github.com/perchlabs/perch/internal/vterm"
)

// RenderANSI serializes a snapshot into an escape stream that repaints a raw
// terminal: clear and home, every visible line with its styling, then cursor
// position and visibility. Used to prime attaching raw clients before they
// start receiving live PTY bytes.
func RenderANSI(snap *Snapshot) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x1b[2J\x1b[H")

	switch lines := snap.Lines.(type) {
	case []string:
		for i, line := range lines {
			if i > 0 {
				buf.WriteString("\r\n")
			}
			buf.WriteString(line)
		}
	case [][]vterm.Span:
		for i, spans := range lines {
			if i > 0 {
				buf.WriteString("\r\n")
			}
			for _, sp := range spans {
				writeSGR(&buf, sp)
				buf.WriteString(sp.Text)
			}
			buf.WriteString("\x1b[0m")
		}
	}

	fmt.Fprintf(&buf, "\x1b[%d;%dH", snap.Cursor.Row+1, snap.Cursor.Col+1)
	if snap.Cursor.Visible {
		buf.WriteString("\x1b[?25h")
	} else {
		buf.WriteString("\x1b[?25l")
	}
	return buf.Bytes()
}

// writeSGR emits the escape selecting the span's full style. Every span
// starts from a reset so runs cannot bleed into each other.
func writeSGR(buf *bytes.Buffer, sp vterm.Span) {
	buf.WriteString("\x1b[0")
	if sp.Bold {
		buf.WriteString(";1")
	}
	if sp.Italic {
		buf.WriteString(";3")
	}
	if sp.Underline {
		buf.WriteString(";4")
	}
	if sp.Reverse {
		buf.WriteString(";7")
	}
	if fg := vterm.ParseColor(sp.FG).SGR(38); fg != "" {
		buf.WriteString(";")
		buf.WriteString(fg)
	}
	if bg := vterm.ParseColor(sp.BG).SGR(48); bg != "" {
		buf.WriteString(";")
		buf.WriteString(bg)
	}
	buf.WriteString("m")
}
