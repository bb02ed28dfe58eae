package vterm

import (
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

type parseState int

const (
	stGround parseState = iota
	stEsc
	stCsi
	stOsc
	stOscEsc
	stDcs
	stDcsEsc
	stCharset
)

// inputState carries the escape-sequence parser across Write calls, so
// sequences split at arbitrary chunk boundaries still apply.
type inputState struct {
	state   parseState
	partial []byte // pending UTF-8 bytes

	params   []int
	curParam int
	hasParam bool
	private  byte
	inter    byte

	osc []byte
}

const maxParam = 65535

// Write feeds raw PTY bytes through the parser and applies them to the
// terminal.
func (t *Terminal) Write(p []byte) {
	for _, b := range p {
		t.feedByte(b)
	}
}

func (t *Terminal) feedByte(b byte) {
	in := &t.in

	// Outside of string states, C0 controls execute immediately even in
	// the middle of a sequence; CAN and SUB abort it.
	if in.state == stGround || in.state == stEsc || in.state == stCsi {
		switch b {
		case 0x18, 0x1a: // CAN, SUB
			in.state = stGround
			return
		case 0x1b:
			if in.state != stGround {
				in.reset()
				in.state = stEsc
				return
			}
		}
		if b < 0x20 && b != 0x1b && in.state != stGround {
			t.execC0(b)
			return
		}
	}

	switch in.state {
	case stGround:
		t.groundByte(b)
	case stEsc:
		t.escByte(b)
	case stCsi:
		t.csiByte(b)
	case stOsc:
		if b == 0x07 {
			t.dispatchOSC()
			in.state = stGround
		} else if b == 0x1b {
			in.state = stOscEsc
		} else {
			if len(in.osc) < 4096 {
				in.osc = append(in.osc, b)
			}
		}
	case stOscEsc:
		if b == '\\' {
			t.dispatchOSC()
			in.state = stGround
		} else {
			// Not a string terminator; the ESC aborts the OSC.
			in.reset()
			in.state = stEsc
			t.escByte(b)
		}
	case stDcs:
		if b == 0x07 {
			in.state = stGround
		} else if b == 0x1b {
			in.state = stDcsEsc
		}
	case stDcsEsc:
		if b == '\\' {
			in.state = stGround
		} else {
			in.reset()
			in.state = stEsc
			t.escByte(b)
		}
	case stCharset:
		// Designation byte consumed; charsets beyond ASCII are not
		// emulated.
		in.state = stGround
	}
}

func (in *inputState) reset() {
	in.params = in.params[:0]
	in.curParam = 0
	in.hasParam = false
	in.private = 0
	in.inter = 0
	in.osc = in.osc[:0]
}

func (t *Terminal) groundByte(b byte) {
	in := &t.in
	if len(in.partial) > 0 {
		// An ASCII byte can never continue a UTF-8 sequence; drop the
		// broken prefix and resync on it.
		if b < 0x80 {
			in.partial = in.partial[:0]
			t.groundByte(b)
			return
		}
		in.partial = append(in.partial, b)
		if !utf8.FullRune(in.partial) {
			if len(in.partial) >= utf8.UTFMax {
				in.partial = in.partial[:0]
			}
			return
		}
		r, _ := utf8.DecodeRune(in.partial)
		in.partial = in.partial[:0]
		t.groundRune(r)
		return
	}

	switch {
	case b == 0x1b:
		in.reset()
		in.state = stEsc
	case b == 0x9b: // bare C1 CSI
		in.reset()
		in.state = stCsi
	case b < 0x20:
		t.execC0(b)
	case b < 0x80:
		t.groundRune(rune(b))
	default:
		in.partial = append(in.partial, b)
		if utf8.FullRune(in.partial) {
			r, _ := utf8.DecodeRune(in.partial)
			in.partial = in.partial[:0]
			t.groundRune(r)
		}
	}
}

func (t *Terminal) groundRune(r rune) {
	if r == 0x9b { // C1 CSI decoded from UTF-8
		t.in.reset()
		t.in.state = stCsi
		return
	}
	if r == utf8.RuneError {
		return
	}
	t.putRune(r, runewidth.RuneWidth(r))
}

func (t *Terminal) execC0(b byte) {
	switch b {
	case 0x07: // BEL
	case 0x08:
		t.backspace()
	case 0x09:
		t.horizontalTab()
	case 0x0a, 0x0b, 0x0c:
		t.linefeed()
	case 0x0d:
		t.carriageReturn()
	}
}

func (t *Terminal) escByte(b byte) {
	in := &t.in
	switch b {
	case '[':
		in.reset()
		in.state = stCsi
	case ']':
		in.reset()
		in.state = stOsc
	case 'P':
		in.state = stDcs
	case '7':
		t.saveCursor()
		in.state = stGround
	case '8':
		t.restoreCursor()
		in.state = stGround
	case 'D':
		t.linefeed()
		in.state = stGround
	case 'E':
		t.carriageReturn()
		t.linefeed()
		in.state = stGround
	case 'M':
		t.reverseIndex()
		in.state = stGround
	case 'c':
		t.reset()
		in.state = stGround
	case '(', ')', '*', '+':
		in.state = stCharset
	default:
		// =, >, \ and anything unrecognized
		in.state = stGround
	}
}

func (t *Terminal) csiByte(b byte) {
	in := &t.in
	switch {
	case b >= '0' && b <= '9':
		in.curParam = in.curParam*10 + int(b-'0')
		if in.curParam > maxParam {
			in.curParam = maxParam
		}
		in.hasParam = true
	case b == ';' || b == ':':
		in.params = append(in.params, in.curParam)
		in.curParam = 0
		in.hasParam = false
	case b >= 0x3c && b <= 0x3f:
		in.private = b
	case b >= 0x20 && b <= 0x2f:
		in.inter = b
	case b >= 0x40 && b <= 0x7e:
		if in.hasParam || len(in.params) > 0 {
			in.params = append(in.params, in.curParam)
		}
		t.dispatchCSI(b)
		in.state = stGround
	default:
		// Stray byte inside a sequence; drop it.
	}
}

func (t *Terminal) param(i, def int) int {
	in := &t.in
	if i >= len(in.params) || in.params[i] == 0 {
		return def
	}
	return in.params[i]
}

func (t *Terminal) dispatchCSI(final byte) {
	in := &t.in
	if in.inter != 0 {
		// DECSCUSR and friends; nothing here affects the model.
		return
	}
	if in.private == '?' {
		switch final {
		case 'h':
			t.setPrivateModes(true)
		case 'l':
			t.setPrivateModes(false)
		}
		return
	}
	if in.private != 0 {
		return
	}

	switch final {
	case 'A':
		t.cursorMove(-t.param(0, 1), 0)
	case 'B':
		t.cursorMove(t.param(0, 1), 0)
	case 'C':
		t.cursorMove(0, t.param(0, 1))
	case 'D':
		t.cursorMove(0, -t.param(0, 1))
	case 'E':
		t.cursorTo(t.row+t.param(0, 1), 0)
	case 'F':
		t.cursorTo(t.row-t.param(0, 1), 0)
	case 'G', '`':
		t.cursorTo(t.row, t.param(0, 1)-1)
	case 'H', 'f':
		t.cursorTo(t.param(0, 1)-1, t.param(1, 1)-1)
	case 'd':
		t.cursorTo(t.param(0, 1)-1, t.col)
	case 'J':
		t.eraseDisplay(t.param(0, 0))
	case 'K':
		t.eraseLine(t.param(0, 0))
	case 'L':
		t.insertLines(t.param(0, 1))
	case 'M':
		t.deleteLines(t.param(0, 1))
	case '@':
		t.insertChars(t.param(0, 1))
	case 'P':
		t.deleteChars(t.param(0, 1))
	case 'X':
		t.eraseChars(t.param(0, 1))
	case 'S':
		t.scrollUp(t.param(0, 1))
	case 'T':
		t.scrollDown(t.param(0, 1))
	case 'r':
		t.setScrollRegion(t.param(0, 0), t.param(1, 0))
	case 'm':
		t.applySGR(in.params)
	case 's':
		t.saveCursor()
	case 'u':
		t.restoreCursor()
	}
}

func (t *Terminal) setPrivateModes(set bool) {
	in := &t.in
	params := in.params
	if len(params) == 0 {
		return
	}
	for _, p := range params {
		switch p {
		case 7:
			t.autowrap = set
		case 25:
			t.visible = set
		case 47:
			if set {
				t.enterAlt(false)
			} else {
				t.exitAlt(false)
			}
		case 1047:
			if set {
				t.enterAlt(false)
			} else {
				if t.altActive {
					t.alt.clearAll(Style{})
				}
				t.exitAlt(false)
			}
		case 1049:
			if set {
				t.enterAlt(true)
			} else {
				t.exitAlt(true)
			}
		}
	}
}

func (t *Terminal) dispatchOSC() {
	payload := string(t.in.osc)
	t.in.osc = t.in.osc[:0]
	if len(payload) < 2 {
		return
	}
	switch {
	case payload[0] == '0' && payload[1] == ';':
		t.title = payload[2:]
	case payload[0] == '2' && payload[1] == ';':
		t.title = payload[2:]
	}
}
