package vterm

import (
	"strconv"
	"strings"
)

type detectState int

const (
	detGround detectState = iota
	detEsc
	detCsiEntry
	detDecParams
)

// AltScreenDetector scans a raw byte stream for DEC private-mode 47, 1047,
// and 1049 transitions. It is deliberately independent of the emulator: the
// parser actor runs it over each chunk before feeding the emulator, so mode
// events can be published even if the emulator is mid-restart.
//
// The scanner survives sequences split at any chunk boundary, including the
// two-byte UTF-8 form of the C1 CSI (0xC2 0x9B).
type AltScreenDetector struct {
	active bool
	state  detectState
	params []byte
	sawC2  bool
}

// Active reports the current alternate-screen flag.
func (d *AltScreenDetector) Active() bool { return d.active }

// Scan processes one chunk and returns the resulting alternate-screen flag.
// Multiple transitions within the chunk apply in order; the return value is
// the final state.
func (d *AltScreenDetector) Scan(chunk []byte) bool {
	for _, b := range chunk {
		d.feed(b)
	}
	return d.active
}

func (d *AltScreenDetector) feed(b byte) {
	if d.sawC2 {
		d.sawC2 = false
		if b == 0x9b {
			d.state = detCsiEntry
			d.params = d.params[:0]
			return
		}
		// 0xC2 started an ordinary UTF-8 rune; fall through with b.
	}

	switch d.state {
	case detGround:
		switch b {
		case 0x1b:
			d.state = detEsc
		case 0x9b:
			d.state = detCsiEntry
			d.params = d.params[:0]
		case 0xc2:
			d.sawC2 = true
		}

	case detEsc:
		switch b {
		case '[':
			d.state = detCsiEntry
			d.params = d.params[:0]
		case 0x1b:
			// Stay: the second ESC starts a fresh sequence.
		default:
			d.state = detGround
			d.feed(b)
		}

	case detCsiEntry:
		switch {
		case b == '?':
			d.state = detDecParams
			d.params = d.params[:0]
		case b == 0x1b:
			d.state = detEsc
		case b == 0x9b:
			d.params = d.params[:0]
		case b == 0x18 || b == 0x1a:
			d.state = detGround
		case b >= 0x40 && b <= 0x7e:
			// Final byte of a non-DEC sequence; abandon it.
			d.state = detGround
		default:
			// Parameter or intermediate bytes of a non-DEC sequence.
		}

	case detDecParams:
		switch {
		case b >= '0' && b <= '9' || b == ';' || b == ':':
			if len(d.params) < 64 {
				d.params = append(d.params, b)
			}
		case b == 0x1b:
			d.state = detEsc
		case b == 0x9b:
			d.state = detCsiEntry
			d.params = d.params[:0]
		case b == 0x18 || b == 0x1a:
			d.state = detGround
		case b == 'h' || b == 'l':
			d.apply(b == 'h')
			d.state = detGround
		case b >= 0x40 && b <= 0x7e:
			d.state = detGround
		default:
			// Intermediate bytes (e.g. DECRQM's `$`) keep the sequence
			// open until its final byte.
		}
	}
}

func (d *AltScreenDetector) apply(enter bool) {
	for _, field := range strings.FieldsFunc(string(d.params), func(r rune) bool {
		return r == ';' || r == ':'
	}) {
		switch n, _ := strconv.Atoi(field); n {
		case 47, 1047, 1049:
			d.active = enter
		}
	}
	d.params = d.params[:0]
}
