// Package vterm implements the terminal emulator that backs every session:
// a styled cell grid with scrollback, an alternate screen, damage tracking
// for line-grain change events, and a chunk-boundary-safe scanner for
// alternate-screen transitions.
package vterm

import "sort"

// Cursor is the reported cursor state.
type Cursor struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

type savedCursor struct {
	row, col int
	pen      Style
}

// Terminal is a VT emulator. It is not safe for concurrent use; the parser
// actor is its single owner.
type Terminal struct {
	cols, rows int

	main      *screen
	alt       *screen
	altActive bool

	pen         Style
	row, col    int
	visible     bool
	wrapPending bool
	autowrap    bool

	savedMain savedCursor
	savedAlt  savedCursor

	// scroll region, 0-based inclusive
	top, bot int

	tabs map[int]bool

	sb     [][]cell
	sbMax  int
	sbHead int
	sbLen  int

	damage map[int]struct{}
	epoch  uint64
	title  string

	in inputState
}

// New creates a terminal. Non-positive geometry falls back to 80x24;
// scrollback is the maximum number of history lines retained.
func New(cols, rows, scrollback int) *Terminal {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if scrollback < 0 {
		scrollback = 0
	}
	t := &Terminal{
		cols:     cols,
		rows:     rows,
		main:     newScreen(cols, rows),
		alt:      newScreen(cols, rows),
		visible:  true,
		autowrap: true,
		bot:      rows - 1,
		tabs:     defaultTabs(cols),
		sbMax:    scrollback,
		damage:   make(map[int]struct{}),
	}
	if scrollback > 0 {
		t.sb = make([][]cell, scrollback)
	}
	return t
}

func defaultTabs(cols int) map[int]bool {
	tabs := make(map[int]bool)
	for c := 8; c < cols; c += 8 {
		tabs[c] = true
	}
	return tabs
}

func (t *Terminal) screen() *screen {
	if t.altActive {
		return t.alt
	}
	return t.main
}

// Size returns the current geometry.
func (t *Terminal) Size() (cols, rows int) { return t.cols, t.rows }

// AltActive reports whether the alternate screen is in use.
func (t *Terminal) AltActive() bool { return t.altActive }

// Epoch increments on hard state changes: resize, full reset, alternate
// screen transitions, scrollback clear.
func (t *Terminal) Epoch() uint64 { return t.epoch }

// Title returns the window title last set via OSC 0/2.
func (t *Terminal) Title() string { return t.title }

// Cursor returns the current cursor position and visibility.
func (t *Terminal) Cursor() Cursor {
	return Cursor{Row: t.row, Col: t.col, Visible: t.visible}
}

// TotalLines is the number of addressable lines: history plus screen on the
// main buffer, just the screen in alt mode.
func (t *Terminal) TotalLines() int {
	if t.altActive {
		return t.rows
	}
	return t.sbLen + t.rows
}

// FirstVisible is the absolute index of screen row 0.
func (t *Terminal) FirstVisible() int {
	if t.altActive {
		return 0
	}
	return t.sbLen
}

// lineCells returns the cells at absolute index i, oldest retained line
// first.
func (t *Terminal) lineCells(i int) ([]cell, bool) {
	if i < 0 {
		return nil, false
	}
	if t.altActive {
		if i >= t.rows {
			return nil, false
		}
		return t.alt.row(i), true
	}
	if i < t.sbLen {
		return t.sb[(t.sbHead+i)%t.sbMax], true
	}
	i -= t.sbLen
	if i >= t.rows {
		return nil, false
	}
	return t.main.row(i), true
}

// PlainLine renders the line at absolute index i with trailing whitespace
// trimmed.
func (t *Terminal) PlainLine(i int) (string, bool) {
	cells, ok := t.lineCells(i)
	if !ok {
		return "", false
	}
	return plainLine(cells), true
}

// StyledLine renders the line at absolute index i as styled spans.
func (t *Terminal) StyledLine(i int) ([]Span, bool) {
	cells, ok := t.lineCells(i)
	if !ok {
		return nil, false
	}
	return styledLine(cells), true
}

// TakeDamage returns the sorted absolute indices of lines changed since the
// last call and resets the set.
func (t *Terminal) TakeDamage() []int {
	if len(t.damage) == 0 {
		return nil
	}
	base := t.FirstVisible()
	out := make([]int, 0, len(t.damage))
	for row := range t.damage {
		out = append(out, base+row)
	}
	sort.Ints(out)
	t.damage = make(map[int]struct{})
	return out
}

func (t *Terminal) touchRow(row int) {
	if row >= 0 && row < t.rows {
		t.damage[row] = struct{}{}
	}
}

func (t *Terminal) touchRows(from, to int) {
	for r := from; r <= to; r++ {
		t.touchRow(r)
	}
}

func (t *Terminal) touchAll() {
	t.touchRows(0, t.rows-1)
}

// Resize changes the geometry of both buffers, clamps the cursor, resets
// the scroll region, and bumps the epoch.
func (t *Terminal) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 || (cols == t.cols && rows == t.rows) {
		return
	}
	t.main.resize(cols, rows)
	t.alt.resize(cols, rows)
	t.cols = cols
	t.rows = rows
	t.top = 0
	t.bot = rows - 1
	t.tabs = defaultTabs(cols)
	if t.row >= rows {
		t.row = rows - 1
	}
	if t.col >= cols {
		t.col = cols - 1
	}
	t.wrapPending = false
	t.epoch++
	t.damage = make(map[int]struct{})
	t.touchAll()
}

// reset is RIS: both buffers cleared, cursor home, pen and modes default.
// Scrollback is retained.
func (t *Terminal) reset() {
	t.main.clearAll(Style{})
	t.alt.clearAll(Style{})
	t.altActive = false
	t.pen = Style{}
	t.row, t.col = 0, 0
	t.visible = true
	t.autowrap = true
	t.wrapPending = false
	t.top = 0
	t.bot = t.rows - 1
	t.tabs = defaultTabs(t.cols)
	t.savedMain = savedCursor{}
	t.savedAlt = savedCursor{}
	t.epoch++
	t.touchAll()
}

func (t *Terminal) clearScrollback() {
	t.sbHead = 0
	t.sbLen = 0
	t.epoch++
}

func (t *Terminal) pushScrollback(lines [][]cell) {
	if t.sbMax == 0 || t.altActive {
		return
	}
	for _, ln := range lines {
		if t.sbLen < t.sbMax {
			t.sb[(t.sbHead+t.sbLen)%t.sbMax] = ln
			t.sbLen++
		} else {
			t.sb[t.sbHead] = ln
			t.sbHead = (t.sbHead + 1) % t.sbMax
		}
	}
}

// enterAlt switches to the alternate screen. With saveCursor (mode 1049)
// the main-buffer cursor is saved and the alt buffer cleared.
func (t *Terminal) enterAlt(saveCursor bool) {
	if t.altActive {
		return
	}
	if saveCursor {
		t.savedMain = savedCursor{row: t.row, col: t.col, pen: t.pen}
	}
	t.altActive = true
	if saveCursor {
		t.alt.clearAll(Style{})
		t.row, t.col = 0, 0
	}
	t.wrapPending = false
	t.epoch++
	t.touchAll()
}

// exitAlt switches back to the main screen. With restoreCursor (mode 1049)
// the saved main-buffer cursor returns.
func (t *Terminal) exitAlt(restoreCursor bool) {
	if !t.altActive {
		return
	}
	t.altActive = false
	if restoreCursor {
		t.row, t.col = t.savedMain.row, t.savedMain.col
		t.pen = t.savedMain.pen
		t.clampCursor()
	}
	t.wrapPending = false
	t.epoch++
	t.touchAll()
}

func (t *Terminal) clampCursor() {
	if t.row < 0 {
		t.row = 0
	}
	if t.row >= t.rows {
		t.row = t.rows - 1
	}
	if t.col < 0 {
		t.col = 0
	}
	if t.col >= t.cols {
		t.col = t.cols - 1
	}
}

func (t *Terminal) saveCursor() {
	sc := savedCursor{row: t.row, col: t.col, pen: t.pen}
	if t.altActive {
		t.savedAlt = sc
	} else {
		t.savedMain = sc
	}
}

func (t *Terminal) restoreCursor() {
	sc := t.savedMain
	if t.altActive {
		sc = t.savedAlt
	}
	t.row, t.col = sc.row, sc.col
	t.pen = sc.pen
	t.wrapPending = false
	t.clampCursor()
}

// scrollUp scrolls the region up by n, retaining evicted full-screen lines
// as history on the main buffer.
func (t *Terminal) scrollUp(n int) {
	evicted := t.screen().scrollUp(t.top, t.bot, n, t.pen)
	if t.top == 0 {
		t.pushScrollback(evicted)
	}
	t.touchRows(t.top, t.bot)
}

func (t *Terminal) scrollDown(n int) {
	t.screen().scrollDown(t.top, t.bot, n, t.pen)
	t.touchRows(t.top, t.bot)
}

// linefeed moves down one row, scrolling when at the bottom margin.
func (t *Terminal) linefeed() {
	if t.row == t.bot {
		t.scrollUp(1)
	} else if t.row < t.rows-1 {
		t.row++
	}
	t.wrapPending = false
}

// reverseIndex moves up one row, scrolling down when at the top margin.
func (t *Terminal) reverseIndex() {
	if t.row == t.top {
		t.scrollDown(1)
	} else if t.row > 0 {
		t.row--
	}
	t.wrapPending = false
}

func (t *Terminal) carriageReturn() {
	t.col = 0
	t.wrapPending = false
}

func (t *Terminal) backspace() {
	if t.col > 0 {
		t.col--
	}
	t.wrapPending = false
}

func (t *Terminal) horizontalTab() {
	for c := t.col + 1; c < t.cols; c++ {
		if t.tabs[c] {
			t.col = c
			return
		}
	}
	t.col = t.cols - 1
}

// putRune writes a printable rune at the cursor, handling deferred wrap and
// wide runes.
func (t *Terminal) putRune(r rune, width int) {
	if width <= 0 {
		// Combining marks and other zero-width runes are dropped.
		return
	}
	if t.wrapPending && t.autowrap {
		t.carriageReturn()
		t.linefeed()
	}
	if width == 2 && t.col == t.cols-1 {
		// No room for a wide rune at the right edge; blank the last cell
		// and wrap.
		t.screen().setCell(t.row, t.col, blankCell(t.pen))
		t.touchRow(t.row)
		if t.autowrap {
			t.carriageReturn()
			t.linefeed()
		}
	}

	scr := t.screen()
	scr.setCell(t.row, t.col, cell{r: r, style: t.pen, width: int8(width)})
	if width == 2 {
		scr.setCell(t.row, t.col+1, cell{r: 0, style: t.pen, width: 0})
	}
	t.touchRow(t.row)

	if t.col+width >= t.cols {
		t.col = t.cols - 1
		if t.autowrap {
			t.wrapPending = true
		}
	} else {
		t.col += width
	}
}

// cursorTo addresses the cursor with 0-based coordinates, clamped.
func (t *Terminal) cursorTo(row, col int) {
	t.row, t.col = row, col
	t.clampCursor()
	t.wrapPending = false
}

func (t *Terminal) cursorMove(dr, dc int) {
	t.cursorTo(t.row+dr, t.col+dc)
}

// setScrollRegion takes 1-based inclusive margins; 0 means default.
func (t *Terminal) setScrollRegion(top, bot int) {
	if top <= 0 {
		top = 1
	}
	if bot <= 0 || bot > t.rows {
		bot = t.rows
	}
	if top >= bot {
		return
	}
	t.top = top - 1
	t.bot = bot - 1
	t.cursorTo(0, 0)
}

// eraseDisplay: 0 = cursor to end, 1 = start to cursor, 2 = all,
// 3 = all plus scrollback.
func (t *Terminal) eraseDisplay(mode int) {
	scr := t.screen()
	switch mode {
	case 0:
		scr.clearLine(t.row, t.col, t.cols-1, t.pen)
		for r := t.row + 1; r < t.rows; r++ {
			scr.clearLine(r, 0, t.cols-1, t.pen)
		}
		t.touchRows(t.row, t.rows-1)
	case 1:
		for r := 0; r < t.row; r++ {
			scr.clearLine(r, 0, t.cols-1, t.pen)
		}
		scr.clearLine(t.row, 0, t.col, t.pen)
		t.touchRows(0, t.row)
	case 2:
		scr.clearAll(t.pen)
		t.touchAll()
	case 3:
		scr.clearAll(t.pen)
		t.clearScrollback()
		t.touchAll()
	}
}

// eraseLine: 0 = cursor to end, 1 = start to cursor, 2 = whole line.
func (t *Terminal) eraseLine(mode int) {
	switch mode {
	case 0:
		t.screen().clearLine(t.row, t.col, t.cols-1, t.pen)
	case 1:
		t.screen().clearLine(t.row, 0, t.col, t.pen)
	case 2:
		t.screen().clearLine(t.row, 0, t.cols-1, t.pen)
	}
	t.touchRow(t.row)
}

func (t *Terminal) eraseChars(n int) {
	if n <= 0 {
		n = 1
	}
	t.screen().clearLine(t.row, t.col, t.col+n-1, t.pen)
	t.touchRow(t.row)
}

// insertLines and deleteLines operate within the scroll region and only
// when the cursor is inside it.
func (t *Terminal) insertLines(n int) {
	if t.row < t.top || t.row > t.bot {
		return
	}
	if n <= 0 {
		n = 1
	}
	t.screen().scrollDown(t.row, t.bot, n, t.pen)
	t.touchRows(t.row, t.bot)
}

func (t *Terminal) deleteLines(n int) {
	if t.row < t.top || t.row > t.bot {
		return
	}
	if n <= 0 {
		n = 1
	}
	t.screen().scrollUp(t.row, t.bot, n, t.pen)
	t.touchRows(t.row, t.bot)
}

func (t *Terminal) insertChars(n int) {
	if n <= 0 {
		n = 1
	}
	t.screen().insertCells(t.row, t.col, n, t.pen)
	t.touchRow(t.row)
}

func (t *Terminal) deleteChars(n int) {
	if n <= 0 {
		n = 1
	}
	t.screen().deleteCells(t.row, t.col, n, t.pen)
	t.touchRow(t.row)
}
