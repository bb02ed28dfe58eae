package vterm

import (
	"strings"
	"testing"
)

func screenLines(t *Terminal) []string {
	_, rows := t.Size()
	first := t.FirstVisible()
	out := make([]string, rows)
	for i := 0; i < rows; i++ {
		line, ok := t.PlainLine(first + i)
		if !ok {
			line = "<missing>"
		}
		out[i] = line
	}
	return out
}

func TestPlainText(t *testing.T) {
	vt := New(80, 24, 100)
	vt.Write([]byte("hello world"))

	if got, _ := vt.PlainLine(vt.FirstVisible()); got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
	cur := vt.Cursor()
	if cur.Row != 0 || cur.Col != 11 {
		t.Errorf("expected cursor at 0,11, got %d,%d", cur.Row, cur.Col)
	}
}

func TestNewlineAndCarriageReturn(t *testing.T) {
	vt := New(80, 24, 100)
	vt.Write([]byte("one\r\ntwo\r\nthree"))

	lines := screenLines(vt)
	if lines[0] != "one" || lines[1] != "two" || lines[2] != "three" {
		t.Errorf("unexpected lines: %q", lines[:3])
	}
}

func TestBareLinefeedKeepsColumn(t *testing.T) {
	vt := New(80, 24, 0)
	vt.Write([]byte("abc\ndef"))

	lines := screenLines(vt)
	if lines[0] != "abc" {
		t.Errorf("expected 'abc', got %q", lines[0])
	}
	if lines[1] != "   def" {
		t.Errorf("expected linefeed to keep the column, got %q", lines[1])
	}
}

func TestAutowrapDeferred(t *testing.T) {
	vt := New(10, 5, 0)
	vt.Write([]byte("0123456789"))

	// The cursor sits on the last column until the next printable rune.
	cur := vt.Cursor()
	if cur.Row != 0 || cur.Col != 9 {
		t.Errorf("expected cursor parked at 0,9, got %d,%d", cur.Row, cur.Col)
	}

	vt.Write([]byte("X"))
	lines := screenLines(vt)
	if lines[0] != "0123456789" || lines[1] != "X" {
		t.Errorf("expected wrap on next rune, got %q / %q", lines[0], lines[1])
	}
}

func TestCursorAddressing(t *testing.T) {
	vt := New(80, 24, 0)
	vt.Write([]byte("\x1b[5;10HX"))

	if got, _ := vt.PlainLine(4); got != strings.Repeat(" ", 9)+"X" {
		t.Errorf("expected X at row 4 col 9, got %q", got)
	}

	// Out-of-range addressing clamps.
	vt.Write([]byte("\x1b[999;999H"))
	cur := vt.Cursor()
	if cur.Row != 23 || cur.Col != 79 {
		t.Errorf("expected clamped cursor at 23,79, got %d,%d", cur.Row, cur.Col)
	}
}

func TestEraseLineModes(t *testing.T) {
	vt := New(20, 5, 0)
	vt.Write([]byte("abcdefghij"))
	vt.Write([]byte("\x1b[1;5H")) // col 4 (0-based)

	vt.Write([]byte("\x1b[K")) // erase to end
	if got, _ := vt.PlainLine(0); got != "abcd" {
		t.Errorf("EL0: expected 'abcd', got %q", got)
	}

	vt.Write([]byte("\x1b[2;1Hklmnop\x1b[2;3H\x1b[1K")) // erase start..cursor
	if got, _ := vt.PlainLine(1); got != "   nop" {
		t.Errorf("EL1: expected '   nop', got %q", got)
	}

	vt.Write([]byte("\x1b[2K"))
	if got, _ := vt.PlainLine(1); got != "" {
		t.Errorf("EL2: expected empty line, got %q", got)
	}
}

func TestEraseDisplayAndScrollbackClear(t *testing.T) {
	vt := New(10, 3, 50)
	vt.Write([]byte("a\r\nb\r\nc\r\nd\r\ne"))
	if vt.TotalLines() != 5 {
		t.Fatalf("expected 5 total lines, got %d", vt.TotalLines())
	}

	epoch := vt.Epoch()
	vt.Write([]byte("\x1b[3J"))
	if vt.TotalLines() != 3 {
		t.Errorf("expected history cleared by ED3, total %d", vt.TotalLines())
	}
	if vt.Epoch() == epoch {
		t.Errorf("expected epoch bump on scrollback clear")
	}
}

func TestInsertDeleteChars(t *testing.T) {
	vt := New(10, 2, 0)
	vt.Write([]byte("abcdef\x1b[1;3H")) // cursor at col 2

	vt.Write([]byte("\x1b[2@")) // insert 2 blanks
	if got, _ := vt.PlainLine(0); got != "ab  cdef" {
		t.Errorf("ICH: expected 'ab  cdef', got %q", got)
	}

	vt.Write([]byte("\x1b[3P")) // delete 3
	if got, _ := vt.PlainLine(0); got != "abdef" {
		t.Errorf("DCH: expected 'abdef', got %q", got)
	}
}

func TestInsertDeleteLines(t *testing.T) {
	vt := New(10, 4, 0)
	vt.Write([]byte("one\r\ntwo\r\nthree\r\nfour\x1b[2;1H"))

	vt.Write([]byte("\x1b[1L"))
	lines := screenLines(vt)
	if lines[0] != "one" || lines[1] != "" || lines[2] != "two" || lines[3] != "three" {
		t.Errorf("IL: unexpected lines %q", lines)
	}

	vt.Write([]byte("\x1b[2M"))
	lines = screenLines(vt)
	if lines[0] != "one" || lines[1] != "three" || lines[2] != "" {
		t.Errorf("DL: unexpected lines %q", lines)
	}
}

func TestScrollRegion(t *testing.T) {
	vt := New(10, 5, 100)
	vt.Write([]byte("r0\r\nr1\r\nr2\r\nr3\r\nr4"))
	vt.Write([]byte("\x1b[2;4r")) // region rows 1..3 (0-based)

	// Cursor homes after DECSTBM; move to the region bottom and scroll.
	vt.Write([]byte("\x1b[4;1H\nX"))
	lines := screenLines(vt)
	if lines[0] != "r0" || lines[4] != "r4" {
		t.Errorf("rows outside the region must not move: %q", lines)
	}
	if lines[1] != "r2" || lines[2] != "r3" {
		t.Errorf("expected region to scroll up: %q", lines)
	}
	if lines[3] != "X" {
		t.Errorf("expected X on region bottom, got %q", lines[3])
	}
	// Region scrolls never feed history.
	if vt.TotalLines() != 5 {
		t.Errorf("expected no scrollback from region scroll, total %d", vt.TotalLines())
	}
}

func TestScrollbackOrderAndRing(t *testing.T) {
	vt := New(10, 2, 3)
	vt.Write([]byte("1\r\n2\r\n3\r\n4\r\n5\r\n6"))

	// Screen shows 5,6; history should hold the most recent 3 evictions.
	if vt.TotalLines() != 5 {
		t.Fatalf("expected 3 history + 2 screen lines, got %d", vt.TotalLines())
	}
	want := []string{"2", "3", "4", "5", "6"}
	for i, w := range want {
		if got, _ := vt.PlainLine(i); got != w {
			t.Errorf("line %d: expected %q, got %q", i, w, got)
		}
	}
	if vt.FirstVisible() != 3 {
		t.Errorf("expected first visible 3, got %d", vt.FirstVisible())
	}
}

func TestStyledSpans(t *testing.T) {
	vt := New(40, 5, 0)
	vt.Write([]byte("ab\x1b[31mred\x1b[0m tail"))

	spans, _ := vt.StyledLine(0)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d: %+v", len(spans), spans)
	}
	if spans[0].Text != "ab" || spans[0].FG != "" {
		t.Errorf("unexpected first span %+v", spans[0])
	}
	if spans[1].Text != "red" || spans[1].FG != "1" {
		t.Errorf("unexpected red span %+v", spans[1])
	}
	if spans[2].Text != " tail" {
		t.Errorf("unexpected tail span %+v", spans[2])
	}
}

func TestStyledSpansPreserveColoredBlanks(t *testing.T) {
	vt := New(20, 2, 0)
	// Three spaces on a red background, then default-styled spaces.
	vt.Write([]byte("x\x1b[41m   \x1b[0m   "))

	spans, _ := vt.StyledLine(0)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if spans[1].BG != "1" || spans[1].Text != "   " {
		t.Errorf("expected colored blank span to survive, got %+v", spans[1])
	}
}

func TestStyledTrimsTrailingDefaultBlanks(t *testing.T) {
	vt := New(20, 2, 0)
	vt.Write([]byte("abc   "))

	spans, _ := vt.StyledLine(0)
	if len(spans) != 1 || spans[0].Text != "abc" {
		t.Errorf("expected trailing default blanks trimmed, got %+v", spans)
	}
}

func TestPlainStyledRoundTrip(t *testing.T) {
	vt := New(40, 4, 0)
	vt.Write([]byte("plain \x1b[1;32mgreen bold\x1b[0m end\r\nsecond line  "))

	for i := 0; i < 2; i++ {
		plain, _ := vt.PlainLine(i)
		spans, _ := vt.StyledLine(i)
		flat := strings.TrimRight(PlainText(spans), " \t")
		if flat != plain {
			t.Errorf("line %d: styled flattening %q != plain %q", i, flat, plain)
		}
	}
}

func TestSGR256AndTruecolor(t *testing.T) {
	vt := New(40, 2, 0)
	vt.Write([]byte("\x1b[38;5;196mA\x1b[48;2;1;2;3mB"))

	spans, _ := vt.StyledLine(0)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %+v", spans)
	}
	if spans[0].FG != "196" {
		t.Errorf("expected indexed fg 196, got %q", spans[0].FG)
	}
	if spans[1].BG != "#010203" {
		t.Errorf("expected truecolor bg #010203, got %q", spans[1].BG)
	}
}

func TestAltScreenSwitching(t *testing.T) {
	vt := New(20, 4, 100)
	vt.Write([]byte("main content"))
	epoch := vt.Epoch()

	vt.Write([]byte("\x1b[?1049h"))
	if !vt.AltActive() {
		t.Fatal("expected alt active after 1049h")
	}
	if vt.Epoch() == epoch {
		t.Errorf("expected epoch bump on alt enter")
	}
	if got, _ := vt.PlainLine(0); got != "" {
		t.Errorf("expected cleared alt screen, got %q", got)
	}
	if vt.TotalLines() != 4 {
		t.Errorf("expected alt total lines = rows, got %d", vt.TotalLines())
	}

	vt.Write([]byte("alt stuff"))
	vt.Write([]byte("\x1b[?1049l"))
	if vt.AltActive() {
		t.Fatal("expected main active after 1049l")
	}
	if got, _ := vt.PlainLine(vt.FirstVisible()); got != "main content" {
		t.Errorf("expected main buffer restored, got %q", got)
	}
	cur := vt.Cursor()
	if cur.Row != 0 || cur.Col != 12 {
		t.Errorf("expected cursor restored to 0,12, got %d,%d", cur.Row, cur.Col)
	}
}

func TestAltScreenNoScrollback(t *testing.T) {
	vt := New(10, 2, 100)
	vt.Write([]byte("\x1b[?1049h"))
	vt.Write([]byte("1\r\n2\r\n3\r\n4"))

	if vt.TotalLines() != 2 {
		t.Errorf("expected no history in alt mode, total %d", vt.TotalLines())
	}
	vt.Write([]byte("\x1b[?1049l"))
	if vt.TotalLines() != 2 {
		t.Errorf("expected history untouched by alt output, total %d", vt.TotalLines())
	}
}

func TestCursorVisibility(t *testing.T) {
	vt := New(10, 2, 0)
	if !vt.Cursor().Visible {
		t.Fatal("expected cursor visible initially")
	}
	vt.Write([]byte("\x1b[?25l"))
	if vt.Cursor().Visible {
		t.Errorf("expected cursor hidden after ?25l")
	}
	vt.Write([]byte("\x1b[?25h"))
	if !vt.Cursor().Visible {
		t.Errorf("expected cursor visible after ?25h")
	}
}

func TestResizeClampsAndBumpsEpoch(t *testing.T) {
	vt := New(20, 10, 0)
	vt.Write([]byte("\x1b[10;20H"))
	epoch := vt.Epoch()

	vt.Resize(10, 4)
	cols, rows := vt.Size()
	if cols != 10 || rows != 4 {
		t.Errorf("expected 10x4, got %dx%d", cols, rows)
	}
	cur := vt.Cursor()
	if cur.Row != 3 || cur.Col != 9 {
		t.Errorf("expected clamped cursor 3,9, got %d,%d", cur.Row, cur.Col)
	}
	if vt.Epoch() == epoch {
		t.Errorf("expected epoch bump on resize")
	}
}

func TestResizePreservesContent(t *testing.T) {
	vt := New(20, 4, 0)
	vt.Write([]byte("keep me"))
	vt.Resize(40, 8)
	if got, _ := vt.PlainLine(0); got != "keep me" {
		t.Errorf("expected content preserved across grow, got %q", got)
	}
}

func TestDamageTracking(t *testing.T) {
	vt := New(20, 5, 0)
	vt.Write([]byte("hello"))
	damage := vt.TakeDamage()
	if len(damage) != 1 || damage[0] != 0 {
		t.Errorf("expected damage [0], got %v", damage)
	}

	if d := vt.TakeDamage(); len(d) != 0 {
		t.Errorf("expected damage cleared, got %v", d)
	}

	vt.Write([]byte("\x1b[3;1Hbelow"))
	damage = vt.TakeDamage()
	if len(damage) != 1 || damage[0] != 2 {
		t.Errorf("expected damage [2], got %v", damage)
	}
}

func TestDamageUsesAbsoluteIndices(t *testing.T) {
	vt := New(10, 2, 10)
	vt.Write([]byte("a\r\nb"))
	vt.TakeDamage()

	vt.Write([]byte("\r\nc")) // scrolls one line into history
	damage := vt.TakeDamage()
	// Screen rows 0 and 1 changed; with one history line they are absolute
	// indices 1 and 2.
	if len(damage) != 2 || damage[0] != 1 || damage[1] != 2 {
		t.Errorf("expected damage [1 2], got %v", damage)
	}
}

func TestWideRunes(t *testing.T) {
	vt := New(10, 2, 0)
	vt.Write([]byte("日本x"))

	plain, _ := vt.PlainLine(0)
	if plain != "日本x" {
		t.Errorf("expected wide runes preserved, got %q", plain)
	}
	cur := vt.Cursor()
	if cur.Col != 5 {
		t.Errorf("expected cursor col 5 after two wide runes, got %d", cur.Col)
	}

	spans, _ := vt.StyledLine(0)
	if len(spans) != 1 || spans[0].Text != "日本x" {
		t.Errorf("expected continuation cells collapsed, got %+v", spans)
	}
}

func TestUTF8AcrossChunks(t *testing.T) {
	vt := New(10, 2, 0)
	raw := []byte("é") // 0xC3 0xA9
	vt.Write(raw[:1])
	vt.Write(raw[1:])
	if got, _ := vt.PlainLine(0); got != "é" {
		t.Errorf("expected rune assembled across chunks, got %q", got)
	}
}

func TestEscapeSplitAcrossChunks(t *testing.T) {
	vt := New(20, 2, 0)
	seq := []byte("\x1b[31mred")
	vt.Write(seq[:2]) // ESC [
	vt.Write(seq[2:4])
	vt.Write(seq[4:])

	spans, _ := vt.StyledLine(0)
	if len(spans) != 1 || spans[0].FG != "1" || spans[0].Text != "red" {
		t.Errorf("expected split escape applied, got %+v", spans)
	}
}

func TestFullReset(t *testing.T) {
	vt := New(10, 3, 10)
	vt.Write([]byte("\x1b[31mstuff\x1b[?25l"))
	epoch := vt.Epoch()
	vt.Write([]byte("\x1bc"))

	if got, _ := vt.PlainLine(vt.FirstVisible()); got != "" {
		t.Errorf("expected cleared screen after RIS, got %q", got)
	}
	if !vt.Cursor().Visible {
		t.Errorf("expected cursor visible after RIS")
	}
	if vt.Epoch() == epoch {
		t.Errorf("expected epoch bump on RIS")
	}
}

func TestOSCTitle(t *testing.T) {
	vt := New(10, 2, 0)
	vt.Write([]byte("\x1b]2;my title\x07after"))
	if vt.Title() != "my title" {
		t.Errorf("expected title 'my title', got %q", vt.Title())
	}
	if got, _ := vt.PlainLine(0); got != "after" {
		t.Errorf("expected OSC consumed, got %q", got)
	}

	vt.Write([]byte("\x1b]0;other\x1b\\"))
	if vt.Title() != "other" {
		t.Errorf("expected ST-terminated title, got %q", vt.Title())
	}
}

func TestReverseIndexScrollsDown(t *testing.T) {
	vt := New(10, 3, 0)
	vt.Write([]byte("a\r\nb\r\nc\x1b[1;1H\x1bM"))
	lines := screenLines(vt)
	if lines[0] != "" || lines[1] != "a" || lines[2] != "b" {
		t.Errorf("expected scroll down on RI at top, got %q", lines)
	}
}

func TestTabStops(t *testing.T) {
	vt := New(20, 2, 0)
	vt.Write([]byte("a\tb"))
	if got, _ := vt.PlainLine(0); got != "a       b" {
		t.Errorf("expected tab to column 8, got %q", got)
	}
}
