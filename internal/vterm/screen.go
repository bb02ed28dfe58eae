package vterm

// cell is one character cell. width is 2 for a wide rune, 0 for the
// continuation cell that follows one, 1 otherwise.
type cell struct {
	r     rune
	style Style
	width int8
}

func blankCell(st Style) cell {
	// Erased cells keep only the pen's background, per BCE.
	return cell{r: ' ', style: Style{BG: st.BG}, width: 1}
}

// screen is a bare cell grid. It knows nothing about escape sequences; the
// Terminal drives it.
type screen struct {
	cols, rows int
	lines      [][]cell
}

func newScreen(cols, rows int) *screen {
	s := &screen{cols: cols, rows: rows}
	s.lines = make([][]cell, rows)
	for i := range s.lines {
		s.lines[i] = s.blankLine(Style{})
	}
	return s
}

func (s *screen) blankLine(st Style) []cell {
	line := make([]cell, s.cols)
	for i := range line {
		line[i] = blankCell(st)
	}
	return line
}

func (s *screen) row(i int) []cell {
	return s.lines[i]
}

func (s *screen) setCell(row, col int, c cell) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return
	}
	s.lines[row][col] = c
}

func (s *screen) clearAll(st Style) {
	for i := range s.lines {
		s.lines[i] = s.blankLine(st)
	}
}

// clearLine blanks columns [from, to] inclusive.
func (s *screen) clearLine(row, from, to int, st Style) {
	if row < 0 || row >= s.rows {
		return
	}
	if from < 0 {
		from = 0
	}
	if to >= s.cols {
		to = s.cols - 1
	}
	for c := from; c <= to; c++ {
		s.lines[row][c] = blankCell(st)
	}
}

// scrollUp shifts rows in [top, bot] up by n and returns the evicted lines
// in top-to-bottom order so the caller can retain them as history.
func (s *screen) scrollUp(top, bot, n int, st Style) [][]cell {
	if top < 0 || bot >= s.rows || top > bot || n <= 0 {
		return nil
	}
	if n > bot-top+1 {
		n = bot - top + 1
	}
	evicted := make([][]cell, n)
	copy(evicted, s.lines[top:top+n])
	copy(s.lines[top:], s.lines[top+n:bot+1])
	for i := bot - n + 1; i <= bot; i++ {
		s.lines[i] = s.blankLine(st)
	}
	return evicted
}

// scrollDown shifts rows in [top, bot] down by n, dropping the bottom lines.
func (s *screen) scrollDown(top, bot, n int, st Style) {
	if top < 0 || bot >= s.rows || top > bot || n <= 0 {
		return
	}
	if n > bot-top+1 {
		n = bot - top + 1
	}
	copy(s.lines[top+n:bot+1], s.lines[top:bot+1-n])
	for i := top; i < top+n; i++ {
		s.lines[i] = s.blankLine(st)
	}
}

// insertCells shifts the tail of a row right by n starting at col.
func (s *screen) insertCells(row, col, n int, st Style) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols || n <= 0 {
		return
	}
	if n > s.cols-col {
		n = s.cols - col
	}
	line := s.lines[row]
	copy(line[col+n:], line[col:s.cols-n])
	for i := col; i < col+n; i++ {
		line[i] = blankCell(st)
	}
}

// deleteCells shifts the tail of a row left by n starting at col.
func (s *screen) deleteCells(row, col, n int, st Style) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols || n <= 0 {
		return
	}
	if n > s.cols-col {
		n = s.cols - col
	}
	line := s.lines[row]
	copy(line[col:], line[col+n:])
	for i := s.cols - n; i < s.cols; i++ {
		line[i] = blankCell(st)
	}
}

// resize grows or truncates the grid in place, top-aligned, without reflow.
func (s *screen) resize(cols, rows int) {
	if cols == s.cols && rows == s.rows {
		return
	}
	next := make([][]cell, rows)
	for i := 0; i < rows; i++ {
		line := make([]cell, cols)
		for j := range line {
			line[j] = blankCell(Style{})
		}
		if i < s.rows {
			old := s.lines[i]
			n := len(old)
			if n > cols {
				n = cols
			}
			copy(line, old[:n])
			// A wide rune cut in half at the new right edge keeps only
			// its continuation; blank it.
			if n > 0 && line[n-1].width == 2 && n == cols {
				line[n-1] = blankCell(Style{})
			}
		}
		next[i] = line
	}
	s.lines = next
	s.cols = cols
	s.rows = rows
}
