// Package parser runs the terminal emulator as an actor: one goroutine owns
// the emulator, fed by an unbounded chunk queue, answering queries over a
// bounded channel, and publishing line/cursor/mode/reset events to lossy
// subscribers. A supervisor catches panics and restarts the actor with the
// same geometry.
package parser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/vterm"
)

// Format selects how query results render lines.
type Format string

const (
	FormatPlain  Format = "plain"
	FormatStyled Format = "styled"
)

// ParseFormat maps the wire format parameter; empty means plain.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "plain":
		return FormatPlain, nil
	case "styled":
		return FormatStyled, nil
	default:
		return "", apierr.InvalidFormat(s)
	}
}

// Snapshot is the screen query result. Lines holds []string for plain
// format or [][]vterm.Span for styled.
type Snapshot struct {
	Epoch          uint64       `json:"epoch"`
	FirstLineIndex int          `json:"first_line_index"`
	TotalLines     int          `json:"total_lines"`
	Lines          any          `json:"lines"`
	Cursor         vterm.Cursor `json:"cursor"`
	Cols           int          `json:"cols"`
	Rows           int          `json:"rows"`
	AltActive      bool         `json:"alternate_active"`
}

// ScrollbackChunk is the scrollback query result.
type ScrollbackChunk struct {
	Offset     int `json:"offset"`
	TotalLines int `json:"total_lines"`
	Lines      any `json:"lines"`
}

type queryKind int

const (
	qSnapshot queryKind = iota
	qScrollback
	qCursor
	qResize
)

type query struct {
	kind       queryKind
	format     Format
	offset     int
	limit      int
	cols, rows int
	reply      chan queryResult

	// fn runs on the actor goroutine instead of a built-in query; tests
	// use it for fault injection.
	fn func()
}

type queryResult struct {
	snap   *Snapshot
	chunk  *ScrollbackChunk
	cursor vterm.Cursor
}

const queryBacklog = 32

// Parser owns one emulator instance behind an actor goroutine.
type Parser struct {
	scrollback int

	geoMu sync.Mutex
	cols  int
	rows  int

	feedMu  sync.Mutex
	feedBuf [][]byte
	feedSig chan struct{}

	queries chan *query

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	seq       atomic.Uint64
	available atomic.Bool

	// det carries alternate-screen stream state across actor restarts. It
	// is only touched by the actor goroutine.
	det vterm.AltScreenDetector

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

// New starts the parser actor for a terminal of the given geometry.
func New(cols, rows, scrollback int) *Parser {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	p := &Parser{
		scrollback: scrollback,
		cols:       cols,
		rows:       rows,
		feedSig:    make(chan struct{}, 1),
		queries:    make(chan *query, queryBacklog),
		subs:       make(map[*Subscription]struct{}),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	// Mark available before the actor goroutine starts so queries submitted
	// immediately after New queue on p.queries instead of racing the actor's
	// own Store(true) and failing as if the parser were restarting.
	p.available.Store(true)
	go p.supervise()
	return p
}

// Feed queues a PTY chunk for the actor. It never blocks and never drops;
// the queue is unbounded inside the parser boundary.
func (p *Parser) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	p.feedMu.Lock()
	p.feedBuf = append(p.feedBuf, buf)
	p.feedMu.Unlock()

	select {
	case p.feedSig <- struct{}{}:
	default:
	}
}

// Seq returns the latest published event sequence number.
func (p *Parser) Seq() uint64 { return p.seq.Load() }

// Subscribe registers an event consumer with the given buffer size.
func (p *Parser) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &Subscription{C: make(chan Event, buffer)}
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	select {
	case <-p.stopped:
		close(sub.C)
		return sub
	default:
	}
	p.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (p *Parser) Unsubscribe(sub *Subscription) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	if _, ok := p.subs[sub]; ok {
		delete(p.subs, sub)
		close(sub.C)
	}
}

// Close stops the actor and closes all subscriptions.
func (p *Parser) Close() {
	p.closeOnce.Do(func() {
		p.available.Store(false)
		close(p.done)
	})
	<-p.stopped
}

// Snapshot returns the visible screen.
func (p *Parser) Snapshot(ctx context.Context, format Format) (*Snapshot, error) {
	res, err := p.submit(ctx, &query{kind: qSnapshot, format: format})
	if err != nil {
		return nil, err
	}
	return res.snap, nil
}

// Scrollback returns lines from the full retained history (alt buffer only
// while the alternate screen is active). Any offset and limit are accepted.
func (p *Parser) Scrollback(ctx context.Context, format Format, offset, limit int) (*ScrollbackChunk, error) {
	res, err := p.submit(ctx, &query{kind: qScrollback, format: format, offset: offset, limit: limit})
	if err != nil {
		return nil, err
	}
	return res.chunk, nil
}

// CursorPos returns the current cursor.
func (p *Parser) CursorPos(ctx context.Context) (vterm.Cursor, error) {
	res, err := p.submit(ctx, &query{kind: qCursor})
	if err != nil {
		return vterm.Cursor{}, err
	}
	return res.cursor, nil
}

// Resize changes the emulator geometry and emits Reset{resize}.
func (p *Parser) Resize(ctx context.Context, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apierr.InvalidRequestf("invalid size %dx%d", cols, rows)
	}
	_, err := p.submit(ctx, &query{kind: qResize, cols: cols, rows: rows})
	return err
}

func (p *Parser) submit(ctx context.Context, q *query) (queryResult, error) {
	if !p.available.Load() {
		return queryResult{}, apierr.ParserUnavailable()
	}
	q.reply = make(chan queryResult, 1)
	select {
	case p.queries <- q:
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	case <-p.done:
		return queryResult{}, apierr.ParserUnavailable()
	}
	select {
	case res := <-q.reply:
		return res, nil
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	case <-p.done:
		return queryResult{}, apierr.ParserUnavailable()
	}
}

func (p *Parser) publish(ev Event) {
	ev.Seq = p.seq.Add(1)
	p.subsMu.Lock()
	for sub := range p.subs {
		select {
		case sub.C <- ev:
		default:
			sub.lagged.Store(true)
		}
	}
	p.subsMu.Unlock()
}

func (p *Parser) closeSubs() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for sub := range p.subs {
		delete(p.subs, sub)
		close(sub.C)
	}
}

func (p *Parser) supervise() {
	defer func() {
		p.closeSubs()
		close(p.stopped)
	}()

	restarted := false
	for {
		crashed := p.run(restarted)
		p.available.Store(false)
		if !crashed {
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
		restarted = true
		// Brief pause so a deterministic crash cannot spin the CPU.
		time.Sleep(50 * time.Millisecond)
	}
}

// run is one actor incarnation. It returns true if it exited by panic.
func (p *Parser) run(restarted bool) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("terminal parser crashed", "panic", r)
			crashed = true
		}
	}()

	p.geoMu.Lock()
	cols, rows := p.cols, p.rows
	p.geoMu.Unlock()

	term := vterm.New(cols, rows, p.scrollback)
	if p.det.Active() {
		// The byte stream is inside an alternate-screen region; put the
		// fresh emulator there too so a later exit restores cleanly.
		term.Write([]byte("\x1b[?1049h"))
		term.TakeDamage()
	}
	p.available.Store(true)
	if restarted {
		p.publish(Event{Kind: EventReset, Reason: ResetParserRestart})
	}

	for {
		select {
		case <-p.done:
			return false
		case <-p.feedSig:
			p.feedMu.Lock()
			chunks := p.feedBuf
			p.feedBuf = nil
			p.feedMu.Unlock()
			for _, chunk := range chunks {
				p.process(term, chunk)
			}
		case q := <-p.queries:
			p.handleQuery(term, q)
		}
	}
}

// process applies one chunk: scan for alternate-screen transitions, feed the
// emulator, then publish mode/reset, line, and cursor events in that order.
func (p *Parser) process(term *vterm.Terminal, chunk []byte) {
	prevAlt := p.det.Active()
	newAlt := p.det.Scan(chunk)

	prevCursor := term.Cursor()
	term.Write(chunk)
	damage := term.TakeDamage()

	if newAlt != prevAlt {
		p.publish(Event{Kind: EventMode, AltActive: newAlt})
		reason := ResetAltExit
		if newAlt {
			reason = ResetAltEnter
		}
		p.publish(Event{Kind: EventReset, Reason: reason})
	}

	total := term.TotalLines()
	for _, idx := range damage {
		spans, ok := term.StyledLine(idx)
		if !ok {
			continue
		}
		p.publish(Event{Kind: EventLine, Index: idx, TotalLines: total, Spans: spans})
	}

	cursor := term.Cursor()
	if cursor != prevCursor {
		p.publish(Event{Kind: EventCursor, Cursor: cursor})
	}
}

func (p *Parser) handleQuery(term *vterm.Terminal, q *query) {
	var res queryResult
	if q.fn != nil {
		q.fn()
		if q.reply != nil {
			q.reply <- res
		}
		return
	}
	switch q.kind {
	case qSnapshot:
		res.snap = p.buildSnapshot(term, q.format)
	case qScrollback:
		res.chunk = p.buildScrollback(term, q.format, q.offset, q.limit)
	case qCursor:
		res.cursor = term.Cursor()
	case qResize:
		term.Resize(q.cols, q.rows)
		p.geoMu.Lock()
		p.cols, p.rows = q.cols, q.rows
		p.geoMu.Unlock()
		term.TakeDamage()
		p.publish(Event{Kind: EventReset, Reason: ResetResize})
	}
	q.reply <- res
}

func (p *Parser) buildSnapshot(term *vterm.Terminal, format Format) *Snapshot {
	cols, rows := term.Size()
	first := term.FirstVisible()
	return &Snapshot{
		Epoch:          term.Epoch(),
		FirstLineIndex: first,
		TotalLines:     term.TotalLines(),
		Lines:          renderRange(term, format, first, rows),
		Cursor:         term.Cursor(),
		Cols:           cols,
		Rows:           rows,
		AltActive:      term.AltActive(),
	}
}

func (p *Parser) buildScrollback(term *vterm.Terminal, format Format, offset, limit int) *ScrollbackChunk {
	total := term.TotalLines()
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if limit < 0 {
		limit = 0
	}
	n := total - offset
	if limit < n {
		n = limit
	}
	return &ScrollbackChunk{
		Offset:     offset,
		TotalLines: total,
		Lines:      renderRange(term, format, offset, n),
	}
}

func renderRange(term *vterm.Terminal, format Format, from, count int) any {
	if format == FormatStyled {
		lines := make([][]vterm.Span, 0, count)
		for i := from; i < from+count; i++ {
			spans, ok := term.StyledLine(i)
			if !ok {
				break
			}
			lines = append(lines, spans)
		}
		return lines
	}
	lines := make([]string, 0, count)
	for i := from; i < from+count; i++ {
		text, ok := term.PlainLine(i)
		if !ok {
			break
		}
		lines = append(lines, text)
	}
	return lines
}
