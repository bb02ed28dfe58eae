package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/parser"
	"github.com/perchlabs/perch/internal/session"
	"github.com/perchlabs/perch/internal/vterm"
)

const (
	wsReadLimit    = 512 * 1024
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second

	// defaultActivityQuiet decides idle/running transitions for activity
	// events when the subscriber sets no quiesce_ms.
	defaultActivityQuiet = 500 * time.Millisecond
	// defaultDiffInterval coalesces line damage into diff frames.
	defaultDiffInterval = 100 * time.Millisecond
)

// wsCall is one client method invocation.
type wsCall struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wsReply answers a call. Exactly one of Result and Error is set.
type wsReply struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Result any             `json:"result,omitempty"`
	Error  *errBody        `json:"error,omitempty"`
}

// Event frames. Responses carry "method", events carry "event"; clients
// demultiplex on that.

type syncEvent struct {
	Event  string           `json:"event"`
	Seq    uint64           `json:"seq"`
	Screen *parser.Snapshot `json:"screen"`
}

type lineEvent struct {
	Event      string       `json:"event"`
	Seq        uint64       `json:"seq"`
	Index      int          `json:"index"`
	TotalLines int          `json:"total_lines"`
	Spans      []vterm.Span `json:"spans,omitempty"`
	Text       *string      `json:"text,omitempty"`
}

type diffEvent struct {
	Event string      `json:"event"`
	Seq   uint64      `json:"seq"`
	Lines []lineEvent `json:"lines"`
}

type cursorEvent struct {
	Event  string       `json:"event"`
	Seq    uint64       `json:"seq"`
	Cursor vterm.Cursor `json:"cursor"`
}

type modeEvent struct {
	Event     string `json:"event"`
	Seq       uint64 `json:"seq"`
	AltActive bool   `json:"alternate_active"`
}

type resetEvent struct {
	Event  string             `json:"event"`
	Seq    uint64             `json:"seq"`
	Reason parser.ResetReason `json:"reason"`
}

type activityEvent struct {
	Event string `json:"event"`
	State string `json:"state"`
}

type inputEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// wsClient is one JSON-protocol connection to a session.
type wsClient struct {
	conn *websocket.Conn
	sess *session.Session
	id   string

	writeMu sync.Mutex

	mu            sync.Mutex
	capturedOwner string
	subscribed    bool
}

// subscription is the parsed subscribe request.
type subscription struct {
	events   map[string]bool
	format   parser.Format
	interval time.Duration
	quiesce  time.Duration
}

func (s *State) handleWSJSON(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookup(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was already checked by the middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("ws accept failed", "session", sess.Name(), "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{conn: conn, sess: sess, id: uuid.NewString()}
	sess.AddClient()
	defer sess.RemoveClient()
	defer c.releaseCapture()

	// Detach and teardown kick the client off; the session itself survives
	// a detach.
	go func() {
		select {
		case <-ctx.Done():
		case <-sess.Detach():
			conn.Close(websocket.StatusGoingAway, "detached")
		case <-sess.Context().Done():
			conn.Close(websocket.StatusGoingAway, "session closed")
		}
	}()
	go c.pingLoop(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var call wsCall
		if err := json.Unmarshal(data, &call); err != nil {
			c.replyErr(ctx, wsCall{}, apierr.InvalidRequestf("invalid JSON: %v", err))
			continue
		}
		c.dispatch(ctx, call)
	}
}

// releaseCapture returns input to passthrough if this connection still holds
// the capture lock.
func (c *wsClient) releaseCapture() {
	c.mu.Lock()
	owner := c.capturedOwner
	c.capturedOwner = ""
	c.mu.Unlock()
	if owner != "" {
		c.sess.Mode.ReleaseIfOwner(owner)
	}
}

func (c *wsClient) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

func (c *wsClient) reply(ctx context.Context, call wsCall, result any) {
	c.send(ctx, wsReply{ID: call.ID, Method: call.Method, Result: result})
}

func (c *wsClient) replyErr(ctx context.Context, call wsCall, err error) {
	e := apierr.From(err)
	c.send(ctx, wsReply{
		ID:     call.ID,
		Method: call.Method,
		Error:  &errBody{Code: e.Code(), Message: e.Message},
	})
}

func (c *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				c.conn.CloseNow()
				return
			}
		}
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierr.InvalidRequestf("invalid params: %v", err)
	}
	return nil
}

type screenParams struct {
	Format string `json:"format"`
}

type scrollbackParams struct {
	Format string `json:"format"`
	Offset int    `json:"offset"`
	Limit  *int   `json:"limit"`
}

type sendInputParams struct {
	Data   string `json:"data"`
	Base64 bool   `json:"base64"`
}

type ownerParams struct {
	Owner string `json:"owner"`
}

type subscribeParams struct {
	Events     []string `json:"events"`
	IntervalMS int      `json:"interval_ms"`
	QuiesceMS  int      `json:"quiesce_ms"`
	Format     string   `json:"format"`
}

type quiesceParams struct {
	TimeoutMS int    `json:"timeout_ms"`
	MaxWaitMS int    `json:"max_wait_ms"`
	Format    string `json:"format"`
}

type focusParams struct {
	ID string `json:"id"`
}

func (c *wsClient) dispatch(ctx context.Context, call wsCall) {
	switch call.Method {
	case "get_screen":
		c.getScreen(ctx, call)
	case "get_scrollback":
		c.getScrollback(ctx, call)
	case "get_input_mode":
		c.reply(ctx, call, inputModeBody(c.sess))
	case "send_input":
		c.sendInput(ctx, call)
	case "capture_input":
		c.captureInput(ctx, call)
	case "release_input":
		c.releaseInput(ctx, call)
	case "set_focus":
		c.setFocus(ctx, call)
	case "clear_focus":
		c.sess.Focus.Clear()
		c.reply(ctx, call, nil)
	case "subscribe":
		c.subscribe(ctx, call)
	case "await_quiesce":
		// Blocks for up to max_wait_ms; run it off the read loop so other
		// calls keep flowing.
		go c.awaitQuiesce(ctx, call)
	default:
		c.replyErr(ctx, call, apierr.InvalidRequestf("unknown method %q", call.Method))
	}
}

func (c *wsClient) getScreen(ctx context.Context, call wsCall) {
	var p screenParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	format, err := parser.ParseFormat(p.Format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	snap, err := c.sess.Parser().Snapshot(ctx, format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.reply(ctx, call, snap)
}

func (c *wsClient) getScrollback(ctx context.Context, call wsCall) {
	var p scrollbackParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	format, err := parser.ParseFormat(p.Format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	limit := 1 << 30
	if p.Limit != nil {
		limit = *p.Limit
	}
	chunk, err := c.sess.Parser().Scrollback(ctx, format, p.Offset, limit)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.reply(ctx, call, chunk)
}

func (c *wsClient) sendInput(ctx context.Context, call wsCall) {
	var p sendInputParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	data := []byte(p.Data)
	if p.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			c.replyErr(ctx, call, apierr.InvalidRequestf("invalid base64 data: %v", err))
			return
		}
		data = decoded
	}
	if err := c.sess.SendInput(data); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.reply(ctx, call, nil)
}

func (c *wsClient) captureInput(ctx context.Context, call wsCall) {
	var p ownerParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	owner := p.Owner
	if owner == "" {
		owner = c.id
	}
	if err := c.sess.Mode.Capture(owner); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.mu.Lock()
	c.capturedOwner = owner
	c.mu.Unlock()
	c.reply(ctx, call, inputModeBody(c.sess))
}

func (c *wsClient) releaseInput(ctx context.Context, call wsCall) {
	var p ownerParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	owner := p.Owner
	if owner == "" {
		c.mu.Lock()
		owner = c.capturedOwner
		c.mu.Unlock()
	}
	if owner == "" {
		owner = c.id
	}
	if err := c.sess.Mode.Release(owner); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.mu.Lock()
	if c.capturedOwner == owner {
		c.capturedOwner = ""
	}
	c.mu.Unlock()
	c.reply(ctx, call, inputModeBody(c.sess))
}

func (c *wsClient) setFocus(ctx context.Context, call wsCall) {
	var p focusParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	if err := applyFocus(c.sess, p.ID); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.reply(ctx, call, map[string]string{"id": p.ID})
}

func (c *wsClient) awaitQuiesce(ctx context.Context, call wsCall) {
	var p quiesceParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	if p.TimeoutMS == 0 {
		p.TimeoutMS = 2000
	}
	if p.MaxWaitMS == 0 {
		p.MaxWaitMS = 30000
	}
	if p.TimeoutMS < 0 || p.MaxWaitMS < 0 {
		c.replyErr(ctx, call, apierr.InvalidRequest("timeout_ms and max_wait_ms must be positive"))
		return
	}
	format, err := parser.ParseFormat(p.Format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, time.Duration(p.MaxWaitMS)*time.Millisecond)
	defer cancel()
	if _, err := c.sess.Activity.WaitFreshIdle(wctx, time.Duration(p.TimeoutMS)*time.Millisecond); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.replyErr(ctx, call, apierr.QuiesceTimeout())
			return
		}
		c.replyErr(ctx, call, err)
		return
	}
	snap, err := c.sess.Parser().Snapshot(ctx, format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	c.reply(ctx, call, map[string]any{
		"screen":           snap,
		"scrollback_lines": snap.FirstLineIndex,
	})
}

// parseEventNames normalizes the requested event set; singular and plural
// spellings are both accepted. Reset frames are always delivered.
func parseEventNames(names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return map[string]bool{"lines": true, "cursor": true, "mode": true}, nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		switch n {
		case "lines", "line":
			set["lines"] = true
		case "diffs", "diff":
			set["diffs"] = true
		case "cursor":
			set["cursor"] = true
		case "mode":
			set["mode"] = true
		case "activity":
			set["activity"] = true
		case "input":
			set["input"] = true
		default:
			return nil, apierr.InvalidRequestf("unknown event %q", n)
		}
	}
	return set, nil
}

func (c *wsClient) subscribe(ctx context.Context, call wsCall) {
	var p subscribeParams
	if err := unmarshalParams(call.Params, &p); err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	events, err := parseEventNames(p.Events)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}
	format, err := parser.ParseFormat(p.Format)
	if err != nil {
		c.replyErr(ctx, call, err)
		return
	}

	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		c.replyErr(ctx, call, apierr.InvalidRequest("already subscribed"))
		return
	}
	c.subscribed = true
	c.mu.Unlock()

	sub := subscription{
		events:   events,
		format:   format,
		interval: time.Duration(p.IntervalMS) * time.Millisecond,
		quiesce:  time.Duration(p.QuiesceMS) * time.Millisecond,
	}
	if sub.interval <= 0 {
		sub.interval = defaultDiffInterval
	}

	names := make([]string, 0, len(events))
	for n := range events {
		names = append(names, n)
	}
	// Ack before the stream starts so the response precedes the sync frame.
	c.reply(ctx, call, map[string]any{"events": names})

	go c.runStream(ctx, sub)
	if events["activity"] || sub.quiesce > 0 {
		go c.runActivity(ctx, sub)
	}
	if events["input"] {
		go c.runInput(ctx)
	}
}

// sendSync queries a snapshot and emits the authoritative sync frame.
func (c *wsClient) sendSync(ctx context.Context, format parser.Format) error {
	snap, err := c.sess.Parser().Snapshot(ctx, format)
	if err != nil {
		return err
	}
	return c.send(ctx, syncEvent{Event: "sync", Seq: c.sess.Parser().Seq(), Screen: snap})
}

func plainText(spans []vterm.Span) string {
	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(sp.Text)
	}
	return b.String()
}

func (c *wsClient) lineFrame(ev parser.Event, format parser.Format) lineEvent {
	frame := lineEvent{
		Event:      "line",
		Seq:        ev.Seq,
		Index:      ev.Index,
		TotalLines: ev.TotalLines,
	}
	if format == parser.FormatStyled {
		frame.Spans = ev.Spans
	} else {
		text := plainText(ev.Spans)
		frame.Text = &text
	}
	return frame
}

// runStream forwards parser events through the subscription filter. Lag on
// the parser bus triggers a fresh sync instead of replaying dropped events.
func (c *wsClient) runStream(ctx context.Context, sub subscription) {
	psub := c.sess.Parser().Subscribe(512)
	defer c.sess.Parser().Unsubscribe(psub)

	if err := c.sendSync(ctx, sub.format); err != nil {
		c.conn.Close(websocket.StatusInternalError, "sync failed")
		return
	}

	var pending map[int]parser.Event
	var flushTimer *time.Timer
	var flush <-chan time.Time
	defer func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-psub.C:
			if !ok {
				return
			}
			if psub.TakeLagged() {
				pending = nil
				if err := c.sendSync(ctx, sub.format); err != nil {
					return
				}
				continue
			}
			switch ev.Kind {
			case parser.EventLine:
				if sub.events["diffs"] {
					if pending == nil {
						pending = make(map[int]parser.Event)
					}
					pending[ev.Index] = ev
					if flushTimer == nil {
						flushTimer = time.NewTimer(sub.interval)
						flush = flushTimer.C
					}
				} else if sub.events["lines"] {
					if err := c.send(ctx, c.lineFrame(ev, sub.format)); err != nil {
						return
					}
				}
			case parser.EventCursor:
				if sub.events["cursor"] {
					if err := c.send(ctx, cursorEvent{Event: "cursor", Seq: ev.Seq, Cursor: ev.Cursor}); err != nil {
						return
					}
				}
			case parser.EventMode:
				if sub.events["mode"] {
					if err := c.send(ctx, modeEvent{Event: "mode", Seq: ev.Seq, AltActive: ev.AltActive}); err != nil {
						return
					}
				}
			case parser.EventReset:
				if err := c.send(ctx, resetEvent{Event: "reset", Seq: ev.Seq, Reason: ev.Reason}); err != nil {
					return
				}
			}
		case <-flush:
			flushTimer = nil
			flush = nil
			evs := pending
			pending = nil
			if len(evs) == 0 {
				continue
			}
			frame := diffEvent{Event: "diff", Lines: make([]lineEvent, 0, len(evs))}
			for _, ev := range evs {
				if ev.Seq > frame.Seq {
					frame.Seq = ev.Seq
				}
				line := c.lineFrame(ev, sub.format)
				line.Event = ""
				frame.Lines = append(frame.Lines, line)
			}
			if err := c.send(ctx, frame); err != nil {
				return
			}
		}
	}
}

// runActivity emits idle/running transitions and, when quiesce_ms is set, a
// fresh sync after every quiet period.
func (c *wsClient) runActivity(ctx context.Context, sub subscription) {
	quiet := sub.quiesce
	if quiet <= 0 {
		quiet = defaultActivityQuiet
	}
	tracker := c.sess.Activity
	for {
		// A closed tracker reports idle immediately; the session context is
		// cancelled first, so this is the teardown exit.
		if ctx.Err() != nil || c.sess.Context().Err() != nil {
			return
		}
		gen, err := tracker.WaitIdle(ctx, quiet)
		if err != nil {
			return
		}
		if sub.events["activity"] {
			if err := c.send(ctx, activityEvent{Event: "activity", State: "idle"}); err != nil {
				return
			}
		}
		if sub.quiesce > 0 {
			if err := c.sendSync(ctx, sub.format); err != nil {
				return
			}
		}
		if _, err := tracker.WaitActive(ctx, gen); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if sub.events["activity"] {
			if err := c.send(ctx, activityEvent{Event: "activity", State: "running"}); err != nil {
				return
			}
		}
	}
}

// runInput mirrors the input broadcast stream (all input in passthrough,
// plus captured input that never reaches the PTY).
func (c *wsClient) runInput(ctx context.Context) {
	sub := c.sess.SubscribeInput(64)
	defer c.sess.UnsubscribeInput(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sub.C:
			if !ok {
				return
			}
			frame := inputEvent{Event: "input", Data: base64.StdEncoding.EncodeToString(data)}
			if err := c.send(ctx, frame); err != nil {
				return
			}
		}
	}
}
