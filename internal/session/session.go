// Package session owns one PTY per session: the child process, the output
// broker feeding the parser and lossy subscribers, the bounded input channel,
// capture-mode locking, overlay and panel stores, and the activity clock.
// The registry maps names to sessions and is the only long-lived owner;
// transports look sessions up per request.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perchlabs/perch/internal/activity"
	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/overlay"
	"github.com/perchlabs/perch/internal/parser"
)

// inputBacklog bounds the input channel; senders surface channel_full rather
// than block when the PTY writer falls behind.
const inputBacklog = 256

// Options configures a new session.
type Options struct {
	Command    string
	Args       []string
	CWD        string
	Env        map[string]string
	Rows       int
	Cols       int
	Scrollback int
	Tags       []string
}

// Session aggregates everything belonging to one PTY.
type Session struct {
	mu   sync.RWMutex
	name string
	tags []string
	// rows and cols are the full terminal geometry; panels carve the PTY
	// viewport out of it.
	rows, cols int
	altScreen  bool

	pty      *PTY
	parser   *parser.Parser
	broker   *Broker
	inputBus *Broker
	input    chan []byte

	Mode     *InputMode
	Activity *activity.Tracker
	Overlays *overlay.Store
	Panels   *overlay.PanelStore
	Focus    *FocusTracker

	clients     atomic.Int64
	childExited atomic.Bool

	detachOnce sync.Once
	detach     chan struct{}

	createdAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New spawns the PTY and starts the session's pump goroutines.
func New(opts Options) (*Session, error) {
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	p, err := StartPTY(PTYOptions{
		Command: opts.Command,
		Args:    opts.Args,
		CWD:     opts.CWD,
		Env:     opts.Env,
		Rows:    rows,
		Cols:    cols,
	})
	if err != nil {
		return nil, apierr.SessionCreateFailed(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tags:      append([]string(nil), opts.Tags...),
		rows:      rows,
		cols:      cols,
		pty:       p,
		parser:    parser.New(cols, rows, opts.Scrollback),
		broker:    NewBroker(),
		inputBus:  NewBroker(),
		input:     make(chan []byte, inputBacklog),
		Mode:      NewInputMode(),
		Activity:  activity.NewTracker(),
		Overlays:  overlay.NewStore(),
		Panels:    overlay.NewPanelStore(),
		Focus:     NewFocusTracker(),
		detach:    make(chan struct{}),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	// The parser rides the broker as a guaranteed-delivery feed; channel
	// subscribers may drop chunks, the parser never does.
	s.broker.AttachFeed(s.parser.Feed)

	go s.readLoop()
	go s.writeLoop()
	go s.watchExit()
	go s.watchModeEvents()

	return s, nil
}

// readLoop is the blocking PTY reader thread: every chunk touches the
// activity clock and is published to the broker (and through it the parser).
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.Activity.Touch()
			s.broker.Publish(chunk)
		}
		if err != nil {
			if !IsExitRead(err) && s.ctx.Err() == nil {
				logger.Debug("pty read ended", "session", s.Name(), "error", err)
			}
			return
		}
	}
}

// writeLoop is the blocking PTY writer thread draining the input channel.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.input:
			if _, err := s.pty.Write(data); err != nil {
				logger.Debug("pty write failed", "session", s.Name(), "error", err)
				return
			}
		}
	}
}

func (s *Session) watchExit() {
	select {
	case <-s.ctx.Done():
	case <-s.pty.Done():
		s.childExited.Store(true)
	}
}

// watchModeEvents mirrors VT-driven alternate-screen transitions into the
// compositor scoping, so escape sequences and the REST endpoints converge on
// the same state.
func (s *Session) watchModeEvents() {
	sub := s.parser.Subscribe(64)
	defer s.parser.Unsubscribe(sub)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Kind == parser.EventMode {
				s.applyScreenMode(ev.AltActive)
			}
		}
	}
}

// Name returns the registry name. Empty until the session is inserted.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Tags returns a copy of the session's tags.
func (s *Session) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tags...)
}

// SetTags replaces the tag set.
func (s *Session) SetTags(tags []string) {
	s.mu.Lock()
	s.tags = append([]string(nil), tags...)
	s.mu.Unlock()
}

// Size returns the full terminal geometry.
func (s *Session) Size() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

// PID returns the child process id.
func (s *Session) PID() int { return s.pty.PID() }

// Command returns the spawned command line.
func (s *Session) Command() string { return s.pty.Command() }

// CreatedAt returns the spawn time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Parser exposes the session's parser actor.
func (s *Session) Parser() *parser.Parser { return s.parser }

// Context is cancelled when the session is removed or drained.
func (s *Session) Context() context.Context { return s.ctx }

// ChildExited reports whether the PTY child has exited.
func (s *Session) ChildExited() bool { return s.childExited.Load() }

// Exited is closed when the child exits.
func (s *Session) Exited() <-chan struct{} { return s.pty.Done() }

// ExitCode is valid once Exited is closed.
func (s *Session) ExitCode() int { return s.pty.ExitCode() }

// AddClient counts an attached consumer (WebSocket or unix attach).
func (s *Session) AddClient() { s.clients.Add(1) }

// RemoveClient drops the consumer count.
func (s *Session) RemoveClient() { s.clients.Add(-1) }

// Clients returns the number of attached consumers.
func (s *Session) Clients() int { return int(s.clients.Load()) }

// SendInput routes input: the activity clock and input subscribers always
// see it; the PTY only in passthrough mode. A full input channel surfaces
// channel_full so the transport can return 503 instead of blocking.
func (s *Session) SendInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s.ctx.Err() != nil {
		return apierr.SessionNotFound(s.Name())
	}
	s.Activity.Touch()

	chunk := make([]byte, len(data))
	copy(chunk, data)
	s.inputBus.Publish(chunk)

	if s.Mode.IsCapture() {
		return nil
	}
	select {
	case s.input <- chunk:
		return nil
	default:
		return apierr.ChannelFull()
	}
}

// SubscribeOutput taps the raw PTY output stream (lossy).
func (s *Session) SubscribeOutput(buffer int) *OutputSub {
	return s.broker.Subscribe(buffer)
}

// UnsubscribeOutput releases an output tap.
func (s *Session) UnsubscribeOutput(sub *OutputSub) {
	s.broker.Unsubscribe(sub)
}

// SubscribeInput taps the input broadcast stream (lossy).
func (s *Session) SubscribeInput(buffer int) *OutputSub {
	return s.inputBus.Subscribe(buffer)
}

// UnsubscribeInput releases an input tap.
func (s *Session) UnsubscribeInput(sub *OutputSub) {
	s.inputBus.Unsubscribe(sub)
}

// Resize sets the full terminal geometry and reapplies the panel layout to
// the PTY viewport.
func (s *Session) Resize(ctx context.Context, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return apierr.InvalidRequestf("invalid size %dx%d", cols, rows)
	}
	s.mu.Lock()
	s.rows = rows
	s.cols = cols
	s.mu.Unlock()
	return s.RefreshViewport(ctx)
}

// Layout computes the current panel layout against the full geometry.
func (s *Session) Layout() overlay.LayoutResult {
	rows, cols := s.Size()
	return overlay.ComputeLayout(s.Panels.List(s.ScreenMode()), rows, cols)
}

// RefreshViewport recomputes the panel layout and resizes the PTY viewport
// and the emulator to the carved region. Called after panel mutations,
// screen-mode changes, and terminal resizes.
func (s *Session) RefreshViewport(ctx context.Context) error {
	layout := s.Layout()
	if err := s.pty.Resize(layout.PtyRows, layout.PtyCols); err != nil {
		return apierr.Internal(err)
	}
	// The emulator cannot model a zero-row grid; when panels consume every
	// row it keeps one line and the compositor hides it.
	rows := layout.PtyRows
	if rows < 1 {
		rows = 1
	}
	return s.parser.Resize(ctx, layout.PtyCols, rows)
}

// ScreenMode returns the compositor scope, "normal" or "alt".
func (s *Session) ScreenMode() overlay.ScreenMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.altScreen {
		return overlay.ScreenAlt
	}
	return overlay.ScreenNormal
}

// EnterAltScreen scopes the compositor to the alternate screen. Conflicts
// with the current mode return 409.
func (s *Session) EnterAltScreen() error {
	s.mu.Lock()
	if s.altScreen {
		s.mu.Unlock()
		return apierr.AlreadyInAltScreen()
	}
	s.altScreen = true
	s.mu.Unlock()
	return nil
}

// ExitAltScreen leaves the alternate screen, destroying alt-scoped overlays
// and panels.
func (s *Session) ExitAltScreen() error {
	s.mu.Lock()
	if !s.altScreen {
		s.mu.Unlock()
		return apierr.NotInAltScreen()
	}
	s.altScreen = false
	s.mu.Unlock()
	s.destroyAltElements()
	return nil
}

// applyScreenMode is the idempotent VT-driven transition shared with the
// parser's mode events.
func (s *Session) applyScreenMode(alt bool) {
	s.mu.Lock()
	if s.altScreen == alt {
		s.mu.Unlock()
		return
	}
	s.altScreen = alt
	s.mu.Unlock()
	if !alt {
		s.destroyAltElements()
	}
}

// destroyAltElements removes alt-scoped overlays and panels and clears focus
// if a destroyed element held it. Normal-mode elements survive alt excursions
// hidden; alt-mode elements do not survive the exit.
func (s *Session) destroyAltElements() {
	for _, id := range s.Overlays.DestroyMode(overlay.ScreenAlt) {
		s.Focus.ClearIf(id)
	}
	for _, id := range s.Panels.DestroyMode(overlay.ScreenAlt) {
		s.Focus.ClearIf(id)
	}
}

// SignalDetach tells every attached transport to let go; the session itself
// stays alive. Safe to call more than once.
func (s *Session) SignalDetach() {
	s.detachOnce.Do(func() { close(s.detach) })
}

// Detach is closed when the session broadcasts a detach signal.
func (s *Session) Detach() <-chan struct{} { return s.detach }

// Close cancels the session context, terminates the child, and tears down
// the parser, brokers, and activity waiters. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pty.Close()
		s.parser.Close()
		s.broker.Close()
		s.inputBus.Close()
		s.Activity.Close()
	})
}
