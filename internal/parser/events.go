package parser

import (
	"sync/atomic"

	"github.com/perchlabs/perch/internal/vterm"
)

// EventKind discriminates parser bus events.
type EventKind string

const (
	EventLine   EventKind = "line"
	EventCursor EventKind = "cursor"
	EventMode   EventKind = "mode"
	EventReset  EventKind = "reset"
)

// ResetReason says why subscribers must resynchronize.
type ResetReason string

const (
	ResetResize        ResetReason = "resize"
	ResetAltEnter      ResetReason = "alternate_screen_enter"
	ResetAltExit       ResetReason = "alternate_screen_exit"
	ResetParserRestart ResetReason = "parser_restart"
)

// Event is one parser bus message. Kind selects which fields are meaningful.
// Seq is monotonic across the life of the Parser, including actor restarts.
type Event struct {
	Kind EventKind
	Seq  uint64

	// line
	Index      int
	TotalLines int
	Spans      []vterm.Span

	// cursor
	Cursor vterm.Cursor

	// mode
	AltActive bool

	// reset
	Reason ResetReason
}

// Subscription receives parser events. Delivery is lossy: when the buffer
// is full the event is dropped and the subscription is marked lagged, so
// the consumer knows to request a fresh snapshot.
type Subscription struct {
	C      chan Event
	lagged atomic.Bool
}

// TakeLagged reports and clears the lag flag.
func (s *Subscription) TakeLagged() bool {
	return s.lagged.Swap(false)
}
