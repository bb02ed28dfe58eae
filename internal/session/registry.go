package session

import (
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/logger"
)

// nameRE bounds session names to a filesystem- and URL-safe alphabet.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// ValidName reports whether name is a legal session name.
func ValidName(name string) bool { return nameRE.MatchString(name) }

// EventKind tags registry lifecycle events.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventDestroyed EventKind = "destroyed"
	EventExited    EventKind = "exited"
)

// Event is a registry lifecycle notification.
type Event struct {
	Kind     EventKind
	Name     string
	ExitCode int
}

// RegistrySub receives lifecycle events. Delivery is lossy: a full channel
// drops the event rather than stalling the registry.
type RegistrySub struct {
	C chan Event
}

// Registry is the authoritative name->session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	subs     map[*RegistrySub]struct{}
}

// NewRegistry creates a registry capped at max sessions (0 means unlimited).
func NewRegistry(max int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		subs:     make(map[*RegistrySub]struct{}),
	}
}

// Create spawns a session and inserts it under name, or under the lowest
// unused integer name when name is empty.
func (r *Registry) Create(opts Options, name string) (*Session, error) {
	r.mu.Lock()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return nil, apierr.MaxSessionsReached(r.max)
	}
	if name == "" {
		name = r.autoName()
	} else {
		if !ValidName(name) {
			r.mu.Unlock()
			return nil, apierr.InvalidRequestf("invalid session name %q", name)
		}
		if _, exists := r.sessions[name]; exists {
			r.mu.Unlock()
			return nil, apierr.SessionNameConflict(name)
		}
	}

	s, err := New(opts)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	s.setName(name)
	r.sessions[name] = s
	r.mu.Unlock()

	go r.watchExit(s)

	logger.Info("session created", "session", name, "pid", s.PID(), "command", s.Command())
	r.publish(Event{Kind: EventCreated, Name: name})
	return s, nil
}

// autoName returns the lowest non-negative integer not in use. Caller holds mu.
func (r *Registry) autoName() string {
	for i := 0; ; i++ {
		name := strconv.Itoa(i)
		if _, exists := r.sessions[name]; !exists {
			return name
		}
	}
}

// watchExit emits the exited event when the session's child terminates.
func (r *Registry) watchExit(s *Session) {
	select {
	case <-s.Context().Done():
		return
	case <-s.Exited():
	}
	name := s.Name()
	code := s.ExitCode()
	logger.Info("session child exited", "session", name, "code", code)
	r.publish(Event{Kind: EventExited, Name: name, ExitCode: code})
}

// Get looks up a session by name.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apierr.SessionNotFound(name)
	}
	return s, nil
}

// Remove destroys a session: detach signal, child termination, teardown.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	if !ok {
		return apierr.SessionNotFound(name)
	}

	s.SignalDetach()
	s.Close()
	logger.Info("session destroyed", "session", name)
	r.publish(Event{Kind: EventDestroyed, Name: name})
	return nil
}

// Rename moves a session to a new name.
func (r *Registry) Rename(oldName, newName string) error {
	if !ValidName(newName) {
		return apierr.InvalidRequestf("invalid session name %q", newName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[oldName]
	if !ok {
		return apierr.SessionNotFound(oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := r.sessions[newName]; exists {
		return apierr.SessionNameConflict(newName)
	}
	delete(r.sessions, oldName)
	r.sessions[newName] = s
	s.setName(newName)
	return nil
}

// List returns all sessions ordered by name, integer names numerically.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return nameLess(out[i].Name(), out[j].Name())
	})
	return out
}

// nameLess orders integer names numerically so auto-named sessions list as
// 0, 1, 2, ... 10 rather than lexicographically.
func nameLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	if aerr == nil {
		return true
	}
	if berr == nil {
		return false
	}
	return a < b
}

// Len returns the live session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Subscribe taps registry lifecycle events.
func (r *Registry) Subscribe(buffer int) *RegistrySub {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &RegistrySub{C: make(chan Event, buffer)}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub
}

// Unsubscribe releases an event tap.
func (r *Registry) Unsubscribe(sub *RegistrySub) {
	r.mu.Lock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.C)
	}
	r.mu.Unlock()
}

func (r *Registry) publish(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Drain destroys every session during shutdown: detach signals first so
// attached clients exit cleanly, then child termination.
func (r *Registry) Drain() {
	r.mu.Lock()
	sessions := make(map[string]*Session, len(r.sessions))
	for name, s := range r.sessions {
		sessions[name] = s
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for name, s := range sessions {
		s.SignalDetach()
		s.Close()
		logger.Info("session destroyed", "session", name)
		r.publish(Event{Kind: EventDestroyed, Name: name})
	}
}
