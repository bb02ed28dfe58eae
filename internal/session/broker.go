package session

import (
	"sync"
	"sync/atomic"
)

// Broker fans out byte chunks to subscribers. Channel subscribers are lossy:
// a full buffer drops the chunk and marks the subscription lagged, so slow
// readers never stall the PTY reader. Feeds are synchronous callbacks with
// guaranteed delivery; the session registers the parser there because the
// parser's own queue is unbounded and its Feed never blocks.
type Broker struct {
	mu     sync.Mutex
	subs   map[*OutputSub]struct{}
	feeds  []func([]byte)
	closed bool
}

// OutputSub is one lossy subscription to a Broker.
type OutputSub struct {
	C      chan []byte
	lagged atomic.Bool
}

// TakeLagged reports and clears the drop flag. A lagged subscriber should
// resynchronize from a snapshot.
func (s *OutputSub) TakeLagged() bool {
	return s.lagged.Swap(false)
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*OutputSub]struct{})}
}

// AttachFeed registers a guaranteed-delivery callback. fn must not block.
func (b *Broker) AttachFeed(fn func([]byte)) {
	b.mu.Lock()
	b.feeds = append(b.feeds, fn)
	b.mu.Unlock()
}

// Subscribe registers a lossy channel subscriber with the given buffer.
func (b *Broker) Subscribe(buffer int) *OutputSub {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &OutputSub{C: make(chan []byte, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub *OutputSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.C)
	}
}

// Publish delivers chunk to every feed and subscriber. The chunk must not be
// mutated afterwards; the PTY reader hands over a fresh copy per read.
func (b *Broker) Publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, fn := range b.feeds {
		fn(chunk)
	}
	for sub := range b.subs {
		select {
		case sub.C <- chunk:
		default:
			sub.lagged.Store(true)
		}
	}
}

// Close closes every subscription channel and rejects future publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.C)
	}
	b.feeds = nil
}
