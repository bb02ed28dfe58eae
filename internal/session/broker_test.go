package session

import (
	"testing"
	"time"
)

func TestBroker_FeedAlwaysReceives(t *testing.T) {
	b := NewBroker()
	var got [][]byte
	b.AttachFeed(func(chunk []byte) { got = append(got, chunk) })

	b.Publish([]byte("one"))
	b.Publish([]byte("two"))

	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Errorf("feed saw %q, want [one two]", got)
	}
}

func TestBroker_SubscriberReceives(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(4)
	defer b.Unsubscribe(sub)

	b.Publish([]byte("hello"))

	select {
	case chunk := <-sub.C:
		if string(chunk) != "hello" {
			t.Errorf("chunk = %q, want hello", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the chunk")
	}
}

func TestBroker_SlowSubscriberDropsAndFlagsLag(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	b.Publish([]byte("first"))
	b.Publish([]byte("dropped"))

	if !sub.TakeLagged() {
		t.Error("expected lag flag after overflow")
	}
	if sub.TakeLagged() {
		t.Error("lag flag not cleared by TakeLagged")
	}
	// The first chunk is still there; the second was dropped, not queued.
	if chunk := <-sub.C; string(chunk) != "first" {
		t.Errorf("buffered chunk = %q, want first", chunk)
	}
	select {
	case chunk := <-sub.C:
		t.Errorf("unexpected extra chunk %q", chunk)
	default:
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after unsubscribe")
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestBroker_CloseStopsDelivery(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	b.Close()
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after broker close")
	}
	b.Publish([]byte("after close")) // must not panic
	if got := b.Subscribe(1); got == nil {
		t.Error("Subscribe after close returned nil, want closed-channel sub")
	}
}

func TestFocusTracker_SetClearClearIf(t *testing.T) {
	f := NewFocusTracker()
	if f.Focused() != "" {
		t.Errorf("fresh tracker focused = %q, want empty", f.Focused())
	}
	f.Set("a")
	if f.Focused() != "a" {
		t.Errorf("focused = %q, want a", f.Focused())
	}
	if f.ClearIf("b") {
		t.Error("ClearIf cleared focus held by another id")
	}
	if !f.ClearIf("a") {
		t.Error("ClearIf = false for the holder")
	}
	if f.Focused() != "" {
		t.Errorf("focused after clear = %q, want empty", f.Focused())
	}
	f.Set("c")
	f.Clear()
	if f.Focused() != "" {
		t.Error("Clear did not clear focus")
	}
}
