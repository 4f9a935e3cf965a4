package events

import (
	"testing"

	"zusd/core/types"
)

func makeEvent(kind string) types.Event {
	return types.Event{Type: kind, Attributes: map[string]string{"k": "v"}}
}

func TestBroadcasterAssignsMonotonicSequences(t *testing.T) {
	b := NewBroadcaster(0)
	updates, backlog, cancel := b.Subscribe(0, 8)
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	b.Emit(makeEvent("a"))
	b.Emit(makeEvent("b"))

	first := <-updates
	second := <-updates
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("unexpected sequences %d, %d", first.Sequence, second.Sequence)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct envelope IDs, got %q and %q", first.ID, second.ID)
	}
	if first.Digest == "" {
		t.Fatal("expected a payload digest")
	}
}

func TestBroadcasterReplaysBacklogAfterCursor(t *testing.T) {
	b := NewBroadcaster(0)
	b.Emit(makeEvent("a"))
	b.Emit(makeEvent("b"))
	b.Emit(makeEvent("c"))

	_, backlog, cancel := b.Subscribe(1, 8)
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected 2 replayed envelopes, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("unexpected replay sequences %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}
}

func TestBroadcasterBoundsBacklog(t *testing.T) {
	b := NewBroadcaster(2)
	for i := 0; i < 5; i++ {
		b.Emit(makeEvent("evt"))
	}
	_, backlog, cancel := b.Subscribe(0, 8)
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected backlog capped at 2, got %d", len(backlog))
	}
	if backlog[0].Sequence != 4 {
		t.Fatalf("expected oldest retained sequence 4, got %d", backlog[0].Sequence)
	}
}

func TestBroadcasterDropsSlowSubscribers(t *testing.T) {
	b := NewBroadcaster(0)
	updates, _, cancel := b.Subscribe(0, 1)
	defer cancel()

	b.Emit(makeEvent("a"))
	// The buffer is full; the next emit must disconnect rather than block.
	b.Emit(makeEvent("b"))

	if _, ok := <-updates; !ok {
		t.Fatal("expected the buffered envelope")
	}
	if _, ok := <-updates; ok {
		t.Fatal("expected the channel to be closed after overflow")
	}
}

func TestBroadcasterDigestIsOrderInsensitive(t *testing.T) {
	a := digestEvent(types.Event{Type: "x", Attributes: map[string]string{"a": "1", "b": "2"}})
	b := digestEvent(types.Event{Type: "x", Attributes: map[string]string{"b": "2", "a": "1"}})
	if a != b {
		t.Fatalf("digest should not depend on attribute order: %q vs %q", a, b)
	}
	c := digestEvent(types.Event{Type: "x", Attributes: map[string]string{"a": "1", "b": "3"}})
	if a == c {
		t.Fatal("digest should change with attribute values")
	}
}
