package logging

import (
	"container/ring"
	"testing"
)

func newTestBroadcaster(bufferSize int) *LogBroadcaster {
	return &LogBroadcaster{
		buffer:      ring.New(bufferSize),
		subscribers: make(map[string]chan string),
	}
}

func TestBroadcasterWriteFansOut(t *testing.T) {
	b := newTestBroadcaster(4)
	fast := make(chan string, 1)
	blocked := make(chan string, 1)
	blocked <- "already-full"
	b.subscribers["fast"] = fast
	b.subscribers["blocked"] = blocked

	n, err := b.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if n != len("hello") {
		t.Fatalf("Write returned %d bytes, want %d", n, len("hello"))
	}

	select {
	case got := <-fast:
		if got != "hello" {
			t.Fatalf("subscriber received %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected fast subscriber to receive message")
	}

	// The blocked subscriber keeps its old entry; the write must not stall.
	if got := <-blocked; got != "already-full" {
		t.Fatalf("blocked channel head = %q", got)
	}
}

func TestBroadcasterHistoryOrder(t *testing.T) {
	b := newTestBroadcaster(3)
	for _, line := range []string{"a", "b", "c", "d"} {
		if _, err := b.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	history := b.History()
	want := []string{"b", "c", "d"}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d", len(history), len(want))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, history[i], want[i])
		}
	}
}

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := newTestBroadcaster(4)
	if _, err := b.Write([]byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	id, ch, history := b.Subscribe()
	if len(history) != 1 || history[0] != "first" {
		t.Fatalf("history snapshot = %v", history)
	}

	if _, err := b.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := <-ch; got != "second" {
		t.Fatalf("subscriber got %q", got)
	}

	b.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	if len(b.subscribers) != 0 {
		t.Fatal("subscriber map should be empty")
	}
}

func TestBroadcasterShutdownClosesAll(t *testing.T) {
	b := newTestBroadcaster(2)
	_, ch, _ := b.Subscribe()
	b.Shutdown()

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Shutdown")
	}
	if _, err := b.Write([]byte("late")); err != nil {
		t.Fatalf("Write after shutdown should be a no-op, got %v", err)
	}
}
