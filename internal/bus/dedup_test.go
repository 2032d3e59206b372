package bus

import (
	"fmt"
	"testing"
)

func TestWindowSeen(t *testing.T) {
	w := NewWindow(3)
	if w.Seen("a") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !w.Seen("a") {
		t.Fatal("second sighting should be a duplicate")
	}
	if w.Seen("") || w.Seen("") {
		t.Fatal("empty ids are never duplicates")
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		w.Seen(id)
	}
	if w.Len() != 3 {
		t.Fatalf("expected 3 remembered ids, got %d", w.Len())
	}
	if w.Seen("a") {
		t.Fatal("a should have been evicted")
	}
	if !w.Seen("d") {
		t.Fatal("d should still be remembered")
	}
}

func TestWindowLongRun(t *testing.T) {
	w := NewWindow(16)
	for i := 0; i < 1000; i++ {
		if w.Seen(fmt.Sprintf("id-%d", i)) {
			t.Fatalf("id-%d reported as duplicate", i)
		}
	}
	if w.Len() != 16 {
		t.Fatalf("window grew beyond its size: %d", w.Len())
	}
}

func TestDedupHandler(t *testing.T) {
	calls := 0
	h := Dedup(8, func(Envelope) { calls++ })
	h(Envelope{ID: "x"})
	h(Envelope{ID: "x"})
	h(Envelope{ID: "y"})
	if calls != 2 {
		t.Fatalf("expected 2 deliveries, got %d", calls)
	}
}

func TestDedupDisabled(t *testing.T) {
	calls := 0
	h := Dedup(0, func(Envelope) { calls++ })
	h(Envelope{ID: "x"})
	h(Envelope{ID: "x"})
	if calls != 2 {
		t.Fatalf("window 0 should deliver duplicates, got %d", calls)
	}
}
