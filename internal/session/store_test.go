// ABOUTME: Tests for the in-memory session store
// ABOUTME: Covers idempotent append, list ordering, and the trace index window

package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-relay/internal/envelope"
)

func newEvent(id, sessionKey, traceID, text string) *envelope.Event {
	return &envelope.Event{
		EventID:         id,
		TraceID:         traceID,
		SessionKey:      sessionKey,
		OriginActorType: envelope.ActorHuman,
		OriginActorID:   "user-1",
		Text:            text,
		CreatedAt:       time.Now().UnixMilli(),
	}
}

func TestAppend_Idempotent(t *testing.T) {
	s := New()
	defer s.Close()

	evt := newEvent("evt-1", "sess-1", "trace-1", "hello")
	if !s.Append(evt) {
		t.Fatal("first append should succeed")
	}

	dup := newEvent("evt-1", "sess-1", "trace-1", "hello again")
	if s.Append(dup) {
		t.Error("duplicate append should return false")
	}

	events := s.List("sess-1")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Text != "hello" {
		t.Errorf("first append must win: got text %q", events[0].Text)
	}
}

func TestAppend_ConcurrentDuplicates(t *testing.T) {
	s := New()
	defer s.Close()

	const goroutines = 50
	var wg sync.WaitGroup
	successes := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Append(newEvent("contested", "sess-1", "trace-1", "x")) {
				successes <- true
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent append must succeed, got %d", count)
	}
	if got := len(s.List("sess-1")); got != 1 {
		t.Errorf("expected 1 event in log, got %d", got)
	}
}

func TestList_PreservesAppendOrder(t *testing.T) {
	s := New()
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Append(newEvent(fmt.Sprintf("evt-%d", i), "sess-1", "trace-1", fmt.Sprintf("msg %d", i)))
	}

	events := s.List("sess-1")
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, evt := range events {
		want := fmt.Sprintf("evt-%d", i)
		if evt.EventID != want {
			t.Errorf("position %d: got %q, want %q", i, evt.EventID, want)
		}
	}
}

func TestList_IsSnapshot(t *testing.T) {
	s := New()
	defer s.Close()

	s.Append(newEvent("evt-1", "sess-1", "trace-1", "a"))
	snapshot := s.List("sess-1")
	s.Append(newEvent("evt-2", "sess-1", "trace-1", "b"))

	if len(snapshot) != 1 {
		t.Errorf("snapshot must not grow, got %d events", len(snapshot))
	}
}

func TestList_NoCrossSessionLeak(t *testing.T) {
	s := New()
	defer s.Close()

	s.Append(newEvent("evt-1", "sess-a", "trace-1", "a"))
	s.Append(newEvent("evt-2", "sess-b", "trace-1", "b"))

	if got := len(s.List("sess-a")); got != 1 {
		t.Errorf("sess-a: expected 1 event, got %d", got)
	}
	if got := len(s.List("sess-b")); got != 1 {
		t.Errorf("sess-b: expected 1 event, got %d", got)
	}
	if got := len(s.List("sess-c")); got != 0 {
		t.Errorf("sess-c: expected no events, got %d", got)
	}
}

func TestRecentByTrace_CrossesSessions(t *testing.T) {
	s := New()
	defer s.Close()

	s.Append(newEvent("evt-1", "sess-a", "trace-1", "a"))
	s.Append(newEvent("evt-2", "sess-b", "trace-1", "b"))
	s.Append(newEvent("evt-3", "sess-a", "trace-2", "c"))

	recent := s.RecentByTrace("trace-1", time.Minute)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events on trace-1, got %d", len(recent))
	}
}

func TestRecentByTrace_WindowExcludesOld(t *testing.T) {
	s := New()
	defer s.Close()

	old := newEvent("evt-old", "sess-1", "trace-1", "old")
	old.CreatedAt = time.Now().Add(-2 * time.Minute).UnixMilli()
	s.Append(old)
	s.Append(newEvent("evt-new", "sess-1", "trace-1", "new"))

	recent := s.RecentByTrace("trace-1", time.Minute)
	if len(recent) != 1 {
		t.Fatalf("expected 1 event inside window, got %d", len(recent))
	}
	if recent[0].EventID != "evt-new" {
		t.Errorf("expected evt-new, got %q", recent[0].EventID)
	}
}

func TestRecentByTrace_SortedByCreatedAt(t *testing.T) {
	s := New()
	defer s.Close()

	base := time.Now().UnixMilli()
	for i, offset := range []int64{-3000, -1000, -2000} {
		evt := newEvent(fmt.Sprintf("evt-%d", i), "sess-1", "trace-1", "x")
		evt.CreatedAt = base + offset
		s.Append(evt)
	}

	recent := s.RecentByTrace("trace-1", time.Minute)
	for i := 1; i < len(recent); i++ {
		if recent[i-1].CreatedAt > recent[i].CreatedAt {
			t.Errorf("events not sorted by createdAt at position %d", i)
		}
	}
}

func TestCounts(t *testing.T) {
	s := New()
	defer s.Close()

	s.Append(newEvent("evt-1", "sess-a", "trace-1", "a"))
	s.Append(newEvent("evt-2", "sess-a", "trace-1", "b"))
	s.Append(newEvent("evt-3", "sess-b", "trace-2", "c"))

	if got := s.SessionCount(); got != 2 {
		t.Errorf("SessionCount: got %d, want 2", got)
	}
	if got := s.EventCount(); got != 3 {
		t.Errorf("EventCount: got %d, want 3", got)
	}
}
