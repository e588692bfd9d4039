// ABOUTME: Tests for the loop guard classifier and policy mapping
// ABOUTME: Covers the rate cap, repetition detection, and confidence thresholds

package loopguard

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-relay/internal/envelope"
)

// stubHistory serves a fixed recent-events slice per trace.
type stubHistory struct {
	events map[string][]*envelope.Event
}

func (s *stubHistory) RecentByTrace(traceID string, within time.Duration) []*envelope.Event {
	return s.events[traceID]
}

func traceEvents(traceID string, texts ...string) map[string][]*envelope.Event {
	events := make([]*envelope.Event, 0, len(texts))
	now := time.Now().UnixMilli()
	for i, text := range texts {
		events = append(events, &envelope.Event{
			EventID:    fmt.Sprintf("evt-%d", i),
			TraceID:    traceID,
			SessionKey: "sess-1",
			Text:       text,
			CreatedAt:  now - int64(len(texts)-i)*1000,
		})
	}
	return map[string][]*envelope.Event{traceID: events}
}

func newGuard(history TraceHistory, maxPerMinute int) *Guard {
	return New(history, Config{
		MaxPerMinute: maxPerMinute,
		DefaultDelay: 2000 * time.Millisecond,
		BurstDelay:   3000 * time.Millisecond,
	}, slog.Default())
}

func candidate(traceID, text string) *envelope.Event {
	return &envelope.Event{
		EventID:    "candidate",
		TraceID:    traceID,
		SessionKey: "sess-1",
		Text:       text,
	}
}

func TestClassify_EmptyTrace(t *testing.T) {
	guard := newGuard(&stubHistory{events: map[string][]*envelope.Event{}}, 6)

	delay, decision := guard.Classify(candidate("trace-1", "hello"))

	assert.Equal(t, time.Duration(0), delay)
	assert.False(t, decision.IsErrorLoop)
	assert.Equal(t, "accepted", decision.Reason)
	assert.InDelta(t, 0.6, decision.Confidence, 1e-9)
}

func TestClassify_RateCap(t *testing.T) {
	history := &stubHistory{events: traceEvents("trace-1", "a", "b", "c")}
	guard := newGuard(history, 3)

	delay, decision := guard.Classify(candidate("trace-1", "d"))

	assert.Equal(t, 3000*time.Millisecond, delay)
	assert.True(t, decision.IsErrorLoop)
	assert.InDelta(t, 0.95, decision.Confidence, 1e-9)
	assert.Equal(t, "max 3 loop events per minute exceeded; delaying", decision.Reason)
}

func TestClassify_RateCapWinsOverRepetition(t *testing.T) {
	// Identical texts would also trip the repetition check, but the rate cap
	// runs first
	history := &stubHistory{events: traceEvents("trace-1", "same", "same", "same")}
	guard := newGuard(history, 3)

	_, decision := guard.Classify(candidate("trace-1", "same"))
	assert.InDelta(t, 0.95, decision.Confidence, 1e-9)
}

func TestClassify_Repetition(t *testing.T) {
	history := &stubHistory{events: traceEvents("trace-1",
		"same repeated output", "same repeated output", "same repeated output")}
	guard := newGuard(history, 6)

	delay, decision := guard.Classify(candidate("trace-1", "same repeated output"))

	assert.Equal(t, 2000*time.Millisecond, delay)
	assert.True(t, decision.IsErrorLoop)
	assert.InDelta(t, 0.8, decision.Confidence, 1e-9)
	assert.Equal(t, "near-identical repeated outputs detected; delayed for safety", decision.Reason)
}

func TestClassify_RepetitionNeedsThreeInTail(t *testing.T) {
	history := &stubHistory{events: traceEvents("trace-1", "same text", "same text")}
	guard := newGuard(history, 6)

	_, decision := guard.Classify(candidate("trace-1", "same text"))
	assert.False(t, decision.IsErrorLoop)
}

func TestClassify_RepetitionNeedsTwoMatches(t *testing.T) {
	history := &stubHistory{events: traceEvents("trace-1",
		"completely different words here", "another unrelated sentence entirely", "same repeated output")}
	guard := newGuard(history, 6)

	// Only one of the tail matches the candidate
	_, decision := guard.Classify(candidate("trace-1", "same repeated output"))
	assert.False(t, decision.IsErrorLoop)
}

func TestClassify_RepetitionUsesLastFour(t *testing.T) {
	// Five recent events; the two oldest are identical to the candidate, but
	// only the second of them is inside the 4-event tail, so just one match
	// counts
	history := &stubHistory{events: traceEvents("trace-1",
		"the target phrase", "the target phrase",
		"unrelated one", "unrelated two", "unrelated three")}
	guard := newGuard(history, 10)

	_, decision := guard.Classify(candidate("trace-1", "the target phrase"))
	assert.False(t, decision.IsErrorLoop)
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "hello world", "hello world", 1.0},
		{"case and whitespace insensitive", "Hello   WORLD", "hello world", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"both empty", "", "", 0.0},
		{"one empty", "hello", "", 0.0},
		{"half overlap", "a b", "b c", 1.0 / 3.0},
		{"duplicate tokens collapse", "go go go", "go", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		name       string
		isLoop     bool
		confidence float64
		want       Action
	}{
		{"stop at 0.95", true, 0.95, ActionStop},
		{"stop at 0.99", true, 0.99, ActionStop},
		{"warn at 0.71", true, 0.71, ActionWarn},
		{"warn at 0.94", true, 0.94, ActionWarn},
		{"normal at 0.70", true, 0.70, ActionNormal},
		{"normal below threshold", true, 0.5, ActionNormal},
		{"normal when not a loop", false, 0.99, ActionNormal},
		{"normal when not a loop low", false, 0.6, ActionNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{IsErrorLoop: tt.isLoop, Confidence: tt.confidence}
			assert.Equal(t, tt.want, ActionFor(d))
		})
	}
}

func TestWarnSuffix(t *testing.T) {
	want := "\n\n[LOOP_GUARD_NOTE] Possible error loop detected (confidence=0.80). Please evaluate and stop if erroneous."
	assert.Equal(t, want, WarnSuffix(0.8))

	assert.Contains(t, WarnSuffix(0.937), "confidence=0.94")
}
