// ABOUTME: Loop guard classifier separating error loops from intentional dialog
// ABOUTME: Applies a per-trace rate cap and a lexical repetition check

package loopguard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-relay/internal/envelope"
)

// traceWindow is the sliding window the guard inspects per trace.
const traceWindow = 60 * time.Second

// Repetition-check parameters: of the last repetitionTail trace events (at
// least repetitionMinTail present), repetitionMinMatches must be
// near-identical to the candidate.
const (
	repetitionTail       = 4
	repetitionMinTail    = 3
	repetitionMinMatches = 2
	similarityThreshold  = 0.95
)

// Confidence levels carried by decisions. These are part of the wire
// contract: the policy mapping keys off them.
const (
	confidenceRateCap    = 0.95
	confidenceRepetition = 0.8
	confidenceAccepted   = 0.6
)

// Decision is the classifier's verdict on a candidate event.
type Decision struct {
	IsErrorLoop bool    `json:"isErrorLoop"`
	Reason      string  `json:"reason"`
	Confidence  float64 `json:"confidence"`
}

// TraceHistory is the slice of the session store the guard consults.
type TraceHistory interface {
	RecentByTrace(traceID string, within time.Duration) []*envelope.Event
}

// Config holds the guard's tunables.
type Config struct {
	MaxPerMinute int
	DefaultDelay time.Duration
	BurstDelay   time.Duration
}

// Guard classifies candidate events against their trace history.
type Guard struct {
	history TraceHistory
	cfg     Config
	logger  *slog.Logger
}

// New creates a guard over the given trace history.
func New(history TraceHistory, cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		history: history,
		cfg:     cfg,
		logger:  logger.With("component", "loopguard"),
	}
}

// Classify decides whether the candidate is part of an error loop and how
// long its admission should be delayed. Checks run in order; the first match
// wins.
func (g *Guard) Classify(candidate *envelope.Event) (time.Duration, Decision) {
	recent := g.history.RecentByTrace(candidate.TraceID, traceWindow)

	if len(recent) >= g.cfg.MaxPerMinute {
		g.logger.Warn("rate cap tripped",
			"trace_id", candidate.TraceID,
			"recent", len(recent),
			"max_per_minute", g.cfg.MaxPerMinute,
		)
		return g.cfg.BurstDelay, Decision{
			IsErrorLoop: true,
			Reason:      fmt.Sprintf("max %d loop events per minute exceeded; delaying", g.cfg.MaxPerMinute),
			Confidence:  confidenceRateCap,
		}
	}

	tail := recent
	if len(tail) > repetitionTail {
		tail = tail[len(tail)-repetitionTail:]
	}
	if len(tail) >= repetitionMinTail {
		matches := 0
		for _, evt := range tail {
			if Jaccard(evt.Text, candidate.Text) >= similarityThreshold {
				matches++
			}
		}
		if matches >= repetitionMinMatches {
			g.logger.Warn("repetition detected",
				"trace_id", candidate.TraceID,
				"matches", matches,
			)
			return g.cfg.DefaultDelay, Decision{
				IsErrorLoop: true,
				Reason:      "near-identical repeated outputs detected; delayed for safety",
				Confidence:  confidenceRepetition,
			}
		}
	}

	return 0, Decision{
		IsErrorLoop: false,
		Reason:      "accepted",
		Confidence:  confidenceAccepted,
	}
}
