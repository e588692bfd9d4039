// ABOUTME: Ingest pipeline for published events
// ABOUTME: Validate, authorize, echo-check, classify, then append and fan out

package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/2389/coven-relay/internal/envelope"
	"github.com/2389/coven-relay/internal/loopguard"
	"github.com/2389/coven-relay/internal/whitelist"
)

// PublishResponse is the JSON response of POST /mcp/events/publish.
type PublishResponse struct {
	Accepted bool                `json:"accepted"`
	Delayed  bool                `json:"delayed"`
	DelayMs  int64               `json:"delayMs"`
	Stopped  bool                `json:"stopped,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Decision *loopguard.Decision `json:"decision,omitempty"`
}

// ingest runs the pipeline for a validated, normalized event and returns the
// response body plus HTTP status. The event has already passed
// envelope.Validate.
func (r *Relay) ingest(ctx context.Context, evt *envelope.Event) (*PublishResponse, int) {
	// Agents may only publish into sessions they were granted.
	if evt.OriginActorType == envelope.ActorAgent && !r.registry.CanAccess(evt.OriginActorID, evt.SessionKey) {
		r.logger.Warn("publish rejected: agent not approved",
			"agent_id", evt.OriginActorID,
			"session_key", evt.SessionKey,
		)
		return &PublishResponse{
			Accepted: false,
			Reason:   "agent not approved for this session",
		}, http.StatusForbidden
	}

	// Self-echo suppression on the agent-supplied derivation key. Exactly one
	// publish proceeds per emittedEventId.
	if evt.EmittedEventID != "" && r.registry.MarkEmitted(evt.EmittedEventID) {
		r.logger.Debug("publish blocked: duplicate emittedEventId",
			"emitted_event_id", evt.EmittedEventID,
		)
		return &PublishResponse{
			Accepted: false,
			Reason:   "self-echo duplicate emittedEventId blocked",
		}, http.StatusOK
	}

	delay, decision := r.guard.Classify(evt)
	action := loopguard.ActionFor(decision)

	if err := r.sink.RecordDecision(ctx, evt, decision, action); err != nil {
		r.logger.Error("recording loop decision failed", "event_id", evt.EventID, "error", err)
	}

	if action == loopguard.ActionStop {
		return &PublishResponse{
			Accepted: false,
			Stopped:  true,
			Decision: &decision,
		}, http.StatusOK
	}

	outbound := *evt
	if action == loopguard.ActionWarn {
		outbound.Text = evt.Text + loopguard.WarnSuffix(decision.Confidence)
	}

	run := func() {
		r.admitAndFanOut(&outbound)
	}

	if delay > 0 {
		time.AfterFunc(delay, run)
	} else {
		run()
	}

	return &PublishResponse{
		Accepted: true,
		Delayed:  delay > 0,
		DelayMs:  delay.Milliseconds(),
		Decision: &decision,
	}, http.StatusOK
}

// admitAndFanOut appends the event and schedules one delivery per recipient.
// A duplicate event id stops the whole closure: the first admission already
// fanned out.
func (r *Relay) admitAndFanOut(evt *envelope.Event) {
	if !r.sessions.Append(evt) {
		r.logger.Debug("append suppressed duplicate event", "event_id", evt.EventID)
		return
	}

	if err := r.sink.RecordEvent(context.Background(), evt); err != nil {
		r.logger.Error("recording event failed", "event_id", evt.EventID, "error", err)
	}

	recipients := r.registry.RecipientsFor(evt.SessionKey)
	for _, recipient := range recipients {
		if skipRecipient(evt, recipient) {
			continue
		}
		if err := r.engine.Deliver(evt, recipient); err != nil {
			r.logger.Error("scheduling delivery failed",
				"event_id", evt.EventID,
				"agent_id", recipient.AgentID,
				"error", err,
			)
		}
	}

	r.logger.Info("event admitted",
		"event_id", evt.EventID,
		"session_key", evt.SessionKey,
		"recipients", len(recipients),
	)
}

// skipRecipient applies the fan-out exclusion rule: an agent's own event is
// not delivered back to it in the same hop.
func skipRecipient(evt *envelope.Event, recipient *whitelist.Registration) bool {
	return evt.OriginActorType == envelope.ActorAgent && evt.OriginActorID == recipient.AgentID
}
