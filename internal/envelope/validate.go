// ABOUTME: Validation and normalization of incoming event envelopes
// ABOUTME: Applies defaults and server-assigned fields, rejects malformed input

package envelope

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope is the sentinel wrapped by ValidationError.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ValidationError reports per-field problems with an incoming envelope.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("invalid envelope: %s", strings.Join(names, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEnvelope
}

// validActorTypes are the accepted originActorType values.
var validActorTypes = map[ActorType]bool{
	ActorHuman:  true,
	ActorAgent:  true,
	ActorSystem: true,
}

// Validate checks a decoded envelope and applies defaults and server-assigned
// fields in place. EventID is assigned when absent; CreatedAt is always
// overwritten with now, regardless of what the client sent.
func Validate(evt *Event, now time.Time) error {
	fields := make(map[string]string)

	if strings.TrimSpace(evt.SessionKey) == "" {
		fields["sessionKey"] = "required"
	}
	if strings.TrimSpace(evt.TraceID) == "" {
		fields["traceId"] = "required"
	}
	if evt.Text == "" {
		fields["text"] = "must be non-empty"
	}
	if evt.OriginActorType == "" {
		fields["originActorType"] = "required"
	} else if !validActorTypes[evt.OriginActorType] {
		fields["originActorType"] = "must be one of human, agent, system"
	}
	if strings.TrimSpace(evt.OriginActorID) == "" {
		fields["originActorId"] = "required"
	}
	if evt.HopCount < 0 {
		fields["hopCount"] = "must be non-negative"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.SeenAgents == nil {
		evt.SeenAgents = []string{}
	}
	evt.CreatedAt = now.UnixMilli()

	return nil
}
