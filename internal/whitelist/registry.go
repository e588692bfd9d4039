// ABOUTME: Agent registration lifecycle and per-session grant state
// ABOUTME: Decides which agents may publish to and receive from each session

package whitelist

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/dedupe"
)

// ErrAgentNotFound is returned by Approve/Reject for an unknown agent.
var ErrAgentNotFound = errors.New("agent not found")

// Status values for a registration's lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// minSecretLen is the minimum length of a callback secret when one is given.
const minSecretLen = 8

// Suppression bounds for agent-emitted event ids. The TTL must stay above the
// loop guard's 60s window.
const (
	emittedTTL     = 24 * time.Hour
	emittedMaxSize = 100_000
)

// Registration describes an agent known to the router.
type Registration struct {
	AgentID              string
	DisplayName          string
	CallbackURL          string
	CallbackSecret       string
	RequestedSessionKeys []string
	RegisteredAt         time.Time
	Status               Status
}

// Registry is the in-memory whitelist: registrations, the approved set, and
// per-agent session grants. All methods are safe for concurrent use.
type Registry struct {
	mu              sync.RWMutex
	registrations   map[string]*Registration
	order           []string // agent ids in first-registration order
	approved        map[string]bool
	sessionsByAgent map[string]map[string]bool
	seenEmitted     *dedupe.Cache
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		registrations:   make(map[string]*Registration),
		approved:        make(map[string]bool),
		sessionsByAgent: make(map[string]map[string]bool),
		seenEmitted:     dedupe.New(emittedTTL, emittedMaxSize),
	}
}

// Register upserts a pending registration. Re-registering an agent resets its
// status to pending but does not touch existing grants until the next
// approve/reject decision.
func (r *Registry) Register(reg *Registration) error {
	if reg.AgentID == "" {
		return errors.New("agentId is required")
	}
	if reg.CallbackURL == "" {
		return errors.New("callbackUrl is required")
	}
	if _, err := url.ParseRequestURI(reg.CallbackURL); err != nil {
		return fmt.Errorf("callbackUrl is not a valid URL: %w", err)
	}
	if reg.CallbackSecret != "" && len(reg.CallbackSecret) < minSecretLen {
		return fmt.Errorf("callbackSecret must be at least %d characters", minSecretLen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[reg.AgentID]; !exists {
		r.order = append(r.order, reg.AgentID)
	}

	stored := *reg
	stored.Status = StatusPending
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now().UTC()
	}
	if stored.RequestedSessionKeys == nil {
		stored.RequestedSessionKeys = []string{}
	}
	r.registrations[reg.AgentID] = &stored
	return nil
}

// Approve marks an agent approved and replaces its session grants with
// exactly sessionKeys. Returns ErrAgentNotFound for an unknown agent.
func (r *Registry) Approve(agentID string, sessionKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registrations[agentID]
	if !ok {
		return ErrAgentNotFound
	}

	reg.Status = StatusApproved
	r.approved[agentID] = true

	grants := make(map[string]bool, len(sessionKeys))
	for _, key := range sessionKeys {
		grants[key] = true
	}
	r.sessionsByAgent[agentID] = grants
	return nil
}

// Reject marks an agent rejected, removes it from the approved set, and
// clears its session grants. Returns ErrAgentNotFound for an unknown agent.
func (r *Registry) Reject(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registrations[agentID]
	if !ok {
		return ErrAgentNotFound
	}

	reg.Status = StatusRejected
	delete(r.approved, agentID)
	delete(r.sessionsByAgent, agentID)
	return nil
}

// CanAccess reports whether an agent is approved and granted the session.
func (r *Registry) CanAccess(agentID, sessionKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.approved[agentID] {
		return false
	}
	return r.sessionsByAgent[agentID][sessionKey]
}

// RecipientsFor returns the approved registrations granted the session, in
// first-registration order. Registrations whose status is not approved are
// excluded even if stale grant membership exists.
func (r *Registry) RecipientsFor(sessionKey string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Registration
	for _, agentID := range r.order {
		if !r.approved[agentID] || !r.sessionsByAgent[agentID][sessionKey] {
			continue
		}
		reg := r.registrations[agentID]
		if reg == nil || reg.Status != StatusApproved {
			continue
		}
		copied := *reg
		out = append(out, &copied)
	}
	return out
}

// Get returns a copy of an agent's registration, if present.
func (r *Registry) Get(agentID string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[agentID]
	if !ok {
		return nil, false
	}
	copied := *reg
	return &copied, true
}

// SessionKeysFor returns the session keys granted to an agent.
func (r *Registry) SessionKeysFor(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grants := r.sessionsByAgent[agentID]
	out := make([]string, 0, len(grants))
	for key := range grants {
		out = append(out, key)
	}
	return out
}

// ListByStatus returns registrations with the given status in
// first-registration order.
func (r *Registry) ListByStatus(status Status) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Registration
	for _, agentID := range r.order {
		reg := r.registrations[agentID]
		if reg == nil || reg.Status != status {
			continue
		}
		copied := *reg
		out = append(out, &copied)
	}
	return out
}

// CountByStatus returns how many registrations hold the given status.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, reg := range r.registrations {
		if reg.Status == status {
			count++
		}
	}
	return count
}

// MarkEmitted records an agent-emitted event id. Returns true if the id was
// already seen (the publish must be blocked as a self-echo duplicate).
func (r *Registry) MarkEmitted(emittedEventID string) bool {
	return r.seenEmitted.CheckAndMark(emittedEventID)
}

// Close releases the suppression cache's background resources.
func (r *Registry) Close() {
	r.seenEmitted.Close()
}
