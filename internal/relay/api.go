// ABOUTME: HTTP API handlers and JSON shapes for the relay surface
// ABOUTME: Registration, admin lifecycle, publish, and the pull fallback

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-relay/internal/envelope"
	"github.com/2389/coven-relay/internal/whitelist"
)

// RegisterRequest is the JSON request body for POST /agents/register.
type RegisterRequest struct {
	AgentID        string   `json:"agentId"`
	DisplayName    string   `json:"displayName,omitempty"`
	CallbackURL    string   `json:"callbackUrl"`
	CallbackSecret string   `json:"callbackSecret,omitempty"`
	SessionKeys    []string `json:"sessionKeys,omitempty"`
}

// AgentResponse is the JSON shape of a registration in admin listings.
// Callback secrets are never echoed; only their presence is reported.
type AgentResponse struct {
	AgentID              string   `json:"agentId"`
	DisplayName          string   `json:"displayName,omitempty"`
	CallbackURL          string   `json:"callbackUrl"`
	HasSecret            bool     `json:"hasSecret"`
	RequestedSessionKeys []string `json:"requestedSessionKeys"`
	GrantedSessionKeys   []string `json:"grantedSessionKeys"`
	Status               string   `json:"status"`
	RegisteredAt         string   `json:"registeredAt"`
}

// ApproveRequest is the JSON request body for POST /admin/agents/approve.
type ApproveRequest struct {
	AgentID     string   `json:"agentId"`
	SessionKeys []string `json:"sessionKeys"`
}

// RejectRequest is the JSON request body for POST /admin/agents/reject.
type RejectRequest struct {
	AgentID string `json:"agentId"`
}

// SessionEventsResponse is the JSON response of the pull fallback.
type SessionEventsResponse struct {
	SessionKey string            `json:"sessionKey"`
	Events     []*envelope.Event `json:"events"`
	Count      int               `json:"count"`
}

// handleRegister handles POST /agents/register. New and re-registered agents
// land in pending until an admin decides.
func (r *Relay) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	reg := &whitelist.Registration{
		AgentID:              body.AgentID,
		DisplayName:          body.DisplayName,
		CallbackURL:          body.CallbackURL,
		CallbackSecret:       body.CallbackSecret,
		RequestedSessionKeys: body.SessionKeys,
	}
	if err := r.registry.Register(reg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	r.logger.Info("agent registered", "agent_id", body.AgentID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"agentId": body.AgentID,
		"status":  string(whitelist.StatusPending),
	})
}

// handlePendingAgents handles GET /admin/agents/pending.
func (r *Relay) handlePendingAgents(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": r.agentResponses(r.registry.ListByStatus(whitelist.StatusPending)),
	})
}

// handleApprovedAgents handles GET /admin/agents/approved.
func (r *Relay) handleApprovedAgents(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": r.agentResponses(r.registry.ListByStatus(whitelist.StatusApproved)),
	})
}

// handleApprove handles POST /admin/agents/approve.
func (r *Relay) handleApprove(w http.ResponseWriter, req *http.Request) {
	var body ApproveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if body.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agentId is required"})
		return
	}

	if err := r.registry.Approve(body.AgentID, body.SessionKeys); err != nil {
		if errors.Is(err, whitelist.ErrAgentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	r.logger.Info("agent approved", "agent_id", body.AgentID, "sessions", len(body.SessionKeys))
	writeJSON(w, http.StatusOK, map[string]any{
		"agentId":            body.AgentID,
		"status":             string(whitelist.StatusApproved),
		"grantedSessionKeys": body.SessionKeys,
	})
}

// handleReject handles POST /admin/agents/reject.
func (r *Relay) handleReject(w http.ResponseWriter, req *http.Request) {
	var body RejectRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if body.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agentId is required"})
		return
	}

	if err := r.registry.Reject(body.AgentID); err != nil {
		if errors.Is(err, whitelist.ErrAgentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	r.logger.Info("agent rejected", "agent_id", body.AgentID)
	writeJSON(w, http.StatusOK, map[string]any{
		"agentId": body.AgentID,
		"status":  string(whitelist.StatusRejected),
	})
}

// handlePublish handles POST /mcp/events/publish.
func (r *Relay) handlePublish(w http.ResponseWriter, req *http.Request) {
	var evt envelope.Event
	if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	if err := envelope.Validate(&evt, time.Now()); err != nil {
		var verr *envelope.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid envelope",
				"fields": verr.Fields,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	resp, status := r.ingest(req.Context(), &evt)
	writeJSON(w, status, resp)
}

// handlePullEvents handles GET /mcp/sessions/{sessionKey}/events. The pull
// fallback requires the calling agent to be approved for the session.
func (r *Relay) handlePullEvents(w http.ResponseWriter, req *http.Request) {
	sessionKey := req.PathValue("sessionKey")
	agentID := req.URL.Query().Get("agentId")

	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agentId query parameter is required"})
		return
	}
	if !r.registry.CanAccess(agentID, sessionKey) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "agent not approved for this session"})
		return
	}

	limit, errMsg := parseLimitParam(req, 100, 500)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errMsg})
		return
	}

	events := r.sessions.List(sessionKey)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []*envelope.Event{}
	}

	writeJSON(w, http.StatusOK, SessionEventsResponse{
		SessionKey: sessionKey,
		Events:     events,
		Count:      len(events),
	})
}

// agentResponses converts registrations to their redacted JSON shape.
func (r *Relay) agentResponses(regs []*whitelist.Registration) []AgentResponse {
	out := make([]AgentResponse, 0, len(regs))
	for _, reg := range regs {
		granted := r.registry.SessionKeysFor(reg.AgentID)
		if granted == nil {
			granted = []string{}
		}
		out = append(out, AgentResponse{
			AgentID:              reg.AgentID,
			DisplayName:          reg.DisplayName,
			CallbackURL:          reg.CallbackURL,
			HasSecret:            reg.CallbackSecret != "",
			RequestedSessionKeys: reg.RequestedSessionKeys,
			GrantedSessionKeys:   granted,
			Status:               string(reg.Status),
			RegisteredAt:         reg.RegisteredAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// parseLimitParam parses a limit query parameter with default and max values.
// Returns the parsed value clamped to [1, max], or the default if absent.
// Returns 0 and an error message if invalid.
func parseLimitParam(req *http.Request, defaultLimit, maxLimit int) (int, string) {
	limitStr := req.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, ""
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		return 0, "limit must be a positive integer"
	}
	if parsed > maxLimit {
		return maxLimit, ""
	}
	return parsed, ""
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
