// ABOUTME: Fan-out delivery engine posting signed callbacks with retries
// ABOUTME: Each recipient is independent; retries back off exponentially out-of-band

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/envelope"
	"github.com/2389/coven-relay/internal/whitelist"
)

// attemptTimeout bounds a single callback POST. A timed-out attempt counts as
// a failed attempt for retry accounting.
const attemptTimeout = 30 * time.Second

// Status values recorded per delivery attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusRetry   Status = "retry"
	StatusFailed  Status = "failed"
)

// Record is the audit view of one delivery attempt. Retries of the same
// (event, recipient) pair share DeliveryID and increment Attempt.
type Record struct {
	DeliveryID    string
	EventID       string
	SessionKey    string
	TargetAgentID string
	Status        Status
	Attempt       int
	Error         string
}

// Auditor receives a record for every attempt.
type Auditor interface {
	RecordDelivery(ctx context.Context, rec *Record)
}

// payload is the callback body. Built once per (event, recipient) job so the
// signature holds across retries.
type payload struct {
	Type        string          `json:"type"`
	DeliveryID  string          `json:"deliveryId"`
	DeliveredAt int64           `json:"deliveredAt"`
	Event       *envelope.Event `json:"event"`
}

// Config holds the engine's retry tunables.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Engine delivers events to recipient callbacks. Deliveries to different
// recipients overlap freely; retries for one recipient are serialized by the
// prior failure's timer.
type Engine struct {
	client *http.Client
	cfg    Config
	audit  Auditor
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// New creates a delivery engine.
func New(cfg Config, audit Auditor, logger *slog.Logger) *Engine {
	return &Engine{
		client: &http.Client{Timeout: attemptTimeout},
		cfg:    cfg,
		audit:  audit,
		logger: logger.With("component", "delivery"),
		timers: make(map[*time.Timer]struct{}),
	}
}

// job is one recipient's delivery of one event.
type job struct {
	deliveryID string
	event      *envelope.Event
	agentID    string
	url        string
	secret     string
	body       []byte
	signature  string
}

// Deliver starts a delivery job for the recipient and returns immediately.
// The first attempt is dispatched on a fresh goroutine; failures schedule
// retries at baseDelay·2^(attempt−1).
func (e *Engine) Deliver(evt *envelope.Event, recipient *whitelist.Registration) error {
	deliveryID := uuid.New().String()
	body, err := json.Marshal(payload{
		Type:        "router.event",
		DeliveryID:  deliveryID,
		DeliveredAt: time.Now().UnixMilli(),
		Event:       evt,
	})
	if err != nil {
		return fmt.Errorf("marshaling callback payload: %w", err)
	}

	j := &job{
		deliveryID: deliveryID,
		event:      evt,
		agentID:    recipient.AgentID,
		url:        recipient.CallbackURL,
		secret:     recipient.CallbackSecret,
		body:       body,
	}
	if j.secret != "" {
		j.signature = Sign(j.secret, body)
	}

	go e.attempt(j, 1)
	return nil
}

// attempt performs one POST and either records success, schedules the next
// retry, or records terminal failure.
func (e *Engine) attempt(j *job, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	err := e.post(ctx, j, attempt)
	if err == nil {
		e.logger.Debug("delivered",
			"delivery_id", j.deliveryID,
			"agent_id", j.agentID,
			"attempt", attempt,
		)
		e.audit.RecordDelivery(context.Background(), &Record{
			DeliveryID:    j.deliveryID,
			EventID:       j.event.EventID,
			SessionKey:    j.event.SessionKey,
			TargetAgentID: j.agentID,
			Status:        StatusSuccess,
			Attempt:       attempt,
		})
		return
	}

	if attempt >= e.cfg.MaxRetries {
		e.logger.Warn("delivery failed permanently",
			"delivery_id", j.deliveryID,
			"agent_id", j.agentID,
			"attempt", attempt,
			"error", err,
		)
		e.audit.RecordDelivery(context.Background(), &Record{
			DeliveryID:    j.deliveryID,
			EventID:       j.event.EventID,
			SessionKey:    j.event.SessionKey,
			TargetAgentID: j.agentID,
			Status:        StatusFailed,
			Attempt:       attempt,
			Error:         err.Error(),
		})
		return
	}

	delay := e.cfg.BaseDelay << (attempt - 1)
	e.logger.Debug("delivery attempt failed, retrying",
		"delivery_id", j.deliveryID,
		"agent_id", j.agentID,
		"attempt", attempt,
		"retry_in", delay,
		"error", err,
	)
	e.audit.RecordDelivery(context.Background(), &Record{
		DeliveryID:    j.deliveryID,
		EventID:       j.event.EventID,
		SessionKey:    j.event.SessionKey,
		TargetAgentID: j.agentID,
		Status:        StatusRetry,
		Attempt:       attempt,
		Error:         err.Error(),
	})

	e.schedule(delay, func() {
		e.attempt(j, attempt+1)
	})
}

// post performs a single signed POST. Any non-2xx status or transport error
// is a failure.
func (e *Engine) post(ctx context.Context, j *job, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(j.body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-router-agent-id", j.agentID)
	req.Header.Set("x-router-event-id", j.event.EventID)
	req.Header.Set("x-router-attempt", strconv.Itoa(attempt))
	if j.signature != "" {
		req.Header.Set("x-router-signature", j.signature)
		req.Header.Set("x-router-signature-alg", SignatureAlg)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// schedule runs fn after delay unless the engine has been closed. Timers are
// tracked so Close can abandon pending retries.
func (e *Engine) schedule(delay time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, timer)
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		fn()
	})
	e.timers[timer] = struct{}{}
}

// Close abandons pending retries. In-flight attempts finish on their own;
// undelivered callbacks beyond this point are an accepted loss.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for timer := range e.timers {
		timer.Stop()
	}
	e.timers = nil
}
