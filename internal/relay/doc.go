// Package relay orchestrates the coven-relay router components.
//
// # Overview
//
// The relay package is the central coordinator of the router. It owns the
// in-memory session store, the whitelist registry, the loop guard, the
// delivery engine, and the audit sink, and it exposes the full HTTP surface.
//
// # Ingest pipeline
//
// A published event flows through, in order:
//
//  1. Envelope validation and normalization (400 on failure)
//  2. Session authorization for agent-originated events (403 on failure)
//  3. Self-echo suppression on emittedEventId
//  4. Loop-guard classification and policy mapping
//  5. Decision audit
//  6. Append to the session log (duplicates suppressed) and fan-out
//
// Warn-class events are admitted with a warning suffix appended to the text;
// stop-class events are rejected before the append. Delayed admissions run on
// a timer while the publish response returns immediately.
//
// # HTTP API
//
//   - POST /agents/register - create a pending registration
//   - POST /mcp/events/publish - ingest an event
//   - GET /mcp/sessions/{sessionKey}/events - pull fallback (approval required)
//   - GET /health - liveness and small stats
//   - POST /admin/login, /admin/logout, GET /admin/session - admin auth
//   - GET /admin/agents/{pending,approved}, POST /admin/agents/{approve,reject}
//   - GET /admin/api/{metrics,sessions,loops,deliveries} - reporting
//
// # Lifecycle
//
// Start the relay:
//
//	rl, err := relay.New(cfg, logger)
//	err = rl.Run(ctx)
//
// Run blocks until the context is canceled, then drains the HTTP server and
// closes the components. Pending delivery retries are abandoned on shutdown.
package relay
