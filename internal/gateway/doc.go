// Package gateway assembles the attach-gateway HTTP server.
//
// The gateway is an identity side-car in front of an LLM engine: it
// verifies bearer credentials (OIDC, did:key, did:pkh), binds each request
// to a deterministic session, and forwards inference traffic to the engine
// with the X-Attach-* trusted headers carrying gateway-derived values. On
// top of the proxy it exposes the A2A task hand-off surface, a memory
// mirror query endpoint, and per-user token quotas.
//
// Route map:
//
//	GET  /healthz                    liveness (public)
//	GET  /auth/config                issuer/audience discovery (public)
//	POST /a2a/tasks/send             create a task
//	POST /a2a/tasks/{id}/dispatch    dispatch a task to its target hop
//	POST /a2a/tasks/{id}/report      record a hop outcome
//	GET  /a2a/tasks/status/{id}      read task state
//	GET  /mem/events                 query mirrored events
//	*                                proxied to the engine
package gateway
