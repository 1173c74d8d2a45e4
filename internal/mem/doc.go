// Package mem records prompt/response events to a pluggable memory mirror.
//
// Events are write-once and keyed by subject, session, and (optionally) task,
// so agents can later reconstruct the shared context of a conversation or a
// hand-off. Two backends exist: NullMirror (discard) and SQLiteMirror
// (modernc.org/sqlite, WAL mode, schema created on open). The backend is
// selected once at startup from configuration.
//
// Mirror failures are non-fatal to the request path by default: the
// orchestrator and proxy log and continue. Deployments that prefer to block
// on mirror durability configure memory.fail_closed, which turns write
// failures into request errors.
package mem
