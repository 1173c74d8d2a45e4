// Package task implements the A2A hand-off protocol state machine.
//
// A task moves created → dispatched → done, with error as the alternate
// terminal state reachable from created or dispatched. No transition leaves
// done or error. Transitions are compare-and-set against the current state
// under a per-task lock, so concurrent reporters resolve to exactly one
// winner and unrelated tasks never contend.
//
// Every task is bound to the identity that created it: OriginSubject and
// SessionID are stamped at creation and immutable. Mutating or reading a
// task with a different verified subject is denied.
//
// The orchestrator mirrors content to the memory store at each
// content-producing step, and the mirror write always precedes the
// observable effect: a task is never visible without its creating record,
// and never marked complete before its outcome record.
package task
