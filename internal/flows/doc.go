// Package flows contains the recovery engine's orchestration logic as pure functions.
//
// # Design
//
// Each flow is a Run* function that takes a *session.Session plus a deps struct of
// function fields. The root Engine builds the deps (directory calls, token store,
// notifier, intruder guard, metrics and audit hooks) and delegates; this package never
// touches Redis, HTTP or configuration directly.
//
// Evaluations return an [Outcome] (passed or failed, never an error for a wrong answer).
// Conditions that must abort the attempt return a *[Fault] whose [FaultKind] the root maps
// to its public sentinel errors.
//
// # Architecture boundaries
//
// This package owns the method registry, the progress engine, identification, the token
// coordinator and the terminal actions. It does NOT persist sessions or decide what the
// caller sees on failure.
//
// # What this package must NOT do
//
//   - Import the root recovery package or any store/limiter package.
//   - Log directly. Diagnostics flow through the Warn/EmitAudit deps.
package flows
