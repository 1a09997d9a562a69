// Package session provides the recovery-session model and its Redis-backed persistence.
//
// # Model
//
// A [Session] is the mutable record of one in-progress recovery attempt: the identified
// user, the resolved [Flags], the [Progress] of satisfied verification methods, the
// displayed challenge set, the attribute form and the token sub-state. It is a plain value:
// the engine mutates it in place and the caller owns where it lives between requests.
//
// # Encoding
//
// Sessions are stored with a one-byte schema version followed by a JSON body. Decoders
// reject unknown versions instead of guessing.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the model types. It does NOT decide
// which method comes next, evaluate answers, or talk to the directory. Those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import the root recovery package or internal/flows (no upward imports).
//   - Store challenge answers, OTP secrets or token keys in [Session] fields.
package session
