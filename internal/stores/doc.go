// Package stores provides Redis-backed, short-lived record stores for the recovery
// engine: out-of-band tokens and the deferred post-password-change action queue.
//
// # Design
//
// Token payloads are stored under the SHA-256 of the user-facing key with a TTL. Redeem
// uses WATCH/MULTI optimistic transactions with automatic retry on contention and deletes
// the record in the same transaction, so a key can be redeemed at most once.
//
// Deferred actions are appended to a per-user list. Drain reads and deletes the list inside
// one MULTI block, so each queued action is handed out exactly once.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT decide which
// destinations receive a token, compare password fingerprints, or run deferred actions.
// Those responsibilities belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import the root recovery package or any sibling internal package.
//   - Persist plaintext token keys.
package stores
