// Package limiters provides the Redis-backed intruder guard used by the recovery engine.
//
// # Limiters
//
//   - [IntruderLimiter]: fixed-window failure counters for users, source addresses and
//     recovery sessions. A subject is locked while its counter is at or above the
//     configured threshold for its kind.
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Policy thresholds come
// from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import the root recovery package or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
