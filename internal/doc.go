// Package internal contains helper utilities that are private to the recovery engine,
// mostly secure random generation for session ids, token keys and codes.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators: method registry, progress engine, actions
//   - limiters: Redis intruder guard counters
//   - stores: Redis token store and deferred-action queue
//
// # What this package must NOT do
//
//   - Export types that appear in the public recovery API.
//   - Be imported by any package outside this module.
package internal
