// Package recovery provides a policy-driven forgotten-password recovery engine. An
// unauthenticated user proves their identity through a configurable mix of verification
// methods (directory attributes, challenge responses, one-time passcodes, out-of-band
// tokens and previous authentication records) before the engine unlocks the account,
// hands off to an interactive reset or delivers a generated password.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. A single
// [session.Session] must not be used by two requests at once; serialization of one session
// is the session store's job (see [session.Store]).
//
// # Architecture boundaries
//
// recovery is the public surface. It exposes [Engine], [Builder], [Config], [Step] and the
// collaborator interfaces ([Directory], [Notifier], [TokenStore], [OTPService],
// [IntruderGuard], [Authenticator]). The state machine itself lives in internal/flows as
// pure functions over explicit dependency structs; Redis stores and limiters live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Leak lockout or existence state to callers. Locked, not-found and configuration
//     failures share one public message (see [PublicMessage]).
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports recovery (no import cycles).
package recovery
