// Package httpapi exposes the recovery engine as JSON endpoints under /recovery.
//
// Each request loads the caller's recovery session from the session store by cookie,
// forwards one event to the engine and saves the session back. Failures that could
// reveal whether an account exists, is locked or is misconfigured all produce the same
// body: a failed identify step with the generic message.
package httpapi
