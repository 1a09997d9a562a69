// Package middleware holds the HTTP adapters that sit in front of the recovery engine.
//
//   - [RequestContext] copies the caller address, User-Agent and signed authentication
//     record into the request context through the recovery context helpers.
//   - [Throttle] is a per-address token bucket that rejects floods with 429 before the
//     engine spends a directory lookup on them.
//
// # What this package must NOT do
//
//   - Parse or verify authentication records. The engine does that.
//   - Touch session state or Redis.
package middleware
