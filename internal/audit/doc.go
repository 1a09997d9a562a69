// Package audit buffers recovery audit events and relays them to a sink off the request path.
//
// The Engine decides which transitions are audited. This package owns buffering, sink
// delivery and per event type accounting, and never imports the root package. Failed
// transitions are never dropped for a full buffer.
package audit
