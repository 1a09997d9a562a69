// Package prometheus renders recovery engine metrics in the Prometheus text format.
//
// [NewPrometheusExporter] wraps a [recovery.Engine] and exposes an [http.Handler] for
// the metrics endpoint. Engine counters are grouped into families by recovery stage, so
// identification results share recovery_identify_total{result} and terminal actions share
// recovery_action_total{action}. recovery_verification_ratio is derived from the identify
// and verified counters, and recovery_audit_events_total{event,outcome} reports the audit
// dispatcher's per event type tallies. The single histogram is
// recovery_action_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
