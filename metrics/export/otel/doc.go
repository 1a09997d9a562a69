// Package otel publishes recovery engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per recovery counter family, with
// the family label (result, event or action) carried as an attribute, one
// Int64ObservableGauge per histogram bucket and a Float64ObservableGauge for the
// verification ratio. A single callback reads
// [recovery.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
