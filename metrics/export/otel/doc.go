// Package otel binds engine counters and the sign-in latency histogram to
// OpenTelemetry asynchronous instruments.
//
// Each counter becomes an Int64ObservableCounter; each histogram bucket an
// Int64ObservableGauge. One callback reads [accounts.Engine.MetricsSnapshot]
// per collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
