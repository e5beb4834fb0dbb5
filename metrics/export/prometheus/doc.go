// Package prometheus renders engine metrics in the Prometheus text
// exposition format.
//
// Counter names are prefixed accounts_ and end in _total; the single
// histogram is accounts_sign_in_latency_seconds. Mount
// [PrometheusExporter.Handler] on the process's metrics endpoint.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate engine state.
package prometheus
