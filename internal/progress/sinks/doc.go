// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and the review job table. Each satisfies progress.Sink.
package sinks
