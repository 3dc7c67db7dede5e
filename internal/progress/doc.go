// Package progress carries typed progress events from crawls, URL
// resolution and review ingest to pluggable sinks. Producers call
// Emitter.Emit, which never blocks; the Hub batches events on a background
// goroutine and fans them out to sinks such as logs, Prometheus or the job
// table.
package progress
