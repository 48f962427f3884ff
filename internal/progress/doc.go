// Package progress carries per-row harvest events from the pipeline workers to
// pluggable sinks: structured logs, a terminal progress bar and the run status
// snapshot served by the ops API. Events are batched on a background goroutine
// so reporting never slows the workers down.
package progress
