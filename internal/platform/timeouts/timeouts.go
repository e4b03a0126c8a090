// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// Shutdown limits how long worker pools wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// BatchDrain caps the wait for the batch processor to drain queued batches.
const BatchDrain = 10 * time.Second

// ProjectionDrain caps the wait for projection workers to finish dispatched
// events during shutdown.
const ProjectionDrain = 10 * time.Second

// CompletionPoll is the polling cadence used by bounded completion waits.
const CompletionPoll = 10 * time.Millisecond
