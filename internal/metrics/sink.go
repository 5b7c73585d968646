package metrics

import "time"

// Sink defines the interface for recording workflow metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors.
type Sink interface {
	// Run lifecycle
	RunCompleted(outcome string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()

	// Workflow stages
	SearchCompleted(found, fresh int)
	CaptureCompleted(success bool)
	BatchDelivered(size int, success bool)
}

// Outcome constants for RunCompleted.
const (
	OutcomeSuccess       = "success"
	OutcomePartial       = "partial"
	OutcomeEmpty         = "empty"
	OutcomeProviderError = "provider_error"
)
