package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunCompleted(outcome string, duration time.Duration) {}
func (n *NoopSink) RunsInFlightIncr()                                   {}
func (n *NoopSink) RunsInFlightDecr()                                   {}
func (n *NoopSink) SearchCompleted(found, fresh int)                    {}
func (n *NoopSink) CaptureCompleted(success bool)                       {}
func (n *NoopSink) BatchDelivered(size int, success bool)               {}
