package client

import "time"

// Metrics receives client side counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	IncOp(op string)
	IncError(stage string)
	ObservePublishLatency(d time.Duration)
	AddInFlight(delta float64)
}

type noopMetrics struct{}

func (noopMetrics) IncOp(string)                        {}
func (noopMetrics) IncError(string)                     {}
func (noopMetrics) ObservePublishLatency(time.Duration) {}
func (noopMetrics) AddInFlight(float64)                 {}
