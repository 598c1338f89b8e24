package dispatch

// MetricsRecorder receives dispatch-engine lifecycle events. It is a small
// interface on purpose: dispatch never imports a concrete metrics library
// directly, so it stays usable (and testable) without one. The coordinator
// wires internal/observability's Prometheus-backed implementation in.
type MetricsRecorder interface {
	TaskAssigned()
	TaskCompleted()
	TaskFailed()
	TaskRequeued()
	WorkerRegistered()
	WorkerDead()
	PendingQueueDepth(n int)
	JobStarted()
	JobFinished()
	RecordJobOutcome(outcome string, durationSeconds float64)
}

type noopMetrics struct{}

func (noopMetrics) TaskAssigned()                                            {}
func (noopMetrics) TaskCompleted()                                           {}
func (noopMetrics) TaskFailed()                                              {}
func (noopMetrics) TaskRequeued()                                            {}
func (noopMetrics) WorkerRegistered()                                        {}
func (noopMetrics) WorkerDead()                                              {}
func (noopMetrics) PendingQueueDepth(n int)                                  {}
func (noopMetrics) JobStarted()                                              {}
func (noopMetrics) JobFinished()                                             {}
func (noopMetrics) RecordJobOutcome(outcome string, durationSeconds float64) {}
