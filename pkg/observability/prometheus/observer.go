package prometheus

import (
	"time"

	"github.com/fluxorio/echod/pkg/core/concurrency"
)

// PoolObserver feeds worker pool events into Metrics
type PoolObserver struct {
	m *Metrics
}

var _ concurrency.Observer = (*PoolObserver)(nil)

// NewPoolObserver creates an observer to pass to concurrency.WithObserver
func NewPoolObserver(m *Metrics) *PoolObserver {
	return &PoolObserver{m: m}
}

func (o *PoolObserver) WorkerStarted(workerID int) {
	o.m.PoolWorkers.Inc()
}

func (o *PoolObserver) WorkerStopped(workerID int) {
	o.m.PoolWorkers.Dec()
}

func (o *PoolObserver) TaskSubmitted() {
	o.m.PoolTasksSubmitted.Inc()
}

func (o *PoolObserver) TaskDropped(n int) {
	o.m.PoolTasksDropped.Add(float64(n))
}

func (o *PoolObserver) TaskStarted(workerID int) {
	o.m.PoolBusyWorkers.Inc()
}

func (o *PoolObserver) TaskFinished(workerID int, elapsed time.Duration) {
	o.m.PoolBusyWorkers.Dec()
	o.m.PoolTasksCompleted.Inc()
	o.m.PoolTaskDuration.Observe(elapsed.Seconds())
}
