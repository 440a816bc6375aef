package concurrency

import "time"

// Executor is what connection acceptors need from a pool: fire-and-forget
// submission with no result and no error.
type Executor interface {
	Execute(work WorkItem)

	// ExecuteOrDrop is Execute for work that owns a resource. If the work is
	// rejected or discarded before a worker picks it up, onDrop runs instead
	// so the resource can be released. Exactly one of work and onDrop runs.
	ExecuteOrDrop(work WorkItem, onDrop func())
}

// Observer receives pool lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	WorkerStarted(id int)
	WorkerStopped(id int)
	TaskSubmitted()
	// TaskDropped reports n submissions that will never run
	TaskDropped(n int)
	TaskStarted(workerID int)
	TaskFinished(workerID int, elapsed time.Duration)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) WorkerStarted(int) {}
func (NopObserver) WorkerStopped(int) {}
func (NopObserver) TaskSubmitted() {}
func (NopObserver) TaskDropped(int) {}
func (NopObserver) TaskStarted(int) {}
func (NopObserver) TaskFinished(int, time.Duration) {}

// PoolStats is a point-in-time snapshot of a WorkerPool
type PoolStats struct {
	Workers        int   `json:"workers"`         // Fixed pool size
	BusyWorkers    int   `json:"busy_workers"`    // Workers currently running a task
	QueuedMessages int   `json:"queued_messages"` // Buffered messages, Stop included
	SubmittedTasks int64 `json:"submitted_tasks"` // Tasks accepted by Execute
	CompletedTasks int64 `json:"completed_tasks"` // Tasks that returned
	DroppedTasks   int64 `json:"dropped_tasks"`   // Tasks rejected by Execute or discarded at shutdown
	Closed         bool  `json:"closed"`          // Close has been called
}
