package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/fluxorio/echod/pkg/core/failfast"
)

// poolCounters are shared between a pool and its workers
type poolCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64
}

// Option customizes a WorkerPool
type Option func(*WorkerPool)

// WithLogger sets the pool's logger (default: standard log on stdout/stderr)
func WithLogger(logger Logger) Option {
	return func(p *WorkerPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver sets the pool's event observer (default: NopObserver)
func WithObserver(observer Observer) Option {
	return func(p *WorkerPool) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WorkerPool is a fixed set of workers fed from one unbounded queue.
//
// Submission never blocks. Shutdown (Close) sends one Stop per worker and
// joins them all: tasks already running finish, but tasks still queued behind
// the Stop messages are discarded.
type WorkerPool struct {
	workers  []*Worker
	sender   *Sender
	receiver *SharedReceiver

	logger   Logger
	observer Observer
	counters poolCounters

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool starts size workers. It panics if size is not positive: a pool
// without workers is a programming error.
func NewWorkerPool(size int, opts ...Option) *WorkerPool {
	failfast.If(size > 0, "worker pool size must be positive, got %d", size)

	sender, rx := NewWorkQueue()
	p := &WorkerPool{
		workers:  make([]*Worker, 0, size),
		sender:   sender,
		receiver: NewSharedReceiver(rx),
		logger:   newDefaultLogger(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}

	for id := 0; id < size; id++ {
		p.workers = append(p.workers, newWorker(id, p.receiver.Clone(), p.logger, p.observer, &p.counters))
	}

	return p
}

// Execute queues work for the next free worker. It never blocks and never
// fails loudly: if the queue is closed the work is logged and dropped.
func (p *WorkerPool) Execute(work WorkItem) {
	p.ExecuteOrDrop(work, nil)
}

// ExecuteOrDrop queues work like Execute. onDrop (may be nil) runs instead of
// work when the pool rejects it or discards it at shutdown.
func (p *WorkerPool) ExecuteOrDrop(work WorkItem, onDrop func()) {
	if work == nil {
		p.reject(onDrop)
		p.logger.Errorf("Request rejected, nil work item")
		return
	}

	if err := p.sender.Send(RunMessageWithDrop(work, onDrop)); err != nil {
		p.reject(onDrop)
		p.logger.Errorf("Request rejected, could not enqueue new task, reason: %v", err)
		return
	}

	p.counters.submitted.Add(1)
	p.observer.TaskSubmitted()
}

func (p *WorkerPool) reject(onDrop func()) {
	p.counters.dropped.Add(1)
	p.observer.TaskDropped(1)
	if onDrop != nil {
		onDrop()
	}
}

// Close shuts the pool down and blocks until every worker has exited. It is
// safe to call more than once; later calls return immediately.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(p.shutdown)
}

func (p *WorkerPool) shutdown() {
	p.closed.Store(true)
	p.logger.Infof("Terminating worker pool of %d workers", len(p.workers))

	for range p.workers {
		if err := p.sender.Send(StopMessage()); err != nil {
			p.logger.Errorf("could not send terminate signal: %v", err)
		}
	}

	for _, w := range p.workers {
		w.join()
	}

	p.sender.Close()
	if discarded := p.receiver.Release(); discarded > 0 {
		p.counters.dropped.Add(int64(discarded))
		p.observer.TaskDropped(discarded)
		p.logger.Warnf("discarded %d queued tasks at shutdown", discarded)
	}

	p.logger.Infof("Worker pool terminated")
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// Workers returns the pool's workers in id order
func (p *WorkerPool) Workers() []*Worker {
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Stats returns a snapshot of pool counters
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:        len(p.workers),
		BusyWorkers:    int(p.counters.busy.Load()),
		QueuedMessages: p.sender.Len(),
		SubmittedTasks: p.counters.submitted.Load(),
		CompletedTasks: p.counters.completed.Load(),
		DroppedTasks:   p.counters.dropped.Load(),
		Closed:         p.closed.Load(),
	}
}
