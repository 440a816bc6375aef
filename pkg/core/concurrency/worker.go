package concurrency

import (
	"errors"
	"sync/atomic"
	"time"
)

// WorkerState is the position of a worker in its claim/run cycle
type WorkerState int32

const (
	// StateIdle waits for exclusive access to the receiver
	StateIdle WorkerState = iota
	// StateClaiming holds the receiver and waits for the next message
	StateClaiming
	// StateRunning executes a WorkItem; the receiver is already released
	StateRunning
	// StateTerminated has left its loop
	StateTerminated
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaiming:
		return "claiming"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Worker is one long-lived goroutine that repeatedly claims the shared
// receiver, takes one message, lets go of the receiver and then acts on it.
type Worker struct {
	id       int
	rx       *SharedReceiver
	logger   Logger
	observer Observer
	counters *poolCounters

	state atomic.Int32
	done  chan struct{}
}

func newWorker(id int, rx *SharedReceiver, logger Logger, observer Observer, counters *poolCounters) *Worker {
	w := &Worker{
		id:       id,
		rx:       rx,
		logger:   logger,
		observer: observer,
		counters: counters,
		done:     make(chan struct{}),
	}
	observer.WorkerStarted(id)
	go w.run()
	return w
}

// ID returns the worker's stable index in its pool
func (w *Worker) ID() int {
	return w.id
}

// State returns the worker's current state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Done is closed once the worker goroutine has returned
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) join() {
	<-w.done
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *Worker) run() {
	defer func() {
		w.setState(StateTerminated)
		w.rx.Release()
		w.observer.WorkerStopped(w.id)
		close(w.done)
	}()

	for {
		w.setState(StateIdle)
		msg, err := w.rx.receive(func() { w.setState(StateClaiming) })
		if err != nil {
			if errors.Is(err, ErrReceiverPoisoned) {
				w.logger.Warnf("Worker %d skipped an iteration: %v", w.id, err)
				continue
			}
			w.logger.Warnf("Worker %d could not receive next message: %v", w.id, err)
			return
		}

		switch msg.Kind() {
		case KindRun:
			w.execute(msg.Item())
		case KindStop:
			w.logger.Infof("Worker %d received terminate signal", w.id)
			return
		default:
			w.logger.Warnf("Worker %d ignored message of kind %s", w.id, msg.Kind())
		}
	}
}

// execute runs item on this goroutine. Panics are not recovered here.
func (w *Worker) execute(item WorkItem) {
	w.setState(StateRunning)
	w.counters.busy.Add(1)
	w.observer.TaskStarted(w.id)
	w.logger.Debugf("Worker %d starts processing new request", w.id)

	start := time.Now()
	item()

	w.observer.TaskFinished(w.id, time.Since(start))
	w.counters.busy.Add(-1)
	w.counters.completed.Add(1)
}
