package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueClosed is returned by Send when the receiver is gone and by
	// Receive when every sender is gone and nothing is left to deliver.
	ErrQueueClosed = errors.New("work queue is closed")

	// ErrReceiverPoisoned is reported once to the next claimant after a holder
	// of the shared receiver panicked while holding it.
	ErrReceiverPoisoned = errors.New("shared receiver is poisoned")
)

// SendError is returned when a message cannot be enqueued. It hands the
// undelivered message back to the caller.
type SendError struct {
	Message Message
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s message: %v", e.Message.Kind(), ErrQueueClosed)
}

// Unwrap allows errors.Is(err, ErrQueueClosed)
func (e *SendError) Unwrap() error {
	return ErrQueueClosed
}

// workQueue is an unbounded FIFO with many senders and a single receiver.
// Go channels have a fixed capacity, so the buffer is a plain slice guarded by
// mu; ready wakes a blocked receiver.
type workQueue struct {
	mu             sync.Mutex
	ready          *sync.Cond
	buf            []Message
	senders        int
	receiverClosed bool
}

// NewWorkQueue creates an unbounded queue and returns its first sending handle
// and its only receiving endpoint. Additional senders come from Sender.Clone.
func NewWorkQueue() (*Sender, *Receiver) {
	q := &workQueue{senders: 1}
	q.ready = sync.NewCond(&q.mu)
	return &Sender{q: q}, &Receiver{q: q}
}

// Sender is a producer handle. It is safe for concurrent use.
type Sender struct {
	q      *workQueue
	closed atomic.Bool
}

// Send appends msg at the tail. It never blocks. It fails only when the
// receiver has been closed or this handle has been closed.
func (s *Sender) Send(msg Message) error {
	if s.closed.Load() {
		return &SendError{Message: msg}
	}

	s.q.mu.Lock()
	if s.q.receiverClosed {
		s.q.mu.Unlock()
		return &SendError{Message: msg}
	}
	s.q.buf = append(s.q.buf, msg)
	s.q.mu.Unlock()

	s.q.ready.Signal()
	return nil
}

// Clone returns an independent sending handle onto the same queue
func (s *Sender) Clone() *Sender {
	s.q.mu.Lock()
	s.q.senders++
	s.q.mu.Unlock()
	return &Sender{q: s.q}
}

// Close drops this handle. Once every handle is closed a blocked receiver is
// woken and, after draining the buffer, gets ErrQueueClosed.
func (s *Sender) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.q.mu.Lock()
	s.q.senders--
	last := s.q.senders == 0
	s.q.mu.Unlock()

	if last {
		s.q.ready.Broadcast()
	}
}

// Len reports how many messages are buffered
func (s *Sender) Len() int {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return len(s.q.buf)
}

// Receiver is the queue's single consuming endpoint. It is not meant to be
// used by several goroutines at once; share it through a SharedReceiver.
type Receiver struct {
	q *workQueue
}

// Receive blocks until a message is available. Buffered messages are still
// delivered after the last sender closes; after that it returns ErrQueueClosed.
func (r *Receiver) Receive() (Message, error) {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()

	for len(r.q.buf) == 0 {
		if r.q.senders == 0 || r.q.receiverClosed {
			return Message{}, ErrQueueClosed
		}
		r.q.ready.Wait()
	}

	msg := r.q.buf[0]
	r.q.buf[0] = Message{}
	r.q.buf = r.q.buf[1:]
	return msg, nil
}

// Close drops the receiving endpoint. Buffered messages are discarded and the
// number of discarded Run messages is returned; later sends fail. Drop
// callbacks of discarded messages run after the queue lock is released.
func (r *Receiver) Close() int {
	r.q.mu.Lock()
	if r.q.receiverClosed {
		r.q.mu.Unlock()
		return 0
	}
	r.q.receiverClosed = true
	pending := r.q.buf
	r.q.buf = nil
	r.q.ready.Broadcast()
	r.q.mu.Unlock()

	discarded := 0
	for _, msg := range pending {
		if msg.Kind() == KindRun {
			discarded++
			msg.drop()
		}
	}
	return discarded
}
