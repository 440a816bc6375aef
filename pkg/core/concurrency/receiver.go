package concurrency

import (
	"sync"
	"sync/atomic"
)

// receiverCell is the single receiver object shared by every SharedReceiver
// handle.
type receiverCell struct {
	mu       sync.Mutex
	poisoned bool
	rx       *Receiver
	refs     atomic.Int64
}

// SharedReceiver is a reference-counted handle onto one Receiver. Each
// claimant gets exclusive access for exactly one dequeue.
type SharedReceiver struct {
	cell     *receiverCell
	released atomic.Bool
}

// NewSharedReceiver takes ownership of rx and returns the first handle to it
func NewSharedReceiver(rx *Receiver) *SharedReceiver {
	cell := &receiverCell{rx: rx}
	cell.refs.Store(1)
	return &SharedReceiver{cell: cell}
}

// Clone returns another handle onto the same receiver
func (s *SharedReceiver) Clone() *SharedReceiver {
	s.cell.refs.Add(1)
	return &SharedReceiver{cell: s.cell}
}

// Refs reports how many live handles share the receiver
func (s *SharedReceiver) Refs() int {
	return int(s.cell.refs.Load())
}

// Release drops this handle. Releasing the last handle closes the receiver;
// the number of Run messages discarded with it is returned.
func (s *SharedReceiver) Release() int {
	if !s.released.CompareAndSwap(false, true) {
		return 0
	}
	if s.cell.refs.Add(-1) > 0 {
		return 0
	}
	return s.cell.rx.Close()
}

// Receive claims the receiver, dequeues one message and gives the claim back.
func (s *SharedReceiver) Receive() (Message, error) {
	return s.receive(nil)
}

// receive calls onClaim once exclusive access is held, before blocking on the
// queue.
func (s *SharedReceiver) receive(onClaim func()) (Message, error) {
	if s.released.Load() {
		return Message{}, ErrQueueClosed
	}
	return s.withLock(func(rx *Receiver) (Message, error) {
		if onClaim != nil {
			onClaim()
		}
		return rx.Receive()
	})
}

// withLock runs fn while holding the receiver. A panic in fn poisons the
// receiver for the next claimant and is re-raised.
func (s *SharedReceiver) withLock(fn func(rx *Receiver) (Message, error)) (Message, error) {
	c := s.cell
	c.mu.Lock()
	if c.poisoned {
		c.poisoned = false
		c.mu.Unlock()
		return Message{}, ErrReceiverPoisoned
	}

	completed := false
	defer func() {
		if !completed {
			c.poisoned = true
		}
		c.mu.Unlock()
	}()

	msg, err := fn(c.rx)
	completed = true
	return msg, err
}
