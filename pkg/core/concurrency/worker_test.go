package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ReleasesReceiverWhileRunning(t *testing.T) {
	tx, rx := NewWorkQueue()
	defer tx.Close()
	shared := NewSharedReceiver(rx)
	defer shared.Release()

	logger := &recordingLogger{}
	var counters poolCounters
	a := newWorker(0, shared.Clone(), logger, NopObserver{}, &counters)
	b := newWorker(1, shared.Clone(), logger, NopObserver{}, &counters)

	gate := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, tx.Send(RunMessage(func() {
		close(running)
		<-gate
	})))
	<-running

	// While one worker is busy the other must still be able to dequeue.
	ran := make(chan struct{})
	require.NoError(t, tx.Send(RunMessage(func() { close(ran) })))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("second worker could not claim the receiver while the first ran a task")
	}

	close(gate)
	require.NoError(t, tx.Send(StopMessage()))
	require.NoError(t, tx.Send(StopMessage()))
	a.join()
	b.join()

	assert.EqualValues(t, 2, counters.completed.Load())
	assert.True(t, logger.contains("Worker 0 received terminate signal"))
	assert.True(t, logger.contains("Worker 1 received terminate signal"))
}

func TestWorker_StatesCycle(t *testing.T) {
	tx, rx := NewWorkQueue()
	defer tx.Close()
	shared := NewSharedReceiver(rx)
	defer shared.Release()

	var counters poolCounters
	w := newWorker(0, shared.Clone(), &recordingLogger{}, NopObserver{}, &counters)

	require.Eventually(t, func() bool { return w.State() == StateClaiming }, time.Second, time.Millisecond)

	gate := make(chan struct{})
	require.NoError(t, tx.Send(RunMessage(func() { <-gate })))
	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return w.State() == StateClaiming }, time.Second, time.Millisecond)

	require.NoError(t, tx.Send(StopMessage()))
	w.join()
	assert.Equal(t, StateTerminated, w.State())
	assert.Equal(t, "terminated", w.State().String())
}

func TestWorker_SkipsPoisonedIteration(t *testing.T) {
	tx, rx := NewWorkQueue()
	defer tx.Close()
	shared := NewSharedReceiver(rx)
	defer shared.Release()

	require.Panics(t, func() {
		_, _ = shared.withLock(func(*Receiver) (Message, error) { panic("boom") })
	})

	logger := &recordingLogger{}
	var counters poolCounters
	w := newWorker(0, shared.Clone(), logger, NopObserver{}, &counters)

	ran := make(chan struct{})
	require.NoError(t, tx.Send(RunMessage(func() { close(ran) })))
	require.NoError(t, tx.Send(StopMessage()))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from a poisoned receiver")
	}
	w.join()
	assert.True(t, logger.contains("skipped an iteration"))
}

func TestWorker_ExitsWhenQueueCloses(t *testing.T) {
	tx, rx := NewWorkQueue()
	shared := NewSharedReceiver(rx)
	defer shared.Release()

	logger := &recordingLogger{}
	var counters poolCounters
	w := newWorker(0, shared.Clone(), logger, NopObserver{}, &counters)

	tx.Close()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker kept running after every sender closed")
	}
	assert.True(t, logger.contains("could not receive next message"))
}

func TestMessageKind_String(t *testing.T) {
	assert.Equal(t, "run", KindRun.String())
	assert.Equal(t, "stop", KindStop.String())
	assert.Equal(t, "unknown", MessageKind(0).String())
}
