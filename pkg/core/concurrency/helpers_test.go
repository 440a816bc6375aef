package concurrency

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// recordingLogger keeps every line so tests can assert on them
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) { l.add("ERROR", format, args...) }
func (l *recordingLogger) Warnf(format string, args ...interface{}) { l.add("WARN", format, args...) }
func (l *recordingLogger) Infof(format string, args ...interface{}) { l.add("INFO", format, args...) }
func (l *recordingLogger) Debugf(format string, args ...interface{}) { l.add("DEBUG", format, args...) }

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// countingObserver tallies observer events
type countingObserver struct {
	mu        sync.Mutex
	started   map[int]bool
	stopped   map[int]bool
	submitted int
	dropped   int
	finished  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{started: map[int]bool{}, stopped: map[int]bool{}}
}

func (o *countingObserver) WorkerStarted(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[id] = true
}

func (o *countingObserver) WorkerStopped(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped[id] = true
}

func (o *countingObserver) TaskSubmitted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitted++
}

func (o *countingObserver) TaskDropped(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped += n
}

func (o *countingObserver) TaskStarted(int) {}

func (o *countingObserver) TaskFinished(int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func quietPool(size int, opts ...Option) *WorkerPool {
	return NewWorkerPool(size, append([]Option{WithLogger(&recordingLogger{})}, opts...)...)
}
