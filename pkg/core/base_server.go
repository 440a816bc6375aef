package core

import (
	"sync"

	"github.com/fluxorio/echod/pkg/core/failfast"
)

// BaseServer carries the lifecycle bookkeeping shared by the listeners
// (TCP, WebSocket, admin). Concrete servers embed it and plug their own
// behavior in with SetHooks.
type BaseServer struct {
	name string

	mu      sync.RWMutex
	started bool
	stopped bool

	logger Logger

	// Embedded-method "overrides" are not dispatched dynamically in Go, so
	// concrete servers register explicit hooks instead.
	startHook func() error
	stopHook  func() error
}

// NewBaseServer creates a BaseServer. A nil logger falls back to NewDefaultLogger.
func NewBaseServer(name string, logger Logger) *BaseServer {
	failfast.If(name != "", "server name must not be empty")
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &BaseServer{
		name:   name,
		logger: logger.WithFields(map[string]interface{}{"server": name}),
	}
}

// SetHooks configures the functions run by Start and Stop:
//
//	s.BaseServer.SetHooks(s.doStart, s.doStop)
func (bs *BaseServer) SetHooks(startHook func() error, stopHook func() error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.startHook = startHook
	bs.stopHook = stopHook
}

// Start runs the start hook. Servers usually block inside it, so the server is
// marked started before the hook runs and rolled back if the hook fails.
func (bs *BaseServer) Start() error {
	bs.mu.Lock()
	if bs.started {
		bs.mu.Unlock()
		return ErrAlreadyStarted
	}
	startHook := bs.startHook
	bs.started = true
	bs.mu.Unlock()

	if startHook == nil {
		return nil
	}
	if err := startHook(); err != nil {
		bs.mu.Lock()
		bs.started = false
		bs.mu.Unlock()
		return err
	}
	return nil
}

// Stop runs the stop hook once. Later calls return nil.
func (bs *BaseServer) Stop() error {
	bs.mu.Lock()
	if bs.stopped {
		bs.mu.Unlock()
		return nil
	}
	stopHook := bs.stopHook
	bs.mu.Unlock()

	if stopHook != nil {
		if err := stopHook(); err != nil {
			return err
		}
	}

	bs.mu.Lock()
	bs.stopped = true
	bs.mu.Unlock()
	return nil
}

// Name returns the server name
func (bs *BaseServer) Name() string {
	return bs.name
}

// Logger returns the server's logger
func (bs *BaseServer) Logger() Logger {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.logger
}

// IsStarted reports whether Start has been called and not rolled back
func (bs *BaseServer) IsStarted() bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.started
}

// IsStopped reports whether Stop has completed
func (bs *BaseServer) IsStopped() bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.stopped
}
