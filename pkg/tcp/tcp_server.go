package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/core/concurrency"
	"github.com/fluxorio/echod/pkg/core/failfast"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// TCPServer accepts connections on one goroutine and submits each of them to a
// worker pool as a single work item. The pool is owned by the caller.
type TCPServer struct {
	*core.BaseServer

	addr   string
	config *TCPServerConfig
	pool   concurrency.Executor

	mu       sync.RWMutex
	listener net.Listener
	stopping atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc

	handler     ConnectionHandler
	middlewares []Middleware
	effective   ConnectionHandler

	totalAccepted      atomic.Int64
	acceptErrors       atomic.Int64
	activeConns        atomic.Int64
	handledConnections atomic.Int64
	errorConnections   atomic.Int64
	droppedConnections atomic.Int64
}

var _ Server = (*TCPServer)(nil)

// TCPServerConfig configures the TCP server.
type TCPServerConfig struct {
	Addr string

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// Logger defaults to core.NewDefaultLogger().
	Logger core.Logger
}

// DefaultTCPServerConfig returns the default configuration for addr
func DefaultTCPServerConfig(addr string) *TCPServerConfig {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return &TCPServerConfig{
		Addr: addr,
	}
}

// NewTCPServer creates a TCP server that runs connections on pool.
func NewTCPServer(pool concurrency.Executor, config *TCPServerConfig) *TCPServer {
	failfast.NotNil(pool, "pool")
	if config == nil {
		config = DefaultTCPServerConfig("")
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		BaseServer: core.NewBaseServer("tcp-server", config.Logger),
		addr:       config.Addr,
		config:     config,
		pool:       pool,
		baseCtx:    ctx,
		cancel:     cancel,
		handler:    defaultConnectionHandler,
	}
	s.effective = s.handler

	s.BaseServer.SetHooks(s.doStart, s.doStop)
	return s
}

func defaultConnectionHandler(ctx *ConnContext) error {
	return nil
}

// SetHandler sets the connection handler (fail-fast on nil).
func (s *TCPServer) SetHandler(handler ConnectionHandler) {
	if handler == nil {
		panic("tcp handler cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.rebuildHandlerLocked()
}

// Use adds middleware; call before Start. Panics if any middleware is nil.
func (s *TCPServer) Use(mw ...Middleware) {
	if len(mw) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mw {
		if m == nil {
			panic("tcp middleware cannot be nil")
		}
		s.middlewares = append(s.middlewares, m)
	}
	s.rebuildHandlerLocked()
}

func (s *TCPServer) rebuildHandlerLocked() {
	h := s.handler
	// First registered runs outermost.
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.effective = h
}

// ListeningAddr returns the actual listening address (useful when Addr is ":0").
// Returns empty string if not currently listening.
func (s *TCPServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// doStart listens and runs the accept loop until Stop.
func (s *TCPServer) doStart() error {
	var (
		ln  net.Listener
		err error
	)
	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Infof("Started: echo server listening on %s", ln.Addr())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.acceptErrors.Add(1)
			s.Logger().Warnf("Could not establish connection due to: %v", err)

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.totalAccepted.Add(1)
		s.activeConns.Add(1)
		s.pool.ExecuteOrDrop(s.connWorkItem(conn), func() { s.dropConn(conn) })
	}
}

// doStop closes the listener and cancels the context handed to handlers.
func (s *TCPServer) doStop() error {
	s.stopping.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	s.cancel()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// connWorkItem builds the unit of work that owns conn from here on.
func (s *TCPServer) connWorkItem(conn net.Conn) concurrency.WorkItem {
	return func() {
		s.serveConn(conn)
	}
}

// dropConn releases a connection the pool will never run.
func (s *TCPServer) dropConn(conn net.Conn) {
	defer s.activeConns.Add(-1)
	s.droppedConnections.Add(1)
	s.Logger().Warnf("Dropping connection from %s, worker pool is not accepting work", conn.RemoteAddr())
	_ = conn.Close()
}

func (s *TCPServer) serveConn(conn net.Conn) {
	defer s.activeConns.Add(-1)
	defer func() { _ = conn.Close() }()

	id := core.GenerateConnID()
	logger := s.Logger().WithFields(map[string]interface{}{
		"conn_id": id,
		"remote":  conn.RemoteAddr().String(),
	})
	cctx := &ConnContext{
		BaseConnContext: core.NewBaseConnContext(),
		Context:         core.WithConnID(s.baseCtx, id),
		Conn:            conn,
		ID:              id,
		Logger:          logger,
		LocalAddr:       conn.LocalAddr(),
		RemoteAddr:      conn.RemoteAddr(),
	}

	s.mu.RLock()
	h := s.effective
	s.mu.RUnlock()

	s.handledConnections.Add(1)

	// A panic must stay inside this connection; the worker running it does
	// not recover.
	defer func() {
		if r := recover(); r != nil {
			s.errorConnections.Add(1)
			logger.Errorf("panic in tcp handler (isolated): %v", r)
		}
	}()
	if err := h(cctx); err != nil {
		s.errorConnections.Add(1)
		logger.Errorf("tcp handler error: %v", err)
	}
}

// Metrics returns current server metrics.
func (s *TCPServer) Metrics() ServerMetrics {
	return ServerMetrics{
		TotalAccepted:      s.totalAccepted.Load(),
		AcceptErrors:       s.acceptErrors.Load(),
		ActiveConnections:  s.activeConns.Load(),
		HandledConnections: s.handledConnections.Load(),
		ErrorConnections:   s.errorConnections.Load(),
		DroppedConnections: s.droppedConnections.Load(),
	}
}
