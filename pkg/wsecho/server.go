// Package wsecho serves a WebSocket echo endpoint whose connections run on the
// same worker pool as the TCP listener.
package wsecho

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/core/concurrency"
	"github.com/fluxorio/echod/pkg/core/failfast"
)

const transport = "websocket"

// ConnectionRecorder receives connection lifecycle events (implemented by
// the prometheus Metrics)
type ConnectionRecorder interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string, bytesEchoed int64, err error)
}

// Config configures the WebSocket echo server
type Config struct {
	Addr string
	Path string

	// MaxMessageSize bounds a single inbound message. Defaults to 64 KiB.
	MaxMessageSize int64

	// IdleTimeout closes a connection that sent nothing for this long. Zero
	// waits forever.
	IdleTimeout time.Duration

	Logger   core.Logger
	Recorder ConnectionRecorder
}

// Server upgrades HTTP requests on Path and echoes every message back with
// its original type.
type Server struct {
	*core.BaseServer

	cfg      Config
	pool     concurrency.Executor
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	srv      *http.Server
	listener net.Listener
	stopping atomic.Bool

	upgraded atomic.Int64
	active   atomic.Int64
	dropped  atomic.Int64
}

// Stats counts WebSocket connections
type Stats struct {
	Upgraded int64 `json:"upgraded"` // Upgrades handed to the pool
	Active   int64 `json:"active"`   // Submitted and not yet closed
	Dropped  int64 `json:"dropped"`  // Closed unserved because the pool dropped them
}

// NewServer creates a WebSocket echo server that runs connections on pool.
func NewServer(pool concurrency.Executor, cfg Config) *Server {
	failfast.NotNil(pool, "pool")
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8081"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 << 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		BaseServer: core.NewBaseServer("ws-server", cfg.Logger),
		cfg:        cfg,
		pool:       pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	s.BaseServer.SetHooks(s.doStart, s.doStop)
	return s
}

// ServeHTTP lets the server be mounted on any http.Server (or httptest)
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.stopping.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.Logger().Warnf("websocket upgrade failed: %v", err)
		return
	}

	s.upgraded.Add(1)
	s.active.Add(1)
	s.pool.ExecuteOrDrop(func() {
		s.serveConn(conn)
	}, func() {
		s.dropConn(conn)
	})
}

// dropConn tells the peer to come back later and releases a connection the
// pool will never run.
func (s *Server) dropConn(conn *websocket.Conn) {
	defer s.active.Add(-1)
	s.dropped.Add(1)
	s.Logger().Warnf("Dropping websocket connection from %s, worker pool is not accepting work", conn.RemoteAddr())
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server overloaded"),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer s.active.Add(-1)
	defer conn.Close()

	id := core.GenerateConnID()
	logger := s.Logger().WithFields(map[string]interface{}{
		"conn_id": id,
		"remote":  conn.RemoteAddr().String(),
	})

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.ConnectionOpened(transport)
	}

	stop := context.AfterFunc(s.baseCtx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	bytes, err := s.echo(conn, logger)

	if s.baseCtx.Err() != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		err = nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = nil
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.ConnectionClosed(transport, bytes, err)
	}
}

// echo returns the number of payload bytes written back. A normal close by
// the peer is not an error.
func (s *Server) echo(conn *websocket.Conn, logger core.Logger) (int64, error) {
	var total int64
	for {
		if s.cfg.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				return total, err
			}
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Infof("All messages were read")
				return total, nil
			}
			logger.Warnf("Stopping further processing of stream due to: %v", err)
			return total, err
		}

		if err := conn.WriteMessage(mt, data); err != nil {
			logger.Warnf("Stopping further processing of stream due to: %v", err)
			return total, err
		}
		total += int64(len(data))
	}
}

// doStart listens on Addr and serves until Stop
func (s *Server) doStart() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		return ln.Close()
	}
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Infof("websocket echo listening on ws://%s%s", ln.Addr(), s.cfg.Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// doStop stops accepting upgrades and tells running connections to wind down.
// Hijacked connections are not tracked by http.Server; they end through the
// cancelled context.
func (s *Server) doStop() error {
	s.stopping.Store(true)
	s.cancel()

	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// ListeningAddr returns the bound address, or "" when not listening
func (s *Server) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats returns a snapshot of the connection counters
func (s *Server) Stats() Stats {
	return Stats{
		Upgraded: s.upgraded.Load(),
		Active:   s.active.Load(),
		Dropped:  s.dropped.Load(),
	}
}
