package tcp

import (
	"context"
	"net"

	"github.com/fluxorio/echod/pkg/core"
)

// Server is a stream listener whose connections are served by a worker pool.
type Server interface {
	// Start listens and runs the accept loop (blocking).
	Start() error

	// Stop closes the listener. It does not close the worker pool.
	Stop() error

	// SetHandler sets the connection handler (fail-fast on nil).
	SetHandler(handler ConnectionHandler)

	// Metrics returns current server metrics.
	Metrics() ServerMetrics
}

// ConnectionHandler serves one connection on a pool worker. The server closes
// the connection after the handler returns.
type ConnectionHandler func(ctx *ConnContext) error

// Middleware wraps a ConnectionHandler
type Middleware func(next ConnectionHandler) ConnectionHandler

// ConnContext is what a handler gets for one accepted connection.
type ConnContext struct {
	*core.BaseConnContext

	// Context is cancelled when the server stops; it carries the conn ID.
	Context context.Context
	Conn    net.Conn
	ID      string
	Logger  core.Logger

	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// ServerMetrics provides TCP server counters.
type ServerMetrics struct {
	TotalAccepted      int64 // Connections accepted and submitted to the pool
	AcceptErrors       int64 // Accept calls that failed
	ActiveConnections  int64 // Submitted and not yet closed (queued + handling)
	HandledConnections int64 // Connections whose handler has started
	ErrorConnections   int64 // Handlers that returned an error or panicked
	DroppedConnections int64 // Closed unserved because the pool dropped them
}
