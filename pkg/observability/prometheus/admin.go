package prometheus

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/echod/pkg/core"
)

// ReadinessCheck returns nil when its component can serve traffic
type ReadinessCheck func() error

// AdminConfig configures the admin HTTP endpoint
type AdminConfig struct {
	Addr   string
	Logger core.Logger
}

// AdminServer serves /metrics, /live, /ready and /stats over fasthttp.
type AdminServer struct {
	*core.BaseServer

	addr     string
	srv      *fasthttp.Server
	metrics  fasthttp.RequestHandler
	stopping atomic.Bool

	mu       sync.RWMutex
	listener net.Listener
	checks   map[string]ReadinessCheck
	stats    func() interface{}
}

// NewAdminServer creates an admin server exposing gatherer on /metrics.
// A nil gatherer means DefaultRegistry.
func NewAdminServer(cfg AdminConfig, gatherer prometheus.Gatherer) *AdminServer {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9090"
	}

	s := &AdminServer{
		BaseServer: core.NewBaseServer("admin-server", cfg.Logger),
		addr:       cfg.Addr,
		metrics:    fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
		checks:     make(map[string]ReadinessCheck),
	}
	s.srv = &fasthttp.Server{
		Handler:               s.Handler,
		Name:                  "echod-admin",
		NoDefaultServerHeader: true,
		Logger:                printfLogger{s.Logger()},
	}
	s.BaseServer.SetHooks(s.doStart, s.doStop)
	return s
}

// AddReadinessCheck registers a named check consulted by /ready
func (s *AdminServer) AddReadinessCheck(name string, check ReadinessCheck) {
	if check == nil {
		panic("readiness check cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// SetStats sets the source for /stats; the value is encoded as JSON
func (s *AdminServer) SetStats(fn func() interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = fn
}

// Handler routes admin requests
func (s *AdminServer) Handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	switch string(ctx.Path()) {
	case "/metrics":
		s.metrics(ctx)
	case "/live":
		writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"status": "up"})
	case "/ready":
		s.handleReady(ctx)
	case "/stats":
		s.handleStats(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *AdminServer) handleReady(ctx *fasthttp.RequestCtx) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]ReadinessCheck, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	ready := true
	results := make(map[string]string, len(names))
	for i, name := range names {
		if err := checks[i](); err != nil {
			ready = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := fasthttp.StatusOK
	if !ready {
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, map[string]interface{}{
		"ready":  ready,
		"checks": results,
	})
}

func (s *AdminServer) handleStats(ctx *fasthttp.RequestCtx) {
	s.mu.RLock()
	fn := s.stats
	s.mu.RUnlock()

	if fn == nil {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, fn())
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		ctx.Error("encode response: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// Serve serves admin requests on ln until Stop. Start uses it with a TCP
// listener; tests pass an in-memory one.
func (s *AdminServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Infof("admin endpoint listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !s.stopping.Load() {
		return err
	}
	return nil
}

// ListeningAddr returns the bound address, or "" when not serving
func (s *AdminServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *AdminServer) doStart() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *AdminServer) doStop() error {
	s.stopping.Store(true)

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	return s.srv.Shutdown()
}

// printfLogger adapts core.Logger to fasthttp.Logger
type printfLogger struct {
	logger core.Logger
}

func (l printfLogger) Printf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}
