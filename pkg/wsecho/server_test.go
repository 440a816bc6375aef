package wsecho

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/core/concurrency"
)

type recorder struct {
	mu     sync.Mutex
	opened int
	closed int
	bytes  int64
	errs   int
}

func (r *recorder) ConnectionOpened(transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
}

func (r *recorder) ConnectionClosed(transport string, bytesEchoed int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.bytes += bytesEchoed
	if err != nil {
		r.errs++
	}
}

func (r *recorder) snapshot() (opened, closed int, bytes int64, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened, r.closed, r.bytes, r.errs
}

func newTestServer(t *testing.T, workers int, cfg Config) (*Server, string) {
	t.Helper()
	pool := concurrency.NewWorkerPool(workers, concurrency.WithLogger(core.NewNopLogger()))
	return newTestServerOnPool(t, pool, cfg)
}

func newTestServerOnPool(t *testing.T, pool *concurrency.WorkerPool, cfg Config) (*Server, string) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	s := NewServer(pool, cfg)
	hs := httptest.NewServer(s)

	// Stop first so blocked echo loops end, then drain the pool.
	t.Cleanup(func() {
		_ = s.Stop()
		hs.Close()
		pool.Close()
	})
	return s, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewServer_FailFast_NilPoolPanics(t *testing.T) {
	assert.Panics(t, func() { NewServer(nil, Config{}) })
}

func TestServer_EchoesTextAndBinary(t *testing.T) {
	rec := &recorder{}
	_, url := newTestServer(t, 2, Config{Recorder: rec})
	conn := dial(t, url)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2}))
	mt, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0, 1, 2}, data)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		_, closed, _, _ := rec.snapshot()
		return closed == 1
	}, 2*time.Second, 10*time.Millisecond)

	opened, _, bytes, errs := rec.snapshot()
	assert.Equal(t, 1, opened)
	assert.Equal(t, int64(8), bytes)
	assert.Zero(t, errs)
}

func TestServer_ConnectionsWaitForFreeWorker(t *testing.T) {
	s, url := newTestServer(t, 1, Config{})

	first := dial(t, url)
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("a")))
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	// The only worker is serving the first connection.
	second := dial(t, url)
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("b")))
	_ = second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = second.ReadMessage()
	require.Error(t, err)

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Upgraded)
	assert.Equal(t, int64(2), stats.Active)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return s.Stats().Active == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func assertTryAgainLater(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestServer_ClosedPoolClosesConnection(t *testing.T) {
	rec := &recorder{}
	pool := concurrency.NewWorkerPool(1, concurrency.WithLogger(core.NewNopLogger()))
	pool.Close()
	s, url := newTestServerOnPool(t, pool, Config{Recorder: rec})

	conn := dial(t, url)
	assertTryAgainLater(t, conn)

	require.Eventually(t, func() bool {
		return s.Stats().Active == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Stats{Upgraded: 1, Active: 0, Dropped: 1}, s.Stats())
	opened, _, _, _ := rec.snapshot()
	assert.Zero(t, opened)
}

func TestServer_ConnectionDiscardedAtShutdownIsClosed(t *testing.T) {
	pool := concurrency.NewWorkerPool(1, concurrency.WithLogger(core.NewNopLogger()))
	s, url := newTestServerOnPool(t, pool, Config{})

	first := dial(t, url)
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("a")))
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	// The worker is busy with the first connection, so the terminate signal
	// waits in the queue and the second connection lands behind it.
	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		return pool.Stats().QueuedMessages == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := dial(t, url)
	require.Eventually(t, func() bool {
		return s.Stats().Upgraded == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not close")
	}

	assertTryAgainLater(t, second)
	require.Eventually(t, func() bool {
		return s.Stats().Active == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, s.Stats().Dropped)
}

func TestServer_IdleTimeoutClosesConnection(t *testing.T) {
	rec := &recorder{}
	_, url := newTestServer(t, 1, Config{IdleTimeout: 30 * time.Millisecond, Recorder: rec})
	conn := dial(t, url)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		_, closed, _, _ := rec.snapshot()
		return closed == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, _, _, errs := rec.snapshot()
	assert.Zero(t, errs)
}

func TestServer_StopSendsGoingAway(t *testing.T) {
	s, url := newTestServer(t, 1, Config{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, s.Stop())

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestServer_RejectsUpgradeAfterStop(t *testing.T) {
	s, url := newTestServer(t, 1, Config{})
	require.NoError(t, s.Stop())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	pool := concurrency.NewWorkerPool(1, concurrency.WithLogger(core.NewNopLogger()))
	defer pool.Close()

	s := NewServer(pool, Config{Addr: "127.0.0.1:0", Logger: core.NewNopLogger()})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool { return s.ListeningAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+s.ListeningAddr()+"/ws", nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()

	require.NoError(t, s.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
