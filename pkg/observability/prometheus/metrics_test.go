package prometheus

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/core/concurrency"
	"github.com/fluxorio/echod/pkg/echo"
	"github.com/fluxorio/echod/pkg/tcp"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics_RegistersAllSeries(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ConnectionOpened(TransportTCP)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	// 7 pool series + total and active for one transport
	assert.Equal(t, 9, n)
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_ConnectionLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ConnectionOpened(TransportTCP)
	m.ConnectionOpened(TransportWebSocket)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues(TransportTCP)))

	m.ConnectionClosed(TransportTCP, 42, nil)
	m.ConnectionClosed(TransportWebSocket, 0, errors.New("reset"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues(TransportTCP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsTotal.WithLabelValues(TransportTCP)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.BytesEchoed.WithLabelValues(TransportTCP)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionErrors.WithLabelValues(TransportTCP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionErrors.WithLabelValues(TransportWebSocket)))
}

func TestPoolObserver_TracksPoolLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	pool := concurrency.NewWorkerPool(3,
		concurrency.WithLogger(core.NewNopLogger()),
		concurrency.WithObserver(NewPoolObserver(m)),
	)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoolWorkers))

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		pool.Execute(func() { wg.Done() })
	}
	wg.Wait()
	pool.Close()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.PoolWorkers))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PoolTasksSubmitted))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PoolTasksCompleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PoolBusyWorkers))

	pool.Execute(func() {})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolTasksDropped))
}

type fixedStats concurrency.PoolStats

func (s fixedStats) Stats() concurrency.PoolStats { return concurrency.PoolStats(s) }

func TestMetrics_RunPoolStatsUpdater(t *testing.T) {
	m, _ := newTestMetrics(t)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		m.RunPoolStatsUpdater(fixedStats{QueuedMessages: 7}, time.Hour, stop)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PoolQueueLength) == 7
	}, time.Second, 5*time.Millisecond)

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("updater did not stop")
	}
}

func TestTCPMiddleware_RecordsConnection(t *testing.T) {
	m, _ := newTestMetrics(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cctx := &tcp.ConnContext{
		BaseConnContext: core.NewBaseConnContext(),
		Conn:            server,
		Logger:          core.NewNopLogger(),
	}
	handler := TCPMiddleware(m)(func(ctx *tcp.ConnContext) error {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues(TransportTCP)))
		ctx.Set(echo.BytesEchoedKey, int64(11))
		return errors.New("peer reset")
	})

	require.Error(t, handler(cctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues(TransportTCP)))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.BytesEchoed.WithLabelValues(TransportTCP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionErrors.WithLabelValues(TransportTCP)))
}
