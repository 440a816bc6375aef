package prometheus

import (
	"github.com/fluxorio/echod/pkg/echo"
	"github.com/fluxorio/echod/pkg/tcp"
)

// TCPMiddleware records connection metrics for every TCP connection. Bytes are
// read from the value the echo handler leaves under echo.BytesEchoedKey.
func TCPMiddleware(m *Metrics) tcp.Middleware {
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) (err error) {
			m.ConnectionOpened(TransportTCP)
			defer func() {
				m.ConnectionClosed(TransportTCP, ctx.GetInt64(echo.BytesEchoedKey), err)
			}()
			return next(ctx)
		}
	}
}
