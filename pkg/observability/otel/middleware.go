package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/echod/pkg/echo"
	"github.com/fluxorio/echod/pkg/tcp"
)

// TCPMiddleware wraps each connection in a server span. Handlers further down
// the chain see the span through ctx.Context.
func TCPMiddleware() tcp.Middleware {
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) error {
			attrs := []attribute.KeyValue{
				attribute.String("echod.conn_id", ctx.ID),
				attribute.String("network.transport", "tcp"),
			}
			if ctx.RemoteAddr != nil {
				attrs = append(attrs, attribute.String("network.peer.address", ctx.RemoteAddr.String()))
			}

			spanCtx, span := Tracer().Start(ctx.Context, "echo.connection",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			ctx.Context = spanCtx

			err := next(ctx)

			span.SetAttributes(attribute.Int64("echod.bytes_echoed", ctx.GetInt64(echo.BytesEchoedKey)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
