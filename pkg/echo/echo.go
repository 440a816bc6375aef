// Package echo writes back every byte a peer sends until the peer is done.
package echo

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/tcp"
)

// DefaultBufferSize is the size of the per-connection read buffer
const DefaultBufferSize = 1024

// BytesEchoedKey is the ConnContext key under which Handler stores the number
// of bytes written back (int64).
const BytesEchoedKey = "echo.bytes_echoed"

// Config configures the echo handler
type Config struct {
	// BufferSize bounds a single read. Defaults to DefaultBufferSize.
	BufferSize int

	// IdleTimeout ends a stream that has been silent this long. Zero waits
	// forever.
	IdleTimeout time.Duration
}

// Result summarizes one echoed stream
type Result struct {
	BytesEchoed int64
	Rounds      int
}

// Echo performs one read and writes back exactly what was read. It returns
// the number of bytes read; a read error is returned only after the bytes
// that came with it have been written.
func Echo(rw io.ReadWriter, buf []byte) (int, error) {
	n, err := rw.Read(buf)
	if n > 0 {
		if _, werr := rw.Write(buf[:n]); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Stream echoes rw until the peer finishes sending, an I/O error occurs or ctx
// is done. End of stream is not an error.
func Stream(ctx context.Context, rw io.ReadWriter, buf []byte, logger core.Logger) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := Echo(rw, buf)
		if n > 0 {
			res.BytesEchoed += int64(n)
			res.Rounds++
		}

		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			logger.Infof("All bytes were read")
			return res, nil
		}
		if err != nil {
			logger.Warnf("Stopping further processing of stream due to: %v", err)
			return res, err
		}
	}
}

// Handler returns a tcp.ConnectionHandler that echoes each connection. When
// the server stops, blocked reads are interrupted and the stream ends without
// an error.
func Handler(cfg Config) tcp.ConnectionHandler {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	return func(ctx *tcp.ConnContext) error {
		stop := context.AfterFunc(ctx.Context, func() {
			_ = ctx.Conn.SetReadDeadline(time.Now())
		})
		defer stop()

		var rw io.ReadWriter = ctx.Conn
		if cfg.IdleTimeout > 0 {
			rw = &idleConn{Conn: ctx.Conn, timeout: cfg.IdleTimeout}
		}

		res, err := Stream(ctx.Context, rw, make([]byte, size), ctx.Logger)
		ctx.Set(BytesEchoedKey, res.BytesEchoed)

		if ctx.Context.Err() != nil {
			return nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			ctx.Logger.Debugf("connection idle for %s, closing", cfg.IdleTimeout)
			return nil
		}
		return err
	}
}

// idleConn pushes the read deadline forward before every read.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
