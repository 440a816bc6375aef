package tcp

import "time"

// Logging logs the start and end of every connection at debug level, and the
// handler's error (if any) at the end.
func Logging() Middleware {
	return func(next ConnectionHandler) ConnectionHandler {
		return func(ctx *ConnContext) error {
			start := time.Now()
			ctx.Logger.Debugf("connection opened")

			err := next(ctx)

			if err != nil {
				ctx.Logger.Debugf("connection closed after %s: %v", time.Since(start), err)
			} else {
				ctx.Logger.Debugf("connection closed after %s", time.Since(start))
			}
			return err
		}
	}
}

// Chain composes middlewares so that the first one runs outermost
func Chain(mw ...Middleware) Middleware {
	return func(next ConnectionHandler) ConnectionHandler {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}
