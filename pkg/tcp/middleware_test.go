package tcp

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fluxorio/echod/pkg/core"
)

func TestChain_FirstMiddlewareRunsOutermost(t *testing.T) {
	var trace []string
	record := func(name string) Middleware {
		return func(next ConnectionHandler) ConnectionHandler {
			return func(ctx *ConnContext) error {
				trace = append(trace, name+">")
				err := next(ctx)
				trace = append(trace, "<"+name)
				return err
			}
		}
	}

	h := Chain(record("a"), record("b"), Logging())(func(ctx *ConnContext) error {
		trace = append(trace, "handler")
		return nil
	})
	if err := h(&ConnContext{Logger: core.NewNopLogger()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a>", "b>", "handler", "<b", "<a"}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("unexpected order: got %v, want %v", trace, want)
	}
}

func TestChain_EmptyReturnsHandler(t *testing.T) {
	errBoom := errors.New("boom")
	h := Chain()(func(ctx *ConnContext) error { return errBoom })
	if err := h(&ConnContext{}); !errors.Is(err, errBoom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}
