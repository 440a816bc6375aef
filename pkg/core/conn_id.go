package core

import (
	"context"

	"github.com/google/uuid"
)

type connIDKey struct{}

// WithConnID stores a connection ID in ctx
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

// GetConnID returns the connection ID stored in ctx, or ""
func GetConnID(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateConnID returns a fresh random (v4) UUID string
func GenerateConnID() string {
	return uuid.New().String()
}

// WithNewConnID stores a freshly generated connection ID in ctx
func WithNewConnID(ctx context.Context) context.Context {
	return WithConnID(ctx, GenerateConnID())
}
