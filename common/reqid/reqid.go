// Package reqid provides request ID generation and context propagation so a
// whole lifecycle operation (resolve → start → poll → teardown) can be
// correlated across the individual HTTP calls it issues.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey is the unexported context key used to store the request ID.
type ctxKey struct{}

// New generates a fresh request ID.
func New() string {
	return uuid.New().String()
}

// WithID returns a child context carrying the given request ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from ctx. When ctx carries none, a
// fresh ID is generated so every outgoing request is always identifiable.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	return New()
}
