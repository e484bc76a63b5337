package driverctx

import (
	"context"
)

// Key names to look for values in context.
// Using a custom type to prevent key collision.
type contextKey int

const (
	CorrelationIdContextKey contextKey = iota
	ConnIdContextKey
)

// NewContextWithCorrelationId creates a new context with a correlationId value.
// The correlation id is a user specified id used to track what happens under a
// request. It appears in log messages and driver errors as field corrId.
func NewContextWithCorrelationId(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, CorrelationIdContextKey, correlationId)
}

// CorrelationIdFromContext retrieves the correlationId stored in context.
func CorrelationIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	corrId, ok := ctx.Value(CorrelationIdContextKey).(string)
	if !ok {
		return ""
	}
	return corrId
}

// NewContextWithConnId creates a new context with a connectionId value.
// The connection id is displayed in log messages and other diagnostic
// information. Connections can be reused so it tracks across statements.
func NewContextWithConnId(ctx context.Context, connId string) context.Context {
	return context.WithValue(ctx, ConnIdContextKey, connId)
}

// ConnIdFromContext retrieves the connectionId stored in context.
func ConnIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	connId, ok := ctx.Value(ConnIdContextKey).(string)
	if !ok {
		return ""
	}
	return connId
}
