package common

import "context"

type callerKey struct{}

// WithCaller attaches the site user making MCP calls to ctx. The HTTP
// transport sets it from the request headers.
func WithCaller(ctx context.Context, caller string) context.Context {
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller resolves who a tool call is made by.
//
// Priority order:
//  1. The caller attached by the transport
//  2. fallback, normally Services.DefaultOwner
func Caller(ctx context.Context, fallback string) string {
	if caller, ok := ctx.Value(callerKey{}).(string); ok && caller != "" {
		return caller
	}
	return fallback
}
