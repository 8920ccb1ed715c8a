// Package auth carries the caller identity established by the upstream
// authentication layer through request contexts.
package auth

import (
	"context"
	"strings"
)

// Anonymous is the caller identity used when none was supplied.
const Anonymous = "anonymous"

// HeaderUserID is the request header carrying the authenticated user id.
const HeaderUserID = "X-User-ID"

type contextKey string

const callerKey contextKey = "caller"

// WithCaller returns a context that carries the caller identity.
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey, strings.TrimSpace(caller))
}

// CallerFrom returns the caller identity, or Anonymous when absent.
func CallerFrom(ctx context.Context) string {
	if ctx == nil {
		return Anonymous
	}
	caller, ok := ctx.Value(callerKey).(string)
	if !ok || caller == "" {
		return Anonymous
	}
	return caller
}
