package auth

import (
	"context"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

type callerContextKey struct{}
type tokenContextKey struct{}

// ContextWithCaller attaches the invoking principal's address to the context.
func ContextWithCaller(ctx context.Context, caller capability.Address) context.Context {
	caller = capability.Address(strings.TrimSpace(string(caller)))
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller address if one was attached.
func CallerFromContext(ctx context.Context) (capability.Address, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(callerContextKey{}).(capability.Address)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

type callerTokenContextKey struct{}

// ContextWithCallerToken stores a signed caller assertion for outgoing calls.
func ContextWithCallerToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, callerTokenContextKey{}, token)
}

// CallerTokenFromContext returns the caller assertion if one was attached.
func CallerTokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(callerTokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
