package middleware

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// ClientMeta holds request metadata for the decision log.
type ClientMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
}

type requestMetaKey struct{}

// ContextWithRequestMeta stores meta in ctx.
func ContextWithRequestMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the metadata stored by RequestMeta, if any.
func RequestMetaFromContext(ctx context.Context) (ClientMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(ClientMeta)

	return meta, ok
}

// RequestMeta is a middleware that adds client IP, user-agent, and referrer to the request context.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := ClientMeta{
			ClientIP:  clientIP(ctx),
			UserAgent: ctx.Header("User-Agent"),
			Referrer:  ctx.Header("Referer"),
		}

		ctx = huma.WithContext(ctx, ContextWithRequestMeta(ctx.Context(), meta))

		next(ctx)
	}
}
