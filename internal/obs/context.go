package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
)

type routePatternKey struct{}

// WithRoutePattern stores an explicit route pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the explicit route pattern or, failing
// that, the pattern chi matched. chi fills the pattern while routing, so
// middlewares must call this after the next handler returns.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok && v != "" {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
