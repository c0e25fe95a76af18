package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
)

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	ServiceName string
	Enabled     bool
	// SkipPaths are not traced (health probes)
	SkipPaths []string
}

// DefaultTracingConfig returns default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "fulfillment",
		Enabled:     true,
		SkipPaths:   []string{"/health", "/ready"},
	}
}

// Tracing starts an otelgin server span for every request outside SkipPaths
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	return otelgin.Middleware(cfg.ServiceName, otelgin.WithFilter(func(r *http.Request) bool {
		_, skipped := skip[r.URL.Path]
		return !skipped
	}))
}

// SpanAttributes tags the active server span with the request id and the
// tenant session. It runs after Tracing, RequestID and Tenant.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if tenantID, ok := GetTenantID(c); ok {
				span.SetAttributes(attribute.String(telemetry.SpanAttrTenantID, tenantID.String()))
			}
			if env, ok := GetEnvironment(c); ok {
				span.SetAttributes(attribute.String(telemetry.SpanAttrEnvironment, string(env)))
			}
		}
		c.Next()
	}
}
