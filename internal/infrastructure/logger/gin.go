package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// quietPaths are probe endpoints logged at debug level on success
var quietPaths = map[string]struct{}{
	"/health": {},
	"/ready":  {},
}

// GinMiddleware attaches a request-scoped logger to the request context and
// logs one line per request once the handler chain has run. The tenant
// middleware further down enriches the same logger, so the access line
// carries tenant_id and environment when the route is tenant scoped.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		reqLogger := logger.With(
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		c.Request = req.WithContext(WithRequestID(req.Context(), reqLogger, c.GetString("request_id")))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if route := c.FullPath(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if q := req.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		l := FromContext(c.Request.Context(), reqLogger)
		switch {
		case status >= http.StatusInternalServerError:
			l.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			l.Warn("request rejected", fields...)
		default:
			if _, quiet := quietPaths[req.URL.Path]; quiet {
				l.Debug("request", fields...)
				return
			}
			l.Info("request", fields...)
		}
	}
}

// Recovery turns a handler panic into a 500 envelope and logs the stack
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			FromContext(c.Request.Context(), logger).Error("panic recovered",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":       "ERR_INTERNAL",
					"message":    "An unexpected error occurred",
					"request_id": c.GetString("request_id"),
				},
			})
		}()
		c.Next()
	}
}
