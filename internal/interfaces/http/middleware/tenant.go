package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
)

const (
	TenantIDKey          = "tenant_id"
	EnvironmentKey       = "environment"
	TenantHeaderKey      = "X-Tenant-ID"
	EnvironmentHeaderKey = "X-Invoice-Environment"
)

// TenantMiddlewareConfig holds configuration for the tenant middleware
type TenantMiddlewareConfig struct {
	// DefaultEnvironment is used when the request names no invoicing environment
	DefaultEnvironment invoicing.Environment
	// SkipPaths are paths that don't require tenant context
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		DefaultEnvironment: invoicing.EnvironmentSandbox,
		SkipPaths:          []string{"/health", "/ready", "/api/v1/health"},
	}
}

// Tenant resolves the tenant session of the request: the X-Tenant-ID header
// (required, a UUID) and the invoicing environment (X-Invoice-Environment or
// the configured default). Both are stored in the gin context and in the
// request context, whose logger is enriched with them.
func Tenant(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		raw := c.GetHeader(TenantHeaderKey)
		if raw == "" {
			respondUnauthorized(c, "Tenant identification required")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			respondUnauthorized(c, "Invalid tenant ID format")
			return
		}

		env := cfg.DefaultEnvironment
		if h := c.GetHeader(EnvironmentHeaderKey); h != "" {
			env = invoicing.Environment(strings.ToLower(strings.TrimSpace(h)))
			if !env.IsValid() {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"success": false,
					"error":   gin.H{"code": "ERR_INVALID_INPUT", "message": "Unknown invoicing environment"},
				})
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		c.Set(EnvironmentKey, env)
		c.Request = c.Request.WithContext(logger.WithTenant(c.Request.Context(), tenantID.String(), string(env)))
		log.Debug("Tenant identified", zap.String("tenant_id", tenantID.String()), zap.String("environment", string(env)))
		c.Next()
	}
}

// GetTenantID returns the tenant resolved by Tenant
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetEnvironment returns the invoicing environment resolved by Tenant
func GetEnvironment(c *gin.Context) (invoicing.Environment, bool) {
	v, ok := c.Get(EnvironmentKey)
	if !ok {
		return "", false
	}
	env, ok := v.(invoicing.Environment)
	return env, ok
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": "ERR_UNAUTHORIZED", "message": message},
	})
}
