package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit bounds bulk request payloads (1MB)
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit rejects requests whose declared body exceeds maxBytes and caps
// the body reader for chunked requests
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   gin.H{"code": "ERR_REQUEST_TOO_LARGE", "message": "Request body exceeds maximum allowed size"},
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
