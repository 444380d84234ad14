package middleware

import (
	"net/http"

	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// DefaultMaxBodySize applies when no limit is configured
const DefaultMaxBodySize int64 = 10 << 20

// BodyLimitOption configures BodyLimit
type BodyLimitOption func(map[string]int64)

// WithRouteLimit overrides the limit for one route pattern, as gin reports it
// through FullPath (e.g. "/api/v1/backup/restore"). Backup packages are
// larger than ordinary record writes.
func WithRouteLimit(fullPath string, maxBytes int64) BodyLimitOption {
	return func(routes map[string]int64) {
		if maxBytes > 0 {
			routes[fullPath] = maxBytes
		}
	}
}

// BodyLimit rejects bodies larger than maxBytes with 413, and caps streamed
// bodies that carry no Content-Length
func BodyLimit(maxBytes int64, opts ...BodyLimitOption) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	routes := make(map[string]int64)
	for _, opt := range opts {
		opt(routes)
	}

	return func(c *gin.Context) {
		limit := maxBytes
		if override, ok := routes[c.FullPath()]; ok {
			limit = override
		}
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRequestTooLarge,
				"Request body exceeds maximum allowed size",
				GetRequestID(c),
			))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
