// Package middleware provides HTTP middleware for the llmgate server.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxRequestSize caps stream request bodies. Submissions are plain
// text, so a couple of megabytes is already generous.
const DefaultMaxRequestSize = 2 * 1024 * 1024 // 2MB

// RequestSizeLimit returns middleware that caps the request body size via
// http.MaxBytesReader, which answers oversized bodies with HTTP 413 and
// closes the connection. getMaxBytes is read per request so a config reload
// takes effect without a restart.
func RequestSizeLimit(getMaxBytes func() int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		maxBytes := getMaxBytes()
		if maxBytes <= 0 {
			maxBytes = DefaultMaxRequestSize
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
