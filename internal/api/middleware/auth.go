package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ManagementAuth protects the management API with a shared key, accepted as
// either "Authorization: Bearer <key>" or "X-Management-Key: <key>". When no
// key is configured the management API is disabled entirely rather than left
// open. getKey is read per request so rotation takes effect immediately.
func ManagementAuth(getKey func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getKey()
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "MANAGEMENT_DISABLED",
					"message": "management API is disabled; set a management key to enable it",
				},
			})
			return
		}

		presented := c.GetHeader("X-Management-Key")
		if presented == "" {
			auth := c.GetHeader("Authorization")
			presented, _ = strings.CutPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "invalid or missing management key",
				},
			})
			return
		}
		c.Next()
	}
}
