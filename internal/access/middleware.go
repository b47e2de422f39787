package access

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/util"
)

// PrincipalKey is the gin context key holding the authenticated client key.
const PrincipalKey = "accessPrincipal"

// Middleware authenticates the request with manager and applies limiter to the
// resulting principal. Unauthenticated deployments are limited per client IP.
func Middleware(manager *Manager, limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, authErr := manager.Authenticate(c.Request.Context(), c.Request)
		if authErr != nil {
			logging.Entry(c.Request.Context()).Warnf("auth failure for %s %s: %s", c.Request.Method, c.Request.URL.Path, authErr.Message)
			c.AbortWithStatusJSON(authErr.HTTPStatusCode(), gin.H{
				"error": gin.H{
					"message": authErr.Message,
					"type":    "invalid_request_error",
					"param":   nil,
					"code":    string(authErr.Code),
				},
			})
			return
		}

		principal := c.ClientIP()
		if result != nil {
			principal = result.Principal
			c.Set(PrincipalKey, principal)
			logging.Entry(c.Request.Context()).Debugf("auth success via %s key=%s", result.Metadata["source"], util.HideAPIKey(principal))
		}

		if ok, wait := limiter.Allow(principal); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "Rate limit exceeded. Please retry later.",
					"type":    "rate_limit_error",
					"param":   nil,
					"code":    "rate_limit_exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
