package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/config"
)

const (
	corsAllowHeaders = "Content-Type, Content-Length, Accept, Authorization, Cache-Control, X-Requested-With, " + RequestIDHeader
	corsAllowMethods = "GET, POST, OPTIONS"
	// Clients need the request id to correlate logs and the SSE content type.
	corsExposeHeaders = "Content-Length, Content-Type, " + RequestIDHeader
)

// CORS answers preflight requests and sets the allow headers for origins
// permitted by cfg. Requests from other origins pass through without CORS
// headers so the browser blocks them.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()

		switch {
		case cfg.AllowAllOrigins:
			// wildcard origins never carry credentials
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(origin, cfg.AllowedOrigins):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		default:
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
			return true
		}
	}
	return false
}
