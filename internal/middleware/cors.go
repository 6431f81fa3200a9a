package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func originAllowed(origin, clientURL string) bool {
	if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
		return true
	}
	return clientURL != "" && origin == clientURL
}

// CORS echoes allowed origins (local dev hosts and the configured client URL)
// with credentials. Requests without an Origin header pass through untouched.
func CORS(clientURL string) gin.HandlerFunc {
	clientURL = strings.TrimRight(clientURL, "/")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origin, clientURL) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			h.Set("Access-Control-Expose-Headers", "Content-Disposition")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
