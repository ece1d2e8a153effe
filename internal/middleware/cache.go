package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids clients and proxies from caching the response.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
