package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const (
	// ContextKeyPrincipal is the Gin context key for the verified principal.
	ContextKeyPrincipal = "principal"
)

// RequireToken verifies the bearer token and stores the principal on the
// context.
func RequireToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		p, err := identity.Verify(secret, token)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyPrincipal, p)
		c.Next()
	}
}

// GetPrincipal retrieves the verified principal from the Gin context.
func GetPrincipal(c *gin.Context) (identity.Principal, bool) {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return identity.Principal{}, false
	}
	p, ok := val.(identity.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
