package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"LobbyHub/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin rejects browser requests whose Origin header is not in allowed.
// An empty list accepts every origin; requests without an Origin header
// (non-browser clients) always pass.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 {
			c.Next()
			return
		}
		origin := strings.TrimRight(strings.ToLower(c.GetHeader("Origin")), "/")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrUnauthorized.WithDetail("origin not allowed"))
			return
		}
		c.Next()
	}
}

// InternalToken guards service-to-service routes with a shared token in the
// X-Internal-Token header. An empty expected token disables those routes.
func InternalToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Internal-Token")
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("internal token"))
			return
		}
		c.Next()
	}
}
