package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"progkeeper/api/internal/service"
)

// RequireSelf rejects requests whose :param user id is not the caller's.
// It must run after Auth.
func RequireSelf(gateway *service.Gateway, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}

		target, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || target <= 0 {
			abort(c, http.StatusBadRequest, "invalid user id")
			return
		}

		if err := gateway.RequireSelf(target, identity); err != nil {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}

		c.Next()
	}
}
