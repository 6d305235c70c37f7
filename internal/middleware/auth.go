package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"progkeeper/api/internal/metrics"
	"progkeeper/api/internal/service"
)

const identityKey = "identity"

// Auth resolves the bearer token into an identity. Every successful call
// slides the session forward and records the client address.
func Auth(gateway *service.Gateway, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		identity, err := gateway.Authenticate(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			if service.KindOf(err) == service.KindUnauthenticated {
				m.AuthenticationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
				abort(c, http.StatusUnauthorized, "authentication required")
				return
			}
			m.AuthenticationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("authenticate failed")
			abort(c, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}

		m.AuthenticationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		c.Set(identityKey, identity)
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by Auth.
func CurrentIdentity(c *gin.Context) (service.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	identity, ok := v.(service.Identity)
	return identity, ok
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":      false,
		"message": message,
		"data":    nil,
	})
}
