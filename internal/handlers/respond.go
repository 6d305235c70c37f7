package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"progkeeper/api/internal/service"
)

// envelope is the body of every API response.
type envelope struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{OK: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{OK: false, Message: message})
}

// fail maps a service error onto a status code. Storage and unknown
// failures are logged and reported without detail.
func fail(c *gin.Context, err error) {
	status := statusFor(service.KindOf(err))
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
	}

	message := http.StatusText(status)
	var serr *service.Error
	if errors.As(err, &serr) && status < http.StatusInternalServerError {
		message = serr.Message()
	}
	if status == http.StatusServiceUnavailable {
		message = "service temporarily unavailable"
	}
	respondError(c, status, message)
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindDuplicateUsername:
		return http.StatusConflict
	case service.KindInvalidCredentials, service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindStorage:
		return http.StatusServiceUnavailable
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
