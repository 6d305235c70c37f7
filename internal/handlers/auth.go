package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"progkeeper/api/internal/metrics"
	"progkeeper/api/internal/middleware"
	"progkeeper/api/internal/service"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	throttleKey := service.NormalizeUsername(req.Username)

	if h.throttle != nil && !h.throttle.Allow(ctx, throttleKey, ip) {
		h.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeThrottled).Inc()
		fail(c, service.LoginThrottled("handlers.Login"))
		return
	}

	token, expiresAt, err := h.sessions.CreateSession(ctx, req.Username, req.Password, ip)
	if err != nil {
		if service.KindOf(err) == service.KindInvalidCredentials {
			h.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			if h.throttle != nil {
				h.throttle.RecordFailure(ctx, throttleKey, ip)
			}
		} else {
			h.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		}
		fail(c, err)
		return
	}

	h.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	if h.throttle != nil {
		h.throttle.Reset(ctx, throttleKey, ip)
	}

	respond(c, http.StatusOK, "session created", loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}

type logoutResponse struct {
	Revoked int64 `json:"revoked"`
}

func (h HandlerSet) Logout(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)

	token, err := h.sessions.Revoke(c.Request.Context(), identity.Token)
	if err != nil {
		fail(c, err)
		return
	}

	var n int64
	if token != "" {
		n = 1
		h.metrics.SessionsRevokedTotal.Inc()
	}
	respond(c, http.StatusOK, "session ended", logoutResponse{Revoked: n})
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)

	n, err := h.sessions.RevokeAllForToken(c.Request.Context(), identity.Token)
	if err != nil {
		fail(c, err)
		return
	}

	h.metrics.SessionsRevokedTotal.Add(float64(n))
	respond(c, http.StatusOK, "all sessions ended", logoutResponse{Revoked: n})
}

type meResponse struct {
	User userResponse `json:"user"`
}

func (h HandlerSet) Me(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)

	user, err := h.creds.GetUser(c.Request.Context(), identity.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "", meResponse{User: toUserResponse(user)})
}

type sessionResponse struct {
	TokenPrefix string    `json:"token_prefix"`
	Current     bool      `json:"current"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IPAudit     []string  `json:"ip_audit"`
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)

	sessions, err := h.sessions.ListSessions(c.Request.Context(), identity.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	current := ""
	if len(identity.Token) >= 8 {
		current = identity.Token[:8]
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			TokenPrefix: s.TokenPrefix,
			Current:     s.TokenPrefix == current,
			Active:      s.Active,
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.Expiry,
			IPAudit:     s.IPAudit,
		})
	}
	respond(c, http.StatusOK, "", out)
}
