package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"progkeeper/api/internal/middleware"
	"progkeeper/api/internal/models"
)

type createUserRequest struct {
	Username string  `json:"username" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Nickname *string `json:"nickname"`
}

type createUserResponse struct {
	UserID int64 `json:"user_id"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Nickname:  u.DisplayName(),
		CreatedAt: u.CreatedAt,
	}
}

func (h HandlerSet) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	id, err := h.creds.CreateUser(c.Request.Context(), req.Username, req.Password, req.Nickname)
	if err != nil {
		fail(c, err)
		return
	}

	h.metrics.UsersCreatedTotal.Inc()
	respond(c, http.StatusCreated, "user created", createUserResponse{UserID: id})
}

func (h HandlerSet) GetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.creds.GetUser(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "", toUserResponse(user))
}

type deleteUserResponse struct {
	SessionsRevoked int64 `json:"sessions_revoked"`
}

// DeleteUser revokes every session before soft-deleting the account, then
// sweeps again for logins that raced the delete.
func (h HandlerSet) DeleteUser(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)
	ctx := c.Request.Context()

	n, err := h.sessions.RevokeAllForUser(ctx, identity.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	h.metrics.SessionsRevokedTotal.Add(float64(n))

	if err := h.creds.DeleteUser(ctx, identity.UserID); err != nil {
		fail(c, err)
		return
	}

	late, err := h.sessions.RevokeAllForUser(ctx, identity.UserID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", identity.UserID).Msg("post-delete session sweep failed")
	}
	n += late
	h.metrics.SessionsRevokedTotal.Add(float64(late))

	respond(c, http.StatusOK, "user deleted", deleteUserResponse{SessionsRevoked: n})
}
