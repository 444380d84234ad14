package handler

import (
	"time"

	"github.com/erp/agency/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// SessionCloser ends a user's offline session
type SessionCloser interface {
	Close(userID string) bool
}

// SessionHandler reports on and ends the caller's session
type SessionHandler struct {
	BaseHandler
	sessions SessionCloser
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionCloser) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SessionResponse describes the caller's session
type SessionResponse struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Get returns the caller's identity as carried by their token.
//
//	GET /session
func (h *SessionHandler) Get(c *gin.Context) {
	claims := middleware.GetSessionClaims(c)
	resp := SessionResponse{UserID: middleware.GetSessionUserID(c)}
	if claims != nil {
		resp.Email = claims.Email
		resp.Role = claims.Role
		if exp := claims.GetExpiresAtTime(); !exp.IsZero() {
			resp.ExpiresAt = &exp
		}
	}
	h.Success(c, resp)
}

// Logout closes the caller's session. Their queue stays on disk and drains at
// the next login.
//
//	POST /session/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	h.sessions.Close(middleware.GetSessionUserID(c))
	h.NoContent(c)
}
