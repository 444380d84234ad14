package middleware

import (
	"errors"
	"net/http"
	"strings"

	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/infrastructure/auth"
	"github.com/erp/agency/internal/infrastructure/logger"
	"github.com/erp/agency/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Session context keys
const (
	SessionClaimsKey = "session_claims"
	SessionUserIDKey = "session_user_id"
	SessionEngineKey = "session_engine"
	AuthHeaderKey    = "Authorization"
	BearerPrefix     = "Bearer "
)

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// SessionOpener returns the engine of a signed-in user, creating it on first use
type SessionOpener interface {
	Open(userID string) (*appoffline.Engine, error)
}

// SessionConfig holds configuration for the session middleware
type SessionConfig struct {
	Tokens   TokenValidator
	Sessions SessionOpener
	// AllowQueryToken accepts ?access_token= for clients that cannot set headers (EventSource)
	AllowQueryToken bool
	Logger          *zap.Logger
}

// SessionAuth resolves the bearer token to a user and attaches the user's
// offline engine to the request. Requests without a valid token are rejected.
func SessionAuth(cfg SessionConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token := bearerToken(c, cfg.AllowQueryToken)
		if token == "" {
			abortUnauthenticated(c, log, dto.ErrCodeUnauthenticated, "Missing authorization token", nil)
			return
		}

		claims, err := cfg.Tokens.Validate(token)
		if err != nil {
			code, message := tokenError(err)
			abortUnauthenticated(c, log, code, message, err)
			return
		}

		userID := claims.UserID()
		engine, err := cfg.Sessions.Open(userID)
		if err != nil {
			log.Error("Failed to open session", zap.String("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeInternal, "Failed to open session", GetRequestID(c)))
			return
		}

		c.Set(SessionClaimsKey, claims)
		c.Set(SessionUserIDKey, userID)
		c.Set(SessionEngineKey, engine)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), userID))

		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) string {
	header := c.GetHeader(AuthHeaderKey)
	if strings.HasPrefix(header, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	}
	if header == "" && allowQuery {
		return c.Query("access_token")
	}
	return ""
}

func tokenError(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		return dto.ErrCodeTokenInvalid, "Token is not yet valid"
	case errors.Is(err, auth.ErrMissingUserID):
		return dto.ErrCodeUnauthenticated, "Token does not name a user"
	default:
		return dto.ErrCodeTokenInvalid, "Invalid token"
	}
}

func abortUnauthenticated(c *gin.Context, log *zap.Logger, code, message string, err error) {
	log.Warn("Session authentication failed",
		zap.String("code", code),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetSessionUserID returns the authenticated user id
func GetSessionUserID(c *gin.Context) string {
	return c.GetString(SessionUserIDKey)
}

// GetSessionClaims returns the verified token claims
func GetSessionClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(SessionClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetEngine returns the authenticated user's offline engine
func GetEngine(c *gin.Context) *appoffline.Engine {
	if v, ok := c.Get(SessionEngineKey); ok {
		if engine, ok := v.(*appoffline.Engine); ok {
			return engine
		}
	}
	return nil
}
