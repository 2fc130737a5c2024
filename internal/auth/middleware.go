package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/models"
	"github.com/justyntemme/bookshelf/internal/storage"
)

const (
	// CookieName is the cookie carrying the session token
	CookieName = "auth_token"

	// ContextUserID is the key for user ID in gin context
	ContextUserID = "user_id"
	// ContextUsername is the key for username in gin context
	ContextUsername = "username"
	// ContextSessionID is the key for the current session in gin context
	ContextSessionID = "session_id"
)

// SessionStore is the part of the database the middleware needs
type SessionStore interface {
	GetSession(id string) (*models.Session, error)
	TouchSession(id string, at time.Time) error
	DeleteSession(id string) error
}

// tokenFromRequest reads the cookie first, then a Bearer header
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		return cookie
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}

// Middleware authenticates the request against a live session
func (m *TokenManager) Middleware(sessions SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			c.Abort()
			return
		}

		session, err := sessions.GetSession(claims.SessionID())
		if err != nil || session.UserID != claims.UserID {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Error().Err(err).Str("session_id", claims.SessionID()).Msg("Failed to load session")
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			c.Abort()
			return
		}

		now := m.now()
		if !session.LongLasted && now.Sub(session.LastConnectionAt) > ShortSessionIdle {
			_ = sessions.DeleteSession(session.ID)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			c.Abort()
			return
		}
		if err := sessions.TouchSession(session.ID, now); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to touch session")
		}

		// Set user info in context
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextSessionID, session.ID)

		c.Next()
	}
}

// GetUserID retrieves the user ID from the gin context
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// GetUsername retrieves the username from the gin context
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}

// GetSessionID retrieves the current session ID from the gin context
func GetSessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}

// SetTokenCookie writes the session cookie. Long-lasted logins get a
// persistent cookie, others a browser-session cookie.
func SetTokenCookie(c *gin.Context, token string, longLasted bool) {
	maxAge := 0
	if longLasted {
		maxAge = int(LongLastedTTL.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, maxAge, "/", "", c.Request.TLS != nil, true)
}

// ClearTokenCookie expires the session cookie
func ClearTokenCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}
