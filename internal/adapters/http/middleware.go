package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// userKey is shared with the signal controller so a verified identity
// reaches the join handler.
const (
	userKey    = signal.UserKey
	sessionKey = "token"
)

func RateLimitMiddleware(rl *app.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			log.Warn().Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later."})
			return
		}
		c.Next()
	}
}

// requestToken finds a token in the Authorization header, the cookie
// session or the token query parameter, in that order.
func requestToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if _, ok := c.Get(sessions.DefaultKey); ok {
		if tok, ok := sessions.Default(c).Get(sessionKey).(string); ok && tok != "" {
			return tok
		}
	}
	return c.Query("token")
}

// AuthMiddleware rejects requests without a valid token.
func AuthMiddleware(tokens orch.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := requestToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}
		user, err := tokens.UserID(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(userKey, string(user))
		c.Next()
	}
}

// SignalAuthMiddleware pins the signaling identity when a token is given.
// With required set an upgrade without a valid token is refused.
func SignalAuthMiddleware(tokens orch.TokenVerifier, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := requestToken(c)
		if tok != "" {
			if user, err := tokens.UserID(tok); err == nil {
				c.Set(userKey, string(user))
				c.Next()
				return
			}
		}
		if required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userKey))
}
