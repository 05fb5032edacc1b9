package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

const tokenHeader = "authorization"

// Authenticate resolves the session token into a user on the request
// context and refreshes the session. Requests without a valid token pass
// through anonymously.
func Authenticate(sessions port.SessionStore, ttl time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(tokenHeader)
		if token == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		user, ok, err := sessions.GetUser(ctx, token)
		if err != nil {
			log.Warnf("[Auth] session lookup failed: %v", err)
			c.Next()
			return
		}
		if !ok {
			c.Next()
			return
		}

		if err := sessions.Touch(ctx, token, ttl); err != nil {
			log.Warnf("[Auth] refresh session for user %d failed: %v", user.ID, err)
		}
		c.Request = c.Request.WithContext(domain.WithUser(ctx, user))
		c.Next()
	}
}

// RequireUser rejects requests that Authenticate left anonymous.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := domain.UserFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Result{ErrorMsg: "not logged in"})
			return
		}
		c.Next()
	}
}

// RateLimit applies a per-user sliding window, falling back to the client IP.
// Limiter errors let the request through.
func RateLimit(limiter port.RateLimiter, limit int, window time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if user, ok := domain.UserFromContext(c.Request.Context()); ok {
			key = fmt.Sprintf("rate_limit:seckill:user:%d", user.ID)
		} else {
			key = fmt.Sprintf("rate_limit:seckill:ip:%s", c.ClientIP())
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Warnf("[RateLimit] %s: %v", key, err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Result{ErrorMsg: "too many requests, try again later"})
			return
		}
		c.Next()
	}
}
