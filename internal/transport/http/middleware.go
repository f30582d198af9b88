package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// ContextKeyUserID is the context key for storing the authenticated user id.
const ContextKeyUserID = "user_id"

// AuthMiddleware creates a middleware that validates JWT tokens. The token is
// taken from the Authorization header, or from the access_token query
// parameter for WebSocket clients that cannot set headers.
func AuthMiddleware(cfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug().Msg("invalid authorization header format")
				abortUnauthenticated(c, "invalid authorization header format")
				return
			}
			token = parts[1]
		}
		if token == "" {
			logger.Debug().Msg("missing authorization header")
			abortUnauthenticated(c, "missing authorization header")
			return
		}

		claims, err := auth.ValidateToken(cfg, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID())
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, proto.ErrorResponse{Error: msg, Code: proto.CodeUnauthenticated})
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// MetricsMiddleware counts requests by route template.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(c.Request.Method, route, c.Writer.Status())
	}
}
