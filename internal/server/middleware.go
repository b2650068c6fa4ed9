package server

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/snapmeta-ai/snapmeta/internal/identity"
	"go.uber.org/zap"
)

const (
	headerRequestID  = "X-Request-ID"
	headerUserID     = "X-User-ID"
	headerAdminToken = "X-Admin-Token"

	contextRequestIDKey = "request_id"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString(contextRequestIDKey)),
		)
	}
}

// Identity attaches the caller subject to the request context. It never
// rejects: the ledger accepts anonymous ingest and buckets it under the
// sentinel identity.
func (s *Server) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if subject := s.resolveSubject(c); subject != "" {
			c.Request = c.Request.WithContext(
				identity.WithSubject(c.Request.Context(), subject),
			)
		}
		c.Next()
	}
}

func (s *Server) resolveSubject(c *gin.Context) string {
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
		if s.cfg.AuthJWTSecret == "" {
			return ""
		}
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.AuthJWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			return ""
		}
		subject, err := claims.GetSubject()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(subject)
	}

	// Trusted-proxy deployments resolve identity upstream.
	return strings.TrimSpace(c.GetHeader(headerUserID))
}

// RequireAdmin gates destructive endpoints. With no token configured the
// gate stays open outside production and closed inside it.
func (s *Server) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cfg.AdminToken
		if token == "" {
			if s.cfg.IsProduction() {
				AbortWithError(c, ErrForbidden)
				return
			}
			c.Next()
			return
		}
		supplied := c.GetHeader(headerAdminToken)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}
