package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"video-rag/internal/db"
)

const (
	ContextKeyRequestID = "request_id"
	ContextKeyUserID    = "user_id"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Authenticator validates HS256 bearer tokens whose subject is a user id.
// Tokens are issued elsewhere.
type Authenticator struct {
	secret []byte
	users  UserLookup
}

func NewAuthenticator(secret string, users UserLookup) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Required rejects requests without a valid token.
func (a *Authenticator) Required() gin.HandlerFunc {
	return a.middleware(true)
}

// Optional accepts anonymous requests but rejects invalid tokens.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return a.middleware(false)
}

func (a *Authenticator) middleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				unauthorized(c, "missing bearer token")
				return
			}
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(c, "malformed authorization header")
			return
		}
		userID, err := a.Validate(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if a.users != nil {
			if _, err := a.users.GetUser(c.Request.Context(), userID); err != nil {
				if errors.Is(err, db.ErrNotFound) {
					unauthorized(c, "unknown user")
					return
				}
				c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal", "internal error"))
				return
			}
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// Validate parses token and returns the user id in its subject.
func (a *Authenticator) Validate(token string) (int64, error) {
	if len(a.secret) == 0 {
		return 0, errors.New("authentication is not configured")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// callerID returns the authenticated user, or nil for anonymous requests.
func callerID(c *gin.Context) *int64 {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return nil
	}
	id := v.(int64)
	return &id
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", message))
}
