package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/orun-dev/orun/internal/session"
)

const requestIDKey = "request_id"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMissingRole      = errors.New("missing required role")
)

// GetRequestID returns the request ID assigned by the middleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Str("request_id", GetRequestID(c)).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// requestIDMiddleware tags every request with a ULID for log correlation.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ulid.Make().String()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// SessionRequiredMiddleware rejects requests while no authenticated session
// exists. Views never see provider errors, only the session state.
func SessionRequiredMiddleware(sessions *session.Manager, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := sessions.Snapshot()
		if !snapshot.IsAuthenticated {
			respondWithError(c, log, http.StatusUnauthorized, ErrNotAuthenticated, "Not authenticated")
			return
		}
		c.Next()
	}
}

// AdminOnlyMiddleware ensures the session holds the orun-admin role.
func AdminOnlyMiddleware(sessions *session.Manager, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := sessions.Snapshot()
		if !snapshot.IsAdmin {
			respondWithError(c, log, http.StatusForbidden, ErrMissingRole, "The orun-admin role is required")
			return
		}
		c.Next()
	}
}
