package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// login redirects the browser to the identity provider's authorization
// endpoint. Failures before the redirect are logged and the browser is sent
// back to the dashboard origin; the session state stays untouched.
func (s *Server) login(c *gin.Context) {
	authURL, err := s.sessions.BeginLogin(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Login failed before redirect")
		c.Redirect(http.StatusFound, s.config.Server.PublicURL+"/?login_error=1")
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// loginCallback completes the authorization-code exchange when the provider
// redirects the browser back.
func (s *Server) loginCallback(c *gin.Context) {
	if errCode := c.Query("error"); errCode != "" {
		s.logger.Warn().
			Str("error", errCode).
			Str("description", c.Query("error_description")).
			Msg("Authorization failed at the provider")
		c.Redirect(http.StatusFound, s.config.Server.PublicURL+"/?login_error=1")
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing state or code parameter"})
		return
	}

	if err := s.sessions.CompleteLogin(c.Request.Context(), state, code); err != nil {
		s.logger.Error().Err(err).Msg("Login callback failed")
		c.Redirect(http.StatusFound, s.config.Server.PublicURL+"/?login_error=1")
		return
	}

	c.Redirect(http.StatusFound, s.config.Server.PublicURL+"/")
}

// logout clears the local session and returns the provider logout URL for
// the browser to follow. Local state is already cleared when this responds.
func (s *Server) logout(c *gin.Context) {
	logoutURL := s.sessions.Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"logout_url": logoutURL})
}

// getSession exposes the read-only auth snapshot the dashboard renders from.
// The token itself is never included.
func (s *Server) getSession(c *gin.Context) {
	snapshot := s.sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"user":             snapshot.User,
		"is_authenticated": snapshot.IsAuthenticated,
		"is_admin":         snapshot.IsAdmin,
		"loading":          snapshot.Loading,
	})
}
