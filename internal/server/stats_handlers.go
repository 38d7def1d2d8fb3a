package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getStats serves the latest polled dashboard snapshot. 503 means no
// polling round has succeeded yet.
func (s *Server) getStats(c *gin.Context) {
	snapshot, ok := s.collector.Snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stats not collected yet"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
