package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orun-dev/orun/internal/models"
)

type retryJobRequest struct {
	Retries int `json:"retries" validate:"min=1,max=10"`
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.engineClient.Jobs(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) retryJob(c *gin.Context) {
	// An absent body keeps the default retry count.
	req := retryJobRequest{Retries: 3}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Request validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}

	id := c.Param("id")

	err := s.engineClient.RetryJob(c.Request.Context(), id, req.Retries)
	s.auditService.Record(s.actor(), models.ActionRetryJob, "job", id, gin.H{"retries": req.Retries}, err == nil)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) getJobStacktrace(c *gin.Context) {
	stacktrace, err := s.engineClient.JobStacktrace(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.String(http.StatusOK, stacktrace)
}
