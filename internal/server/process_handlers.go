package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orun-dev/orun/internal/engine"
	"github.com/orun-dev/orun/internal/models"
	"github.com/orun-dev/orun/internal/session"
)

// respondEngineError translates engine client failures for the view. Engine
// API errors keep their status and body; a lost session maps to 401.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		s.logger.Warn().Int("status", apiErr.Status).Str("request_id", GetRequestID(c)).Msg("Engine API error")
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Error()})
		return
	}
	if errors.Is(err, session.ErrNotAuthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	s.logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("Engine request failed")
	c.JSON(http.StatusBadGateway, gin.H{"error": "Engine request failed"})
}

// actor returns the username the audit trail attributes actions to.
func (s *Server) actor() string {
	snapshot := s.sessions.Snapshot()
	if snapshot.User != nil {
		return snapshot.User.Username
	}
	return "unknown"
}

func (s *Server) listProcessDefinitions(c *gin.Context) {
	definitions, err := s.engineClient.ProcessDefinitions(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, definitions)
}

func (s *Server) getProcessDefinition(c *gin.Context) {
	definition, err := s.engineClient.ProcessDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, definition)
}

func (s *Server) listProcessInstances(c *gin.Context) {
	instances, err := s.engineClient.ProcessInstances(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (s *Server) getProcessInstance(c *gin.Context) {
	instance, err := s.engineClient.ProcessInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

type suspensionRequest struct {
	Suspended *bool `json:"suspended" binding:"required"`
}

func (s *Server) setInstanceSuspension(c *gin.Context) {
	var req suspensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	id := c.Param("id")
	suspended := *req.Suspended

	action := models.ActionResumeInstance
	if suspended {
		action = models.ActionSuspendInstance
	}

	err := s.engineClient.SetSuspension(c.Request.Context(), id, suspended)
	s.auditService.Record(s.actor(), action, "instance", id, gin.H{"suspended": suspended}, err == nil)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) cancelProcessInstance(c *gin.Context) {
	id := c.Param("id")

	err := s.engineClient.CancelProcessInstance(c.Request.Context(), id)
	s.auditService.Record(s.actor(), models.ActionCancelInstance, "instance", id, nil, err == nil)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) listActivityInstances(c *gin.Context) {
	activities, err := s.engineClient.ActivityInstances(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity_instances": activities})
}
