package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orun-dev/orun/internal/models"
)

type updateVariableRequest struct {
	Name  string          `json:"name" binding:"required" validate:"required,min=1,max=255"`
	Type  string          `json:"type" binding:"required" validate:"required,oneof=String Integer Long Double Float Boolean Json"`
	Value json.RawMessage `json:"value" binding:"required"`
}

func (s *Server) listVariables(c *gin.Context) {
	variables, err := s.engineClient.Variables(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, variables)
}

// updateVariable performs a single data-surgery modification on an instance
// variable. Every attempt lands in the audit trail, including failed ones.
func (s *Server) updateVariable(c *gin.Context) {
	var req updateVariableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	err := s.engineClient.UpdateVariable(c.Request.Context(), id, req.Name, req.Value, req.Type)
	s.auditService.Record(s.actor(), models.ActionUpdateVariable, "variable", id, gin.H{
		"name":  req.Name,
		"type":  req.Type,
		"value": req.Value,
	}, err == nil)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
