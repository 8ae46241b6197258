// Package handlers exposes agent CRUD and presence over HTTP.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/agent"
	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/httpmw"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/proxy"
	"github.com/TwiTech-LAB/devchain/internal/session"
)

// PresenceProvider computes the online view for a set of agents.
type PresenceProvider interface {
	PresenceFor(agentIDs []string) []session.Presence
}

type AgentHandlers struct {
	service  *agent.Service
	presence PresenceProvider
	logger   *logger.Logger
}

func NewAgentHandlers(svc *agent.Service, presence PresenceProvider, log *logger.Logger) *AgentHandlers {
	return &AgentHandlers{
		service:  svc,
		presence: presence,
		logger:   log.WithFields(zap.String("component", "agent-handlers")),
	}
}

// RegisterAgentRoutes mounts the agent routes on a scope group.
func RegisterAgentRoutes(group *gin.RouterGroup, svc *agent.Service, presence PresenceProvider, log *logger.Logger) {
	h := NewAgentHandlers(svc, presence, log)
	group.GET("/agents", h.listAgents)
	group.POST("/agents", h.createAgent)
	group.GET("/agents/presence", h.agentPresence)
	group.GET("/agents/:id", h.getAgent)
	group.PATCH("/agents/:id", h.updateAgent)
	group.DELETE("/agents/:id", h.deleteAgent)
}

func (h *AgentHandlers) listAgents(c *gin.Context) {
	agents, err := h.service.List(c.Request.Context(), proxy.ScopeProjectID(c))
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agents": agents,
		"total":  len(agents),
	})
}

type createAgentRequest struct {
	Name        string `json:"name"`
	ProfileID   string `json:"profile_id"`
	Description string `json:"description"`
}

func (h *AgentHandlers) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.RespondError(c, h.logger, apperrors.Validation("", "invalid request body: "+err.Error()))
		return
	}

	created, err := h.service.Create(c.Request.Context(), &agent.Agent{
		ProjectID:   proxy.ScopeProjectID(c),
		ProfileID:   req.ProfileID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *AgentHandlers) getAgent(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type updateAgentRequest struct {
	Name        *string `json:"name"`
	ProfileID   *string `json:"profile_id"`
	Description *string `json:"description"`
}

func (h *AgentHandlers) updateAgent(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}

	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.RespondError(c, h.logger, apperrors.Validation("", "invalid request body: "+err.Error()))
		return
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.ProfileID != nil {
		a.ProfileID = *req.ProfileID
	}
	if req.Description != nil {
		a.Description = *req.Description
	}

	updated, err := h.service.Update(c.Request.Context(), a)
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *AgentHandlers) deleteAgent(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// agentPresence returns the derived online view for every agent in scope.
func (h *AgentHandlers) agentPresence(c *gin.Context) {
	agents, err := h.service.List(c.Request.Context(), proxy.ScopeProjectID(c))
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	c.JSON(http.StatusOK, gin.H{
		"presence": h.presence.PresenceFor(ids),
	})
}
