// Package handlers exposes session lifecycle operations over HTTP. The same
// routes are mounted on the main API group and on every worktree scope
// group, so the proxy client can drive either side with identical requests.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/httpmw"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/proxy"
	"github.com/TwiTech-LAB/devchain/internal/session"
)

type SessionHandlers struct {
	service *session.Service
	busy    *proxy.BusyTracker
	logger  *logger.Logger
}

func NewSessionHandlers(svc *session.Service, busy *proxy.BusyTracker, log *logger.Logger) *SessionHandlers {
	return &SessionHandlers{
		service: svc,
		busy:    busy,
		logger:  log.WithFields(zap.String("component", "session-handlers")),
	}
}

// RegisterSessionRoutes mounts the session routes on a scope group.
func RegisterSessionRoutes(group *gin.RouterGroup, svc *session.Service, busy *proxy.BusyTracker, log *logger.Logger) {
	h := NewSessionHandlers(svc, busy, log)
	group.GET("/sessions", h.listSessions)
	group.POST("/sessions/launch", h.launchSession)
	group.POST("/sessions/:id/terminate", h.terminateSession)
	group.POST("/agents/restart", h.restartAgent)
}

func (h *SessionHandlers) listSessions(c *gin.Context) {
	var sessions []*session.Session
	if agentID := c.Query("agent_id"); agentID != "" {
		sessions = h.service.ListActiveSessions(agentID)
	} else {
		sessions = h.service.Sessions()
	}

	// A single coordinator serves every scope, so listings are filtered to
	// the scope's project.
	projectID := proxy.ScopeProjectID(c)
	filtered := make([]*session.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.ProjectID == projectID {
			filtered = append(filtered, sess)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": filtered,
		"total":    len(filtered),
	})
}

func (h *SessionHandlers) launchSession(c *gin.Context) {
	var req session.LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.RespondError(c, h.logger, apperrors.Validation("", "invalid request body: "+err.Error()))
		return
	}
	req.ProjectID = proxy.ScopeProjectID(c)

	key := proxy.BusyKey{Worktree: proxy.ScopeName(c), AgentID: req.AgentID}
	if !h.busy.TrySet(key) {
		httpmw.RespondError(c, h.logger, &apperrors.ConflictError{
			Message: "agent is busy with another lifecycle operation",
		})
		return
	}
	defer h.busy.Clear(key)

	sess, err := h.service.Launch(c.Request.Context(), req)
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandlers) terminateSession(c *gin.Context) {
	if err := h.service.Terminate(c.Request.Context(), c.Param("id")); err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandlers) restartAgent(c *gin.Context) {
	var req session.RestartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.RespondError(c, h.logger, apperrors.Validation("", "invalid request body: "+err.Error()))
		return
	}
	req.ProjectID = proxy.ScopeProjectID(c)

	key := proxy.BusyKey{Worktree: proxy.ScopeName(c), AgentID: restartBusyID(req)}
	if !h.busy.TrySet(key) {
		httpmw.RespondError(c, h.logger, &apperrors.ConflictError{
			Message: "agent is busy with another lifecycle operation",
		})
		return
	}
	defer h.busy.Clear(key)

	result, err := h.service.Restart(c.Request.Context(), req)
	if err != nil {
		httpmw.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// restartBusyID picks the identity used for busy tracking. The explicit name
// wins over the event identity, mirroring restart target resolution.
func restartBusyID(req session.RestartRequest) string {
	if name := strings.TrimSpace(req.AgentName); name != "" {
		return name
	}
	if req.Event != nil && req.Event.AgentID != "" {
		return req.Event.AgentID
	}
	return ""
}
