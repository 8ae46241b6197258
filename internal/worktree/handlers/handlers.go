// Package handlers exposes worktree lifecycle, merge, and template
// operations over HTTP. Worktrees are managed from the main scope only.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/httpmw"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/proxy"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

const queryValueTrue = "true"

// SessionDrainer terminates the sessions of a worktree scope. Stop and
// delete drain the scope first so no session outlives its boundary.
type SessionDrainer interface {
	DrainScope(ctx context.Context, worktreeName string) error
}

type WorktreeHandlers struct {
	manager *worktree.Manager
	catalog *worktree.Catalog
	drainer SessionDrainer
	logger  *logger.Logger
}

func NewWorktreeHandlers(mgr *worktree.Manager, catalog *worktree.Catalog, drainer SessionDrainer, log *logger.Logger) *WorktreeHandlers {
	return &WorktreeHandlers{
		manager: mgr,
		catalog: catalog,
		drainer: drainer,
		logger:  log.WithFields(zap.String("component", "worktree-handlers")),
	}
}

// RegisterWorktreeRoutes mounts the worktree routes on the main API group.
func RegisterWorktreeRoutes(group *gin.RouterGroup, mgr *worktree.Manager, catalog *worktree.Catalog, drainer SessionDrainer, log *logger.Logger) {
	h := NewWorktreeHandlers(mgr, catalog, drainer, log)
	group.GET("/worktrees", h.listWorktrees)
	group.POST("/worktrees", h.createWorktree)
	group.GET("/worktrees/overviews", h.listOverviews)
	group.GET("/worktrees/activity", h.listActivity)
	group.GET("/worktrees/templates", h.listTemplates)
	group.GET("/worktrees/:id", h.getWorktree)
	group.DELETE("/worktrees/:id", h.deleteWorktree)
	group.POST("/worktrees/:id/stop", h.stopWorktree)
	group.GET("/worktrees/:id/merge/preview", h.previewMerge)
	group.POST("/worktrees/:id/merge", h.triggerMerge)
	group.POST("/worktrees/:id/merge/abort", h.abortMerge)
}

type createWorktreeRequest struct {
	Name         string `json:"name"`
	RepoPath     string `json:"repo_path"`
	BranchName   string `json:"branch_name,omitempty"`
	BaseBranch   string `json:"base_branch,omitempty"`
	TemplateSlug string `json:"template_slug,omitempty"`
	RuntimeType  string `json:"runtime_type,omitempty"`
	Description  string `json:"description,omitempty"`
}

func (h *WorktreeHandlers) createWorktree(c *gin.Context) {
	var req createWorktreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.RespondError(c, h.logger, apperrors.Validation("", "invalid request body: "+err.Error()))
		return
	}

	name, err := worktree.NormalizeName(req.Name)
	if err != nil {
		h.respond(c, err)
		return
	}

	wt, err := h.manager.Create(c.Request.Context(), worktree.CreateRequest{
		Name:           name,
		OwnerProjectID: proxy.ScopeProjectID(c),
		RepoPath:       req.RepoPath,
		BranchName:     req.BranchName,
		BaseBranch:     req.BaseBranch,
		TemplateSlug:   req.TemplateSlug,
		RuntimeType:    worktree.RuntimeType(req.RuntimeType),
		Description:    req.Description,
	})
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, wt)
}

func (h *WorktreeHandlers) listWorktrees(c *gin.Context) {
	worktrees, err := h.manager.List(c.Request.Context(), proxy.ScopeProjectID(c))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"worktrees": worktrees,
		"total":     len(worktrees),
	})
}

func (h *WorktreeHandlers) listOverviews(c *gin.Context) {
	overviews, err := h.manager.ListOverviews(c.Request.Context(), proxy.ScopeProjectID(c))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"worktrees": overviews,
		"total":     len(overviews),
	})
}

func (h *WorktreeHandlers) getWorktree(c *gin.Context) {
	wt, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, wt)
}

func (h *WorktreeHandlers) stopWorktree(c *gin.Context) {
	ctx := c.Request.Context()
	h.drainSessions(ctx, c.Param("id"))

	wt, err := h.manager.Stop(ctx, c.Param("id"))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, wt)
}

func (h *WorktreeHandlers) deleteWorktree(c *gin.Context) {
	ctx := c.Request.Context()
	h.drainSessions(ctx, c.Param("id"))

	deleteBranch := c.Query("deleteBranch") == queryValueTrue
	if err := h.manager.Delete(ctx, c.Param("id"), deleteBranch); err != nil {
		h.respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// drainSessions ends the sessions running in the worktree's scope. Drain
// failures do not block the lifecycle operation; the session reconciler
// picks up any stragglers.
func (h *WorktreeHandlers) drainSessions(ctx context.Context, id string) {
	if h.drainer == nil {
		return
	}
	wt, err := h.manager.Get(ctx, id)
	if err != nil {
		return
	}
	if err := h.drainer.DrainScope(ctx, wt.Name); err != nil {
		h.logger.Warn("Failed to drain worktree sessions",
			zap.String("worktree_id", id),
			zap.Error(err))
	}
}

func (h *WorktreeHandlers) listActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries := h.manager.ListActivity(limit)
	c.JSON(http.StatusOK, gin.H{
		"activity": entries,
		"total":    len(entries),
	})
}

func (h *WorktreeHandlers) listTemplates(c *gin.Context) {
	templates := h.catalog.List()
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}

func (h *WorktreeHandlers) previewMerge(c *gin.Context) {
	preview, err := h.manager.PreviewMerge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *WorktreeHandlers) triggerMerge(c *gin.Context) {
	wt, err := h.manager.TriggerMerge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respond(c, err)
		return
	}
	c.JSON(http.StatusOK, wt)
}

func (h *WorktreeHandlers) abortMerge(c *gin.Context) {
	if err := h.manager.AbortMerge(c.Request.Context(), c.Param("id")); err != nil {
		h.respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WorktreeHandlers) respond(c *gin.Context, err error) {
	httpmw.RespondError(c, h.logger, translateError(err))
}
