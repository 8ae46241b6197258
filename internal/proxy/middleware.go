package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

const (
	ctxKeyScopeName = "devchain.scope.name"
	ctxKeyProjectID = "devchain.scope.project_id"
)

// MainScopeMiddleware stamps requests with the main project identity.
func MainScopeMiddleware(projectID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyScopeName, MainScope)
		c.Set(ctxKeyProjectID, projectID)
		c.Next()
	}
}

// WorktreeScopeMiddleware resolves the :name route param to a worktree scope.
// Requests against a worktree that is not running, or whose project id has
// not been resolved yet, are rejected rather than guessed at.
func WorktreeScopeMiddleware(resolver WorktreeResolver, mainProjectID string, log *logger.Logger) gin.HandlerFunc {
	component := log.WithFields(zap.String("component", "scope-middleware"))
	return func(c *gin.Context) {
		name := c.Param("name")
		wt, err := resolver.GetByName(c.Request.Context(), mainProjectID, name)
		if err != nil {
			c.AbortWithStatusJSON(apperrors.HTTPStatus(err), apperrors.ToPayload(err))
			return
		}
		if !wt.Active() || wt.DevchainProjectID == "" {
			component.Debug("rejecting request to unavailable scope",
				zap.String("worktree", name),
				zap.String("status", string(wt.Status)))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, apperrors.ToPayload(
				apperrors.Refusal("worktree %q is not available for session operations", name)))
			return
		}

		c.Set(ctxKeyScopeName, wt.Name)
		c.Set(ctxKeyProjectID, wt.DevchainProjectID)
		c.Next()
	}
}

// ScopeName returns the scope a request was routed to.
func ScopeName(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyScopeName); ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return MainScope
}

// ScopeProjectID returns the project id a request is scoped to.
func ScopeProjectID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyProjectID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
