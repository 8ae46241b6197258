package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

// RespondError writes a structured error payload with the status mapped from
// the error's type. Proxy clients decode the payload back into the same
// error types, so both sides of a scope boundary see identical errors.
func RespondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, apperrors.ToPayload(err))
}
