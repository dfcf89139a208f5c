package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/response"
)

// Recovery converts panics into a 500 response. The panic is logged and, when recorder
// is set, written to the audit trail as an ERROR entry so it surfaces as an incident.
func Recovery(recorder Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithModule("http").Error("panic",
				zap.String("path", c.Request.URL.Path),
				zap.String("correlation_id", CorrelationID(c)),
				zap.Any("error", r),
				zap.Stack("stack"),
			)
			if recorder != nil {
				recorder.Record(c.Request.Context(), audit.Event{
					Action:   audit.ActionRequestPanic,
					Resource: c.Request.URL.Path,
					Status:   models.AuditStatusError,
					Err:      fmt.Errorf("panic: %v", r),
					Payload:  audit.SystemPayload{Route: c.FullPath()},
				})
			}
			response.Abort(c, apperrors.ErrInternalServer)
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.NewNotFound("ROUTE_NOT_FOUND", fmt.Sprintf("route %s not found", c.Request.URL.Path)))
}
