package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/soc/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	since, ok := parseTimeQuery(c, "since")
	if !ok {
		return
	}
	until, ok := parseTimeQuery(c, "until")
	if !ok {
		return
	}

	limit := parseLimitQuery(c)

	logs, err := h.svc.List(requestContext(c), services.AuditFilters{
		Action:        strings.TrimSpace(c.Query("action")),
		Status:        strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		AuthMethod:    strings.ToUpper(strings.TrimSpace(c.Query("authMethod"))),
		APIKeyID:      strings.TrimSpace(c.Query("apiKeyId")),
		APIKeyOwnerID: strings.TrimSpace(c.Query("apiKeyOwnerId")),
		CorrelationID: strings.TrimSpace(c.Query("correlationId")),
		ActorID:       strings.TrimSpace(c.Query("actorId")),
		Resource:      strings.TrimSpace(c.Query("resource")),
		Since:         since,
		Until:         until,
		Limit:         limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, logs, limit)
}

// GET /api/soc/audit-logs/:id
func (h *AuditHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.svc.Get(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// POST /api/soc/audit-logs/:id/pin
func (h *AuditHandler) Pin(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.svc.Pin(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// POST /api/soc/audit-logs/:id/unpin
func (h *AuditHandler) Unpin(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.svc.Unpin(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}
