package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
)

// IncidentHandler serves incident triage for the SOC dashboard.
type IncidentHandler struct {
	svc         *services.IncidentService
	cleanupDays int
}

// NewIncidentHandler constructs the handler; cleanupDays is the default age used by Cleanup.
func NewIncidentHandler(svc *services.IncidentService, cleanupDays int) *IncidentHandler {
	if cleanupDays <= 0 {
		cleanupDays = services.DefaultStaleAnomalyDays
	}
	return &IncidentHandler{svc: svc, cleanupDays: cleanupDays}
}

type updateIncidentRequest struct {
	Status     *string `json:"incidentStatus"`
	Priority   *string `json:"priority"`
	AssignedTo *string `json:"assignedTo" validate:"omitempty,uuid"`
}

type bulkFalsePositiveRequest struct {
	IDs []uint `json:"incidentIds" validate:"required,min=1,max=500"`
}

type cleanupRequest struct {
	DaysOld int `json:"daysOld" validate:"omitempty,min=1,max=365"`
}

// GET /api/soc/incidents
func (h *IncidentHandler) List(c *gin.Context) {
	var filters services.IncidentFilters
	if value := strings.TrimSpace(c.Query("status")); value != "" {
		status := models.IncidentStatus(strings.ToUpper(value))
		if !status.Valid() {
			response.Error(c, services.ErrInvalidIncidentStatus)
			return
		}
		filters.Status = &status
	}
	if value := strings.TrimSpace(c.Query("priority")); value != "" {
		priority, ok := models.ParsePriority(value)
		if !ok {
			response.Error(c, services.ErrInvalidPriority)
			return
		}
		filters.Priority = &priority
	}
	if value := strings.TrimSpace(c.Query("source")); value != "" {
		source := models.IncidentSource(strings.ToLower(value))
		filters.Source = &source
	}
	filters.Limit = parseLimitQuery(c)

	incidents, err := h.svc.List(requestContext(c), filters)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, incidents, filters.Limit)
}

// GET /api/soc/incidents/summary
func (h *IncidentHandler) Summary(c *gin.Context) {
	summary, err := h.svc.Summary(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// GET /api/soc/incidents/:id
func (h *IncidentHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	incident, err := h.svc.Get(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, incident)
}

// PUT /api/soc/incidents/:id
func (h *IncidentHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateIncidentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.Status == nil && req.Priority == nil && req.AssignedTo == nil {
		response.Error(c, errors.NewValidation("incidentStatus, priority or assignedTo is required"))
		return
	}

	var input services.IncidentUpdate
	if req.Status != nil {
		status := models.IncidentStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		input.Status = &status
	}
	if req.Priority != nil {
		priority := models.Priority(strings.ToUpper(strings.TrimSpace(*req.Priority)))
		input.Priority = &priority
	}
	if req.AssignedTo != nil {
		assignee := strings.TrimSpace(*req.AssignedTo)
		input.AssignedTo = &assignee
	}

	incident, err := h.svc.Update(requestContext(c), id, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, incident)
}

// POST /api/soc/incidents/bulk-false-positive
func (h *IncidentHandler) BulkFalsePositive(c *gin.Context) {
	var req bulkFalsePositiveRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.BulkMarkFalsePositive(requestContext(c), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/soc/incidents/cleanup
func (h *IncidentHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}
	days := req.DaysOld
	if days == 0 {
		days = h.cleanupDays
	}
	affected, err := h.svc.CleanupStaleAnomalies(requestContext(c), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": affected, "daysOld": days})
}
