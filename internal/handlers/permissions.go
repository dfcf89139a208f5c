package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
)

// PermissionHandler exposes permission definitions, grants and self-service reads. Grant
// routes are mounted under both /users/:userId and /roles/:roleId.
type PermissionHandler struct {
	svc *services.PermissionService
}

func NewPermissionHandler(svc *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{svc: svc}
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"max=128"`
	Resource    string `json:"resource" validate:"required,max=64"`
	Action      string `json:"action" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

type permissionGrantRequest struct {
	PermissionID string `json:"permissionId" validate:"required"`
}

type pageGrantRequest struct {
	Page   string `json:"page" validate:"required,permtoken"`
	Action string `json:"action" validate:"required,pageaction"`
}

type bulkPageGrantRequest struct {
	Items []services.PageGrantItem `json:"items" validate:"required,min=1"`
}

type customModeRequest struct {
	Page   string `json:"page" validate:"required,permtoken"`
	ModeID string `json:"modeId" validate:"required,permtoken"`
}

// GET /api/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	perms, err := h.svc.ListPermissions(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perms)
}

// POST /api/permissions
func (h *PermissionHandler) Create(c *gin.Context) {
	var req createPermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	perm, err := h.svc.CreatePermission(requestContext(c), permissions.PermissionInput{
		Name:        req.Name,
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, perm)
}

// GET /api/permissions/pages
func (h *PermissionHandler) Pages(c *gin.Context) {
	response.Success(c, http.StatusOK, h.svc.ListPages())
}

// GET /api/permissions/my-permissions
func (h *PermissionHandler) MyPermissions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	keys, err := h.svc.MyPermissions(requestContext(c), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, keys)
}

// GET /api/permissions/my-page-permissions
func (h *PermissionHandler) MyPagePermissions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	pages, err := h.svc.MyPagePermissions(requestContext(c), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, pages)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/grant
func (h *PermissionHandler) Grant(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req permissionGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var (
		grant any
		err   error
	)
	if subject.Type == models.SubjectRole {
		grant, err = h.svc.GrantRolePermission(requestContext(c), subject.ID, req.PermissionID)
	} else {
		grant, err = h.svc.GrantUserPermission(requestContext(c), subject.ID, req.PermissionID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grant)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/revoke
func (h *PermissionHandler) Revoke(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req permissionGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var (
		grant any
		err   error
	)
	if subject.Type == models.SubjectRole {
		grant, err = h.svc.RevokeRolePermission(requestContext(c), subject.ID, req.PermissionID)
	} else {
		grant, err = h.svc.RevokeUserPermission(requestContext(c), subject.ID, req.PermissionID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grant)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/grant-page
func (h *PermissionHandler) GrantPage(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req pageGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.GrantPage(requestContext(c), subject, req.Page, models.PageAction(req.Action))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/revoke-page
func (h *PermissionHandler) RevokePage(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req pageGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.RevokePage(requestContext(c), subject, req.Page, models.PageAction(req.Action))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/bulk-grant-page
func (h *PermissionHandler) BulkGrantPages(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req bulkPageGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}
	results, err := h.svc.BulkGrantPages(requestContext(c), subject, req.Items)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// POST /api/permissions/{users/:userId,roles/:roleId}/bulk-revoke-page
func (h *PermissionHandler) BulkRevokePages(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req bulkPageGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}
	results, err := h.svc.BulkRevokePages(requestContext(c), subject, req.Items)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// POST /api/permissions/{users/:userId,roles/:roleId}/grant-custom-mode
func (h *PermissionHandler) GrantCustomMode(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req customModeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.GrantCustomMode(requestContext(c), subject, req.Page, req.ModeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/permissions/{users/:userId,roles/:roleId}/revoke-custom-mode
func (h *PermissionHandler) RevokeCustomMode(c *gin.Context) {
	subject, ok := subjectFromPath(c)
	if !ok {
		return
	}
	var req customModeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.RevokeCustomMode(requestContext(c), subject, req.Page, req.ModeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func subjectFromPath(c *gin.Context) (permissions.Subject, bool) {
	if id := strings.TrimSpace(c.Param("userId")); id != "" {
		return permissions.UserSubject(id), true
	}
	if id := strings.TrimSpace(c.Param("roleId")); id != "" {
		return permissions.RoleSubject(id), true
	}
	response.Error(c, errors.NewBadRequest("userId or roleId is required"))
	return permissions.Subject{}, false
}
