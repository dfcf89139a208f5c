package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/handlers"
	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/permissions"
)

type socHandlers struct {
	audit     *handlers.AuditHandler
	incidents *handlers.IncidentHandler
	blocklist *handlers.BlocklistHandler
}

func registerSOCRoutes(api *gin.RouterGroup, h socHandlers, gate *middleware.Gate) {
	soc := api.Group("/soc")

	auditRead := gate.RequirePermission(permissions.ResourceAudit, permissions.ActionRead)
	auditManage := gate.RequirePermission(permissions.ResourceAudit, permissions.ActionManage)
	{
		soc.GET("/audit-logs", auditRead, h.audit.List)
		soc.GET("/audit-logs/:id", auditRead, h.audit.Get)
		soc.POST("/audit-logs/:id/pin", auditManage, h.audit.Pin)
		soc.POST("/audit-logs/:id/unpin", auditManage, h.audit.Unpin)
	}

	incidentsRead := gate.RequirePermission(permissions.ResourceIncidents, permissions.ActionRead)
	incidentsManage := gate.RequirePermission(permissions.ResourceIncidents, permissions.ActionManage)
	{
		soc.GET("/incidents", incidentsRead, h.incidents.List)
		soc.GET("/incidents/summary", incidentsRead, h.incidents.Summary)
		soc.GET("/incidents/:id", incidentsRead, h.incidents.Get)
		soc.PUT("/incidents/:id", incidentsManage, h.incidents.Update)
		soc.POST("/incidents/bulk-false-positive", incidentsManage, h.incidents.BulkFalsePositive)
		soc.POST("/incidents/cleanup", incidentsManage, h.incidents.Cleanup)
	}

	blocklistRead := gate.RequirePermission(permissions.ResourceBlocklist, permissions.ActionRead)
	blocklistManage := gate.RequirePermission(permissions.ResourceBlocklist, permissions.ActionManage)
	{
		soc.GET("/blocked-ips", blocklistRead, h.blocklist.List)
		soc.POST("/block-ip", blocklistManage, h.blocklist.Block)
		soc.POST("/unblock-ip", blocklistManage, h.blocklist.Unblock)
	}
}
