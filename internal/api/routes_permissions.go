package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/handlers"
	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/permissions"
)

func registerPermissionRoutes(api *gin.RouterGroup, handler *handlers.PermissionHandler, gate *middleware.Gate) {
	read := gate.RequirePermission(permissions.ResourcePermissions, permissions.ActionRead)
	manage := gate.RequirePermission(permissions.ResourcePermissions, permissions.ActionManage)

	perms := api.Group("/permissions")
	{
		perms.GET("", read, handler.List)
		perms.POST("", manage, handler.Create)
		perms.GET("/pages", read, handler.Pages)
		perms.GET("/my-permissions", handler.MyPermissions)
		perms.GET("/my-page-permissions", handler.MyPagePermissions)
	}

	for _, subjects := range []*gin.RouterGroup{perms.Group("/users/:userId"), perms.Group("/roles/:roleId")} {
		subjects.Use(manage)
		subjects.POST("/grant", handler.Grant)
		subjects.POST("/revoke", handler.Revoke)
		subjects.POST("/grant-page", handler.GrantPage)
		subjects.POST("/revoke-page", handler.RevokePage)
		subjects.POST("/bulk-grant-page", handler.BulkGrantPages)
		subjects.POST("/bulk-revoke-page", handler.BulkRevokePages)
		subjects.POST("/grant-custom-mode", handler.GrantCustomMode)
		subjects.POST("/revoke-custom-mode", handler.RevokeCustomMode)
	}
}
