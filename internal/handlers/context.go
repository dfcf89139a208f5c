package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// principal returns the authenticated principal or writes 401.
func principal(c *gin.Context) (permissions.Principal, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return permissions.Principal{}, false
	}
	return identity.Principal(), true
}
