package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/auth"
)

const (
	CtxIdentityKey      = "authIdentity"
	CtxUserIDKey        = "userID"
	CtxCorrelationIDKey = "correlationID"
)

// IdentityFromContext returns the identity established by Gate.Authenticate.
func IdentityFromContext(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	return identity, ok && identity != nil
}

// CorrelationID returns the identifier assigned by Correlation.
func CorrelationID(c *gin.Context) string {
	return c.GetString(CtxCorrelationIDKey)
}
