package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/charlesng35/campusgate/internal/auditctx"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"

	maxCorrelationIDLength = 128
)

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// Correlation assigns every request a correlation id and stores the request metadata
// the audit recorder snapshots. A caller supplied X-Correlation-ID or X-Request-ID is
// honoured when well formed; otherwise a ULID is generated. The id is echoed back.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := inboundCorrelationID(c)
		if id == "" {
			id = ulid.Make().String()
		}

		c.Set(CtxCorrelationIDKey, id)
		c.Header(CorrelationIDHeader, id)

		ctx := auditctx.WithRequest(c.Request.Context(), auditctx.Request{
			CorrelationID: id,
			IPAddress:     c.ClientIP(),
			UserAgent:     c.Request.UserAgent(),
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			StartedAt:     time.Now(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func inboundCorrelationID(c *gin.Context) string {
	for _, header := range []string{CorrelationIDHeader, RequestIDHeader} {
		value := strings.TrimSpace(c.GetHeader(header))
		if value != "" && len(value) <= maxCorrelationIDLength && correlationIDPattern.MatchString(value) {
			return value
		}
	}
	return ""
}
