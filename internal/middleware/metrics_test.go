package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/pkg/metrics"
)

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New()

	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/soc/incidents/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/api/soc/incidents/1", nil)
	serve(r, http.MethodGet, "/api/soc/incidents/2", nil)
	serve(r, http.MethodGet, "/unknown", nil)

	require.Equal(t, 2, testutil.CollectAndCount(m.APILatency))
}
