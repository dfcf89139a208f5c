package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/auditctx"
)

func TestCorrelationHonoursInboundHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Correlation())
	r.GET("/ping", func(c *gin.Context) {
		req, ok := auditctx.RequestFromContext(c.Request.Context())
		require.True(t, ok)
		require.Equal(t, CorrelationID(c), req.CorrelationID)
		require.Equal(t, "/ping", req.Path)
		require.False(t, req.StartedAt.IsZero())
		c.String(http.StatusOK, req.CorrelationID)
	})

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "correlation header", headers: map[string]string{CorrelationIDHeader: "soc-4711"}, want: "soc-4711"},
		{name: "request id fallback", headers: map[string]string{RequestIDHeader: "req.42"}, want: "req.42"},
		{name: "correlation wins", headers: map[string]string{CorrelationIDHeader: "a-1", RequestIDHeader: "b-2"}, want: "a-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/ping", tc.headers)
			require.Equal(t, tc.want, w.Body.String())
			require.Equal(t, tc.want, w.Header().Get(CorrelationIDHeader))
		})
	}
}

func TestCorrelationGeneratesULIDForMissingOrInvalidIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Correlation())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, CorrelationID(c)) })

	for _, headers := range []map[string]string{
		nil,
		{CorrelationIDHeader: "has spaces in it"},
		{RequestIDHeader: strings.Repeat("x", 200)},
		{CorrelationIDHeader: "<script>"},
	} {
		w := serve(r, http.MethodGet, "/ping", headers)
		id := w.Body.String()
		_, err := ulid.ParseStrict(id)
		require.NoError(t, err, id)
		require.Equal(t, id, w.Header().Get(CorrelationIDHeader))
	}

	first := serve(r, http.MethodGet, "/ping", nil).Body.String()
	second := serve(r, http.MethodGet, "/ping", nil).Body.String()
	require.NotEqual(t, first, second)
}
