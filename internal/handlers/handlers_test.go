package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/database/testutil"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/internal/services"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
	appValidator "github.com/charlesng35/campusgate/pkg/validator"
)

func TestHealthPingsDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t)

	r := gin.New()
	r.GET("/health", Health(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"data":{"status":"ok"}}`, w.Body.String())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubjectFromPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var got []models.SubjectType
	handler := func(c *gin.Context) {
		subject, ok := subjectFromPath(c)
		if ok {
			got = append(got, subject.Type)
			c.Status(http.StatusNoContent)
		}
	}
	r := gin.New()
	r.POST("/users/:userId", handler)
	r.POST("/roles/:roleId", handler)
	r.POST("/nobody", handler)

	for _, path := range []string{"/users/u-1", "/roles/r-1"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/nobody", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, []models.SubjectType{models.SubjectUser, models.SubjectRole}, got)
}

func TestRealtimeRequestedRooms(t *testing.T) {
	h := NewRealtimeHandler(realtime.NewHub())

	require.Equal(t, []string{realtime.RoomSOCMonitoring}, h.requestedRooms(""))
	require.Equal(t, []string{"soc-monitoring", "other"}, h.requestedRooms(" SOC-Monitoring, other ,"))
}

func TestRealtimeStreamRejectsUnknownRoom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRealtimeHandler(realtime.NewHub())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("userID", "user-1")
		c.Next()
	}, h.Stream)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?room=payroll", nil))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokenFromQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRealtimeHandler(realtime.NewHub())

	var header string
	r := gin.New()
	r.GET("/ws", h.TokenFromQuery(), func(c *gin.Context) {
		header = c.GetHeader("Authorization")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "Bearer abc", header)
}

func TestRuleErrorMapsOnlyDedicatedRules(t *testing.T) {
	err := appValidator.ValidateStruct(blockIPRequest{IPAddress: "999.1.1.1"})
	require.ErrorIs(t, ruleError(err), services.ErrInvalidIPAddress)

	err = appValidator.ValidateStruct(blockIPRequest{IPAddress: "999.1.1.1", Reason: strings.Repeat("x", 501)})
	require.Nil(t, ruleError(err), "mixed failures fall back to a validation error")

	err = appValidator.ValidateStruct(pageGrantRequest{Page: "rooms", Action: "delete"})
	require.Nil(t, ruleError(err))
	require.Equal(t, "action must be view or edit", formatValidationError(err))
	require.ErrorIs(t, apperrors.NewValidation(formatValidationError(err)), apperrors.ErrValidation)
}

func TestParseLimitQueryClampsToServiceCap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for query, want := range map[string]int{
		"":            services.DefaultListLimit,
		"limit=10":    10,
		"limit=800":   services.MaxListLimit,
		"limit=0":     services.DefaultListLimit,
		"limit=bogus": services.DefaultListLimit,
	} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)
		require.Equal(t, want, parseLimitQuery(c), query)
	}
}
