package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/database/testutil"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/internal/services"
)

type gateFixture struct {
	db        *gorm.DB
	gate      *Gate
	jwt       *auth.JWTService
	keys      *auth.APIKeyService
	store     *permissions.Store
	blocklist *services.BlocklistService
}

func newGateFixture(t *testing.T, opts ...GateOption) *gateFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	recorder, err := services.NewAuditService(db)
	require.NoError(t, err)
	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: "gate-secret", Issuer: "campusgate-test", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	keys, err := auth.NewAPIKeyService(db, nil)
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(db, jwtSvc, keys)
	require.NoError(t, err)
	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)
	store, err := permissions.NewStore(db)
	require.NoError(t, err)
	blocklist, err := services.NewBlocklistService(db, recorder)
	require.NoError(t, err)

	opts = append([]GateOption{WithBlocklist(blocklist)}, opts...)
	gate, err := NewGate(authn, resolver, recorder, opts...)
	require.NoError(t, err)
	return &gateFixture{db: db, gate: gate, jwt: jwtSvc, keys: keys, store: store, blocklist: blocklist}
}

func (f *gateFixture) user(t *testing.T, username string, admin bool) (*models.User, string) {
	t.Helper()
	user := testutil.MustCreateUser(t, f.db, testutil.UserSpec{Username: username, Admin: admin})
	token, err := f.jwt.GenerateAccessToken(auth.AccessTokenInput{UserID: user.ID, Username: username})
	require.NoError(t, err)
	return user, token
}

func (f *gateFixture) auditEntries(t *testing.T, action string) []models.AuditLog {
	t.Helper()
	var logs []models.AuditLog
	require.NoError(t, f.db.Where("action = ?", action).Order("id ASC").Find(&logs).Error)
	return logs
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestGateBlockedIPLooksLikeDenial(t *testing.T) {
	f := newGateFixture(t)
	_, token := f.user(t, "viewer", false)

	r := gin.New()
	r.Use(Correlation(), f.gate.BlockedIP())
	r.GET("/api/students", f.gate.Authenticate(), f.gate.RequirePermission("students", "read"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	denied := serve(r, http.MethodGet, "/api/students", bearer(token))
	require.Equal(t, http.StatusForbidden, denied.Code)

	_, err := f.blocklist.Block(context.Background(), services.BlockInput{IPAddress: "192.0.2.1", Reason: "scanner"})
	require.NoError(t, err)

	blocked := serve(r, http.MethodGet, "/api/students", bearer(token))
	require.Equal(t, http.StatusForbidden, blocked.Code)
	require.JSONEq(t, denied.Body.String(), blocked.Body.String())

	entries := f.auditEntries(t, audit.ActionBlockedIP)
	require.Len(t, entries, 1)
	require.Equal(t, models.AuditStatusFailure, entries[0].Status)
	require.Equal(t, "192.0.2.1", entries[0].IPAddress)
	require.Len(t, f.auditEntries(t, audit.ActionUnauthorizedAccess), 1, "blocked requests never reach authorization")
}

type failingBlocklist struct{}

func (failingBlocklist) IsBlocked(context.Context, string) (bool, error) {
	return false, errors.New("database is locked")
}

func TestGateBlocklistErrorsFailOpen(t *testing.T) {
	f := newGateFixture(t, WithBlocklist(failingBlocklist{}))

	r := gin.New()
	r.Use(f.gate.BlockedIP())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGateAuthenticate(t *testing.T) {
	f := newGateFixture(t)
	user, token := f.user(t, "analyst", false)
	plaintext, key, err := f.keys.Create(context.Background(), user.ID, "ci", nil)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Correlation())
	r.GET("/me", f.gate.Authenticate(), func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": identity.User.Username, "method": identity.Method})
	})

	w := serve(r, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	required := f.auditEntries(t, audit.ActionAuthenticationRequired)
	require.Len(t, required, 1)
	require.Equal(t, models.AuthMethodUnauthenticated, required[0].AuthMethod)
	require.Nil(t, required[0].ActorID)

	w = serve(r, http.MethodGet, "/me", bearer("not-a-token"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, f.auditEntries(t, audit.ActionAuthenticationFailed), 1)

	w = serve(r, http.MethodGet, "/me", bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user":"analyst","method":"JWT"}`, w.Body.String())

	headers := bearer("not-a-token")
	headers[DefaultAPIKeyHeader] = plaintext
	w = serve(r, http.MethodGet, "/me", headers)
	require.Equal(t, http.StatusOK, w.Code, "api keys are checked before bearer tokens")
	require.JSONEq(t, `{"user":"analyst","method":"API_KEY"}`, w.Body.String())

	require.NoError(t, f.keys.Revoke(context.Background(), key.ID))
	w = serve(r, http.MethodGet, "/me", map[string]string{DefaultAPIKeyHeader: plaintext})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	failed := f.auditEntries(t, audit.ActionAuthenticationFailed)
	require.Len(t, failed, 2)
	require.True(t, failed[1].IsIncident)
	require.Equal(t, models.PriorityHigh, *failed[1].Priority)
}

func TestGateRequirePermission(t *testing.T) {
	f := newGateFixture(t)
	user, token := f.user(t, "registrar", false)
	_, adminToken := f.user(t, "root", true)

	r := gin.New()
	r.Use(Correlation())
	r.POST("/api/students", f.gate.Authenticate(), f.gate.RequirePermission("students", "create"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := serve(r, http.MethodPost, "/api/students", bearer(token))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"success":false,"error":{"code":"FORBIDDEN","message":"Permission denied"}}`, w.Body.String())

	denials := f.auditEntries(t, audit.ActionUnauthorizedAccess)
	require.Len(t, denials, 1)
	require.Equal(t, "students", denials[0].Resource)
	require.Equal(t, user.ID, *denials[0].ActorID)
	require.Equal(t, models.PriorityMedium, *denials[0].Priority)

	perms, err := f.store.EnsurePermissions(context.Background(), []string{"students:create"})
	require.NoError(t, err)
	_, _, err = f.store.GrantUser(context.Background(), user.ID, perms[0].ID, nil)
	require.NoError(t, err)

	w = serve(r, http.MethodPost, "/api/students", bearer(token))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(r, http.MethodPost, "/api/students", bearer(adminToken))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(r, http.MethodPost, "/api/students", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

type stubDecider struct {
	allowed bool
	err     error
	calls   []string
}

func (d *stubDecider) Resolve(_ context.Context, _ permissions.Principal, resource, action string) (bool, error) {
	d.calls = append(d.calls, "resource:"+resource+":"+action)
	return d.allowed, d.err
}

func (d *stubDecider) ResolvePage(_ context.Context, _ permissions.Principal, page string, action models.PageAction) (bool, error) {
	d.calls = append(d.calls, "page:"+page+":"+string(action))
	return d.allowed, d.err
}

func (d *stubDecider) ResolveCustomMode(_ context.Context, _ permissions.Principal, page, modeID string) (bool, error) {
	d.calls = append(d.calls, "mode:"+page+":"+modeID)
	return d.allowed, d.err
}

type memoryRecorder struct {
	events []audit.Event
}

func (r *memoryRecorder) Record(_ context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

type staticAuthenticator struct {
	identity *auth.Identity
}

func (a staticAuthenticator) FromBearer(context.Context, string) (*auth.Identity, error) {
	return a.identity, nil
}

func (a staticAuthenticator) FromAPIKey(context.Context, string) (*auth.Identity, error) {
	return nil, auth.ErrAPIKeyInvalid
}

func TestGatePageAndModeDecisions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	decider := &stubDecider{}
	recorder := &memoryRecorder{}
	identity := &auth.Identity{User: models.User{BaseModel: models.BaseModel{ID: "user-1"}, Username: "u"}, Method: models.AuthMethodJWT}
	gate, err := NewGate(staticAuthenticator{identity: identity}, decider, recorder)
	require.NoError(t, err)

	r := gin.New()
	r.Use(gate.Authenticate())
	r.GET("/soc", gate.RequirePage(permissions.PageSOCDashboard, models.PageView), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/attendance", gate.RequireCustomMode(permissions.PageStudents, "attendance-only"), func(c *gin.Context) { c.Status(http.StatusOK) })

	headers := bearer("anything")
	require.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/soc", headers).Code)
	require.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/attendance", headers).Code)

	decider.allowed = true
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/soc", headers).Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/attendance", headers).Code)

	require.Equal(t, []string{
		"page:soc-dashboard:view",
		"mode:students:attendance-only",
		"page:soc-dashboard:view",
		"mode:students:attendance-only",
	}, decider.calls)

	require.Len(t, recorder.events, 2)
	require.Equal(t, audit.ActionUnauthorizedAccess, recorder.events[0].Action)
	require.Equal(t, permissions.PageSOCDashboard, recorder.events[0].Resource)
	payload, ok := recorder.events[1].Payload.(audit.AccessPayload)
	require.True(t, ok)
	require.Equal(t, "attendance-only", payload.ModeID)
}

func TestGateResolverErrorIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	decider := &stubDecider{err: errors.New("connection refused")}
	recorder := &memoryRecorder{}
	identity := &auth.Identity{User: models.User{BaseModel: models.BaseModel{ID: "user-1"}}, Method: models.AuthMethodJWT}
	gate, err := NewGate(staticAuthenticator{identity: identity}, decider, recorder)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/rooms", gate.Authenticate(), gate.RequirePermission("rooms", "read"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/rooms", bearer("anything"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")

	require.Len(t, recorder.events, 1)
	require.Equal(t, models.AuditStatusError, recorder.events[0].Status)
	require.Error(t, recorder.events[0].Err)
}

func TestNewGateRequiresCollaborators(t *testing.T) {
	_, err := NewGate(nil, &stubDecider{}, nil)
	require.Error(t, err)
	_, err = NewGate(staticAuthenticator{}, nil, nil)
	require.Error(t, err)
}
