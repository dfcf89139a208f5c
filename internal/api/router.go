package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/handlers"
	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

// Dependencies carries the collaborators the HTTP surface is built from. Metrics, Hub and
// RateLimiter are optional.
type Dependencies struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Authenticator *iauth.Authenticator
	Passwords     *iauth.PasswordAuthenticator
	Resolver      *permissions.Resolver
	Permissions   *services.PermissionService
	Audit         *services.AuditService
	Incidents     *services.IncidentService
	Blocklist     *services.BlocklistService
	Hub           *realtime.Hub
	Metrics       *metrics.Metrics
	RateLimiter   middleware.Limiter
}

// Options tune the router.
type Options struct {
	AllowedOrigins []string
	TrustedProxies []string
	APIKeyHeader   string
	CleanupDays    int
	Rooms          []string
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies, opts Options) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil || deps.Authenticator == nil || deps.Passwords == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Resolver == nil || deps.Permissions == nil {
		return nil, fmt.Errorf("permission services must be provided")
	}
	if deps.Audit == nil || deps.Incidents == nil || deps.Blocklist == nil {
		return nil, fmt.Errorf("security services must be provided")
	}

	gate, err := middleware.NewGate(deps.Authenticator, deps.Resolver, deps.Audit,
		middleware.WithBlocklist(deps.Blocklist),
		middleware.WithGateMetrics(deps.Metrics),
		middleware.WithAPIKeyHeader(opts.APIKeyHeader),
	)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.Correlation())
	r.Use(middleware.Recovery(deps.Audit))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.CORS(opts.AllowedOrigins...))
	r.Use(middleware.RateLimit(deps.RateLimiter, deps.Metrics))
	r.Use(gate.BlockedIP())
	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health(deps.DB))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.Passwords, deps.JWT, deps.Audit, deps.Metrics)
	r.POST("/api/auth/login", authHandler.Login)

	api := r.Group("/api")

	if deps.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, opts.Rooms...)
		api.GET("/ws",
			realtimeHandler.TokenFromQuery(),
			gate.Authenticate(),
			gate.RequirePermission(permissions.ResourceIncidents, permissions.ActionRead),
			realtimeHandler.Stream,
		)
	}

	protected := api.Group("")
	protected.Use(gate.Authenticate())

	registerPermissionRoutes(protected, handlers.NewPermissionHandler(deps.Permissions), gate)
	registerSOCRoutes(protected, socHandlers{
		audit:     handlers.NewAuditHandler(deps.Audit),
		incidents: handlers.NewIncidentHandler(deps.Incidents, opts.CleanupDays),
		blocklist: handlers.NewBlocklistHandler(deps.Blocklist),
	}, gate)

	return r, nil
}
