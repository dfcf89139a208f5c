package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/api"
	"github.com/charlesng35/campusgate/internal/app"
	"github.com/charlesng35/campusgate/internal/app/maintenance"
	iauth "github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/database"
	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/notify"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/internal/security"
	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/internal/tracing"
	"github.com/charlesng35/campusgate/pkg/crypto"
	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Metrics     *metrics.Metrics
	AuditSvc    *services.AuditService
	Broadcaster *realtime.Broadcaster
	Notifier    *notify.IncidentNotifier
	Scheduler   *maintenance.Scheduler
	Router      *gin.Engine
	Handler     http.Handler

	shutdownTracing func(context.Context) error
}

// bootstrapRuntime initialises the database, services, background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if strings.TrimSpace(cfg.Tracing.Endpoint) != "" {
		stack.shutdownTracing, err = tracing.Init(ctx, cfg.Tracing.TracerConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise tracing: %w", err)
		}
		log.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	stack.Metrics = metrics.New()
	if sqlDB, err := stack.DB.DB(); err == nil {
		if err := stack.Metrics.RegisterDatabase(sqlDB, "campusgate"); err != nil {
			log.Warn("database stats collector not registered", zap.Error(err))
		}
	}

	hub := realtime.NewHub(
		realtime.WithAllowedOrigins(cfg.Security.CORS.AllowedOrigins...),
		realtime.WithSendBuffer(cfg.Realtime.ClientBuffer),
	)
	stack.Broadcaster = realtime.NewBroadcaster(hub, realtime.BroadcasterOptions{
		Room:      cfg.Realtime.Room,
		QueueSize: cfg.Realtime.BufferSize,
		Metrics:   stack.Metrics,
	})
	stack.Notifier = notify.NewIncidentNotifier(cfg.Notifications.NotifierOptions())

	auditOpts := []services.AuditOption{
		services.WithAuditPublisher(stack.Broadcaster),
		services.WithAuditMetrics(stack.Metrics),
		services.WithAuditWriteTimeout(cfg.Audit.WriteTimeout),
	}
	if stack.Notifier != nil {
		auditOpts = append(auditOpts, services.WithIncidentNotifier(stack.Notifier))
	}
	if cfg.Security.Anomaly.Enabled {
		auditOpts = append(auditOpts, services.WithAnomalyDetector(security.NewBurstDetector(cfg.Security.Anomaly.BurstOptions())))
	}
	if cfg.Audit.Async {
		auditOpts = append(auditOpts, services.WithAsyncWrites(cfg.Audit.Workers, cfg.Audit.QueueSize))
	}
	stack.AuditSvc, err = services.NewAuditService(stack.DB, auditOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	blocklistOpts := []services.BlocklistOption{services.WithBlocklistPublisher(stack.Broadcaster)}
	if cfg.Security.Blocklist.CacheSize > 0 {
		blocklistOpts = append(blocklistOpts, services.WithBlocklistCache(cfg.Security.Blocklist.CacheSize, cfg.Security.Blocklist.CacheTTL))
	}
	blocklistSvc, err := services.NewBlocklistService(stack.DB, stack.AuditSvc, blocklistOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise blocklist service: %w", err)
	}

	trustSvc, err := services.NewTrustService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise trust service: %w", err)
	}
	if cfg.Security.AutoBlock.Enabled {
		stack.AuditSvc.AddHook(services.NewAutoBlocker(blocklistSvc, trustSvc, cfg.Security.AutoBlock.Duration).Hook())
		log.Info("automatic ip blocking enabled", zap.Duration("duration", cfg.Security.AutoBlock.Duration))
	}

	incidentSvc, err := services.NewIncidentService(stack.DB, stack.AuditSvc, services.WithIncidentPublisher(stack.Broadcaster))
	if err != nil {
		return nil, fmt.Errorf("initialise incident service: %w", err)
	}

	store, err := permissions.NewStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise permission store: %w", err)
	}
	resolver, err := permissions.NewResolver(stack.DB, permissions.WithResolverMetrics(stack.Metrics))
	if err != nil {
		return nil, fmt.Errorf("initialise permission resolver: %w", err)
	}
	permissionSvc, err := services.NewPermissionService(stack.DB, store, resolver, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise permission service: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}
	keys, err := iauth.NewAPIKeyService(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise api key service: %w", err)
	}
	authn, err := iauth.NewAuthenticator(stack.DB, jwtSvc, keys)
	if err != nil {
		return nil, fmt.Errorf("initialise authenticator: %w", err)
	}
	passwords, err := iauth.NewPasswordAuthenticator(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise password authenticator: %w", err)
	}

	if err := ensureBootstrapAdmin(ctx, stack.DB, trustSvc, cfg.Bootstrap, log); err != nil {
		return nil, err
	}

	stack.Scheduler, err = maintenance.NewScheduler(incidentSvc, blocklistSvc,
		maintenance.WithMetrics(stack.Metrics),
		maintenance.WithStaleDays(cfg.Security.Incidents.CleanupDays),
		maintenance.WithReportSchedule(cfg.Security.Incidents.ReportSchedule),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise maintenance: %w", err)
	}
	if _, err := stack.Scheduler.RefreshGauges(ctx); err != nil {
		log.Warn("initial gauge refresh failed", zap.Error(err))
	}
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	var limiter middleware.Limiter
	if rl := cfg.Security.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = middleware.NewIPRateLimiter(rl.RequestsPerSecond, rl.Burst)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		JWT:           jwtSvc,
		Authenticator: authn,
		Passwords:     passwords,
		Resolver:      resolver,
		Permissions:   permissionSvc,
		Audit:         stack.AuditSvc,
		Incidents:     incidentSvc,
		Blocklist:     blocklistSvc,
		Hub:           hub,
		Metrics:       stack.Metrics,
		RateLimiter:   limiter,
	}, api.Options{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		APIKeyHeader:   cfg.Auth.APIKeyHeader,
		CleanupDays:    cfg.Security.Incidents.CleanupDays,
		Rooms:          []string{stack.Broadcaster.Room()},
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	stack.Handler = stack.Router
	if stack.shutdownTracing != nil {
		stack.Handler = middleware.Tracing(stack.Router)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs, drains queued audit writes and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		<-s.Scheduler.Stop().Done()
	}

	if s.AuditSvc != nil {
		if err := s.AuditSvc.Close(ctx); err != nil {
			log.Warn("audit queue drain incomplete", zap.Error(err))
		}
	}

	if s.Broadcaster != nil {
		s.Broadcaster.Close()
	}

	if s.Notifier != nil {
		s.Notifier.Wait()
	}

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// ensureBootstrapAdmin creates the first administrator when the database has no users and
// marks it trusted. It is a no-op once any account exists.
func ensureBootstrapAdmin(ctx context.Context, db *gorm.DB, trust *services.TrustService, cfg app.BootstrapConfig, log *zap.Logger) error {
	var users int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return fmt.Errorf("bootstrap admin: count users: %w", err)
	}
	if users > 0 {
		return nil
	}

	password := strings.TrimSpace(cfg.AdminPassword)
	if password == "" {
		return errors.New("bootstrap.admin_password is required to create the first administrator")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: hash password: %w", err)
	}

	admin := &models.User{
		Username: strings.TrimSpace(cfg.AdminUsername),
		Email:    strings.TrimSpace(cfg.AdminEmail),
		Password: hash,
		IsAdmin:  true,
		IsActive: true,
	}
	if admin.Username == "" {
		admin.Username = "admin"
	}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		return fmt.Errorf("bootstrap admin: create: %w", err)
	}
	if err := trust.EnsureFirstUserTrusted(ctx, admin); err != nil {
		return fmt.Errorf("bootstrap admin: trust: %w", err)
	}

	log.Info("bootstrap administrator created", zap.String("username", admin.Username))
	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
		Pool: database.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		},
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
