package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/models"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("", filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.campus.test", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, "X-Campus-Key", cfg.Auth.APIKeyHeader)

	require.True(t, cfg.Audit.Async)
	require.Equal(t, 4, cfg.Audit.Workers)
	require.Equal(t, 64, cfg.Audit.QueueSize)
	require.Equal(t, 2*time.Second, cfg.Audit.WriteTimeout)

	require.Equal(t, 128, cfg.Security.Blocklist.CacheSize)
	require.Equal(t, 15*time.Second, cfg.Security.Blocklist.CacheTTL)
	require.Equal(t, 14, cfg.Security.Incidents.CleanupDays)
	require.Equal(t, 2*time.Minute, cfg.Security.Anomaly.Window)
	require.Equal(t, 5, cfg.Security.Anomaly.Threshold)
	require.True(t, cfg.Security.Anomaly.Enabled)
	require.True(t, cfg.Security.AutoBlock.Enabled)
	require.Equal(t, 30*time.Minute, cfg.Security.AutoBlock.Duration)
	require.Equal(t, 5.0, cfg.Security.RateLimit.RequestsPerSecond)
	require.Equal(t, 10, cfg.Security.RateLimit.Burst)
	require.Equal(t, []string{"https://soc.campus.test"}, cfg.Security.CORS.AllowedOrigins)

	require.Equal(t, 32, cfg.Realtime.BufferSize)
	require.Equal(t, []string{"generic://alerts.campus.test/hook"}, cfg.Notifications.URLs)
	require.Equal(t, 0.5, cfg.Tracing.SamplingRate)
	require.Equal(t, "campusgate", cfg.Tracing.ServiceName)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
	require.Equal(t, 7, cfg.Security.Incidents.CleanupDays)
	require.Equal(t, "soc-monitoring", cfg.Realtime.Room)
	require.False(t, cfg.Security.AutoBlock.Enabled)

	require.ErrorContains(t, cfg.Validate(), "auth.jwt.secret is required")
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CAMPUSGATE_AUTH_JWT_SECRET", "env-secret-env-secret-env-secret-00")
	t.Setenv("CAMPUSGATE_SERVER_PORT", "9191")

	cfg, err := LoadConfig("", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "env-secret-env-secret-env-secret-00", cfg.Auth.JWT.Secret)
	require.Equal(t, 9191, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 8000},
		Auth:   AuthConfig{JWT: JWTSettings{Secret: "short"}},
	}
	require.ErrorContains(t, cfg.Validate(), "at least 32 characters")

	cfg.Auth.JWT.Secret = "a-testing-secret-that-is-long-enough"
	cfg.Security.AutoBlock.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "auto_block.duration")
}

func TestConfigAdapters(t *testing.T) {
	jwtCfg := AuthConfig{JWT: JWTSettings{Secret: "s", Issuer: "i"}}.JWTServiceConfig()
	require.Equal(t, "i", jwtCfg.Issuer)
	jwtSvc, err := auth.NewJWTService(jwtCfg)
	require.NoError(t, err)
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtSvc.TTL())

	opts := NotificationsConfig{URLs: []string{"generic://x"}, MinPriority: "critical"}.NotifierOptions()
	require.Equal(t, models.PriorityCritical, opts.MinPriority)

	burst := AnomalyConfig{Window: time.Minute, Threshold: 3}.BurstOptions()
	require.Equal(t, 3, burst.Threshold)

	tracer := TracingConfig{Endpoint: "collector:4318", ServiceName: "campusgate"}.TracerConfig()
	require.Equal(t, "collector:4318", tracer.Endpoint)
}
