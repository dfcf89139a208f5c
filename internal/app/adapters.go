package app

import (
	"github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/notify"
	"github.com/charlesng35/campusgate/internal/security"
	"github.com/charlesng35/campusgate/internal/tracing"
)

// JWTServiceConfig converts AuthConfig into token service parameters.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
	}
}

// BurstOptions converts AnomalyConfig into detector parameters.
func (c AnomalyConfig) BurstOptions() security.BurstOptions {
	return security.BurstOptions{
		Window:    c.Window,
		Threshold: c.Threshold,
		Capacity:  c.Capacity,
	}
}

// NotifierOptions converts NotificationsConfig into notifier parameters. An unknown
// priority falls back to the notifier default.
func (c NotificationsConfig) NotifierOptions() notify.Options {
	priority, _ := models.ParsePriority(c.MinPriority)
	return notify.Options{URLs: c.URLs, MinPriority: priority}
}

// TracerConfig converts TracingConfig into exporter settings.
func (c TracingConfig) TracerConfig() tracing.Config {
	return tracing.Config{
		ServiceName:  c.ServiceName,
		Endpoint:     c.Endpoint,
		Protocol:     c.Protocol,
		SamplingRate: c.SamplingRate,
	}
}
