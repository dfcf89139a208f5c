package services

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/pkg/logger"
)

// DefaultAutoBlockDuration is how long an automatic block lasts when none is configured.
const DefaultAutoBlockDuration = time.Hour

// AutoBlocker blocks the source address of anomalous failures. It runs as an audit hook.
type AutoBlocker struct {
	blocklist *BlocklistService
	trust     *TrustService
	duration  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewAutoBlocker constructs an AutoBlocker. trust may be nil, in which case no actor is exempt.
func NewAutoBlocker(blocklist *BlocklistService, trust *TrustService, duration time.Duration) *AutoBlocker {
	if duration <= 0 {
		duration = DefaultAutoBlockDuration
	}
	now := time.Now
	if blocklist != nil {
		now = blocklist.now
	}
	return &AutoBlocker{
		blocklist: blocklist,
		trust:     trust,
		duration:  duration,
		now:       now,
		log:       logger.WithModule("autoblock"),
	}
}

// Hook returns the AuditHook to register on the AuditService.
func (a *AutoBlocker) Hook() AuditHook {
	return a.Observe
}

// Observe blocks entry's address when the entry is a failing anomaly from an untrusted source.
func (a *AutoBlocker) Observe(ctx context.Context, entry *models.AuditLog) {
	if a == nil || a.blocklist == nil || entry == nil {
		return
	}
	if entry.AnomalyScore == nil || entry.Status == models.AuditStatusSuccess {
		return
	}
	addr, err := netip.ParseAddr(entry.IPAddress)
	if err != nil || addr.IsLoopback() || addr.IsUnspecified() {
		return
	}

	if entry.ActorID != nil && a.trust != nil {
		trusted, err := a.trust.IsTrusted(ctx, *entry.ActorID)
		if err != nil {
			a.log.Warn("trust lookup failed", zap.String("actor_id", *entry.ActorID), zap.Error(err))
			return
		}
		if trusted {
			return
		}
	}

	blocked, err := a.blocklist.IsBlocked(ctx, entry.IPAddress)
	if err != nil {
		a.log.Warn("blocklist lookup failed", zap.String("ip", entry.IPAddress), zap.Error(err))
		return
	}
	if blocked {
		return
	}

	// the block is a system action, not one taken by the offending actor
	ctx = auditctx.WithActor(ctx, auditctx.Actor{})
	expires := a.now().Add(a.duration)
	_, err = a.blocklist.Block(ctx, BlockInput{
		IPAddress: entry.IPAddress,
		Reason:    fmt.Sprintf("automatic block after anomalous %s (audit #%d)", entry.Action, entry.ID),
		ExpiresAt: &expires,
		Source:    BlockSourceAuto,
	})
	if err != nil {
		a.log.Warn("auto block failed", zap.String("ip", entry.IPAddress), zap.Error(err))
		return
	}
	a.log.Info("address blocked automatically",
		zap.String("ip", entry.IPAddress),
		zap.String("correlation_id", entry.CorrelationID),
		zap.Duration("duration", a.duration))
}
