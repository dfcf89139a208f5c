package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/security"
)

func TestTrustServiceFirstUser(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewTrustService(db)
	require.NoError(t, err)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin", nil)
	require.NoError(t, svc.EnsureFirstUserTrusted(ctx, admin))
	trusted, err := svc.IsTrusted(ctx, admin.ID)
	require.NoError(t, err)
	require.True(t, trusted)

	second := createTestUser(t, db, "second", nil)
	require.NoError(t, svc.EnsureFirstUserTrusted(ctx, second))
	trusted, err = svc.IsTrusted(ctx, second.ID)
	require.NoError(t, err)
	require.False(t, trusted)

	require.NoError(t, svc.Trust(ctx, second.ID, "on call"))
	require.NoError(t, svc.Trust(ctx, second.ID, "again"))
	var rows int64
	require.NoError(t, db.Model(&models.TrustedUser{}).Where("user_id = ?", second.ID).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	require.ErrorIs(t, svc.Trust(ctx, "missing-user", ""), ErrUserNotFound)
}

func TestAutoBlockerBlocksAnomalousSource(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	trust, err := NewTrustService(db)
	require.NoError(t, err)

	auditSvc := newTestAuditService(t, db,
		WithAuditClock(clock.Now),
		WithAnomalyDetector(security.NewBurstDetector(security.BurstOptions{Threshold: 3})))
	blocklist, err := NewBlocklistService(db, auditSvc, WithBlocklistClock(clock.Now))
	require.NoError(t, err)
	auditSvc.AddHook(NewAutoBlocker(blocklist, trust, 30*time.Minute).Hook())

	ctx := auditctx.WithRequest(context.Background(), auditctx.Request{IPAddress: "203.0.113.50"})
	for i := 0; i < 3; i++ {
		auditSvc.Record(ctx, audit.Event{Action: audit.ActionLoginFailed, Status: models.AuditStatusFailure})
	}

	blocked, err := blocklist.IsBlocked(context.Background(), "203.0.113.50")
	require.NoError(t, err)
	require.True(t, blocked)

	auto := auditActions(t, db, audit.ActionIPAutoBlocked)
	require.Len(t, auto, 1)
	require.Nil(t, auto[0].ActorID)

	rows, err := blocklist.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, BlockSourceAuto, rows[0].Source)
	require.True(t, rows[0].ExpiresAt.Equal(clock.Now().Add(30*time.Minute)))

	auditSvc.Record(ctx, audit.Event{Action: audit.ActionLoginFailed, Status: models.AuditStatusFailure})
	rows, err = blocklist.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rows, 1, "an already blocked source is not blocked twice")
}

func TestAutoBlockerSkipsTrustedAndLoopback(t *testing.T) {
	db := openServiceTestDB(t)
	trust, err := NewTrustService(db)
	require.NoError(t, err)
	blocklist, err := NewBlocklistService(db, nil)
	require.NoError(t, err)
	blocker := NewAutoBlocker(blocklist, trust, 0)

	admin := createTestUser(t, db, "admin", nil)
	require.NoError(t, trust.Trust(context.Background(), admin.ID, "bootstrap"))

	score := 0.8
	entries := []*models.AuditLog{
		{IPAddress: "192.0.2.77", ActorID: &admin.ID, Status: models.AuditStatusFailure, AnomalyScore: &score},
		{IPAddress: "127.0.0.1", Status: models.AuditStatusFailure, AnomalyScore: &score},
		{IPAddress: "192.0.2.78", Status: models.AuditStatusSuccess, AnomalyScore: &score},
		{IPAddress: "192.0.2.79", Status: models.AuditStatusFailure},
	}
	for _, entry := range entries {
		blocker.Observe(context.Background(), entry)
	}

	rows, err := blocklist.List(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, rows)
}
