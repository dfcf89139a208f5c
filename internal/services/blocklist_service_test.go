package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/realtime"
)

func newTestBlocklist(t *testing.T, db *gorm.DB, clock *fakeClock, opts ...BlocklistOption) *BlocklistService {
	t.Helper()
	opts = append([]BlocklistOption{WithBlocklistClock(clock.Now)}, opts...)
	svc, err := NewBlocklistService(db, newTestAuditService(t, db), opts...)
	require.NoError(t, err)
	return svc
}

func TestBlocklistExpiryIsEvaluatedLazily(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	svc := newTestBlocklist(t, db, clock)
	ctx := context.Background()

	expires := clock.Now().Add(time.Hour)
	block, err := svc.Block(ctx, BlockInput{IPAddress: "10.0.0.5", Reason: "brute force", ExpiresAt: &expires})
	require.NoError(t, err)
	require.Equal(t, BlockSourceManual, block.Source)

	blocked, err := svc.IsBlocked(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.True(t, blocked)

	clock.Advance(61 * time.Minute)
	blocked, err = svc.IsBlocked(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.False(t, blocked)

	var row models.BlockedIP
	require.NoError(t, db.First(&row, block.ID).Error)
	require.True(t, row.IsActive, "expired rows are not swept")
}

func TestBlocklistUnblockDeactivatesEveryActiveRow(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	pub := &recordingPublisher{}
	svc := newTestBlocklist(t, db, clock, WithBlocklistCache(16, time.Hour), WithBlocklistPublisher(pub))
	ctx := context.Background()

	_, err := svc.Block(ctx, BlockInput{IPAddress: "198.51.100.20"})
	require.NoError(t, err)
	later := clock.Now().Add(24 * time.Hour)
	_, err = svc.Block(ctx, BlockInput{IPAddress: "198.51.100.20", ExpiresAt: &later})
	require.NoError(t, err)

	blocked, err := svc.IsBlocked(ctx, "198.51.100.20")
	require.NoError(t, err)
	require.True(t, blocked)

	affected, err := svc.Unblock(ctx, "198.51.100.20")
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)

	blocked, err = svc.IsBlocked(ctx, "198.51.100.20")
	require.NoError(t, err)
	require.False(t, blocked, "unblock invalidates the cached horizon")

	affected, err = svc.Unblock(ctx, "198.51.100.20")
	require.NoError(t, err)
	require.Zero(t, affected)

	history, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	effective, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Empty(t, effective)

	require.Equal(t, 4, pub.count(realtime.EventSecurity))
	require.Len(t, auditActions(t, db, audit.ActionIPBlocked), 2)
	require.Len(t, auditActions(t, db, audit.ActionIPUnblocked), 2)
}

func TestBlocklistCacheStillHonoursExpiry(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	svc := newTestBlocklist(t, db, clock, WithBlocklistCache(16, time.Hour))
	ctx := context.Background()

	expires := clock.Now().Add(10 * time.Minute)
	_, err := svc.Block(ctx, BlockInput{IPAddress: "2001:db8::1", ExpiresAt: &expires})
	require.NoError(t, err)

	blocked, err := svc.IsBlocked(ctx, "2001:DB8:0:0::1")
	require.NoError(t, err)
	require.True(t, blocked, "addresses are normalised")

	clock.Advance(11 * time.Minute)
	blocked, err = svc.IsBlocked(ctx, "2001:db8::1")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestBlocklistValidation(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	svc := newTestBlocklist(t, db, clock)
	ctx := context.Background()

	_, err := svc.Block(ctx, BlockInput{IPAddress: "not-an-ip"})
	require.ErrorIs(t, err, ErrInvalidIPAddress)

	past := clock.Now().Add(-time.Second)
	_, err = svc.Block(ctx, BlockInput{IPAddress: "192.0.2.1", ExpiresAt: &past})
	require.ErrorIs(t, err, ErrExpiryInPast)

	_, err = svc.Unblock(ctx, "300.1.1.1")
	require.ErrorIs(t, err, ErrInvalidIPAddress)

	failures := auditActions(t, db, audit.ActionIPBlocked)
	require.Len(t, failures, 2)
	for _, entry := range failures {
		require.Equal(t, models.AuditStatusFailure, entry.Status)
	}

	normalised, err := NormalizeIP(" ::ffff:192.0.2.1 ")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", normalised)
}

func TestBlocklistCountEffective(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	svc := newTestBlocklist(t, db, clock)
	ctx := context.Background()

	for _, ip := range []string{"192.0.2.1", "192.0.2.1", "192.0.2.2"} {
		_, err := svc.Block(ctx, BlockInput{IPAddress: ip})
		require.NoError(t, err)
	}
	soon := clock.Now().Add(time.Minute)
	_, err := svc.Block(ctx, BlockInput{IPAddress: "192.0.2.3", ExpiresAt: &soon})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	count, err := svc.CountEffective(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}
