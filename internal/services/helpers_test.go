package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/database/testutil"
	"github.com/charlesng35/campusgate/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: event, payload: payload})
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithSeedData())
}

func createTestUser(t *testing.T, db *gorm.DB, username string, roleID *string) *models.User {
	t.Helper()
	return testutil.MustCreateUser(t, db, testutil.UserSpec{Username: username, RoleID: roleID})
}

func createTestRole(t *testing.T, db *gorm.DB, name string) *models.Role {
	t.Helper()
	return testutil.MustCreateRole(t, db, name)
}

func actorContext(user *models.User) context.Context {
	ctx := auditctx.WithRequest(context.Background(), auditctx.Request{
		CorrelationID: "corr-" + user.Username,
		IPAddress:     "192.0.2.10",
		UserAgent:     "go-test",
		Method:        "POST",
		Path:          "/api/test",
	})
	return auditctx.WithActor(ctx, auditctx.Actor{
		UserID:     user.ID,
		Username:   user.Username,
		RoleID:     user.RoleID,
		IsAdmin:    user.IsAdmin,
		AuthMethod: models.AuthMethodJWT,
	})
}

func newTestAuditService(t *testing.T, db *gorm.DB, opts ...AuditOption) *AuditService {
	t.Helper()
	svc, err := NewAuditService(db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func auditActions(t *testing.T, db *gorm.DB, action string) []models.AuditLog {
	t.Helper()
	var logs []models.AuditLog
	require.NoError(t, db.Where("action = ?", action).Order("id ASC").Find(&logs).Error)
	return logs
}
