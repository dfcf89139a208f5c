package permissions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// newTestDB opens a private in-memory database; database/testutil imports this package.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:permissions_%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Permission{},
		&models.UserPermission{},
		&models.RolePermission{},
		&models.PagePermission{},
		&models.CustomModeGrant{},
	))
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB, *fakeClock) {
	t.Helper()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store, err := NewStore(db, WithStoreClock(clock.Now))
	require.NoError(t, err)
	return store, db, clock
}

func createUser(t *testing.T, db *gorm.DB, username string, roleID *string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: username + "@campus.test", Password: "x", IsActive: true, RoleID: roleID}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createRole(t *testing.T, db *gorm.DB, name string) *models.Role {
	t.Helper()
	role := &models.Role{Name: name}
	require.NoError(t, db.Create(role).Error)
	return role
}

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestCreatePermission(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	perm, err := store.CreatePermission(ctx, PermissionInput{Resource: "Students", Action: "write"})
	require.NoError(t, err)
	require.Equal(t, "students:write", perm.Name)
	require.NotEmpty(t, perm.ID)

	_, err = store.CreatePermission(ctx, PermissionInput{Resource: "students", Action: "write"})
	require.ErrorIs(t, err, ErrPermissionNameTaken)

	_, err = store.CreatePermission(ctx, PermissionInput{Resource: "students"})
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)

	found, err := store.FindByResourceAction(ctx, "students", "write")
	require.NoError(t, err)
	require.Equal(t, perm.ID, found.ID)

	_, err = store.GetPermission(ctx, "missing")
	require.ErrorIs(t, err, ErrPermissionNotFound)
}

func TestEnsurePermissionsIsIdempotent(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsurePermissions(ctx, []string{"students:read", "students:create"})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := store.EnsurePermissions(ctx, []string{"students:read"})
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	var count int64
	require.NoError(t, db.Model(&models.Permission{}).Count(&count).Error)
	require.EqualValues(t, 2, count)

	_, err = store.EnsurePermissions(ctx, []string{"nocolon"})
	require.Error(t, err)
}

func TestGrantUserLifecycle(t *testing.T) {
	store, db, clock := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, db, "alice", nil)
	perm, err := store.CreatePermission(ctx, PermissionInput{Resource: "students", Action: "write"})
	require.NoError(t, err)
	granter := "00000000-0000-0000-0000-000000000001"

	grant, outcome, err := store.GrantUser(ctx, user.ID, perm.ID, &granter)
	require.NoError(t, err)
	require.Equal(t, GrantCreated, outcome)
	require.True(t, grant.IsActive)
	require.Equal(t, granter, *grant.GrantedBy)
	originalID := grant.ID

	again, outcome, err := store.GrantUser(ctx, user.ID, perm.ID, nil)
	require.NoError(t, err)
	require.Equal(t, GrantUnchanged, outcome)
	require.Equal(t, originalID, again.ID)

	revoked, err := store.RevokeUser(ctx, user.ID, perm.ID, &granter)
	require.NoError(t, err)
	require.False(t, revoked.IsActive)
	require.NotNil(t, revoked.RevokedAt)

	_, err = store.RevokeUser(ctx, user.ID, perm.ID, &granter)
	require.ErrorIs(t, err, ErrGrantNotFound)

	clock.Advance(time.Hour)
	reactivated, outcome, err := store.GrantUser(ctx, user.ID, perm.ID, nil)
	require.NoError(t, err)
	require.Equal(t, GrantReactivated, outcome)
	require.Equal(t, originalID, reactivated.ID)
	require.True(t, reactivated.IsActive)
	require.Nil(t, reactivated.RevokedAt)
	require.Nil(t, reactivated.GrantedBy)
	require.True(t, reactivated.GrantedAt.After(grant.GrantedAt))

	var count int64
	require.NoError(t, db.Model(&models.UserPermission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRevokeNeverGranted(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()
	role := createRole(t, db, "auditors")

	_, err := store.RevokeRole(ctx, role.ID, "missing", nil)
	require.ErrorIs(t, err, ErrGrantNotFound)

	_, err = store.RevokePage(ctx, RoleSubject(role.ID), PageStudents, models.PageView, nil)
	require.ErrorIs(t, err, ErrGrantNotFound)
}

func TestConcurrentGrantsConverge(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()
	role := createRole(t, db, "staff")
	perm, err := store.CreatePermission(ctx, PermissionInput{Resource: "rooms", Action: "read"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.GrantRole(ctx, role.ID, perm.ID, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows []models.RolePermission
	require.NoError(t, db.Where("role_id = ?", role.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsActive)
}

func TestPageAndModeGrants(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, db, "bob", nil)
	subject := UserSubject(user.ID)

	_, outcome, err := store.GrantPage(ctx, subject, PageRooms, models.PageEdit, nil)
	require.NoError(t, err)
	require.Equal(t, GrantCreated, outcome)

	ok, err := store.HasActivePageGrant(ctx, subject, PageRooms, models.PageEdit)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasActivePageGrant(ctx, subject, PageRooms, models.PageView)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.RevokePage(ctx, subject, PageRooms, models.PageEdit, nil)
	require.NoError(t, err)
	ok, err = store.HasActivePageGrant(ctx, subject, PageRooms, models.PageEdit)
	require.NoError(t, err)
	require.False(t, ok)

	mode, outcome, err := store.GrantMode(ctx, subject, PageRooms, "booking", nil)
	require.NoError(t, err)
	require.Equal(t, GrantCreated, outcome)
	require.Equal(t, "booking", mode.ModeID)

	_, err = store.RevokeMode(ctx, subject, PageRooms, "booking", nil)
	require.NoError(t, err)
}

func TestTransactionRollsBack(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, db, "carol", nil)
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(tx *Store) error {
		if _, _, err := tx.GrantPage(ctx, UserSubject(user.ID), PageStudents, models.PageView, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.PagePermission{}).Count(&count).Error)
	require.Zero(t, count)
}
