package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(db))
}

func TestMemoryHandlesAreIsolated(t *testing.T) {
	first := openTestDB(t)
	second := openTestDB(t)

	require.NoError(t, AutoMigrate(first))
	require.True(t, first.Migrator().HasTable(&models.BlockedIP{}))
	require.False(t, second.Migrator().HasTable(&models.BlockedIP{}))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrateAndSeed(db))
	// seeding twice must not duplicate anything
	require.NoError(t, SeedData(db))

	var permissionCount int64
	require.NoError(t, db.Model(&models.Permission{}).Count(&permissionCount).Error)
	require.Equal(t, int64(len(permissions.Catalogue())), permissionCount)

	var analyst models.Role
	require.NoError(t, db.Where("name = ?", "security-analyst").Take(&analyst).Error)

	var links int64
	require.NoError(t, db.Model(&models.RolePermission{}).
		Where("role_id = ? AND is_active = ?", analyst.ID, true).Count(&links).Error)
	require.Equal(t, int64(4), links)
}

func TestAutoMigrateCreatesSecurityTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	for _, table := range []interface{}{
		&models.UserPermission{},
		&models.RolePermission{},
		&models.PagePermission{},
		&models.CustomModeGrant{},
		&models.AuditLog{},
		&models.BlockedIP{},
		&models.TrustedUser{},
		&models.APIKey{},
	} {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
	require.True(t, migrator.HasIndex(&models.UserPermission{}, "idx_user_permission_pair"))
	require.True(t, migrator.HasIndex(&models.BlockedIP{}, "idx_blocked_ip_lookup"))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestOpenAppliesPoolLimits(t *testing.T) {
	db, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "pool.sqlite"),
		Pool:   PoolConfig{MaxOpenConns: 3},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
}
