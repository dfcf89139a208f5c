// Package testutil opens throwaway databases and seeds the accounts tests act as.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/database"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/pkg/crypto"
)

// TestDBOption customises MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	seedData    bool
}

// WithAutoMigrate creates the schema without seeding.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithSeedData creates the schema and installs the permission catalogue and default roles.
func WithSeedData() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.seedData = true
	}
}

// MustOpenTestDB opens an isolated in-memory SQLite database closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	var cfg testDBConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	switch {
	case cfg.seedData:
		require.NoError(t, database.AutoMigrateAndSeed(db))
	case cfg.autoMigrate:
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}

// UserSpec describes an account created by MustCreateUser.
type UserSpec struct {
	Username string
	// Password is bcrypt hashed when set; otherwise the account cannot log in.
	Password string
	Admin    bool
	Disabled bool
	RoleID   *string
}

// MustCreateUser inserts an account. The email is derived from the username.
func MustCreateUser(t *testing.T, db *gorm.DB, want UserSpec) *models.User {
	t.Helper()

	hash := "!"
	if want.Password != "" {
		var err error
		hash, err = crypto.HashPassword(want.Password)
		require.NoError(t, err)
	}

	user := &models.User{
		Username: want.Username,
		Email:    want.Username + "@campus.test",
		Password: hash,
		IsAdmin:  want.Admin,
		IsActive: true,
		RoleID:   want.RoleID,
	}
	require.NoError(t, db.Create(user).Error)
	if want.Disabled {
		require.NoError(t, db.Model(user).Update("is_active", false).Error)
		user.IsActive = false
	}
	return user
}

// MustCreateRole inserts a custom role.
func MustCreateRole(t *testing.T, db *gorm.DB, name string) *models.Role {
	t.Helper()
	role := &models.Role{Name: name, Description: name + " role"}
	require.NoError(t, db.Create(role).Error)
	return role
}
