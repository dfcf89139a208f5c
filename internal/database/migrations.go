package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Permission{},
		&models.UserPermission{},
		&models.RolePermission{},
		&models.PagePermission{},
		&models.CustomModeGrant{},
		&models.AuditLog{},
		&models.BlockedIP{},
		&models.TrustedUser{},
		&models.APIKey{},
	)
}

type seedRole struct {
	name        string
	description string
	keys        []string
}

var defaultRoles = []seedRole{
	{
		name:        "security-analyst",
		description: "Monitors audit activity and triages incidents",
		keys: []string{
			"audit:read", "incidents:read", "incidents:manage", "blocklist:read",
		},
	},
	{
		name:        "staff",
		description: "Read access to campus records",
		keys: []string{
			"students:read", "personnel:read", "rooms:read", "departments:read",
		},
	},
}

// SeedData stores the permission catalogue and the default roles.
func SeedData(db *gorm.DB) error {
	byKey := make(map[string]models.Permission)
	for _, def := range permissions.Catalogue() {
		perm := models.Permission{}
		err := db.Where(models.Permission{Name: def.Key()}).
			Attrs(models.Permission{Resource: def.Resource, Action: def.Action, Description: def.Description}).
			FirstOrCreate(&perm).Error
		if err != nil {
			return fmt.Errorf("seed permission %s: %w", def.Key(), err)
		}
		byKey[def.Key()] = perm
	}

	now := time.Now().UTC()
	for _, seed := range defaultRoles {
		role := models.Role{}
		err := db.Where(models.Role{Name: seed.name}).
			Attrs(models.Role{Description: seed.description, IsSystem: true}).
			FirstOrCreate(&role).Error
		if err != nil {
			return fmt.Errorf("seed role %s: %w", seed.name, err)
		}

		for _, key := range seed.keys {
			perm, ok := byKey[key]
			if !ok {
				return fmt.Errorf("seed role %s: unknown permission %s", seed.name, key)
			}
			link := models.RolePermission{}
			err := db.Where(models.RolePermission{RoleID: role.ID, PermissionID: perm.ID}).
				Attrs(models.RolePermission{GrantFields: models.GrantFields{IsActive: true, GrantedAt: now}}).
				FirstOrCreate(&link).Error
			if err != nil {
				return fmt.Errorf("seed role %s permission %s: %w", seed.name, key, err)
			}
		}
	}

	return nil
}
