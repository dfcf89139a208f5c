package models

import "time"

// GrantFields carries the soft-revocation lifecycle shared by every grant row.
// Rows are never deleted; revocation clears IsActive and re-granting reactivates the same row.
type GrantFields struct {
	IsActive  bool       `gorm:"not null;index" json:"isActive"`
	GrantedBy *string    `gorm:"type:uuid" json:"grantedBy,omitempty"`
	GrantedAt time.Time  `gorm:"not null" json:"grantedAt"`
	RevokedBy *string    `gorm:"type:uuid" json:"revokedBy,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Grant exposes the embedded lifecycle fields.
func (g *GrantFields) Grant() *GrantFields {
	return g
}

// UserPermission links a user to a permission directly.
type UserPermission struct {
	BaseModel
	GrantFields

	UserID       string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair,priority:1" json:"userId"`
	PermissionID string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair,priority:2" json:"permissionId"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}

// RolePermission links a role to a permission; every user assigned the role inherits it.
type RolePermission struct {
	BaseModel
	GrantFields

	RoleID       string      `gorm:"type:uuid;not null;uniqueIndex:idx_role_permission_pair,priority:1" json:"roleId"`
	PermissionID string      `gorm:"type:uuid;not null;uniqueIndex:idx_role_permission_pair,priority:2" json:"permissionId"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}

// PagePermission is a page-level view or edit grant for a user or a role.
type PagePermission struct {
	BaseModel
	GrantFields

	SubjectType SubjectType `gorm:"type:varchar(8);not null;uniqueIndex:idx_page_permission_grant,priority:1" json:"subjectType"`
	SubjectID   string      `gorm:"type:uuid;not null;uniqueIndex:idx_page_permission_grant,priority:2" json:"subjectId"`
	Page        string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_page_permission_grant,priority:3" json:"page"`
	Action      PageAction  `gorm:"type:varchar(8);not null;uniqueIndex:idx_page_permission_grant,priority:4" json:"action"`
}

// TableName overrides the default table name for GORM.
func (PagePermission) TableName() string {
	return "page_permissions"
}

// CustomModeGrant grants a named page mode to a user or a role.
type CustomModeGrant struct {
	BaseModel
	GrantFields

	SubjectType SubjectType `gorm:"type:varchar(8);not null;uniqueIndex:idx_custom_mode_grant,priority:1" json:"subjectType"`
	SubjectID   string      `gorm:"type:uuid;not null;uniqueIndex:idx_custom_mode_grant,priority:2" json:"subjectId"`
	Page        string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_custom_mode_grant,priority:3" json:"page"`
	ModeID      string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_custom_mode_grant,priority:4" json:"modeId"`
}

// TableName overrides the default table name for GORM.
func (CustomModeGrant) TableName() string {
	return "custom_mode_grants"
}
