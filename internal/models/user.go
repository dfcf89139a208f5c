package models

import "time"

// User is an account that can act on the platform. A user holds at most one role.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	IsAdmin  bool `gorm:"not null;default:false" json:"isAdmin"`
	IsActive bool `gorm:"not null" json:"isActive"`

	RoleID *string `gorm:"type:uuid;index" json:"roleId"`
	Role   *Role   `gorm:"foreignKey:RoleID" json:"role,omitempty"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP string     `json:"lastLoginIp,omitempty"`
}

// TrustedUser exempts a user from anomaly-triggered automatic IP blocks.
type TrustedUser struct {
	BaseModel

	UserID    string  `gorm:"type:uuid;uniqueIndex;not null" json:"userId"`
	Reason    string  `json:"reason"`
	CreatedBy *string `gorm:"type:uuid" json:"createdBy,omitempty"`
}

// APIKey authenticates automation on behalf of its owner; the owner's permissions apply.
type APIKey struct {
	BaseModel

	Name       string     `gorm:"not null" json:"name"`
	OwnerID    string     `gorm:"type:uuid;not null;index" json:"ownerId"`
	Prefix     string     `gorm:"type:varchar(16);not null" json:"prefix"`
	KeyHash    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	IsActive   bool       `gorm:"not null" json:"isActive"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// TableName overrides the default table name for GORM.
func (APIKey) TableName() string {
	return "api_keys"
}

// UsableAt reports whether the key is active and unexpired at now.
func (k APIKey) UsableAt(now time.Time) bool {
	return k.IsActive && (k.ExpiresAt == nil || k.ExpiresAt.After(now))
}
