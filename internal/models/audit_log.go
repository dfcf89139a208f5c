package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a security relevant operation. Only the pin and
// incident columns change after insert.
type AuditLog struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	ActorID       *string    `gorm:"type:uuid;index" json:"actorId,omitempty"`
	ActorName     string     `gorm:"type:varchar(255)" json:"actorName,omitempty"`
	AuthMethod    AuthMethod `gorm:"type:varchar(32);not null;index" json:"authMethod"`
	APIKeyID      *string    `gorm:"type:uuid;index" json:"apiKeyId,omitempty"`
	APIKeyOwnerID *string    `gorm:"type:uuid;index" json:"apiKeyOwnerId,omitempty"`

	Action       string      `gorm:"type:varchar(64);not null;index" json:"action"`
	Category     string      `gorm:"type:varchar(32);index" json:"category,omitempty"`
	Resource     string      `gorm:"type:varchar(128);index" json:"resource"`
	ResourceID   *string     `gorm:"type:varchar(128)" json:"resourceId,omitempty"`
	Status       AuditStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage *string     `json:"errorMessage,omitempty"`

	IPAddress      string `gorm:"type:varchar(64);index" json:"ipAddress"`
	UserAgent      string `json:"userAgent"`
	CorrelationID  string `gorm:"type:varchar(128);index" json:"correlationId"`
	HTTPMethod     string `gorm:"type:varchar(16)" json:"httpMethod,omitempty"`
	Path           string `json:"path,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs"`

	Payload datatypes.JSON `json:"payload,omitempty"`
	Details datatypes.JSON `json:"details,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	IsPinned bool       `gorm:"not null;default:false;index" json:"isPinned"`
	PinnedAt *time.Time `json:"pinnedAt,omitempty"`
	PinnedBy *string    `gorm:"type:uuid" json:"pinnedBy,omitempty"`

	IsIncident        bool            `gorm:"not null;default:false;index" json:"isIncident"`
	IncidentSource    *IncidentSource `gorm:"type:varchar(32);index" json:"incidentSource,omitempty"`
	IncidentStatus    *IncidentStatus `gorm:"type:varchar(32);index" json:"incidentStatus,omitempty"`
	Priority          *Priority       `gorm:"type:varchar(16);index" json:"priority,omitempty"`
	AnomalyScore      *float64        `json:"anomalyScore,omitempty"`
	AssignedTo        *string         `gorm:"type:uuid" json:"assignedTo,omitempty"`
	IncidentUpdatedAt *time.Time      `json:"incidentUpdatedAt,omitempty"`
}

// BlockedIP is one historical block of an address. Repeated blocks add rows; unblocking
// deactivates rows instead of deleting them.
type BlockedIP struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	IPAddress     string     `gorm:"type:varchar(64);not null;index:idx_blocked_ip_lookup,priority:1" json:"ipAddress"`
	IsActive      bool       `gorm:"not null;index:idx_blocked_ip_lookup,priority:2" json:"isActive"`
	Reason        *string    `json:"reason,omitempty"`
	Source        string     `gorm:"type:varchar(16);not null" json:"source"`
	BlockedBy     *string    `gorm:"type:uuid" json:"blockedBy,omitempty"`
	BlockedAt     time.Time  `gorm:"not null" json:"blockedAt"`
	ExpiresAt     *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
	DeactivatedBy *string    `gorm:"type:uuid" json:"deactivatedBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// TableName overrides the default table name for GORM.
func (BlockedIP) TableName() string {
	return "blocked_ips"
}

// EffectiveAt reports whether the block applies at now.
func (b BlockedIP) EffectiveAt(now time.Time) bool {
	return b.IsActive && (b.ExpiresAt == nil || b.ExpiresAt.After(now))
}
