package models

// Permission defines a scoped resource:action pair. Rows referenced by grants are never deleted.
type Permission struct {
	BaseModel

	Name        string `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Resource    string `gorm:"type:varchar(64);not null;index:idx_permission_scope,priority:1" json:"resource"`
	Action      string `gorm:"type:varchar(64);not null;index:idx_permission_scope,priority:2" json:"action"`
	Description string `json:"description"`
}

// Key returns the canonical resource:action form.
func (p Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey joins a resource and an action.
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}
