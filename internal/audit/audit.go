// Package audit defines the vocabulary of the audit trail: action names, payload
// categories and the Event handed to the recorder.
package audit

import (
	"errors"
	"time"

	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

// Actions recorded by the security core.
const (
	ActionLoginSucceeded         = "LOGIN_SUCCEEDED"
	ActionLoginFailed            = "LOGIN_FAILED"
	ActionAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ActionAuthenticationFailed   = "AUTHENTICATION_FAILED"
	ActionUnauthorizedAccess     = "UNAUTHORIZED_ACCESS"
	ActionBlockedIP              = "BLOCKED_IP"
	ActionSelfModificationDenied = "SELF_MODIFICATION_DENIED"

	ActionPermissionCreated = "PERMISSION_CREATED"
	ActionPermissionGranted = "PERMISSION_GRANTED"
	ActionPermissionRevoked = "PERMISSION_REVOKED"
	ActionPageGranted       = "PAGE_PERMISSION_GRANTED"
	ActionPageRevoked       = "PAGE_PERMISSION_REVOKED"
	ActionCustomModeGranted = "CUSTOM_MODE_GRANTED"
	ActionCustomModeRevoked = "CUSTOM_MODE_REVOKED"

	ActionAuditPinned   = "AUDIT_LOG_PINNED"
	ActionAuditUnpinned = "AUDIT_LOG_UNPINNED"

	ActionIncidentUpdated            = "INCIDENT_UPDATED"
	ActionIncidentsBulkFalsePositive = "INCIDENTS_BULK_FALSE_POSITIVE"
	ActionIncidentsCleanup           = "INCIDENTS_CLEANUP"

	ActionIPBlocked     = "IP_BLOCKED"
	ActionIPUnblocked   = "IP_UNBLOCKED"
	ActionIPAutoBlocked = "IP_AUTO_BLOCKED"

	ActionRequestPanic = "REQUEST_PANIC"
)

// Category discriminates the payload stored with an entry.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAccess         Category = "access"
	CategoryGrant          Category = "grant"
	CategoryBlocklist      Category = "blocklist"
	CategoryIncident       Category = "incident"
	CategorySystem         Category = "system"
)

// Payload is the typed, category specific body of an audit entry.
type Payload interface {
	Category() Category
}

// AuthenticationPayload describes a login or credential check.
type AuthenticationPayload struct {
	Method   models.AuthMethod `json:"method"`
	Username string            `json:"username,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

func (AuthenticationPayload) Category() Category { return CategoryAuthentication }

// AccessPayload describes an access gate decision.
type AccessPayload struct {
	Resource   string `json:"resource,omitempty"`
	Action     string `json:"action,omitempty"`
	Page       string `json:"page,omitempty"`
	PageAction string `json:"pageAction,omitempty"`
	ModeID     string `json:"modeId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (AccessPayload) Category() Category { return CategoryAccess }

// GrantPayload describes a permission management operation.
type GrantPayload struct {
	SubjectType    models.SubjectType `json:"subjectType"`
	SubjectID      string             `json:"subjectId"`
	PermissionID   string             `json:"permissionId,omitempty"`
	PermissionKeys []string           `json:"permissionKeys,omitempty"`
	Page           string             `json:"page,omitempty"`
	PageAction     models.PageAction  `json:"pageAction,omitempty"`
	ModeID         string             `json:"modeId,omitempty"`
	Outcome        string             `json:"outcome,omitempty"`
}

func (GrantPayload) Category() Category { return CategoryGrant }

// BlocklistPayload describes a block or unblock.
type BlocklistPayload struct {
	IPAddress string     `json:"ipAddress"`
	Reason    *string    `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Affected  int64      `json:"affected,omitempty"`
	Automatic bool       `json:"automatic,omitempty"`
}

func (BlocklistPayload) Category() Category { return CategoryBlocklist }

// IncidentPayload describes an incident lifecycle operation.
type IncidentPayload struct {
	IncidentIDs []uint                `json:"incidentIds,omitempty"`
	FromStatus  models.IncidentStatus `json:"fromStatus,omitempty"`
	ToStatus    models.IncidentStatus `json:"toStatus,omitempty"`
	Priority    models.Priority       `json:"priority,omitempty"`
	FailedIDs   []uint                `json:"failedIds,omitempty"`
	Affected    int64                 `json:"affected,omitempty"`
	DaysOld     int                   `json:"daysOld,omitempty"`
}

func (IncidentPayload) Category() Category { return CategoryIncident }

// SystemPayload describes operations on the audit trail itself and server faults.
type SystemPayload struct {
	AuditLogID uint   `json:"auditLogId,omitempty"`
	Route      string `json:"route,omitempty"`
}

func (SystemPayload) Category() Category { return CategorySystem }

// Event is a completed or failed operation to be recorded. Actor, correlation id and
// request metadata come from the context the event is recorded with.
type Event struct {
	Action     string
	Resource   string
	ResourceID string
	// Status overrides the status derived from Err.
	Status  models.AuditStatus
	Err     error
	Payload Payload
	// Diagnostics holds free-form context such as request snippets. Classification never
	// reads it.
	Diagnostics map[string]any
}

// Outcome derives the stored status and error message. Client errors are FAILURE, any
// other error is ERROR.
func (e Event) Outcome() (models.AuditStatus, *string) {
	var message *string
	if e.Err != nil {
		text := e.Err.Error()
		message = &text
	}
	if e.Status != "" {
		return e.Status, message
	}
	if e.Err == nil {
		return models.AuditStatusSuccess, nil
	}
	var appErr *apperrors.AppError
	if errors.As(e.Err, &appErr) && appErr.IsClientError() {
		return models.AuditStatusFailure, message
	}
	return models.AuditStatusError, message
}
