package services

import (
	"net/http"

	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

var (
	// ErrSelfModification prevents actors from changing their own grants or their role's grants.
	ErrSelfModification = apperrors.New("SELF_MODIFICATION_FORBIDDEN", "You cannot modify your own permissions", http.StatusForbidden)
	// ErrUserNotFound indicates the target user does not exist.
	ErrUserNotFound = apperrors.NewNotFound("USER_NOT_FOUND", "User not found")
	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.NewNotFound("ROLE_NOT_FOUND", "Role not found")
	// ErrAuditLogNotFound indicates the audit entry does not exist.
	ErrAuditLogNotFound = apperrors.NewNotFound("AUDIT_LOG_NOT_FOUND", "Audit log not found")
	// ErrIncidentNotFound indicates the id does not reference an incident.
	ErrIncidentNotFound = apperrors.NewNotFound("INCIDENT_NOT_FOUND", "Incident not found")
	// ErrIncidentTerminal rejects moving a resolved or false positive incident back into triage.
	ErrIncidentTerminal = apperrors.NewConflict("INCIDENT_TERMINAL", "Closed incidents cannot be reopened; open a new incident instead")
	// ErrInvalidIncidentStatus rejects unknown status values.
	ErrInvalidIncidentStatus = apperrors.NewValidation("incidentStatus is not a valid status")
	// ErrInvalidPriority rejects unknown priority values.
	ErrInvalidPriority = apperrors.NewValidation("priority must be LOW, MEDIUM, HIGH or CRITICAL")
	// ErrInvalidAssignee rejects an assignedTo that is not the id of an existing user.
	ErrInvalidAssignee = apperrors.NewValidation("assignedTo must be the id of an existing user")
	// ErrInvalidIPAddress rejects malformed addresses.
	ErrInvalidIPAddress = apperrors.New("INVALID_IP_ADDRESS", "Invalid IP address", http.StatusBadRequest)
	// ErrExpiryInPast rejects blocks that would never be effective.
	ErrExpiryInPast = apperrors.NewValidation("expiresAt must be in the future")
)
