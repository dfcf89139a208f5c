package models

import "strings"

// AuthMethod records which authentication path produced the principal of a request.
type AuthMethod string

const (
	AuthMethodAPIKey          AuthMethod = "API_KEY"
	AuthMethodJWT             AuthMethod = "JWT"
	AuthMethodUnauthenticated AuthMethod = "UNAUTHENTICATED"
)

// AuditStatus is the outcome stored on every audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
	AuditStatusError   AuditStatus = "ERROR"
)

// IncidentStatus is the lifecycle state of an audit entry promoted to an incident.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "OPEN"
	IncidentInvestigating IncidentStatus = "INVESTIGATING"
	IncidentEscalated     IncidentStatus = "ESCALATED"
	IncidentResolved      IncidentStatus = "RESOLVED"
	IncidentFalsePositive IncidentStatus = "FALSE_POSITIVE"
)

// TerminalIncidentStatuses lists the states an incident never leaves for a non-terminal one.
var TerminalIncidentStatuses = []IncidentStatus{IncidentResolved, IncidentFalsePositive}

// Valid reports whether s is a known incident status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentOpen, IncidentInvestigating, IncidentEscalated, IncidentResolved, IncidentFalsePositive:
		return true
	}
	return false
}

// IsTerminal reports whether s is RESOLVED or FALSE_POSITIVE.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentResolved || s == IncidentFalsePositive
}

// Priority ranks incidents for triage.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities from LOW (1) to CRITICAL (4); unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// MaxPriority returns the higher of the two priorities.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParsePriority normalises user input such as "high" into a Priority.
func ParsePriority(value string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(value)))
	return p, p.Valid()
}

// IncidentSource records why an audit entry was promoted to an incident.
type IncidentSource string

const (
	IncidentSourceAuthentication IncidentSource = "authentication"
	IncidentSourceAuthorization  IncidentSource = "authorization"
	IncidentSourceBlocklist      IncidentSource = "blocklist"
	IncidentSourceFailure        IncidentSource = "failure"
	IncidentSourceAnomaly        IncidentSource = "anomaly"
)

// SubjectType scopes page and custom mode grants to a user or a role.
type SubjectType string

const (
	SubjectUser SubjectType = "user"
	SubjectRole SubjectType = "role"
)

// PageAction is the coarse access level of a page grant.
type PageAction string

const (
	PageView PageAction = "view"
	PageEdit PageAction = "edit"
)

// Valid reports whether a is view or edit.
func (a PageAction) Valid() bool {
	return a == PageView || a == PageEdit
}
