// Package security decides which audit entries become incidents and at what priority.
package security

import (
	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
)

// Signal is an anomaly heuristic's verdict on one entry.
type Signal struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Priority maps the anomaly score onto the incident priority scale.
func (s Signal) Priority() models.Priority {
	switch {
	case s.Score >= 0.9:
		return models.PriorityCritical
	case s.Score >= 0.7:
		return models.PriorityHigh
	case s.Score >= 0.4:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// Classification is the incident verdict for an audit entry.
type Classification struct {
	IsIncident bool
	Source     models.IncidentSource
	Priority   models.Priority
}

// Classify applies the incident rules to an entry that is about to be persisted. Only
// the action, resource and status are considered, plus the optional anomaly signal.
func Classify(entry *models.AuditLog, signal *Signal) Classification {
	if entry == nil {
		return Classification{}
	}

	result := classifyOutcome(entry)
	if signal == nil {
		return result
	}

	// generic failures only become notable through the signal
	if !result.IsIncident || result.Source == models.IncidentSourceFailure {
		return Classification{
			IsIncident: true,
			Source:     models.IncidentSourceAnomaly,
			Priority:   models.MaxPriority(result.Priority, signal.Priority()),
		}
	}
	result.Priority = models.MaxPriority(result.Priority, signal.Priority())
	return result
}

func classifyOutcome(entry *models.AuditLog) Classification {
	incident := func(source models.IncidentSource, priority models.Priority) Classification {
		return Classification{IsIncident: true, Source: source, Priority: priority}
	}

	switch entry.Action {
	case audit.ActionLoginFailed, audit.ActionAuthenticationFailed:
		return incident(models.IncidentSourceAuthentication, models.PriorityHigh)
	case audit.ActionAuthenticationRequired:
		return incident(models.IncidentSourceAuthentication, models.PriorityLow)
	case audit.ActionSelfModificationDenied:
		return incident(models.IncidentSourceAuthorization, models.PriorityHigh)
	case audit.ActionUnauthorizedAccess:
		if permissions.IsSecurityResource(entry.Resource) {
			return incident(models.IncidentSourceAuthorization, models.PriorityHigh)
		}
		return incident(models.IncidentSourceAuthorization, models.PriorityMedium)
	case audit.ActionBlockedIP:
		return incident(models.IncidentSourceBlocklist, models.PriorityLow)
	}

	switch entry.Status {
	case models.AuditStatusFailure:
		return incident(models.IncidentSourceFailure, models.PriorityLow)
	case models.AuditStatusError:
		return incident(models.IncidentSourceFailure, models.PriorityMedium)
	}
	return Classification{}
}

// Apply stamps the classification onto entry as a fresh OPEN incident.
func (c Classification) Apply(entry *models.AuditLog, signal *Signal) {
	if !c.IsIncident || entry == nil {
		return
	}
	status := models.IncidentOpen
	source := c.Source
	priority := c.Priority

	entry.IsIncident = true
	entry.IncidentStatus = &status
	entry.IncidentSource = &source
	entry.Priority = &priority
	if signal != nil {
		score := signal.Score
		entry.AnomalyScore = &score
	}
}
