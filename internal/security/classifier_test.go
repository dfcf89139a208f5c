package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
)

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name     string
		entry    models.AuditLog
		incident bool
		source   models.IncidentSource
		priority models.Priority
	}{
		{"login failure", models.AuditLog{Action: audit.ActionLoginFailed, Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthentication, models.PriorityHigh},
		{"bad token", models.AuditLog{Action: audit.ActionAuthenticationFailed, Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthentication, models.PriorityHigh},
		{"missing credentials", models.AuditLog{Action: audit.ActionAuthenticationRequired, Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthentication, models.PriorityLow},
		{"denied domain resource", models.AuditLog{Action: audit.ActionUnauthorizedAccess, Resource: "students", Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthorization, models.PriorityMedium},
		{"denied security resource", models.AuditLog{Action: audit.ActionUnauthorizedAccess, Resource: "blocklist", Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthorization, models.PriorityHigh},
		{"self modification", models.AuditLog{Action: audit.ActionSelfModificationDenied, Status: models.AuditStatusFailure}, true, models.IncidentSourceAuthorization, models.PriorityHigh},
		{"blocked ip", models.AuditLog{Action: audit.ActionBlockedIP, Status: models.AuditStatusFailure}, true, models.IncidentSourceBlocklist, models.PriorityLow},
		{"generic failure", models.AuditLog{Action: audit.ActionIPBlocked, Status: models.AuditStatusFailure}, true, models.IncidentSourceFailure, models.PriorityLow},
		{"generic error", models.AuditLog{Action: audit.ActionPermissionGranted, Status: models.AuditStatusError}, true, models.IncidentSourceFailure, models.PriorityMedium},
		{"success", models.AuditLog{Action: audit.ActionPermissionGranted, Status: models.AuditStatusSuccess}, false, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(&tc.entry, nil)
			require.Equal(t, tc.incident, got.IsIncident)
			require.Equal(t, tc.source, got.Source)
			require.Equal(t, tc.priority, got.Priority)
		})
	}
}

func TestClassifyWithSignal(t *testing.T) {
	success := &models.AuditLog{Action: audit.ActionPermissionGranted, Status: models.AuditStatusSuccess}
	got := Classify(success, &Signal{Score: 0.75})
	require.True(t, got.IsIncident)
	require.Equal(t, models.IncidentSourceAnomaly, got.Source)
	require.Equal(t, models.PriorityHigh, got.Priority)

	denied := &models.AuditLog{Action: audit.ActionAuthenticationRequired, Status: models.AuditStatusFailure}
	got = Classify(denied, &Signal{Score: 0.95})
	require.Equal(t, models.IncidentSourceAuthentication, got.Source)
	require.Equal(t, models.PriorityCritical, got.Priority)

	failed := &models.AuditLog{Action: audit.ActionIPBlocked, Status: models.AuditStatusError}
	got = Classify(failed, &Signal{Score: 0.2})
	require.Equal(t, models.IncidentSourceAnomaly, got.Source, "generic failures are attributed to the signal")
	require.Equal(t, models.PriorityMedium, got.Priority)

	got = Classify(&models.AuditLog{Action: audit.ActionLoginFailed}, &Signal{Score: 0.1})
	require.Equal(t, models.PriorityHigh, got.Priority, "signal never lowers priority")
}

func TestSignalPriority(t *testing.T) {
	require.Equal(t, models.PriorityLow, Signal{Score: 0.2}.Priority())
	require.Equal(t, models.PriorityMedium, Signal{Score: 0.4}.Priority())
	require.Equal(t, models.PriorityHigh, Signal{Score: 0.7}.Priority())
	require.Equal(t, models.PriorityCritical, Signal{Score: 0.9}.Priority())
}

func TestApply(t *testing.T) {
	entry := &models.AuditLog{Action: audit.ActionLoginFailed, Status: models.AuditStatusFailure}
	signal := &Signal{Score: 0.5}
	Classify(entry, signal).Apply(entry, signal)

	require.True(t, entry.IsIncident)
	require.Equal(t, models.IncidentOpen, *entry.IncidentStatus)
	require.Equal(t, models.IncidentSourceAuthentication, *entry.IncidentSource)
	require.Equal(t, models.PriorityHigh, *entry.Priority)
	require.Equal(t, 0.5, *entry.AnomalyScore)

	plain := &models.AuditLog{Status: models.AuditStatusSuccess}
	Classify(plain, nil).Apply(plain, nil)
	require.False(t, plain.IsIncident)
	require.Nil(t, plain.IncidentStatus)
}
