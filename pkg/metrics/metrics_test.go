package metrics

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstancesAreIsolated(t *testing.T) {
	first := New()
	second := New()

	first.ObserveBlockedRequest()
	first.ObserveBlockedRequest()
	second.ObserveBlockedRequest()

	require.Equal(t, float64(2), testutil.ToFloat64(first.BlockedRequests))
	require.Equal(t, float64(1), testutil.ToFloat64(second.BlockedRequests))
}

func TestLabelledCounters(t *testing.T) {
	m := New()

	m.ObservePermissionCheck("resource", "allow")
	m.ObservePermissionCheck("resource", "deny")
	m.ObservePermissionCheck("resource", "deny")
	m.ObserveIncident("HIGH", "authentication")
	m.SetOpenIncidents(4)

	require.Equal(t, float64(2), testutil.ToFloat64(m.PermissionChecks.WithLabelValues("resource", "deny")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.IncidentsCreated.WithLabelValues("HIGH", "authentication")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.OpenIncidents))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveAuditWrite("ok")
		m.ObserveBroadcastDropped()
		m.SetActiveBlocks(3)
		m.ObserveLatency("GET", "/health", "200", 0.01)
	})
	require.NotNil(t, m.Handler())
}

func TestRegisterDatabaseExportsPoolStats(t *testing.T) {
	m := New()
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, m.RegisterDatabase(sqlDB, "campusgate"))
	require.Error(t, m.RegisterDatabase(sqlDB, "campusgate"))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() == "go_sql_max_open_connections" {
			found = true
		}
	}
	require.True(t, found)

	var nilMetrics *Metrics
	require.NoError(t, nilMetrics.RegisterDatabase(sqlDB, "campusgate"))
}
