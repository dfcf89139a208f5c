package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/realtime"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

func newTestIncidentService(t *testing.T, db *gorm.DB, opts ...IncidentOption) *IncidentService {
	t.Helper()
	svc, err := NewIncidentService(db, newTestAuditService(t, db), opts...)
	require.NoError(t, err)
	return svc
}

func createIncident(t *testing.T, db *gorm.DB, source models.IncidentSource, createdAt time.Time) *models.AuditLog {
	t.Helper()
	status := models.IncidentOpen
	priority := models.PriorityMedium
	entry := &models.AuditLog{
		Action:         "TEST_FAILURE",
		Status:         models.AuditStatusFailure,
		AuthMethod:     models.AuthMethodUnauthenticated,
		CreatedAt:      createdAt,
		IsIncident:     true,
		IncidentSource: &source,
		IncidentStatus: &status,
		Priority:       &priority,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}

func statusPtr(s models.IncidentStatus) *models.IncidentStatus { return &s }

func TestIncidentUpdateLifecycle(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	pub := &recordingPublisher{}
	svc := newTestIncidentService(t, db, WithIncidentClock(clock.Now), WithIncidentPublisher(pub))
	ctx := context.Background()
	incident := createIncident(t, db, models.IncidentSourceAuthentication, clock.Now())

	clock.Advance(time.Minute)
	updated, err := svc.Update(ctx, incident.ID, IncidentUpdate{Status: statusPtr(models.IncidentInvestigating)})
	require.NoError(t, err)
	require.Equal(t, models.IncidentInvestigating, *updated.IncidentStatus)
	require.True(t, updated.IncidentUpdatedAt.Equal(clock.Now()))

	high := models.PriorityHigh
	analyst := createTestUser(t, db, "analyst", nil)
	updated, err = svc.Update(ctx, incident.ID, IncidentUpdate{Priority: &high, AssignedTo: &analyst.ID})
	require.NoError(t, err)
	require.Equal(t, models.PriorityHigh, *updated.Priority)
	require.Equal(t, analyst.ID, *updated.AssignedTo)
	require.Equal(t, models.IncidentInvestigating, *updated.IncidentStatus)

	updated, err = svc.Update(ctx, incident.ID, IncidentUpdate{Status: statusPtr(models.IncidentResolved)})
	require.NoError(t, err)
	require.Equal(t, models.IncidentResolved, *updated.IncidentStatus)

	_, err = svc.Update(ctx, incident.ID, IncidentUpdate{Status: statusPtr(models.IncidentOpen)})
	require.ErrorIs(t, err, ErrIncidentTerminal)

	updated, err = svc.Update(ctx, incident.ID, IncidentUpdate{Status: statusPtr(models.IncidentFalsePositive)})
	require.NoError(t, err, "terminal states may be reclassified")
	require.Equal(t, models.IncidentFalsePositive, *updated.IncidentStatus)

	empty := ""
	updated, err = svc.Update(ctx, incident.ID, IncidentUpdate{AssignedTo: &empty})
	require.NoError(t, err)
	require.Nil(t, updated.AssignedTo)

	require.Equal(t, 5, pub.count(realtime.EventIncidentUpdate))
	entries := auditActions(t, db, audit.ActionIncidentUpdated)
	require.Len(t, entries, 6)
	require.Equal(t, models.AuditStatusFailure, entries[3].Status)
}

func TestIncidentUpdateValidation(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestIncidentService(t, db)
	ctx := context.Background()
	incident := createIncident(t, db, models.IncidentSourceFailure, time.Now())

	_, err := svc.Update(ctx, incident.ID, IncidentUpdate{Status: statusPtr("REOPENED")})
	require.ErrorIs(t, err, ErrInvalidIncidentStatus)

	bogus := models.Priority("URGENT")
	_, err = svc.Update(ctx, incident.ID, IncidentUpdate{Priority: &bogus})
	require.ErrorIs(t, err, ErrInvalidPriority)

	_, err = svc.Update(ctx, incident.ID, IncidentUpdate{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	for _, assignee := range []string{"alice", uuid.NewString()} {
		_, err = svc.Update(ctx, incident.ID, IncidentUpdate{AssignedTo: &assignee})
		require.ErrorIs(t, err, ErrInvalidAssignee, assignee)
		require.ErrorIs(t, err, apperrors.ErrValidation)
	}
	current, err := svc.Get(ctx, incident.ID)
	require.NoError(t, err)
	require.Nil(t, current.AssignedTo)

	_, err = svc.Update(ctx, 9999, IncidentUpdate{Status: statusPtr(models.IncidentResolved)})
	require.ErrorIs(t, err, ErrIncidentNotFound)

	plain := &models.AuditLog{Action: "TEST_EVENT", Status: models.AuditStatusSuccess, AuthMethod: models.AuthMethodJWT}
	require.NoError(t, db.Create(plain).Error)
	_, err = svc.Get(ctx, plain.ID)
	require.ErrorIs(t, err, ErrIncidentNotFound, "plain audit entries are not incidents")
}

func TestIncidentBulkMarkFalsePositiveReportsPartialFailure(t *testing.T) {
	db := openServiceTestDB(t)
	pub := &recordingPublisher{}
	svc := newTestIncidentService(t, db, WithIncidentPublisher(pub))
	ctx := context.Background()

	first := createIncident(t, db, models.IncidentSourceAuthorization, time.Now())
	second := createIncident(t, db, models.IncidentSourceAnomaly, time.Now())

	result, err := svc.BulkMarkFalsePositive(ctx, []uint{first.ID, second.ID, 999, first.ID})
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{first.ID, second.ID}, result.Updated)
	require.Equal(t, []BulkFailure{{ID: 999, Reason: "incident not found"}}, result.Failed)

	for _, id := range []uint{first.ID, second.ID} {
		incident, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, models.IncidentFalsePositive, *incident.IncidentStatus)
	}
	require.Equal(t, 2, pub.count(realtime.EventIncidentUpdate))
	require.Len(t, auditActions(t, db, audit.ActionIncidentsBulkFalsePositive), 1)

	_, err = svc.BulkMarkFalsePositive(ctx, nil)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestIncidentCleanupStaleAnomalies(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFakeClock()
	svc := newTestIncidentService(t, db, WithIncidentClock(clock.Now))
	ctx := context.Background()

	old := clock.Now().AddDate(0, 0, -10)
	staleAnomaly := createIncident(t, db, models.IncidentSourceAnomaly, old)
	staleAuth := createIncident(t, db, models.IncidentSourceAuthentication, old)
	freshAnomaly := createIncident(t, db, models.IncidentSourceAnomaly, clock.Now().Add(-time.Hour))
	triaged := createIncident(t, db, models.IncidentSourceAnomaly, old)
	_, err := svc.Update(ctx, triaged.ID, IncidentUpdate{Status: statusPtr(models.IncidentEscalated)})
	require.NoError(t, err)

	count, err := svc.CountStaleAnomalies(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	affected, err := svc.CleanupStaleAnomalies(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	expect := map[uint]models.IncidentStatus{
		staleAnomaly.ID: models.IncidentFalsePositive,
		staleAuth.ID:    models.IncidentOpen,
		freshAnomaly.ID: models.IncidentOpen,
		triaged.ID:      models.IncidentEscalated,
	}
	for id, status := range expect {
		incident, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, status, *incident.IncidentStatus)
	}

	affected, err = svc.CleanupStaleAnomalies(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, affected)
	require.Len(t, auditActions(t, db, audit.ActionIncidentsCleanup), 2)
}

func TestIncidentListSummaryAndOpenCount(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestIncidentService(t, db)
	ctx := context.Background()

	a := createIncident(t, db, models.IncidentSourceAuthentication, time.Now())
	createIncident(t, db, models.IncidentSourceAnomaly, time.Now())
	createIncident(t, db, models.IncidentSourceAnomaly, time.Now())
	critical := models.PriorityCritical
	_, err := svc.Update(ctx, a.ID, IncidentUpdate{Status: statusPtr(models.IncidentResolved), Priority: &critical})
	require.NoError(t, err)

	open := models.IncidentOpen
	listed, err := svc.List(ctx, IncidentFilters{Status: &open})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	source := models.IncidentSourceAuthentication
	listed, err = svc.List(ctx, IncidentFilters{Source: &source})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, a.ID, listed[0].ID)

	openCount, err := svc.CountOpen(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), openCount)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Open)
	require.Equal(t, int64(1), summary.ByStatus[models.IncidentResolved])
	require.Equal(t, int64(1), summary.ByPriority[models.PriorityCritical])
	require.Equal(t, int64(2), summary.ByPriority[models.PriorityMedium])
}
