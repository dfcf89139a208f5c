package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

func TestOutcome(t *testing.T) {
	status, msg := Event{Action: ActionIPBlocked}.Outcome()
	require.Equal(t, models.AuditStatusSuccess, status)
	require.Nil(t, msg)

	status, msg = Event{Err: apperrors.ErrForbidden}.Outcome()
	require.Equal(t, models.AuditStatusFailure, status)
	require.Equal(t, "Permission denied", *msg)

	status, _ = Event{Err: errors.New("disk full")}.Outcome()
	require.Equal(t, models.AuditStatusError, status)

	status, msg = Event{Status: models.AuditStatusFailure}.Outcome()
	require.Equal(t, models.AuditStatusFailure, status)
	require.Nil(t, msg)
}

func TestPayloadCategories(t *testing.T) {
	cases := map[Category]Payload{
		CategoryAuthentication: AuthenticationPayload{},
		CategoryAccess:         AccessPayload{},
		CategoryGrant:          GrantPayload{},
		CategoryBlocklist:      BlocklistPayload{},
		CategoryIncident:       IncidentPayload{},
		CategorySystem:         SystemPayload{},
	}
	for want, payload := range cases {
		require.Equal(t, want, payload.Category())
	}
}
