package services

import (
	"context"

	"github.com/charlesng35/campusgate/internal/audit"
)

// recordAudit hands the event to the recorder while tolerating a missing recorder.
func recordAudit(recorder *AuditService, ctx context.Context, event audit.Event) {
	if recorder == nil {
		return
	}
	recorder.Record(ctx, event)
}
