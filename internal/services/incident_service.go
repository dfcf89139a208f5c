package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/pkg/logger"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

// DefaultStaleAnomalyDays is the age after which untriaged anomaly incidents may be swept.
const DefaultStaleAnomalyDays = 7

// IncidentFilters narrows incident listings.
type IncidentFilters struct {
	Status   *models.IncidentStatus
	Priority *models.Priority
	Source   *models.IncidentSource
	Limit    int
}

// IncidentUpdate carries the analyst supplied changes to an incident. Nil fields are left alone;
// an empty AssignedTo clears the assignee.
type IncidentUpdate struct {
	Status     *models.IncidentStatus
	Priority   *models.Priority
	AssignedTo *string
}

// BulkFailure explains why one id of a bulk operation was not applied.
type BulkFailure struct {
	ID     uint   `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult reports the per-id outcome of a bulk incident operation.
type BulkResult struct {
	Updated []uint        `json:"updated"`
	Failed  []BulkFailure `json:"failed"`
}

// IncidentSummary counts incidents by status and priority.
type IncidentSummary struct {
	Total      int64                           `json:"total"`
	Open       int64                           `json:"open"`
	ByStatus   map[models.IncidentStatus]int64 `json:"byStatus"`
	ByPriority map[models.Priority]int64       `json:"byPriority"`
}

// IncidentOption customises an IncidentService.
type IncidentOption func(*IncidentService)

// WithIncidentClock overrides the timestamp source.
func WithIncidentClock(now func() time.Time) IncidentOption {
	return func(s *IncidentService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIncidentPublisher broadcasts incident mutations.
func WithIncidentPublisher(p realtime.Publisher) IncidentOption {
	return func(s *IncidentService) { s.publisher = p }
}

// IncidentService manages the lifecycle of audit entries promoted to incidents.
type IncidentService struct {
	db        *gorm.DB
	audit     *AuditService
	publisher realtime.Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewIncidentService constructs an IncidentService.
func NewIncidentService(db *gorm.DB, auditSvc *AuditService, opts ...IncidentOption) (*IncidentService, error) {
	if db == nil {
		return nil, errors.New("incident service: db is required")
	}
	s := &IncidentService{
		db:    db,
		audit: auditSvc,
		now:   time.Now,
		log:   logger.WithModule("incidents"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns incidents newest first.
func (s *IncidentService) List(ctx context.Context, filters IncidentFilters) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := s.incidents(ctx)
	if filters.Status != nil {
		query = query.Where("incident_status = ?", string(*filters.Status))
	}
	if filters.Priority != nil {
		query = query.Where("priority = ?", string(*filters.Priority))
	}
	if filters.Source != nil {
		query = query.Where("incident_source = ?", string(*filters.Source))
	}

	var out []models.AuditLog
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("incident service: list: %w", err)
	}
	return out, nil
}

// Get loads one incident.
func (s *IncidentService) Get(ctx context.Context, id uint) (*models.AuditLog, error) {
	ctx = ensureContext(ctx)

	var incident models.AuditLog
	err := s.incidents(ctx).Take(&incident, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("incident service: get: %w", err)
	}
	return &incident, nil
}

// Update applies an analyst change. A terminal incident may only move to the other
// terminal state.
func (s *IncidentService) Update(ctx context.Context, id uint, input IncidentUpdate) (*models.AuditLog, error) {
	ctx = ensureContext(ctx)
	payload := audit.IncidentPayload{IncidentIDs: []uint{id}}

	incident, err := s.update(ctx, id, input, &payload)
	s.recordUpdate(ctx, audit.ActionIncidentUpdated, fmt.Sprint(id), payload, err)
	if err != nil {
		return nil, err
	}
	s.publish(incident)
	return incident, nil
}

func (s *IncidentService) update(ctx context.Context, id uint, input IncidentUpdate, payload *audit.IncidentPayload) (*models.AuditLog, error) {
	updates := map[string]any{}

	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, ErrInvalidIncidentStatus
		}
		updates["incident_status"] = string(*input.Status)
		payload.ToStatus = *input.Status
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			return nil, ErrInvalidPriority
		}
		updates["priority"] = string(*input.Priority)
		payload.Priority = *input.Priority
	}
	if input.AssignedTo != nil {
		assignee := optionalString(*input.AssignedTo)
		if assignee != nil {
			if err := s.ensureAssignee(ctx, *assignee); err != nil {
				return nil, err
			}
		}
		updates["assigned_to"] = assignee
	}
	if len(updates) == 0 {
		return nil, apperrors.NewValidation("at least one of incidentStatus, priority or assignedTo is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IncidentStatus != nil {
		payload.FromStatus = *current.IncidentStatus
	}

	reopening := input.Status != nil && !input.Status.IsTerminal()
	if reopening && current.IncidentStatus != nil && current.IncidentStatus.IsTerminal() {
		return nil, ErrIncidentTerminal
	}

	updates["incident_updated_at"] = s.now()
	query := s.incidents(ctx).Where("id = ?", id)
	if reopening {
		query = query.Where("incident_status NOT IN ?", terminalStatusStrings())
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("incident service: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// closed concurrently
		return nil, ErrIncidentTerminal
	}
	return s.Get(ctx, id)
}

// BulkMarkFalsePositive transitions each id independently. Unknown ids and failures are
// reported per id and never abort the batch.
func (s *IncidentService) BulkMarkFalsePositive(ctx context.Context, ids []uint) (*BulkResult, error) {
	ctx = ensureContext(ctx)
	ids = normaliseUintIDs(ids)
	if len(ids) == 0 {
		return nil, apperrors.NewValidation("incidentIds must not be empty")
	}

	result := &BulkResult{Updated: []uint{}, Failed: []BulkFailure{}}
	now := s.now()
	for _, id := range ids {
		res := s.incidents(ctx).Where("id = ?", id).Updates(map[string]any{
			"incident_status":     string(models.IncidentFalsePositive),
			"incident_updated_at": now,
		})
		switch {
		case res.Error != nil:
			s.log.Warn("bulk false positive failed", zap.Uint("incident_id", id), zap.Error(res.Error))
			result.Failed = append(result.Failed, BulkFailure{ID: id, Reason: "update failed"})
		case res.RowsAffected == 0:
			result.Failed = append(result.Failed, BulkFailure{ID: id, Reason: "incident not found"})
		default:
			result.Updated = append(result.Updated, id)
		}
	}

	payload := audit.IncidentPayload{
		IncidentIDs: result.Updated,
		ToStatus:    models.IncidentFalsePositive,
		Affected:    int64(len(result.Updated)),
	}
	for _, failure := range result.Failed {
		payload.FailedIDs = append(payload.FailedIDs, failure.ID)
	}
	recordAudit(s.audit, ctx, audit.Event{
		Action:   audit.ActionIncidentsBulkFalsePositive,
		Resource: "incident",
		Payload:  payload,
	})

	if len(result.Updated) > 0 {
		var updated []models.AuditLog
		if err := s.incidents(ctx).Where("id IN ?", result.Updated).Find(&updated).Error; err != nil {
			s.log.Warn("reload bulk updated incidents", zap.Error(err))
		}
		for i := range updated {
			s.publish(&updated[i])
		}
	}
	return result, nil
}

// CleanupStaleAnomalies marks OPEN incidents raised only by the anomaly heuristic and older
// than daysOld as FALSE_POSITIVE. It only runs when explicitly invoked.
func (s *IncidentService) CleanupStaleAnomalies(ctx context.Context, daysOld int) (int64, error) {
	ctx = ensureContext(ctx)
	if daysOld <= 0 {
		daysOld = DefaultStaleAnomalyDays
	}
	now := s.now()

	res := s.staleAnomalies(ctx, daysOld).Updates(map[string]any{
		"incident_status":     string(models.IncidentFalsePositive),
		"incident_updated_at": now,
	})
	payload := audit.IncidentPayload{ToStatus: models.IncidentFalsePositive, DaysOld: daysOld}
	if res.Error != nil {
		err := fmt.Errorf("incident service: cleanup: %w", res.Error)
		s.recordUpdate(ctx, audit.ActionIncidentsCleanup, "", payload, err)
		return 0, err
	}

	payload.Affected = res.RowsAffected
	s.recordUpdate(ctx, audit.ActionIncidentsCleanup, "", payload, nil)
	if res.RowsAffected > 0 && s.publisher != nil {
		s.publisher.Publish(realtime.EventIncidentUpdate, map[string]any{
			"cleanup":  res.RowsAffected,
			"daysOld":  daysOld,
			"statusTo": models.IncidentFalsePositive,
		})
	}
	return res.RowsAffected, nil
}

// CountStaleAnomalies reports how many incidents CleanupStaleAnomalies would transition.
func (s *IncidentService) CountStaleAnomalies(ctx context.Context, daysOld int) (int64, error) {
	ctx = ensureContext(ctx)
	if daysOld <= 0 {
		daysOld = DefaultStaleAnomalyDays
	}
	var count int64
	if err := s.staleAnomalies(ctx, daysOld).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("incident service: count stale: %w", err)
	}
	return count, nil
}

// Summary counts incidents by status and priority.
func (s *IncidentService) Summary(ctx context.Context) (*IncidentSummary, error) {
	ctx = ensureContext(ctx)

	type bucket struct {
		Label string
		Count int64
	}
	var byStatus []bucket
	if err := s.incidents(ctx).Select("incident_status AS label, COUNT(*) AS count").
		Group("incident_status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("incident service: summary by status: %w", err)
	}
	var byPriority []bucket
	if err := s.incidents(ctx).Select("priority AS label, COUNT(*) AS count").
		Group("priority").Scan(&byPriority).Error; err != nil {
		return nil, fmt.Errorf("incident service: summary by priority: %w", err)
	}

	summary := &IncidentSummary{
		ByStatus:   map[models.IncidentStatus]int64{},
		ByPriority: map[models.Priority]int64{},
	}
	for _, b := range byStatus {
		status := models.IncidentStatus(b.Label)
		summary.ByStatus[status] = b.Count
		summary.Total += b.Count
		if !status.IsTerminal() {
			summary.Open += b.Count
		}
	}
	for _, b := range byPriority {
		summary.ByPriority[models.Priority(b.Label)] = b.Count
	}
	return summary, nil
}

// CountOpen returns the number of non-terminal incidents.
func (s *IncidentService) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := s.incidents(ensureContext(ctx)).
		Where("incident_status NOT IN ?", terminalStatusStrings()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("incident service: count open: %w", err)
	}
	return count, nil
}

// ensureAssignee checks the id is well formed before querying, since uuid columns reject
// anything else at the driver.
func (s *IncidentService) ensureAssignee(ctx context.Context, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return ErrInvalidAssignee
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("incident service: lookup assignee: %w", err)
	}
	if count == 0 {
		return ErrInvalidAssignee
	}
	return nil
}

func (s *IncidentService) incidents(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.AuditLog{}).Where("is_incident = ?", true)
}

func (s *IncidentService) staleAnomalies(ctx context.Context, daysOld int) *gorm.DB {
	cutoff := s.now().AddDate(0, 0, -daysOld)
	return s.incidents(ctx).
		Where("incident_status = ?", string(models.IncidentOpen)).
		Where("incident_source = ?", string(models.IncidentSourceAnomaly)).
		Where("created_at < ?", cutoff)
}

func (s *IncidentService) recordUpdate(ctx context.Context, action, resourceID string, payload audit.IncidentPayload, err error) {
	recordAudit(s.audit, ctx, audit.Event{
		Action:     action,
		Resource:   "incident",
		ResourceID: resourceID,
		Err:        err,
		Payload:    payload,
	})
}

func (s *IncidentService) publish(incident *models.AuditLog) {
	if s.publisher == nil || incident == nil {
		return
	}
	snapshot := *incident
	s.publisher.Publish(realtime.EventIncidentUpdate, &snapshot)
}

func terminalStatusStrings() []string {
	out := make([]string, 0, len(models.TerminalIncidentStatuses))
	for _, status := range models.TerminalIncidentStatuses {
		out = append(out, string(status))
	}
	return out
}
