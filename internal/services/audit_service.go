package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/notify"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/internal/security"
	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

// DefaultListLimit and MaxListLimit bound audit and incident listings.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

const (
	defaultAuditQueueSize    = 1024
	defaultAuditWriteTimeout = 5 * time.Second
)

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	Action        string
	Status        string
	AuthMethod    string
	APIKeyID      string
	APIKeyOwnerID string
	CorrelationID string
	ActorID       string
	Resource      string
	Since         *time.Time
	Until         *time.Time
	Limit         int
}

// AuditHook observes every persisted entry after classification.
type AuditHook func(ctx context.Context, entry *models.AuditLog)

// SecurityEvent is broadcast whenever a persisted entry is an incident.
type SecurityEvent struct {
	Incident *models.AuditLog `json:"incident"`
	Reason   string           `json:"reason,omitempty"`
}

// AuditOption customises an AuditService.
type AuditOption func(*AuditService)

// WithAuditClock overrides the timestamp source.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(s *AuditService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditPublisher broadcasts persisted entries.
func WithAuditPublisher(p realtime.Publisher) AuditOption {
	return func(s *AuditService) { s.publisher = p }
}

// WithAnomalyDetector consults d before every entry is classified.
func WithAnomalyDetector(d security.AnomalyDetector) AuditOption {
	return func(s *AuditService) { s.detector = d }
}

// WithIncidentNotifier alerts n about new incidents.
func WithIncidentNotifier(n *notify.IncidentNotifier) AuditOption {
	return func(s *AuditService) { s.notifier = n }
}

// WithAuditMetrics records write outcomes and incidents on m.
func WithAuditMetrics(m *metrics.Metrics) AuditOption {
	return func(s *AuditService) { s.metrics = m }
}

// WithAsyncWrites persists Record calls on background workers fed by a bounded queue.
func WithAsyncWrites(workers, queueSize int) AuditOption {
	return func(s *AuditService) {
		if workers <= 0 {
			workers = 1
		}
		if queueSize <= 0 {
			queueSize = defaultAuditQueueSize
		}
		s.workers = workers
		s.queueSize = queueSize
	}
}

// WithAuditWriteTimeout bounds a single audit insert.
func WithAuditWriteTimeout(d time.Duration) AuditOption {
	return func(s *AuditService) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithAuditHook registers a hook at construction time.
func WithAuditHook(h AuditHook) AuditOption {
	return func(s *AuditService) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

type auditJob struct {
	ctx   context.Context
	entry *models.AuditLog
}

// AuditService records, classifies and queries audit log entries. Recording never fails
// the calling operation.
type AuditService struct {
	db           *gorm.DB
	now          func() time.Time
	publisher    realtime.Publisher
	detector     security.AnomalyDetector
	notifier     *notify.IncidentNotifier
	metrics      *metrics.Metrics
	log          *zap.Logger
	writeTimeout time.Duration

	hooksMu sync.RWMutex
	hooks   []AuditHook

	workers   int
	queueSize int
	queue     chan auditJob
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, opts ...AuditOption) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	s := &AuditService{
		db:           db,
		now:          time.Now,
		log:          logger.WithModule("audit"),
		writeTimeout: defaultAuditWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.workers > 0 {
		s.queue = make(chan auditJob, s.queueSize)
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	}
	return s, nil
}

// AddHook registers a hook after construction.
func (s *AuditService) AddHook(h AuditHook) {
	if h == nil {
		return
	}
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Record captures the event with the actor and request metadata of ctx. Persistence
// failures are logged and counted, never returned.
func (s *AuditService) Record(ctx context.Context, event audit.Event) {
	ctx = ensureContext(ctx)
	entry, err := s.newEntry(ctx, event)
	if err != nil {
		s.log.Warn("audit event rejected", zap.Error(err))
		return
	}

	s.mu.RLock()
	if s.queue == nil || s.closed {
		s.mu.RUnlock()
		_ = s.persist(ctx, entry)
		return
	}

	select {
	case s.queue <- auditJob{ctx: auditctx.Detach(ctx), entry: entry}:
	default:
		s.metrics.ObserveAuditWrite("dropped")
		s.log.Warn("audit queue full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("correlation_id", entry.CorrelationID))
	}
	s.mu.RUnlock()
}

// Log persists the event synchronously and returns the stored entry.
func (s *AuditService) Log(ctx context.Context, event audit.Event) (*models.AuditLog, error) {
	ctx = ensureContext(ctx)
	entry, err := s.newEntry(ctx, event)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Close stops accepting asynchronous work and waits for queued entries to be written.
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.queue == nil || s.closed {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit service: drain queue: %w", ctx.Err())
	}
}

// List returns entries ordered pinned first, most recently pinned first, then newest first.
func (s *AuditService) List(ctx context.Context, filters AuditFilters) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var logs []models.AuditLog
	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), filters)
	if err := query.
		Order("is_pinned DESC").
		Order("pinned_at DESC").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, nil
}

// Get loads a single entry.
func (s *AuditService) Get(ctx context.Context, id uint) (*models.AuditLog, error) {
	ctx = ensureContext(ctx)

	var entry models.AuditLog
	err := s.db.WithContext(ctx).Take(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuditLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit service: get log: %w", err)
	}
	return &entry, nil
}

// Pin marks an entry as pinned in a single update. Pinning again refreshes pinnedAt.
func (s *AuditService) Pin(ctx context.Context, id uint) (*models.AuditLog, error) {
	now := s.now()
	return s.setPinned(ctx, id, audit.ActionAuditPinned, map[string]any{
		"is_pinned": true,
		"pinned_at": now,
		"pinned_by": actorID(ctx),
	})
}

// Unpin clears the pin of an entry.
func (s *AuditService) Unpin(ctx context.Context, id uint) (*models.AuditLog, error) {
	return s.setPinned(ctx, id, audit.ActionAuditUnpinned, map[string]any{
		"is_pinned": false,
		"pinned_at": nil,
		"pinned_by": nil,
	})
}

func (s *AuditService) setPinned(ctx context.Context, id uint, action string, updates map[string]any) (*models.AuditLog, error) {
	ctx = ensureContext(ctx)
	resourceID := fmt.Sprint(id)

	res := s.db.WithContext(ctx).Model(&models.AuditLog{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		err := fmt.Errorf("audit service: pin log: %w", res.Error)
		s.Record(ctx, audit.Event{Action: action, Resource: "audit_log", ResourceID: resourceID, Err: err, Payload: audit.SystemPayload{AuditLogID: id}})
		return nil, err
	}
	if res.RowsAffected == 0 {
		s.Record(ctx, audit.Event{Action: action, Resource: "audit_log", ResourceID: resourceID, Err: ErrAuditLogNotFound, Payload: audit.SystemPayload{AuditLogID: id}})
		return nil, ErrAuditLogNotFound
	}

	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Record(ctx, audit.Event{Action: action, Resource: "audit_log", ResourceID: resourceID, Payload: audit.SystemPayload{AuditLogID: id}})
	s.publish(realtime.EventAuditLogUpdate, entry)
	return entry, nil
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		_ = s.persist(job.ctx, job.entry)
	}
}

// newEntry snapshots the event and the request scoped metadata of ctx.
func (s *AuditService) newEntry(ctx context.Context, event audit.Event) (*models.AuditLog, error) {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return nil, errors.New("audit service: action is required")
	}

	now := s.now()
	status, message := event.Outcome()
	entry := &models.AuditLog{
		Action:       action,
		Resource:     strings.TrimSpace(event.Resource),
		ResourceID:   optionalString(event.ResourceID),
		Status:       status,
		ErrorMessage: message,
		AuthMethod:   models.AuthMethodUnauthenticated,
		CreatedAt:    now,
	}

	if req, ok := auditctx.RequestFromContext(ctx); ok {
		entry.CorrelationID = req.CorrelationID
		entry.IPAddress = req.IPAddress
		entry.UserAgent = req.UserAgent
		entry.HTTPMethod = req.Method
		entry.Path = req.Path
		if !req.StartedAt.IsZero() {
			entry.ResponseTimeMs = now.Sub(req.StartedAt).Milliseconds()
		}
	}

	if actor, ok := auditctx.FromContext(ctx); ok && actor.UserID != "" {
		id := actor.UserID
		entry.ActorID = &id
		entry.ActorName = actor.Username
		if actor.AuthMethod != "" {
			entry.AuthMethod = actor.AuthMethod
		}
		entry.APIKeyID = optionalString(actor.APIKeyID)
		entry.APIKeyOwnerID = optionalString(actor.APIKeyOwnerID)
	}

	if event.Payload != nil {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("audit service: marshal payload: %w", err)
		}
		entry.Category = string(event.Payload.Category())
		entry.Payload = datatypes.JSON(encoded)
	}
	if len(event.Diagnostics) > 0 {
		encoded, err := json.Marshal(event.Diagnostics)
		if err != nil {
			return nil, fmt.Errorf("audit service: marshal diagnostics: %w", err)
		}
		entry.Details = datatypes.JSON(encoded)
	}
	return entry, nil
}

// persist classifies and writes the entry, then fans it out.
func (s *AuditService) persist(ctx context.Context, entry *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(auditctx.Detach(ctx), s.writeTimeout)
	defer cancel()

	var signal *security.Signal
	if s.detector != nil {
		signal = s.detector.Observe(ctx, entry)
	}
	security.Classify(entry, signal).Apply(entry, signal)
	if entry.IsIncident {
		at := entry.CreatedAt
		entry.IncidentUpdatedAt = &at
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.metrics.ObserveAuditWrite("error")
		s.log.Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("correlation_id", entry.CorrelationID),
			zap.Error(err))
		return fmt.Errorf("audit service: create entry: %w", err)
	}
	s.metrics.ObserveAuditWrite("success")

	s.publish(realtime.EventAuditLogUpdate, entry)
	if entry.IsIncident {
		s.metrics.ObserveIncident(string(*entry.Priority), string(*entry.IncidentSource))
		s.publish(realtime.EventIncidentUpdate, entry)
		reason := ""
		if signal != nil {
			reason = signal.Reason
		}
		snapshot := *entry
		if s.publisher != nil {
			s.publisher.Publish(realtime.EventSecurity, SecurityEvent{Incident: &snapshot, Reason: reason})
		}
		s.notifier.NotifyIncident(&snapshot)
	}

	s.hooksMu.RLock()
	hooks := append([]AuditHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, entry)
	}
	return nil
}

func (s *AuditService) publish(event string, entry *models.AuditLog) {
	if s.publisher == nil || entry == nil {
		return
	}
	snapshot := *entry
	s.publisher.Publish(event, &snapshot)
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	eq := map[string]string{
		"action":           filters.Action,
		"status":           strings.ToUpper(filters.Status),
		"auth_method":      strings.ToUpper(filters.AuthMethod),
		"api_key_id":       filters.APIKeyID,
		"api_key_owner_id": filters.APIKeyOwnerID,
		"correlation_id":   filters.CorrelationID,
		"actor_id":         filters.ActorID,
		"resource":         filters.Resource,
	}
	for column, value := range eq {
		if value = strings.TrimSpace(value); value != "" {
			query = query.Where(column+" = ?", value)
		}
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
