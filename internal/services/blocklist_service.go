package services

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/pkg/logger"
)

// Block sources.
const (
	BlockSourceManual = "manual"
	BlockSourceAuto   = "auto"
)

// BlockInput describes a new block.
type BlockInput struct {
	IPAddress string
	Reason    string
	ExpiresAt *time.Time
	Source    string
}

// BlocklistEvent is broadcast whenever the blocklist changes.
type BlocklistEvent struct {
	Type      string            `json:"type"`
	IPAddress string            `json:"ipAddress"`
	Block     *models.BlockedIP `json:"block,omitempty"`
	Affected  int64             `json:"affected,omitempty"`
}

// blockHorizon caches until when an address stays blocked. Expiry is evaluated on read.
type blockHorizon struct {
	until   time.Time
	forever bool
}

func (h blockHorizon) blockedAt(now time.Time) bool {
	return h.forever || h.until.After(now)
}

// BlocklistOption customises a BlocklistService.
type BlocklistOption func(*BlocklistService)

// WithBlocklistClock overrides the timestamp source.
func WithBlocklistClock(now func() time.Time) BlocklistOption {
	return func(s *BlocklistService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBlocklistCache memoises lookups per address for ttl.
func WithBlocklistCache(size int, ttl time.Duration) BlocklistOption {
	return func(s *BlocklistService) {
		if size <= 0 || ttl <= 0 {
			return
		}
		s.cache = expirable.NewLRU[string, blockHorizon](size, nil, ttl)
	}
}

// WithBlocklistPublisher broadcasts block changes.
func WithBlocklistPublisher(p realtime.Publisher) BlocklistOption {
	return func(s *BlocklistService) { s.publisher = p }
}

// BlocklistService stores IP blocks and answers whether an address is currently blocked.
type BlocklistService struct {
	db        *gorm.DB
	audit     *AuditService
	publisher realtime.Publisher
	cache     *expirable.LRU[string, blockHorizon]
	now       func() time.Time
	log       *zap.Logger
}

// NewBlocklistService constructs a BlocklistService.
func NewBlocklistService(db *gorm.DB, auditSvc *AuditService, opts ...BlocklistOption) (*BlocklistService, error) {
	if db == nil {
		return nil, errors.New("blocklist service: db is required")
	}
	s := &BlocklistService{
		db:    db,
		audit: auditSvc,
		now:   time.Now,
		log:   logger.WithModule("blocklist"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NormalizeIP parses an IPv4 or IPv6 address into its canonical text form.
func NormalizeIP(value string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return "", ErrInvalidIPAddress
	}
	return addr.Unmap().String(), nil
}

// Block always inserts a new row so the block history is preserved.
func (s *BlocklistService) Block(ctx context.Context, input BlockInput) (*models.BlockedIP, error) {
	ctx = ensureContext(ctx)
	source := input.Source
	if source == "" {
		source = BlockSourceManual
	}
	action := audit.ActionIPBlocked
	if source == BlockSourceAuto {
		action = audit.ActionIPAutoBlocked
	}
	payload := audit.BlocklistPayload{
		IPAddress: strings.TrimSpace(input.IPAddress),
		Reason:    optionalString(input.Reason),
		ExpiresAt: input.ExpiresAt,
		Automatic: source == BlockSourceAuto,
	}

	block, err := s.block(ctx, input, source)
	if block != nil {
		payload.IPAddress = block.IPAddress
	}
	recordAudit(s.audit, ctx, audit.Event{
		Action:     action,
		Resource:   "blocklist",
		ResourceID: payload.IPAddress,
		Err:        err,
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}

	s.publish(BlocklistEvent{Type: "ip-blocked", IPAddress: block.IPAddress, Block: block})
	return block, nil
}

func (s *BlocklistService) block(ctx context.Context, input BlockInput, source string) (*models.BlockedIP, error) {
	ip, err := NormalizeIP(input.IPAddress)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, ErrExpiryInPast
	}

	block := &models.BlockedIP{
		IPAddress: ip,
		IsActive:  true,
		Reason:    optionalString(input.Reason),
		Source:    source,
		BlockedBy: actorID(ctx),
		BlockedAt: now,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(block).Error; err != nil {
		return nil, fmt.Errorf("blocklist service: create block: %w", err)
	}
	s.invalidate(ip)
	return block, nil
}

// Unblock deactivates every active row for the address and returns how many changed.
// Unblocking an address that is not blocked affects zero rows and is not an error.
func (s *BlocklistService) Unblock(ctx context.Context, ipAddress string) (int64, error) {
	ctx = ensureContext(ctx)
	payload := audit.BlocklistPayload{IPAddress: strings.TrimSpace(ipAddress)}

	affected, err := s.unblock(ctx, ipAddress, &payload)
	payload.Affected = affected
	recordAudit(s.audit, ctx, audit.Event{
		Action:     audit.ActionIPUnblocked,
		Resource:   "blocklist",
		ResourceID: payload.IPAddress,
		Err:        err,
		Payload:    payload,
	})
	if err != nil {
		return 0, err
	}

	s.publish(BlocklistEvent{Type: "ip-unblocked", IPAddress: payload.IPAddress, Affected: affected})
	return affected, nil
}

func (s *BlocklistService) unblock(ctx context.Context, ipAddress string, payload *audit.BlocklistPayload) (int64, error) {
	ip, err := NormalizeIP(ipAddress)
	if err != nil {
		return 0, err
	}
	payload.IPAddress = ip

	res := s.db.WithContext(ctx).Model(&models.BlockedIP{}).
		Where("ip_address = ? AND is_active = ?", ip, true).
		Updates(map[string]any{
			"is_active":      false,
			"deactivated_at": s.now(),
			"deactivated_by": actorID(ctx),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("blocklist service: unblock: %w", res.Error)
	}
	s.invalidate(ip)
	return res.RowsAffected, nil
}

// IsBlocked reports whether any effective block exists for the address right now.
func (s *BlocklistService) IsBlocked(ctx context.Context, ipAddress string) (bool, error) {
	ctx = ensureContext(ctx)
	ip, err := NormalizeIP(ipAddress)
	if err != nil {
		return false, err
	}
	now := s.now()

	if s.cache != nil {
		if horizon, ok := s.cache.Get(ip); ok {
			return horizon.blockedAt(now), nil
		}
	}

	horizon, err := s.horizon(ctx, ip, now)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		s.cache.Add(ip, horizon)
	}
	return horizon.blockedAt(now), nil
}

func (s *BlocklistService) horizon(ctx context.Context, ip string, now time.Time) (blockHorizon, error) {
	var rows []models.BlockedIP
	err := s.effective(s.db.WithContext(ctx), now).
		Where("ip_address = ?", ip).
		Find(&rows).Error
	if err != nil {
		return blockHorizon{}, fmt.Errorf("blocklist service: lookup: %w", err)
	}

	var horizon blockHorizon
	for _, row := range rows {
		if row.ExpiresAt == nil {
			horizon.forever = true
			break
		}
		if row.ExpiresAt.After(horizon.until) {
			horizon.until = *row.ExpiresAt
		}
	}
	return horizon, nil
}

// List returns effective blocks, or the full history when includeExpired is set.
func (s *BlocklistService) List(ctx context.Context, includeExpired bool) ([]models.BlockedIP, error) {
	ctx = ensureContext(ctx)
	query := s.db.WithContext(ctx).Model(&models.BlockedIP{})
	if !includeExpired {
		query = s.effective(query, s.now())
	}

	var rows []models.BlockedIP
	if err := query.Order("blocked_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("blocklist service: list: %w", err)
	}
	return rows, nil
}

// CountEffective returns how many distinct addresses are blocked right now.
func (s *BlocklistService) CountEffective(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	err := s.effective(s.db.WithContext(ctx).Model(&models.BlockedIP{}), s.now()).
		Distinct("ip_address").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("blocklist service: count: %w", err)
	}
	return count, nil
}

func (s *BlocklistService) effective(query *gorm.DB, now time.Time) *gorm.DB {
	return query.
		Where("is_active = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", now)
}

func (s *BlocklistService) invalidate(ip string) {
	if s.cache != nil {
		s.cache.Remove(ip)
	}
}

func (s *BlocklistService) publish(event BlocklistEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.EventSecurity, event)
}
