package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

// TrustService tracks users exempt from automatic IP blocking.
type TrustService struct {
	db *gorm.DB
}

// NewTrustService constructs a TrustService.
func NewTrustService(db *gorm.DB) (*TrustService, error) {
	if db == nil {
		return nil, errors.New("trust service: db is required")
	}
	return &TrustService{db: db}, nil
}

// IsTrusted reports whether userID is exempt from automatic blocks.
func (s *TrustService) IsTrusted(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.TrustedUser{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("trust service: lookup: %w", err)
	}
	return count > 0, nil
}

// Trust marks userID as trusted. Trusting an already trusted user is a no-op.
func (s *TrustService) Trust(ctx context.Context, userID, reason string) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewValidation("userId is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Select("id").Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("trust service: load user: %w", err)
	}

	row := &models.TrustedUser{UserID: userID, Reason: reason, CreatedBy: actorID(ctx)}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row).Error; err != nil {
		return fmt.Errorf("trust service: trust user: %w", err)
	}
	return nil
}

// EnsureFirstUserTrusted trusts user when it is the only account, which is the case for the
// bootstrap administrator.
func (s *TrustService) EnsureFirstUserTrusted(ctx context.Context, user *models.User) error {
	if user == nil {
		return nil
	}
	ctx = ensureContext(ctx)

	var users int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return fmt.Errorf("trust service: count users: %w", err)
	}
	if users != 1 {
		return nil
	}
	return s.Trust(ctx, user.ID, "first account")
}
