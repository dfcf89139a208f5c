package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/pkg/crypto"
)

const (
	apiKeyPrefix      = "cg_"
	apiKeyTokenLength = 32
	apiKeyPrefixLen   = 10
)

var (
	// ErrAPIKeyInvalid is returned for unknown, revoked or expired keys.
	ErrAPIKeyInvalid = errors.New("api key: invalid")
)

// APIKeyService issues and verifies API keys. Only the SHA-256 digest of a key is stored.
type APIKeyService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAPIKeyService constructs the service.
func NewAPIKeyService(db *gorm.DB, clock func() time.Time) (*APIKeyService, error) {
	if db == nil {
		return nil, errors.New("api key service: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &APIKeyService{db: db, now: clock}, nil
}

// Create issues a key for ownerID and returns the plaintext exactly once.
func (s *APIKeyService) Create(ctx context.Context, ownerID, name string, expiresAt *time.Time) (string, *models.APIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return "", nil, errors.New("api key service: owner and name are required")
	}

	token, err := crypto.GenerateToken(apiKeyTokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("api key service: generate: %w", err)
	}
	plaintext := apiKeyPrefix + token

	key := &models.APIKey{
		Name:      name,
		OwnerID:   ownerID,
		Prefix:    plaintext[:apiKeyPrefixLen],
		KeyHash:   crypto.HashAPIKey(plaintext),
		IsActive:  true,
		ExpiresAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("api key service: create: %w", err)
	}
	return plaintext, key, nil
}

// Authenticate resolves a plaintext key to its usable record and touches last_used_at.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return nil, ErrAPIKeyInvalid
	}

	digest := crypto.HashAPIKey(plaintext)
	var key models.APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", digest).Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("api key service: lookup: %w", err)
	}

	now := s.now()
	if !crypto.EqualDigest(key.KeyHash, digest) || !key.UsableAt(now) {
		return nil, ErrAPIKeyInvalid
	}

	if err := s.db.WithContext(ctx).Model(&key).UpdateColumn("last_used_at", now).Error; err != nil {
		return nil, fmt.Errorf("api key service: touch: %w", err)
	}
	key.LastUsedAt = &now
	return &key, nil
}

// Revoke deactivates a key.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("api key service: revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAPIKeyInvalid
	}
	return nil
}
