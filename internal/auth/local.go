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

var (
	// ErrInvalidCredentials is returned when the supplied identity/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
)

// LoginInput contains the credentials and client metadata of a login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	IPAddress  string
}

// PasswordAuthenticator verifies username/password pairs against stored bcrypt hashes.
type PasswordAuthenticator struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewPasswordAuthenticator builds the authenticator.
func NewPasswordAuthenticator(db *gorm.DB, clock func() time.Time) (*PasswordAuthenticator, error) {
	if db == nil {
		return nil, errors.New("password authenticator: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &PasswordAuthenticator{db: db, clock: clock}, nil
}

// Authenticate verifies the supplied credentials and returns the associated user when successful.
func (p *PasswordAuthenticator) Authenticate(ctx context.Context, input LoginInput) (*models.User, error) {
	identity := strings.TrimSpace(input.Identifier)
	if identity == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := p.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?)", identity, identity).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("password authenticator: query user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := p.clock()
	user.LastLoginAt = &now
	user.LastLoginIP = strings.TrimSpace(input.IPAddress)
	if err := p.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": user.LastLoginIP,
	}).Error; err != nil {
		return nil, fmt.Errorf("password authenticator: update user: %w", err)
	}
	return &user, nil
}
