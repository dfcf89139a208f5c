package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
)

// ErrUnknownPrincipal is returned when credentials are valid but name no active user.
var ErrUnknownPrincipal = errors.New("auth: unknown or inactive principal")

// Identity is the principal a request acts as and how it proved that.
type Identity struct {
	User   models.User
	Method models.AuthMethod
	APIKey *models.APIKey
}

// Principal returns the resolver input. API key requests act with the owner's grants.
func (i *Identity) Principal() permissions.Principal {
	return permissions.Principal{UserID: i.User.ID, RoleID: i.User.RoleID, IsAdmin: i.User.IsAdmin}
}

// Actor returns the audit metadata for the identity.
func (i *Identity) Actor() auditctx.Actor {
	actor := auditctx.Actor{
		UserID:     i.User.ID,
		Username:   i.User.Username,
		RoleID:     i.User.RoleID,
		IsAdmin:    i.User.IsAdmin,
		AuthMethod: i.Method,
	}
	if i.APIKey != nil {
		actor.APIKeyID = i.APIKey.ID
		actor.APIKeyOwnerID = i.APIKey.OwnerID
	}
	return actor
}

// Authenticator turns request credentials into an Identity.
type Authenticator struct {
	db   *gorm.DB
	jwt  *JWTService
	keys *APIKeyService
}

// NewAuthenticator wires the token and key verifiers. keys may be nil to disable API keys.
func NewAuthenticator(db *gorm.DB, jwt *JWTService, keys *APIKeyService) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("authenticator: db is required")
	}
	if jwt == nil {
		return nil, errors.New("authenticator: jwt service is required")
	}
	return &Authenticator{db: db, jwt: jwt, keys: keys}, nil
}

// FromBearer authenticates a JWT access token.
func (a *Authenticator) FromBearer(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	user, err := a.loadUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return &Identity{User: *user, Method: models.AuthMethodJWT}, nil
}

// FromAPIKey authenticates a plaintext API key on behalf of its owner.
func (a *Authenticator) FromAPIKey(ctx context.Context, plaintext string) (*Identity, error) {
	if a.keys == nil {
		return nil, ErrAPIKeyInvalid
	}
	key, err := a.keys.Authenticate(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	user, err := a.loadUser(ctx, key.OwnerID)
	if err != nil {
		return nil, err
	}
	return &Identity{User: *user, Method: models.AuthMethodAPIKey, APIKey: key}, nil
}

func (a *Authenticator) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownPrincipal
	}
	if err != nil {
		return nil, fmt.Errorf("authenticator: load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUnknownPrincipal
	}
	return &user, nil
}
