package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/campusgate/internal/database/sqlerr"
	"github.com/charlesng35/campusgate/internal/models"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

// GrantOutcome describes what a grant call changed.
type GrantOutcome string

const (
	GrantCreated     GrantOutcome = "created"
	GrantReactivated GrantOutcome = "reactivated"
	GrantUnchanged   GrantOutcome = "unchanged"
)

// Subject identifies the user or role a page or custom mode grant applies to.
type Subject struct {
	Type models.SubjectType `json:"type"`
	ID   string             `json:"id"`
}

// UserSubject scopes a grant to a single user.
func UserSubject(id string) Subject { return Subject{Type: models.SubjectUser, ID: id} }

// RoleSubject scopes a grant to every user holding the role.
func RoleSubject(id string) Subject { return Subject{Type: models.SubjectRole, ID: id} }

// PermissionInput carries the fields of a new permission definition.
type PermissionInput struct {
	Name        string
	Resource    string
	Action      string
	Description string
}

// Store persists permission definitions and every kind of grant.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock stamped on grant and revoke timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs a Store backed by db.
func NewStore(db *gorm.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("permission store: db is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Transaction runs fn with a store bound to one database transaction. Compound grants use
// it so a partially applied page grant is never observable.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, now: s.now})
	})
}

// CreatePermission inserts a new permission definition. The name defaults to resource:action.
func (s *Store) CreatePermission(ctx context.Context, input PermissionInput) (*models.Permission, error) {
	resource := strings.ToLower(strings.TrimSpace(input.Resource))
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if resource == "" || action == "" {
		return nil, apperrors.NewValidation("resource and action are required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = models.PermissionKey(resource, action)
	}

	perm := &models.Permission{
		Name:        name,
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.db.WithContext(ctx).Create(perm).Error; err != nil {
		if sqlerr.IsUniqueViolation(err) {
			return nil, ErrPermissionNameTaken
		}
		return nil, fmt.Errorf("permission store: create permission: %w", err)
	}
	return perm, nil
}

// GetPermission loads a permission by id.
func (s *Store) GetPermission(ctx context.Context, id string) (*models.Permission, error) {
	var perm models.Permission
	err := s.db.WithContext(ctx).Take(&perm, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("permission store: get permission: %w", err)
	}
	return &perm, nil
}

// FindByResourceAction loads the permission for a resource:action pair.
func (s *Store) FindByResourceAction(ctx context.Context, resource, action string) (*models.Permission, error) {
	var perm models.Permission
	err := s.db.WithContext(ctx).
		Where("resource = ? AND action = ?", strings.ToLower(resource), strings.ToLower(action)).
		Order("created_at ASC").
		Take(&perm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("permission store: find permission: %w", err)
	}
	return &perm, nil
}

// ListPermissions returns every permission ordered by name.
func (s *Store) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission store: list permissions: %w", err)
	}
	return perms, nil
}

// EnsurePermissions returns the permission rows for the given resource:action keys,
// creating rows for keys that have never been stored.
func (s *Store) EnsurePermissions(ctx context.Context, keys []string) ([]models.Permission, error) {
	known := make(map[string]Definition)
	for _, def := range Catalogue() {
		known[def.Key()] = def
	}

	out := make([]models.Permission, 0, len(keys))
	for _, key := range keys {
		def, ok := known[key]
		if !ok {
			resource, action, found := strings.Cut(key, ":")
			if !found || resource == "" || action == "" {
				return nil, apperrors.NewValidation(fmt.Sprintf("invalid permission key %q", key))
			}
			def = Definition{Resource: resource, Action: action}
		}

		var perm models.Permission
		err := s.db.WithContext(ctx).
			Where(models.Permission{Name: def.Key()}).
			Attrs(models.Permission{Resource: def.Resource, Action: def.Action, Description: def.Description}).
			FirstOrCreate(&perm).Error
		if err != nil {
			return nil, fmt.Errorf("permission store: ensure %s: %w", key, err)
		}
		out = append(out, perm)
	}
	return out, nil
}

// GrantUser activates a direct grant of permissionID to userID.
func (s *Store) GrantUser(ctx context.Context, userID, permissionID string, actor *string) (*models.UserPermission, GrantOutcome, error) {
	return activate(ctx, s.db, map[string]any{"user_id": userID, "permission_id": permissionID},
		func() *models.UserPermission {
			return &models.UserPermission{UserID: userID, PermissionID: permissionID}
		}, actor, s.now())
}

// RevokeUser soft-revokes a direct grant. ErrGrantNotFound when no active grant exists.
func (s *Store) RevokeUser(ctx context.Context, userID, permissionID string, actor *string) (*models.UserPermission, error) {
	return deactivate[models.UserPermission](ctx, s.db,
		map[string]any{"user_id": userID, "permission_id": permissionID}, actor, s.now())
}

// GrantRole activates a grant of permissionID to roleID.
func (s *Store) GrantRole(ctx context.Context, roleID, permissionID string, actor *string) (*models.RolePermission, GrantOutcome, error) {
	return activate(ctx, s.db, map[string]any{"role_id": roleID, "permission_id": permissionID},
		func() *models.RolePermission {
			return &models.RolePermission{RoleID: roleID, PermissionID: permissionID}
		}, actor, s.now())
}

// RevokeRole soft-revokes a role grant. ErrGrantNotFound when no active grant exists.
func (s *Store) RevokeRole(ctx context.Context, roleID, permissionID string, actor *string) (*models.RolePermission, error) {
	return deactivate[models.RolePermission](ctx, s.db,
		map[string]any{"role_id": roleID, "permission_id": permissionID}, actor, s.now())
}

// GrantSubject grants a permission to a user or a role.
func (s *Store) GrantSubject(ctx context.Context, subject Subject, permissionID string, actor *string) (GrantOutcome, error) {
	if subject.Type == models.SubjectRole {
		_, outcome, err := s.GrantRole(ctx, subject.ID, permissionID, actor)
		return outcome, err
	}
	_, outcome, err := s.GrantUser(ctx, subject.ID, permissionID, actor)
	return outcome, err
}

// RevokeSubject revokes a permission from a user or a role.
func (s *Store) RevokeSubject(ctx context.Context, subject Subject, permissionID string, actor *string) error {
	if subject.Type == models.SubjectRole {
		_, err := s.RevokeRole(ctx, subject.ID, permissionID, actor)
		return err
	}
	_, err := s.RevokeUser(ctx, subject.ID, permissionID, actor)
	return err
}

// GrantPage activates a page level grant.
func (s *Store) GrantPage(ctx context.Context, subject Subject, page string, action models.PageAction, actor *string) (*models.PagePermission, GrantOutcome, error) {
	return activate(ctx, s.db, pageWhere(subject, page, action),
		func() *models.PagePermission {
			return &models.PagePermission{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, Action: action}
		}, actor, s.now())
}

// RevokePage soft-revokes a page level grant.
func (s *Store) RevokePage(ctx context.Context, subject Subject, page string, action models.PageAction, actor *string) (*models.PagePermission, error) {
	return deactivate[models.PagePermission](ctx, s.db, pageWhere(subject, page, action), actor, s.now())
}

// HasActivePageGrant reports whether the subject itself holds the page grant.
func (s *Store) HasActivePageGrant(ctx context.Context, subject Subject, page string, action models.PageAction) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PagePermission{}).
		Where(pageWhere(subject, page, action)).
		Where("is_active = ?", true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission store: page grant lookup: %w", err)
	}
	return count > 0, nil
}

// GrantMode activates a custom mode grant.
func (s *Store) GrantMode(ctx context.Context, subject Subject, page, modeID string, actor *string) (*models.CustomModeGrant, GrantOutcome, error) {
	return activate(ctx, s.db, modeWhere(subject, page, modeID),
		func() *models.CustomModeGrant {
			return &models.CustomModeGrant{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, ModeID: modeID}
		}, actor, s.now())
}

// RevokeMode soft-revokes a custom mode grant.
func (s *Store) RevokeMode(ctx context.Context, subject Subject, page, modeID string, actor *string) (*models.CustomModeGrant, error) {
	return deactivate[models.CustomModeGrant](ctx, s.db, modeWhere(subject, page, modeID), actor, s.now())
}

// ActiveModes returns the ids of the custom modes the subject itself holds on page.
func (s *Store) ActiveModes(ctx context.Context, subject Subject, page string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.CustomModeGrant{}).
		Where("subject_type = ? AND subject_id = ? AND page = ?", string(subject.Type), subject.ID, page).
		Where("is_active = ?", true).
		Order("mode_id ASC").
		Pluck("mode_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("permission store: mode grant lookup: %w", err)
	}
	return ids, nil
}

func pageWhere(subject Subject, page string, action models.PageAction) map[string]any {
	return map[string]any{
		"subject_type": string(subject.Type),
		"subject_id":   subject.ID,
		"page":         page,
		"action":       string(action),
	}
}

func modeWhere(subject Subject, page, modeID string) map[string]any {
	return map[string]any{
		"subject_type": string(subject.Type),
		"subject_id":   subject.ID,
		"page":         page,
		"mode_id":      modeID,
	}
}

type grantRow[T any] interface {
	*T
	Grant() *models.GrantFields
}

// activate implements create, reactivate or no-op for any grant row keyed by where.
// Concurrent callers converge on one row: the insert ignores conflicts on the unique
// index and the reactivation only applies to rows that are still inactive.
func activate[T any, P grantRow[T]](ctx context.Context, db *gorm.DB, where map[string]any, build func() P, actor *string, now time.Time) (P, GrantOutcome, error) {
	tx := db.WithContext(ctx)

	row := P(new(T))
	err := tx.Where(where).Take(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		fresh := build()
		grant := fresh.Grant()
		grant.IsActive = true
		grant.GrantedBy = actor
		grant.GrantedAt = now

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fresh)
		if res.Error != nil {
			return nil, "", fmt.Errorf("permission store: create grant: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return fresh, GrantCreated, nil
		}
		row = P(new(T))
		if err := tx.Where(where).Take(row).Error; err != nil {
			return nil, "", fmt.Errorf("permission store: reload grant: %w", err)
		}
	case err != nil:
		return nil, "", fmt.Errorf("permission store: load grant: %w", err)
	}

	if row.Grant().IsActive {
		return row, GrantUnchanged, nil
	}

	res := tx.Model(row).Where("is_active = ?", false).Updates(map[string]any{
		"is_active":  true,
		"granted_by": actor,
		"granted_at": now,
		"revoked_by": nil,
		"revoked_at": nil,
	})
	if res.Error != nil {
		return nil, "", fmt.Errorf("permission store: reactivate grant: %w", res.Error)
	}

	outcome := GrantReactivated
	if res.RowsAffected == 0 {
		outcome = GrantUnchanged
	}
	reloaded := P(new(T))
	if err := tx.Where(where).Take(reloaded).Error; err != nil {
		return nil, "", fmt.Errorf("permission store: reload grant: %w", err)
	}
	return reloaded, outcome, nil
}

func deactivate[T any, P grantRow[T]](ctx context.Context, db *gorm.DB, where map[string]any, actor *string, now time.Time) (P, error) {
	tx := db.WithContext(ctx)

	row := P(new(T))
	err := tx.Where(where).Where("is_active = ?", true).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("permission store: load grant: %w", err)
	}

	res := tx.Model(row).Where("is_active = ?", true).Updates(map[string]any{
		"is_active":  false,
		"revoked_by": actor,
		"revoked_at": now,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("permission store: revoke grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrGrantNotFound
	}

	reloaded := P(new(T))
	if err := tx.Where(where).Take(reloaded).Error; err != nil {
		return nil, fmt.Errorf("permission store: reload grant: %w", err)
	}
	return reloaded, nil
}
