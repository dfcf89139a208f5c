package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

// PageGrantResult is returned by page and custom mode grants.
type PageGrantResult struct {
	PagePermission *models.PagePermission  `json:"pagePermission,omitempty"`
	ModeGrant      *models.CustomModeGrant `json:"customModeGrant,omitempty"`
	APIPermissions []models.Permission     `json:"apiPermissions"`
}

// PageRevokeResult lists the concrete permissions revoked alongside a page or mode grant.
type PageRevokeResult struct {
	PagePermission *models.PagePermission  `json:"pagePermission,omitempty"`
	ModeGrant      *models.CustomModeGrant `json:"customModeGrant,omitempty"`
	RevokedKeys    []string                `json:"revokedPermissions"`
}

// PageGrantItem is one entry of a bulk page operation.
type PageGrantItem struct {
	Page   string            `json:"page"`
	Action models.PageAction `json:"action"`
}

// BulkPageResult reports the outcome of one bulk item.
type BulkPageResult struct {
	Page    string            `json:"page"`
	Action  models.PageAction `json:"action"`
	Applied bool              `json:"applied"`
	Error   string            `json:"error,omitempty"`
}

// PermissionService manages permission definitions and grants for users and roles.
type PermissionService struct {
	db       *gorm.DB
	store    *permissions.Store
	resolver *permissions.Resolver
	audit    *AuditService
}

// NewPermissionService constructs a PermissionService using the provided database handle.
func NewPermissionService(db *gorm.DB, store *permissions.Store, resolver *permissions.Resolver, auditSvc *AuditService) (*PermissionService, error) {
	if db == nil {
		return nil, errors.New("permission service: db is required")
	}
	if store == nil || resolver == nil {
		return nil, errors.New("permission service: store and resolver are required")
	}
	return &PermissionService{
		db:       db,
		store:    store,
		resolver: resolver,
		audit:    auditSvc,
	}, nil
}

// CreatePermission registers a new permission definition.
func (s *PermissionService) CreatePermission(ctx context.Context, input permissions.PermissionInput) (*models.Permission, error) {
	ctx = ensureContext(ctx)
	perm, err := s.store.CreatePermission(ctx, input)

	event := audit.Event{Action: audit.ActionPermissionCreated, Resource: "permissions", Err: err}
	if perm != nil {
		event.ResourceID = perm.ID
		event.Diagnostics = map[string]any{"name": perm.Name, "key": perm.Key()}
	}
	recordAudit(s.audit, ctx, event)
	return perm, err
}

// ListPermissions returns every permission definition.
func (s *PermissionService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	return s.store.ListPermissions(ensureContext(ctx))
}

// ListPages returns the static page registry.
func (s *PermissionService) ListPages() []*permissions.PageDefinition {
	return permissions.Pages()
}

// MyPermissions returns the effective resource:action keys of the principal.
func (s *PermissionService) MyPermissions(ctx context.Context, principal permissions.Principal) ([]string, error) {
	return s.resolver.EffectivePermissions(ensureContext(ctx), principal)
}

// MyPagePermissions returns the principal's access to every registered page.
func (s *PermissionService) MyPagePermissions(ctx context.Context, principal permissions.Principal) ([]permissions.PageAccess, error) {
	return s.resolver.EffectivePages(ensureContext(ctx), principal)
}

// GrantUserPermission grants a permission directly to a user. Granting an already active
// permission fails with GRANT_ALREADY_ACTIVE and writes nothing.
func (s *PermissionService) GrantUserPermission(ctx context.Context, userID, permissionID string) (*models.UserPermission, error) {
	ctx = ensureContext(ctx)
	subject := permissions.UserSubject(strings.TrimSpace(userID))
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, PermissionID: permissionID}

	var grant *models.UserPermission
	err := s.grantSingle(ctx, subject, permissionID, &payload, func(perm *models.Permission) (permissions.GrantOutcome, error) {
		row, outcome, err := s.store.GrantUser(ctx, subject.ID, perm.ID, actorID(ctx))
		grant = row
		return outcome, err
	})
	s.record(ctx, audit.ActionPermissionGranted, payload, err)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeUserPermission soft-revokes a direct grant.
func (s *PermissionService) RevokeUserPermission(ctx context.Context, userID, permissionID string) (*models.UserPermission, error) {
	ctx = ensureContext(ctx)
	subject := permissions.UserSubject(strings.TrimSpace(userID))
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, PermissionID: permissionID}

	var grant *models.UserPermission
	err := s.revokeSingle(ctx, subject, permissionID, &payload, func(perm *models.Permission) error {
		row, err := s.store.RevokeUser(ctx, subject.ID, perm.ID, actorID(ctx))
		grant = row
		return err
	})
	s.record(ctx, audit.ActionPermissionRevoked, payload, err)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// GrantRolePermission grants a permission to every holder of a role.
func (s *PermissionService) GrantRolePermission(ctx context.Context, roleID, permissionID string) (*models.RolePermission, error) {
	ctx = ensureContext(ctx)
	subject := permissions.RoleSubject(strings.TrimSpace(roleID))
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, PermissionID: permissionID}

	var grant *models.RolePermission
	err := s.grantSingle(ctx, subject, permissionID, &payload, func(perm *models.Permission) (permissions.GrantOutcome, error) {
		row, outcome, err := s.store.GrantRole(ctx, subject.ID, perm.ID, actorID(ctx))
		grant = row
		return outcome, err
	})
	s.record(ctx, audit.ActionPermissionGranted, payload, err)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeRolePermission soft-revokes a role grant.
func (s *PermissionService) RevokeRolePermission(ctx context.Context, roleID, permissionID string) (*models.RolePermission, error) {
	ctx = ensureContext(ctx)
	subject := permissions.RoleSubject(strings.TrimSpace(roleID))
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, PermissionID: permissionID}

	var grant *models.RolePermission
	err := s.revokeSingle(ctx, subject, permissionID, &payload, func(perm *models.Permission) error {
		row, err := s.store.RevokeRole(ctx, subject.ID, perm.ID, actorID(ctx))
		grant = row
		return err
	})
	s.record(ctx, audit.ActionPermissionRevoked, payload, err)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (s *PermissionService) grantSingle(ctx context.Context, subject permissions.Subject, permissionID string, payload *audit.GrantPayload, grant func(*models.Permission) (permissions.GrantOutcome, error)) error {
	if err := s.checkSubject(ctx, subject); err != nil {
		return err
	}
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	payload.PermissionKeys = []string{perm.Key()}

	outcome, err := grant(perm)
	if err != nil {
		return err
	}
	payload.Outcome = string(outcome)
	if outcome == permissions.GrantUnchanged {
		return permissions.ErrGrantAlreadyActive
	}
	return nil
}

func (s *PermissionService) revokeSingle(ctx context.Context, subject permissions.Subject, permissionID string, payload *audit.GrantPayload, revoke func(*models.Permission) error) error {
	if err := s.checkSubject(ctx, subject); err != nil {
		return err
	}
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	payload.PermissionKeys = []string{perm.Key()}
	return revoke(perm)
}

// GrantPage grants page level access and the concrete permissions behind it in one
// transaction. Edit also grants view.
func (s *PermissionService) GrantPage(ctx context.Context, subject permissions.Subject, page string, action models.PageAction) (*PageGrantResult, error) {
	ctx = ensureContext(ctx)
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, PageAction: action}

	result, err := s.grantPage(ctx, subject, page, action, &payload)
	s.record(ctx, audit.ActionPageGranted, payload, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PermissionService) grantPage(ctx context.Context, subject permissions.Subject, page string, action models.PageAction, payload *audit.GrantPayload) (*PageGrantResult, error) {
	if err := s.checkSubject(ctx, subject); err != nil {
		return nil, err
	}
	def, err := pageForAction(page, action)
	if err != nil {
		return nil, err
	}

	keys := def.ViewKeys()
	actions := []models.PageAction{models.PageView}
	if action == models.PageEdit {
		keys = appendDistinct(keys, def.EditKeys()...)
		actions = append(actions, models.PageEdit)
	}
	payload.PermissionKeys = keys

	result := &PageGrantResult{}
	actor := actorID(ctx)
	err = s.store.Transaction(ctx, func(tx *permissions.Store) error {
		for _, pageAction := range actions {
			row, outcome, err := tx.GrantPage(ctx, subject, def.Name, pageAction, actor)
			if err != nil {
				return err
			}
			if pageAction == action {
				result.PagePermission = row
				payload.Outcome = string(outcome)
			}
		}
		perms, err := grantKeys(ctx, tx, subject, keys, actor)
		if err != nil {
			return err
		}
		result.APIPermissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokePage revokes page level access. Revoking view also revokes edit; concrete
// permissions still required by the subject's remaining grants on the page are kept.
func (s *PermissionService) RevokePage(ctx context.Context, subject permissions.Subject, page string, action models.PageAction) (*PageRevokeResult, error) {
	ctx = ensureContext(ctx)
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, PageAction: action}

	result, err := s.revokePage(ctx, subject, page, action, &payload)
	s.record(ctx, audit.ActionPageRevoked, payload, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PermissionService) revokePage(ctx context.Context, subject permissions.Subject, page string, action models.PageAction, payload *audit.GrantPayload) (*PageRevokeResult, error) {
	if err := s.checkSubject(ctx, subject); err != nil {
		return nil, err
	}
	def, err := pageForAction(page, action)
	if err != nil {
		return nil, err
	}

	result := &PageRevokeResult{RevokedKeys: []string{}}
	actor := actorID(ctx)
	err = s.store.Transaction(ctx, func(tx *permissions.Store) error {
		row, err := tx.RevokePage(ctx, subject, def.Name, action, actor)
		if err != nil {
			return err
		}
		result.PagePermission = row

		keys := def.EditOnlyKeys()
		if action == models.PageView {
			if _, err := tx.RevokePage(ctx, subject, def.Name, models.PageEdit, actor); err != nil && !errors.Is(err, permissions.ErrGrantNotFound) {
				return err
			}
			keys = appendDistinct(def.ViewKeys(), def.EditKeys()...)
		}

		retained, err := retainedKeys(ctx, tx, subject, def)
		if err != nil {
			return err
		}
		revoked, err := revokeKeys(ctx, tx, subject, without(keys, retained), actor)
		if err != nil {
			return err
		}
		result.RevokedKeys = revoked
		return nil
	})
	if err != nil {
		return nil, err
	}
	payload.PermissionKeys = result.RevokedKeys
	return result, nil
}

// BulkGrantPages grants each item independently; one failing item does not stop the rest.
func (s *PermissionService) BulkGrantPages(ctx context.Context, subject permissions.Subject, items []PageGrantItem) ([]BulkPageResult, error) {
	return s.bulkPages(ctx, subject, items, audit.ActionPageGranted, func(item PageGrantItem) error {
		_, err := s.GrantPage(ctx, subject, item.Page, item.Action)
		return err
	})
}

// BulkRevokePages revokes each item independently; one failing item does not stop the rest.
func (s *PermissionService) BulkRevokePages(ctx context.Context, subject permissions.Subject, items []PageGrantItem) ([]BulkPageResult, error) {
	return s.bulkPages(ctx, subject, items, audit.ActionPageRevoked, func(item PageGrantItem) error {
		_, err := s.RevokePage(ctx, subject, item.Page, item.Action)
		return err
	})
}

func (s *PermissionService) bulkPages(ctx context.Context, subject permissions.Subject, items []PageGrantItem, action string, apply func(PageGrantItem) error) ([]BulkPageResult, error) {
	ctx = ensureContext(ctx)
	if len(items) == 0 {
		return nil, apperrors.NewValidation("at least one page is required")
	}
	// a self-targeted bulk call is rejected as a whole
	if err := s.checkSubject(ctx, subject); err != nil {
		s.record(ctx, action, audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID}, err)
		return nil, err
	}

	results := make([]BulkPageResult, 0, len(items))
	for _, item := range items {
		result := BulkPageResult{Page: item.Page, Action: item.Action, Applied: true}
		if err := apply(item); err != nil {
			result.Applied = false
			result.Error = apperrors.FromError(err).Message
		}
		results = append(results, result)
	}
	return results, nil
}

// GrantCustomMode grants a named page mode and the API set behind it.
func (s *PermissionService) GrantCustomMode(ctx context.Context, subject permissions.Subject, page, modeID string) (*PageGrantResult, error) {
	ctx = ensureContext(ctx)
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, ModeID: modeID}

	result, err := s.grantMode(ctx, subject, page, modeID, &payload)
	s.record(ctx, audit.ActionCustomModeGranted, payload, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PermissionService) grantMode(ctx context.Context, subject permissions.Subject, page, modeID string, payload *audit.GrantPayload) (*PageGrantResult, error) {
	if err := s.checkSubject(ctx, subject); err != nil {
		return nil, err
	}
	def, mode, err := pageMode(page, modeID)
	if err != nil {
		return nil, err
	}

	keys := appendDistinct(nil, keysOf(mode.APIs())...)
	payload.PermissionKeys = keys
	result := &PageGrantResult{}
	actor := actorID(ctx)
	err = s.store.Transaction(ctx, func(tx *permissions.Store) error {
		row, outcome, err := tx.GrantMode(ctx, subject, def.Name, mode.ID, actor)
		if err != nil {
			return err
		}
		result.ModeGrant = row
		payload.Outcome = string(outcome)

		perms, err := grantKeys(ctx, tx, subject, keys, actor)
		if err != nil {
			return err
		}
		result.APIPermissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokeCustomMode revokes a page mode and the API permissions no other grant on the page needs.
func (s *PermissionService) RevokeCustomMode(ctx context.Context, subject permissions.Subject, page, modeID string) (*PageRevokeResult, error) {
	ctx = ensureContext(ctx)
	payload := audit.GrantPayload{SubjectType: subject.Type, SubjectID: subject.ID, Page: page, ModeID: modeID}

	result, err := s.revokeMode(ctx, subject, page, modeID, &payload)
	s.record(ctx, audit.ActionCustomModeRevoked, payload, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PermissionService) revokeMode(ctx context.Context, subject permissions.Subject, page, modeID string, payload *audit.GrantPayload) (*PageRevokeResult, error) {
	if err := s.checkSubject(ctx, subject); err != nil {
		return nil, err
	}
	def, mode, err := pageMode(page, modeID)
	if err != nil {
		return nil, err
	}

	result := &PageRevokeResult{RevokedKeys: []string{}}
	actor := actorID(ctx)
	err = s.store.Transaction(ctx, func(tx *permissions.Store) error {
		row, err := tx.RevokeMode(ctx, subject, def.Name, mode.ID, actor)
		if err != nil {
			return err
		}
		result.ModeGrant = row

		retained, err := retainedKeys(ctx, tx, subject, def)
		if err != nil {
			return err
		}
		revoked, err := revokeKeys(ctx, tx, subject, without(keysOf(mode.APIs()), retained), actor)
		if err != nil {
			return err
		}
		result.RevokedKeys = revoked
		return nil
	})
	if err != nil {
		return nil, err
	}
	payload.PermissionKeys = result.RevokedKeys
	return result, nil
}

// checkSubject rejects self-modification and unknown subjects.
func (s *PermissionService) checkSubject(ctx context.Context, subject permissions.Subject) error {
	if strings.TrimSpace(subject.ID) == "" {
		return apperrors.NewValidation("subject id is required")
	}
	if actor, ok := auditctx.FromContext(ctx); ok && actor.UserID != "" {
		switch subject.Type {
		case models.SubjectUser:
			if actor.UserID == subject.ID {
				return ErrSelfModification
			}
		case models.SubjectRole:
			if actor.RoleID != nil && *actor.RoleID == subject.ID {
				return ErrSelfModification
			}
		}
	}

	var (
		count int64
		err   error
	)
	switch subject.Type {
	case models.SubjectUser:
		err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", subject.ID).Count(&count).Error
		if err == nil && count == 0 {
			return ErrUserNotFound
		}
	case models.SubjectRole:
		err = s.db.WithContext(ctx).Model(&models.Role{}).Where("id = ?", subject.ID).Count(&count).Error
		if err == nil && count == 0 {
			return ErrRoleNotFound
		}
	default:
		return apperrors.NewValidation("subject type must be user or role")
	}
	if err != nil {
		return fmt.Errorf("permission service: load subject: %w", err)
	}
	return nil
}

func (s *PermissionService) record(ctx context.Context, action string, payload audit.GrantPayload, err error) {
	if errors.Is(err, ErrSelfModification) {
		action = audit.ActionSelfModificationDenied
	}
	recordAudit(s.audit, ctx, audit.Event{
		Action:     action,
		Resource:   "permissions",
		ResourceID: payload.SubjectID,
		Err:        err,
		Payload:    payload,
	})
}

func pageForAction(page string, action models.PageAction) (*permissions.PageDefinition, error) {
	if !action.Valid() {
		return nil, permissions.ErrInvalidPageAction
	}
	def, ok := permissions.GetPage(strings.TrimSpace(page))
	if !ok {
		return nil, permissions.ErrPageNotFound
	}
	if action == models.PageEdit && !def.SupportsEditMode {
		return nil, permissions.ErrEditNotSupported
	}
	return def, nil
}

func pageMode(page, modeID string) (*permissions.PageDefinition, permissions.CustomMode, error) {
	def, ok := permissions.GetPage(strings.TrimSpace(page))
	if !ok {
		return nil, permissions.CustomMode{}, permissions.ErrPageNotFound
	}
	mode, ok := def.Mode(strings.TrimSpace(modeID))
	if !ok {
		return nil, permissions.CustomMode{}, permissions.ErrModeNotFound
	}
	return def, mode, nil
}

func grantKeys(ctx context.Context, tx *permissions.Store, subject permissions.Subject, keys []string, actor *string) ([]models.Permission, error) {
	perms, err := tx.EnsurePermissions(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, perm := range perms {
		if _, err := tx.GrantSubject(ctx, subject, perm.ID, actor); err != nil {
			return nil, err
		}
	}
	return perms, nil
}

// revokeKeys revokes the active grants among keys and returns the keys actually revoked.
func revokeKeys(ctx context.Context, tx *permissions.Store, subject permissions.Subject, keys []string, actor *string) ([]string, error) {
	revoked := []string{}
	for _, key := range keys {
		resource, action, _ := strings.Cut(key, ":")
		perm, err := tx.FindByResourceAction(ctx, resource, action)
		if errors.Is(err, permissions.ErrPermissionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		err = tx.RevokeSubject(ctx, subject, perm.ID, actor)
		if errors.Is(err, permissions.ErrGrantNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		revoked = append(revoked, key)
	}
	return revoked, nil
}

// retainedKeys collects the keys still required by the subject's active grants on the page.
func retainedKeys(ctx context.Context, tx *permissions.Store, subject permissions.Subject, def *permissions.PageDefinition) (map[string]struct{}, error) {
	retained := map[string]struct{}{}
	add := func(keys []string) {
		for _, key := range keys {
			retained[key] = struct{}{}
		}
	}

	view, err := tx.HasActivePageGrant(ctx, subject, def.Name, models.PageView)
	if err != nil {
		return nil, err
	}
	if view {
		add(def.ViewKeys())
	}
	edit, err := tx.HasActivePageGrant(ctx, subject, def.Name, models.PageEdit)
	if err != nil {
		return nil, err
	}
	if edit {
		add(def.EditKeys())
	}

	modes, err := tx.ActiveModes(ctx, subject, def.Name)
	if err != nil {
		return nil, err
	}
	for _, id := range modes {
		if mode, ok := def.Mode(id); ok {
			add(keysOf(mode.APIs()))
		}
	}
	return retained, nil
}

func keysOf(descriptors []permissions.APIDescriptor) []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Key())
	}
	return out
}

func appendDistinct(base []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, key := range append(append([]string(nil), base...), extra...) {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func without(keys []string, drop map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, skip := drop[key]; !skip {
			out = append(out, key)
		}
	}
	return out
}
