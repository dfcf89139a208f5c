package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/tracing"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

// Principal is the authenticated actor a decision is made for. API key principals carry
// the key owner's identity.
type Principal struct {
	UserID  string
	RoleID  *string
	IsAdmin bool
}

// PageAccess summarises a principal's access to one page.
type PageAccess struct {
	Page        string   `json:"page"`
	View        bool     `json:"view"`
	Edit        bool     `json:"edit"`
	CustomModes []string `json:"customModes"`
}

// Resolver computes allow/deny decisions from active direct and role grants.
type Resolver struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithResolverMetrics records every decision on m.
func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver constructs a Resolver backed by db.
func NewResolver(db *gorm.DB, opts ...ResolverOption) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	r := &Resolver{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve reports whether the principal holds resource:action. Admins always pass.
func (r *Resolver) Resolve(ctx context.Context, principal Principal, resource, action string) (allowed bool, err error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "permissions.Resolve",
		attribute.String("permission", models.PermissionKey(resource, action)),
		attribute.Bool("principal.admin", principal.IsAdmin),
	)
	defer func() { r.finish(span, "resource", allowed, err) }()

	if principal.IsAdmin {
		return true, nil
	}
	if principal.UserID == "" {
		return false, nil
	}

	direct, err := r.countDirect(ctx, principal.UserID, resource, action)
	if err != nil {
		return false, err
	}
	if direct > 0 {
		return true, nil
	}
	if principal.RoleID == nil || *principal.RoleID == "" {
		return false, nil
	}
	viaRole, err := r.countRole(ctx, *principal.RoleID, resource, action)
	if err != nil {
		return false, err
	}
	return viaRole > 0, nil
}

// ResolvePage decides page level access. Edit requires an explicit page edit grant.
// View is granted by a page grant, by holding every edit endpoint permission, or by
// holding at least one view endpoint permission.
func (r *Resolver) ResolvePage(ctx context.Context, principal Principal, pageName string, action models.PageAction) (allowed bool, err error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "permissions.ResolvePage",
		attribute.String("page", pageName),
		attribute.String("page.action", string(action)),
	)
	defer func() { r.finish(span, "page", allowed, err) }()

	if !action.Valid() {
		return false, nil
	}
	page, ok := GetPage(pageName)
	if !ok {
		return false, nil
	}
	if principal.IsAdmin {
		return true, nil
	}
	if principal.UserID == "" {
		return false, nil
	}

	edit, err := r.hasPageGrant(ctx, principal, page.Name, models.PageEdit)
	if err != nil || edit {
		return edit, err
	}
	if action == models.PageEdit {
		return false, nil
	}

	view, err := r.hasPageGrant(ctx, principal, page.Name, models.PageView)
	if err != nil || view {
		return view, err
	}

	held, err := r.keySet(ctx, principal)
	if err != nil {
		return false, err
	}
	return holdsViewEndpoints(page, held), nil
}

// ResolveCustomMode reports whether the principal may use the named mode of a page.
func (r *Resolver) ResolveCustomMode(ctx context.Context, principal Principal, pageName, modeID string) (allowed bool, err error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "permissions.ResolveCustomMode",
		attribute.String("page", pageName),
		attribute.String("mode", modeID),
	)
	defer func() { r.finish(span, "mode", allowed, err) }()

	page, ok := GetPage(pageName)
	if !ok {
		return false, nil
	}
	if _, ok := page.Mode(modeID); !ok {
		return false, nil
	}
	if principal.IsAdmin {
		return true, nil
	}
	if principal.UserID == "" {
		return false, nil
	}

	var count int64
	err = r.subjectScope(r.db.WithContext(ctx).Model(&models.CustomModeGrant{}), principal).
		Where("page = ? AND mode_id = ? AND is_active = ?", page.Name, modeID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: custom mode lookup: %w", err)
	}
	return count > 0, nil
}

// EffectivePermissions lists the resource:action pairs the principal holds. Admins get
// the whole catalogue.
func (r *Resolver) EffectivePermissions(ctx context.Context, principal Principal) ([]string, error) {
	if principal.IsAdmin {
		defs := Catalogue()
		out := make([]string, 0, len(defs))
		for _, def := range defs {
			out = append(out, def.Key())
		}
		return out, nil
	}
	held, err := r.keySet(ctx, principal)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(held))
	for key := range held {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// EffectivePages evaluates every registered page for the principal.
func (r *Resolver) EffectivePages(ctx context.Context, principal Principal) ([]PageAccess, error) {
	pages := Pages()
	out := make([]PageAccess, 0, len(pages))
	if principal.IsAdmin {
		for _, page := range pages {
			access := PageAccess{Page: page.Name, View: true, Edit: page.SupportsEditMode, CustomModes: []string{}}
			for _, mode := range page.CustomModes {
				access.CustomModes = append(access.CustomModes, mode.ID)
			}
			out = append(out, access)
		}
		return out, nil
	}

	held, err := r.keySet(ctx, principal)
	if err != nil {
		return nil, err
	}

	var pageGrants []models.PagePermission
	if err := r.subjectScope(r.db.WithContext(ctx), principal).
		Where("is_active = ?", true).Find(&pageGrants).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: page grants: %w", err)
	}
	var modeGrants []models.CustomModeGrant
	if err := r.subjectScope(r.db.WithContext(ctx), principal).
		Where("is_active = ?", true).Find(&modeGrants).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: mode grants: %w", err)
	}

	granted := make(map[string]map[models.PageAction]bool)
	for _, g := range pageGrants {
		if granted[g.Page] == nil {
			granted[g.Page] = map[models.PageAction]bool{}
		}
		granted[g.Page][g.Action] = true
	}
	modes := make(map[string]map[string]bool)
	for _, g := range modeGrants {
		if modes[g.Page] == nil {
			modes[g.Page] = map[string]bool{}
		}
		modes[g.Page][g.ModeID] = true
	}

	for _, page := range pages {
		access := PageAccess{Page: page.Name, CustomModes: []string{}}
		access.Edit = granted[page.Name][models.PageEdit]
		access.View = access.Edit || granted[page.Name][models.PageView] || holdsViewEndpoints(page, held)
		for _, mode := range page.CustomModes {
			if modes[page.Name][mode.ID] {
				access.CustomModes = append(access.CustomModes, mode.ID)
			}
		}
		out = append(out, access)
	}
	return out, nil
}

func holdsViewEndpoints(page *PageDefinition, held map[string]struct{}) bool {
	if edit := page.EditKeys(); len(edit) > 0 {
		all := true
		for _, key := range edit {
			if _, ok := held[key]; !ok {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	for _, key := range page.ViewKeys() {
		if _, ok := held[key]; ok {
			return true
		}
	}
	return false
}

type scopeRow struct {
	Resource string
	Action   string
}

// keySet returns the union of active direct and role permissions as resource:action keys.
func (r *Resolver) keySet(ctx context.Context, principal Principal) (map[string]struct{}, error) {
	var rows []scopeRow
	err := r.db.WithContext(ctx).Model(&models.Permission{}).
		Select("permissions.resource, permissions.action").
		Joins("JOIN user_permissions ON user_permissions.permission_id = permissions.id").
		Where("user_permissions.user_id = ? AND user_permissions.is_active = ?", principal.UserID, true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("permission resolver: direct grants: %w", err)
	}

	if principal.RoleID != nil && *principal.RoleID != "" {
		var roleRows []scopeRow
		err := r.db.WithContext(ctx).Model(&models.Permission{}).
			Select("permissions.resource, permissions.action").
			Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
			Where("role_permissions.role_id = ? AND role_permissions.is_active = ?", *principal.RoleID, true).
			Scan(&roleRows).Error
		if err != nil {
			return nil, fmt.Errorf("permission resolver: role grants: %w", err)
		}
		rows = append(rows, roleRows...)
	}

	set := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		set[models.PermissionKey(row.Resource, row.Action)] = struct{}{}
	}
	return set, nil
}

func (r *Resolver) countDirect(ctx context.Context, userID, resource, action string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Joins("JOIN permissions ON permissions.id = user_permissions.permission_id").
		Where("user_permissions.user_id = ? AND user_permissions.is_active = ?", userID, true).
		Where("permissions.resource = ? AND permissions.action = ?", resource, action).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("permission resolver: direct lookup: %w", err)
	}
	return count, nil
}

func (r *Resolver) countRole(ctx context.Context, roleID, resource, action string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ? AND role_permissions.is_active = ?", roleID, true).
		Where("permissions.resource = ? AND permissions.action = ?", resource, action).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("permission resolver: role lookup: %w", err)
	}
	return count, nil
}

func (r *Resolver) hasPageGrant(ctx context.Context, principal Principal, page string, action models.PageAction) (bool, error) {
	var count int64
	err := r.subjectScope(r.db.WithContext(ctx).Model(&models.PagePermission{}), principal).
		Where("page = ? AND action = ? AND is_active = ?", page, string(action), true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: page lookup: %w", err)
	}
	return count > 0, nil
}

// subjectScope restricts a page or mode grant query to the principal and its role.
func (r *Resolver) subjectScope(tx *gorm.DB, principal Principal) *gorm.DB {
	if principal.RoleID != nil && *principal.RoleID != "" {
		return tx.Where("((subject_type = ? AND subject_id = ?) OR (subject_type = ? AND subject_id = ?))",
			string(models.SubjectUser), principal.UserID, string(models.SubjectRole), *principal.RoleID)
	}
	return tx.Where("subject_type = ? AND subject_id = ?", string(models.SubjectUser), principal.UserID)
}

func (r *Resolver) finish(span trace.Span, kind string, allowed bool, err error) {
	result := "deny"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case allowed:
		result = "allow"
	}
	span.SetAttributes(attribute.String("decision", result))
	span.End()
	r.metrics.ObservePermissionCheck(kind, result)
}
