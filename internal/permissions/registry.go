package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charlesng35/campusgate/internal/models"
)

// APIDescriptor names one HTTP endpoint a page calls and the permission it needs.
type APIDescriptor struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Method   string `json:"method"`
	Path     string `json:"path"`
}

// Key returns the resource:action pair guarding the endpoint.
func (d APIDescriptor) Key() string {
	return models.PermissionKey(d.Resource, d.Action)
}

// CustomMode is a named, page specific permission bundle outside the view/edit split.
type CustomMode struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	ViewAPIs []APIDescriptor `json:"viewApis"`
	EditAPIs []APIDescriptor `json:"editApis"`
}

// APIs returns the mode's view and edit endpoints.
func (m CustomMode) APIs() []APIDescriptor {
	out := make([]APIDescriptor, 0, len(m.ViewAPIs)+len(m.EditAPIs))
	out = append(out, m.ViewAPIs...)
	return append(out, m.EditAPIs...)
}

// PageDefinition maps a UI page to the endpoints it needs.
type PageDefinition struct {
	Name             string          `json:"name"`
	Label            string          `json:"label"`
	ViewAPIs         []APIDescriptor `json:"viewApis"`
	EditAPIs         []APIDescriptor `json:"editApis"`
	SupportsEditMode bool            `json:"supportsEditMode"`
	CustomModes      []CustomMode    `json:"customModes,omitempty"`
}

// Mode looks up a custom mode by id.
func (p PageDefinition) Mode(id string) (CustomMode, bool) {
	for _, mode := range p.CustomModes {
		if mode.ID == id {
			return mode, true
		}
	}
	return CustomMode{}, false
}

// ViewKeys returns the distinct permission keys of the view APIs in declaration order.
func (p PageDefinition) ViewKeys() []string {
	return descriptorKeys(p.ViewAPIs)
}

// EditKeys returns the distinct permission keys of the edit APIs in declaration order.
func (p PageDefinition) EditKeys() []string {
	return descriptorKeys(p.EditAPIs)
}

// EditOnlyKeys returns edit keys that are not also required for viewing.
func (p PageDefinition) EditOnlyKeys() []string {
	view := make(map[string]struct{}, len(p.ViewAPIs))
	for _, key := range p.ViewKeys() {
		view[key] = struct{}{}
	}
	var out []string
	for _, key := range p.EditKeys() {
		if _, shared := view[key]; !shared {
			out = append(out, key)
		}
	}
	return out
}

func descriptorKeys(descriptors []APIDescriptor) []string {
	seen := make(map[string]struct{}, len(descriptors))
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		key := d.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Definition describes a scoped permission seeded into the store.
type Definition struct {
	Resource    string
	Action      string
	Description string
}

// Key returns the resource:action name of the definition.
func (d Definition) Key() string {
	return models.PermissionKey(d.Resource, d.Action)
}

type pageRegistry struct {
	mu          sync.RWMutex
	pages       map[string]*PageDefinition
	definitions map[string]Definition
}

var globalRegistry = &pageRegistry{
	pages:       make(map[string]*PageDefinition),
	definitions: make(map[string]Definition),
}

var (
	errNilPage         = errors.New("permission: nil page definition")
	errEmptyPage       = errors.New("permission: page name is required")
	errDuplicatePage   = errors.New("permission: page already registered")
	errInvalidAPI      = errors.New("permission: api descriptor requires resource and action")
	errEditWithoutMode = errors.New("permission: edit apis declared on a page without edit mode")
	errDuplicateMode   = errors.New("permission: custom mode already declared")
)

// RegisterPage adds a page definition to the registry. Every endpoint referenced by the
// page is also registered as a permission definition.
func RegisterPage(page *PageDefinition) error {
	if page == nil {
		return errNilPage
	}
	name := strings.TrimSpace(page.Name)
	if name == "" {
		return errEmptyPage
	}
	if len(page.EditAPIs) > 0 && !page.SupportsEditMode {
		return fmt.Errorf("%w: %s", errEditWithoutMode, name)
	}

	def := clonePage(page)
	def.Name = name

	all := append(append([]APIDescriptor(nil), def.ViewAPIs...), def.EditAPIs...)
	modes := make(map[string]struct{}, len(def.CustomModes))
	for _, mode := range def.CustomModes {
		if _, dup := modes[mode.ID]; dup {
			return fmt.Errorf("%w: %s/%s", errDuplicateMode, name, mode.ID)
		}
		modes[mode.ID] = struct{}{}
		all = append(all, mode.APIs()...)
	}
	for _, api := range all {
		if strings.TrimSpace(api.Resource) == "" || strings.TrimSpace(api.Action) == "" {
			return fmt.Errorf("%w: %s", errInvalidAPI, name)
		}
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.pages[name]; exists {
		return fmt.Errorf("%w: %s", errDuplicatePage, name)
	}
	globalRegistry.pages[name] = def
	for _, api := range all {
		if _, known := globalRegistry.definitions[api.Key()]; !known {
			globalRegistry.definitions[api.Key()] = Definition{
				Resource:    api.Resource,
				Action:      api.Action,
				Description: fmt.Sprintf("%s %s", api.Method, api.Path),
			}
		}
	}
	return nil
}

// RegisterDefinition adds a permission that is not tied to a page endpoint.
func RegisterDefinition(def Definition) error {
	if strings.TrimSpace(def.Resource) == "" || strings.TrimSpace(def.Action) == "" {
		return errInvalidAPI
	}
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.definitions[def.Key()] = def
	return nil
}

// GetPage returns a copy of the page definition when registered.
func GetPage(name string) (*PageDefinition, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	page, ok := globalRegistry.pages[name]
	if !ok {
		return nil, false
	}
	return clonePage(page), true
}

// Pages returns every registered page sorted by name.
func Pages() []*PageDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]*PageDefinition, 0, len(globalRegistry.pages))
	for _, page := range globalRegistry.pages {
		out = append(out, clonePage(page))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalogue returns every known permission definition sorted by key.
func Catalogue() []Definition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]Definition, 0, len(globalRegistry.definitions))
	for _, def := range globalRegistry.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func clonePage(page *PageDefinition) *PageDefinition {
	if page == nil {
		return nil
	}
	cp := *page
	cp.ViewAPIs = append([]APIDescriptor(nil), page.ViewAPIs...)
	cp.EditAPIs = append([]APIDescriptor(nil), page.EditAPIs...)
	if len(page.CustomModes) > 0 {
		cp.CustomModes = make([]CustomMode, len(page.CustomModes))
		for i, mode := range page.CustomModes {
			mode.ViewAPIs = append([]APIDescriptor(nil), mode.ViewAPIs...)
			mode.EditAPIs = append([]APIDescriptor(nil), mode.EditAPIs...)
			cp.CustomModes[i] = mode
		}
	}
	return &cp
}
