package permissions

import "net/http"

// Resources and actions guarding the security core's own endpoints.
const (
	ResourcePermissions = "permissions"
	ResourceAudit       = "audit"
	ResourceIncidents   = "incidents"
	ResourceBlocklist   = "blocklist"

	ActionRead   = "read"
	ActionManage = "manage"
)

// Page names registered at start-up.
const (
	PageStudents         = "students"
	PagePersonnel        = "personnel"
	PageRooms            = "rooms"
	PageDepartments      = "departments"
	PageSOCDashboard     = "soc-dashboard"
	PagePermissionsAdmin = "permissions-admin"
)

// IsSecurityResource reports whether resource, or page, belongs to the security core itself.
func IsSecurityResource(resource string) bool {
	switch resource {
	case ResourcePermissions, ResourceAudit, ResourceIncidents, ResourceBlocklist,
		PageSOCDashboard, PagePermissionsAdmin:
		return true
	}
	return false
}

func api(resource, action, method, path string) APIDescriptor {
	return APIDescriptor{Resource: resource, Action: action, Method: method, Path: path}
}

func crudPage(name, label, resource, base string) *PageDefinition {
	return &PageDefinition{
		Name:  name,
		Label: label,
		ViewAPIs: []APIDescriptor{
			api(resource, "read", http.MethodGet, base),
			api(resource, "read", http.MethodGet, base+"/:id"),
		},
		EditAPIs: []APIDescriptor{
			api(resource, "create", http.MethodPost, base),
			api(resource, "update", http.MethodPut, base+"/:id"),
			api(resource, "delete", http.MethodDelete, base+"/:id"),
		},
		SupportsEditMode: true,
	}
}

func init() {
	students := crudPage(PageStudents, "Students", "students", "/api/students")
	students.CustomModes = []CustomMode{{
		ID:       "attendance-only",
		Label:    "Attendance only",
		ViewAPIs: []APIDescriptor{api("students", "read", http.MethodGet, "/api/students")},
		EditAPIs: []APIDescriptor{api("attendance", "record", http.MethodPost, "/api/students/:id/attendance")},
	}}

	personnel := crudPage(PagePersonnel, "Personnel", "personnel", "/api/personnel")
	personnel.CustomModes = []CustomMode{{
		ID:       "contact-directory",
		Label:    "Contact directory",
		ViewAPIs: []APIDescriptor{api("personnel", "read_contacts", http.MethodGet, "/api/personnel/contacts")},
	}}

	rooms := crudPage(PageRooms, "Rooms", "rooms", "/api/rooms")
	rooms.CustomModes = []CustomMode{{
		ID:    "booking",
		Label: "Room booking",
		ViewAPIs: []APIDescriptor{
			api("rooms", "read", http.MethodGet, "/api/rooms"),
			api("bookings", "read", http.MethodGet, "/api/rooms/:id/bookings"),
		},
		EditAPIs: []APIDescriptor{api("bookings", "create", http.MethodPost, "/api/rooms/:id/bookings")},
	}}

	departments := crudPage(PageDepartments, "Departments", "departments", "/api/departments")

	soc := &PageDefinition{
		Name:  PageSOCDashboard,
		Label: "Security operations",
		ViewAPIs: []APIDescriptor{
			api(ResourceAudit, ActionRead, http.MethodGet, "/api/soc/audit-logs"),
			api(ResourceIncidents, ActionRead, http.MethodGet, "/api/soc/incidents"),
			api(ResourceBlocklist, ActionRead, http.MethodGet, "/api/soc/blocked-ips"),
		},
		EditAPIs: []APIDescriptor{
			api(ResourceAudit, ActionManage, http.MethodPost, "/api/soc/audit-logs/:id/pin"),
			api(ResourceIncidents, ActionManage, http.MethodPut, "/api/soc/incidents/:id"),
			api(ResourceBlocklist, ActionManage, http.MethodPost, "/api/soc/block-ip"),
		},
		SupportsEditMode: true,
		CustomModes: []CustomMode{{
			ID:       "triage",
			Label:    "Incident triage",
			ViewAPIs: []APIDescriptor{api(ResourceIncidents, ActionRead, http.MethodGet, "/api/soc/incidents")},
			EditAPIs: []APIDescriptor{api(ResourceIncidents, ActionManage, http.MethodPut, "/api/soc/incidents/:id")},
		}},
	}

	admin := &PageDefinition{
		Name:             PagePermissionsAdmin,
		Label:            "Permission management",
		ViewAPIs:         []APIDescriptor{api(ResourcePermissions, ActionRead, http.MethodGet, "/api/permissions")},
		EditAPIs:         []APIDescriptor{api(ResourcePermissions, ActionManage, http.MethodPost, "/api/permissions/users/:userId/grant")},
		SupportsEditMode: true,
	}

	for _, page := range []*PageDefinition{students, personnel, rooms, departments, soc, admin} {
		if err := RegisterPage(page); err != nil {
			panic(err)
		}
	}
}
