package realtime

// RoomSOCMonitoring is the default room security dashboards join.
const RoomSOCMonitoring = "soc-monitoring"

// Events delivered to monitoring rooms.
const (
	EventSecurity       = "security-event"
	EventAuditLogUpdate = "audit-log-update"
	EventIncidentUpdate = "incident-update"
)

// Events addressed to a single connection.
const (
	EventJoined = "joined"
	EventPong   = "pong"
)
