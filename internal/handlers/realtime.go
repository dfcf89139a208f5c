package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/middleware"
	"github.com/charlesng35/campusgate/internal/realtime"
	"github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
)

// RealtimeHandler upgrades authorised clients onto the monitoring websocket.
type RealtimeHandler struct {
	hub     *realtime.Hub
	rooms   []string
	allowed map[string]struct{}
}

// NewRealtimeHandler serves hub; clients may join any of rooms and default to the first.
func NewRealtimeHandler(hub *realtime.Hub, rooms ...string) *RealtimeHandler {
	if len(rooms) == 0 {
		rooms = []string{realtime.RoomSOCMonitoring}
	}
	allowed := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		allowed[strings.ToLower(strings.TrimSpace(room))] = struct{}{}
	}
	return &RealtimeHandler{hub: hub, rooms: rooms, allowed: allowed}
}

// TokenFromQuery copies a ?token= value into the Authorization header. Browsers cannot set
// headers on websocket handshakes.
func (h *RealtimeHandler) TokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if token := strings.TrimSpace(c.Query("token")); token != "" {
				c.Request.Header.Set("Authorization", "Bearer "+token)
			}
		}
		c.Next()
	}
}

// GET /api/ws
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	rooms := h.requestedRooms(c.Query("room"))
	for _, room := range rooms {
		if _, ok := h.allowed[room]; !ok {
			response.Error(c, errors.ErrForbidden)
			return
		}
	}
	h.hub.Serve(userID, rooms, h.allowed, c.Writer, c.Request)
}

func (h *RealtimeHandler) requestedRooms(raw string) []string {
	var rooms []string
	for _, part := range strings.Split(raw, ",") {
		if room := strings.ToLower(strings.TrimSpace(part)); room != "" {
			rooms = append(rooms, room)
		}
	}
	if len(rooms) == 0 {
		rooms = []string{strings.ToLower(strings.TrimSpace(h.rooms[0]))}
	}
	return rooms
}
