package services

import (
	"context"
	"strings"

	"github.com/charlesng35/campusgate/internal/auditctx"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// actorID returns the acting user id stored in ctx, or nil for system actions.
func actorID(ctx context.Context) *string {
	actor, ok := auditctx.FromContext(ctx)
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func normaliseUintIDs(values []uint) []uint {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(values))
	out := make([]uint, 0, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
