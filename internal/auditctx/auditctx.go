// Package auditctx carries request scoped audit metadata through context.Context so
// concurrent requests never share a correlation id.
package auditctx

import (
	"context"
	"time"

	"github.com/charlesng35/campusgate/internal/models"
)

// Request captures metadata established once per inbound request.
type Request struct {
	CorrelationID string
	IPAddress     string
	UserAgent     string
	Method        string
	Path          string
	StartedAt     time.Time
}

// Actor captures the authenticated principal that initiated a request.
type Actor struct {
	UserID        string
	Username      string
	RoleID        *string
	IsAdmin       bool
	AuthMethod    models.AuthMethod
	APIKeyID      string
	APIKeyOwnerID string
}

type requestContextKey struct{}

type actorContextKey struct{}

// WithRequest stores request metadata in the returned context.
func WithRequest(ctx context.Context, req Request) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestContextKey{}, req)
}

// RequestFromContext returns request metadata when present.
func RequestFromContext(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	req, ok := ctx.Value(requestContextKey{}).(Request)
	return req, ok
}

// CorrelationID returns the request correlation id or an empty string.
func CorrelationID(ctx context.Context) string {
	req, _ := RequestFromContext(ctx)
	return req.CorrelationID
}

// WithActor injects actor metadata into the supplied context, returning a derived context that
// callers can pass down into service layers for audit logging.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Detach returns a context that keeps the audit values of ctx but is not cancelled with it,
// for work that outlives the request.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
