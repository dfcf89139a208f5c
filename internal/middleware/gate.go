package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/internal/audit"
	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/permissions"
	"github.com/charlesng35/campusgate/internal/tracing"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/metrics"
	"github.com/charlesng35/campusgate/pkg/response"
)

// DefaultAPIKeyHeader carries API keys; it is checked before the Authorization header.
const DefaultAPIKeyHeader = "X-API-Key"

// Authenticator turns request credentials into an identity.
type Authenticator interface {
	FromBearer(ctx context.Context, token string) (*auth.Identity, error)
	FromAPIKey(ctx context.Context, key string) (*auth.Identity, error)
}

// Decider answers access questions for a principal.
type Decider interface {
	Resolve(ctx context.Context, principal permissions.Principal, resource, action string) (bool, error)
	ResolvePage(ctx context.Context, principal permissions.Principal, page string, action models.PageAction) (bool, error)
	ResolveCustomMode(ctx context.Context, principal permissions.Principal, page, modeID string) (bool, error)
}

// BlockChecker reports whether an address is currently blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

// Recorder persists audit events without surfacing failures.
type Recorder interface {
	Record(ctx context.Context, event audit.Event)
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithBlocklist enables the BlockedIP middleware.
func WithBlocklist(checker BlockChecker) GateOption {
	return func(g *Gate) {
		g.blocklist = checker
	}
}

// WithGateMetrics records gate outcomes on m.
func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithAPIKeyHeader overrides the header API keys are read from.
func WithAPIKeyHeader(name string) GateOption {
	return func(g *Gate) {
		if strings.TrimSpace(name) != "" {
			g.apiKeyHeader = strings.TrimSpace(name)
		}
	}
}

// Gate is the access gate in front of every protected route: blocklist, authentication
// and authorization, each outcome audited.
type Gate struct {
	authn        Authenticator
	decider      Decider
	recorder     Recorder
	blocklist    BlockChecker
	metrics      *metrics.Metrics
	apiKeyHeader string
	log          *zap.Logger
}

// NewGate wires the gate collaborators. recorder may be nil.
func NewGate(authn Authenticator, decider Decider, recorder Recorder, opts ...GateOption) (*Gate, error) {
	if authn == nil {
		return nil, errors.New("access gate: authenticator is required")
	}
	if decider == nil {
		return nil, errors.New("access gate: decider is required")
	}
	g := &Gate{
		authn:        authn,
		decider:      decider,
		recorder:     recorder,
		apiKeyHeader: DefaultAPIKeyHeader,
		log:          logger.WithModule("gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// BlockedIP rejects requests from blocked addresses with the same body as a permission
// denial. Lookup failures are logged and the request continues.
func (g *Gate) BlockedIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.blocklist == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		ip := c.ClientIP()

		blocked, err := g.blocklist.IsBlocked(ctx, ip)
		if err != nil {
			g.log.Warn("blocklist lookup failed", zap.String("ip", ip), zap.Error(err))
			c.Next()
			return
		}
		if !blocked {
			c.Next()
			return
		}

		g.metrics.ObserveBlockedRequest()
		g.record(ctx, audit.Event{
			Action:   audit.ActionBlockedIP,
			Resource: c.Request.URL.Path,
			Status:   models.AuditStatusFailure,
			Payload:  audit.BlocklistPayload{IPAddress: ip},
		})
		response.Abort(c, apperrors.ErrForbidden)
	}
}

// Authenticate establishes the request identity from an API key or a bearer token.
func (g *Gate) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			identity *auth.Identity
			err      error
			method   models.AuthMethod
		)
		if key := strings.TrimSpace(c.GetHeader(g.apiKeyHeader)); key != "" {
			method = models.AuthMethodAPIKey
			identity, err = g.authn.FromAPIKey(ctx, key)
		} else {
			token, ok := bearerToken(c.GetHeader("Authorization"))
			if !ok {
				g.metrics.ObserveAuthAttempt(string(models.AuthMethodUnauthenticated), "missing")
				g.record(ctx, audit.Event{
					Action:   audit.ActionAuthenticationRequired,
					Resource: c.Request.URL.Path,
					Status:   models.AuditStatusFailure,
					Payload:  audit.AuthenticationPayload{Method: models.AuthMethodUnauthenticated},
				})
				c.Header("WWW-Authenticate", "Bearer")
				response.Abort(c, apperrors.ErrUnauthorized)
				return
			}
			method = models.AuthMethodJWT
			identity, err = g.authn.FromBearer(ctx, token)
		}

		if err != nil {
			if !isCredentialError(err) {
				g.log.Warn("authentication lookup failed", zap.String("method", string(method)), zap.Error(err))
			}
			g.metrics.ObserveAuthAttempt(string(method), "failure")
			g.record(ctx, audit.Event{
				Action:   audit.ActionAuthenticationFailed,
				Resource: c.Request.URL.Path,
				Status:   models.AuditStatusFailure,
				Err:      err,
				Payload:  audit.AuthenticationPayload{Method: method, Reason: "invalid credentials"},
			})
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		g.metrics.ObserveAuthAttempt(string(method), "success")
		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.User.ID)
		c.Request = c.Request.WithContext(auditctx.WithActor(ctx, identity.Actor()))
		c.Next()
	}
}

// RequirePermission allows the request when the principal holds resource:action.
func (g *Gate) RequirePermission(resource, action string) gin.HandlerFunc {
	payload := audit.AccessPayload{Resource: resource, Action: action}
	return g.require("resource", resource, payload, func(ctx context.Context, p permissions.Principal) (bool, error) {
		return g.decider.Resolve(ctx, p, resource, action)
	})
}

// RequirePage allows the request when the principal may view or edit page.
func (g *Gate) RequirePage(page string, action models.PageAction) gin.HandlerFunc {
	payload := audit.AccessPayload{Page: page, PageAction: string(action)}
	return g.require("page", page, payload, func(ctx context.Context, p permissions.Principal) (bool, error) {
		return g.decider.ResolvePage(ctx, p, page, action)
	})
}

// RequireCustomMode allows the request when the principal holds the page mode.
func (g *Gate) RequireCustomMode(page, modeID string) gin.HandlerFunc {
	payload := audit.AccessPayload{Page: page, ModeID: modeID}
	return g.require("mode", page, payload, func(ctx context.Context, p permissions.Principal) (bool, error) {
		return g.decider.ResolveCustomMode(ctx, p, page, modeID)
	})
}

func (g *Gate) require(kind, resource string, payload audit.AccessPayload, decide func(context.Context, permissions.Principal) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		ctx, span := tracing.StartSpanWithAttributes(c.Request.Context(), "gate.authorize",
			attribute.String("gate.kind", kind),
			attribute.String("gate.resource", resource),
		)
		allowed, err := decide(ctx, identity.Principal())
		span.SetAttributes(attribute.Bool("gate.allowed", allowed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			g.log.Error("permission check failed", zap.String("kind", kind), zap.String("resource", resource), zap.Error(err))
			payload.Reason = "permission check failed"
			g.record(ctx, audit.Event{
				Action:   audit.ActionUnauthorizedAccess,
				Resource: resource,
				Status:   models.AuditStatusError,
				Err:      err,
				Payload:  payload,
			})
			response.Abort(c, apperrors.ErrInternalServer)
			return
		}
		if !allowed {
			payload.Reason = "permission denied"
			g.record(ctx, audit.Event{
				Action:   audit.ActionUnauthorizedAccess,
				Resource: resource,
				Status:   models.AuditStatusFailure,
				Payload:  payload,
			})
			response.Abort(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

func (g *Gate) record(ctx context.Context, event audit.Event) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(ctx, event)
}

func bearerToken(header string) (string, bool) {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrUnknownPrincipal) ||
		errors.Is(err, auth.ErrAPIKeyInvalid) ||
		errors.Is(err, auth.ErrTokenInvalid)
}
