package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/audit"
	iauth "github.com/charlesng35/campusgate/internal/auth"
	"github.com/charlesng35/campusgate/internal/auditctx"
	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/internal/services"
	apperrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/metrics"
	"github.com/charlesng35/campusgate/pkg/response"
)

// AuthHandler issues access tokens for username/password logins.
type AuthHandler struct {
	passwords *iauth.PasswordAuthenticator
	jwt       *iauth.JWTService
	audit     *services.AuditService
	metrics   *metrics.Metrics
}

func NewAuthHandler(passwords *iauth.PasswordAuthenticator, jwt *iauth.JWTService, auditSvc *services.AuditService, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{passwords: passwords, jwt: jwt, audit: auditSvc, metrics: m}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	ctx := requestContext(c)
	payload := audit.AuthenticationPayload{Method: models.AuthMethodJWT, Username: req.Identifier}

	user, err := h.passwords.Authenticate(ctx, iauth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		h.metrics.ObserveAuthAttempt(string(models.AuthMethodJWT), "failure")
		payload.Reason = "invalid credentials"
		if errors.Is(err, iauth.ErrAccountDisabled) {
			payload.Reason = "account disabled"
		}
		event := audit.Event{Action: audit.ActionLoginFailed, Resource: "auth", Status: models.AuditStatusFailure, Payload: payload}
		if !errors.Is(err, iauth.ErrInvalidCredentials) && !errors.Is(err, iauth.ErrAccountDisabled) {
			event.Status = models.AuditStatusError
			event.Err = err
			h.audit.Record(ctx, event)
			response.Error(c, apperrors.ErrInternalServer)
			return
		}
		h.audit.Record(ctx, event)
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Username: user.Username})
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	actorCtx := auditctx.WithActor(ctx, (&iauth.Identity{User: *user, Method: models.AuthMethodJWT}).Actor())
	h.audit.Record(actorCtx, audit.Event{
		Action:     audit.ActionLoginSucceeded,
		Resource:   "auth",
		ResourceID: user.ID,
		Payload:    payload,
	})
	h.metrics.ObserveAuthAttempt(string(models.AuthMethodJWT), "success")

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.jwt.TTL().Seconds()),
	})
}
