package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/services"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

// AuthGuard is the inline auth-path surface host applications call around
// their own login, registration and password reset handlers
type AuthGuard interface {
	CheckLogin(ctx context.Context, email, ipAddress, userAgent string) (*services.LoginDecision, error)
	RecordLoginFailure(ctx context.Context, email, ipAddress, userAgent, reason string) *services.LoginDecision
	RecordLoginSuccess(ctx context.Context, userID, email, ipAddress, userAgent string)
	CheckRegistration(ctx context.Context, ipAddress string) (*models.RateLimitResult, error)
	RecordRegistration(ctx context.Context, userID, email, ipAddress, userAgent string, success bool)
	RecordPasswordResetRequest(ctx context.Context, email, ipAddress, userAgent string, accountExists bool) (*models.RateLimitResult, error)
	CompletePasswordReset(ctx context.Context, userID, email, ipAddress, userAgent string)
	RecordTokenEvent(ctx context.Context, eventType models.EventType, userID, email, ipAddress, userAgent string, details models.EventDetails) error
}

// GuardHandler exposes AuthGuard to host applications over HTTP
type GuardHandler struct {
	guard  AuthGuard
	logger *slog.Logger
}

// NewGuardHandler creates a new GuardHandler
func NewGuardHandler(guard AuthGuard, logger *slog.Logger) *GuardHandler {
	return &GuardHandler{guard: guard, logger: logger}
}

// LoginCheckRequest asks whether a login attempt may proceed
type LoginCheckRequest struct {
	Email     string `json:"email" validate:"required,email"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
}

// LoginFailureRequest reports a failed credential check
type LoginFailureRequest struct {
	Email     string `json:"email" validate:"required,email"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
	Reason    string `json:"reason" validate:"max=100"`
}

// LoginSuccessRequest reports a successful login
type LoginSuccessRequest struct {
	UserID    string `json:"user_id" validate:"required,max=255"`
	Email     string `json:"email" validate:"required,email"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
}

// RegistrationCheckRequest asks whether a registration from an IP may proceed
type RegistrationCheckRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// RegistrationRequest reports a registration outcome
type RegistrationRequest struct {
	UserID    string `json:"user_id" validate:"max=255"`
	Email     string `json:"email" validate:"required,email"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
	Success   bool   `json:"success"`
}

// PasswordResetRequest reports a password reset request
type PasswordResetRequest struct {
	Email         string `json:"email" validate:"required,email"`
	IPAddress     string `json:"ip_address" validate:"required,ip"`
	UserAgent     string `json:"user_agent" validate:"max=512"`
	AccountExists bool   `json:"account_exists"`
}

// PasswordResetCompleteRequest reports a completed password reset
type PasswordResetCompleteRequest struct {
	UserID    string `json:"user_id" validate:"required,max=255"`
	Email     string `json:"email" validate:"required,email"`
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
}

// TokenEventRequest reports a token or session lifecycle event
type TokenEventRequest struct {
	EventType string              `json:"event_type" validate:"required,event_type"`
	UserID    string              `json:"user_id" validate:"max=255"`
	Email     string              `json:"email" validate:"omitempty,email"`
	IPAddress string              `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string              `json:"user_agent" validate:"max=512"`
	Details   models.EventDetails `json:"details"`
}

// CheckLogin handles POST /guard/login/check: 200 when allowed, 429 when the
// IP is rate limited, 423 when the account is locked
func (h *GuardHandler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	decision, err := h.guard.CheckLogin(r.Context(), req.Email, req.IPAddress, req.UserAgent)
	switch {
	case errors.Is(err, models.ErrRateLimitExceeded):
		writeDecision(w, http.StatusTooManyRequests, decision)
	case errors.Is(err, models.ErrAccountLocked):
		writeDecision(w, http.StatusLocked, decision)
	case err != nil:
		h.logger.Error("login check failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
	default:
		writeDecision(w, http.StatusOK, decision)
	}
}

// LoginFailure handles POST /guard/login/failure
func (h *GuardHandler) LoginFailure(w http.ResponseWriter, r *http.Request) {
	var req LoginFailureRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "invalid_credentials"
	}

	decision := h.guard.RecordLoginFailure(r.Context(), req.Email, req.IPAddress, req.UserAgent, req.Reason)
	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// LoginSuccess handles POST /guard/login/success
func (h *GuardHandler) LoginSuccess(w http.ResponseWriter, r *http.Request) {
	var req LoginSuccessRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.guard.RecordLoginSuccess(r.Context(), req.UserID, req.Email, req.IPAddress, req.UserAgent)
	w.WriteHeader(http.StatusNoContent)
}

// CheckRegistration handles POST /guard/registration/check
func (h *GuardHandler) CheckRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.guard.CheckRegistration(r.Context(), req.IPAddress)
	h.writeRateLimitResult(w, result, err)
}

// Registration handles POST /guard/registration
func (h *GuardHandler) Registration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.guard.RecordRegistration(r.Context(), req.UserID, req.Email, req.IPAddress, req.UserAgent, req.Success)
	w.WriteHeader(http.StatusNoContent)
}

// PasswordResetRequest handles POST /guard/password-reset/request
func (h *GuardHandler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.guard.RecordPasswordResetRequest(r.Context(), req.Email, req.IPAddress, req.UserAgent, req.AccountExists)
	h.writeRateLimitResult(w, result, err)
}

// PasswordResetComplete handles POST /guard/password-reset/complete
func (h *GuardHandler) PasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetCompleteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.guard.CompletePasswordReset(r.Context(), req.UserID, req.Email, req.IPAddress, req.UserAgent)
	w.WriteHeader(http.StatusNoContent)
}

// TokenEvent handles POST /guard/token-events
func (h *GuardHandler) TokenEvent(w http.ResponseWriter, r *http.Request) {
	var req TokenEventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	eventType, _ := models.ParseEventType(req.EventType)
	err := h.guard.RecordTokenEvent(r.Context(), eventType, req.UserID, req.Email, req.IPAddress, req.UserAgent, req.Details)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GuardHandler) writeRateLimitResult(w http.ResponseWriter, result *models.RateLimitResult, err error) {
	switch {
	case errors.Is(err, models.ErrRateLimitExceeded):
		if result != nil {
			pkghttp.SetRetryAfter(w, time.Until(result.ResetTime))
		}
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, result)
	case err != nil:
		h.logger.Error("rate limit check failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
	default:
		pkghttp.WriteJSON(w, http.StatusOK, result)
	}
}

func writeDecision(w http.ResponseWriter, status int, decision *services.LoginDecision) {
	if decision != nil {
		pkghttp.SetRetryAfter(w, decision.RetryAfter)
	}
	pkghttp.WriteJSON(w, status, decision)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := pkghttp.DecodeJSON(r, dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}
