// Package handler provides the HTTP handlers of the session API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/middleware"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/onboarding"
	"github.com/shotsapp/shots/internal/reconcile"
)

// SessionFlow is the reconciliation flow as seen by the API.
type SessionFlow interface {
	State() reconcile.State
	RequestSignIn(ctx context.Context) (string, error)
	CompleteSignIn(ctx context.Context, c identity.Completion) (model.User, error)
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}

// ProfileCache reads the last known profile.
type ProfileCache interface {
	Get() (model.User, bool)
}

// Onboarding is the onboarding progression as seen by the API.
type Onboarding interface {
	State() onboarding.Step
	Completed(ctx context.Context) (bool, error)
	Continue(ctx context.Context) error
	Later(ctx context.Context) error
}

// Handler serves the /v1 API.
type Handler struct {
	flow       SessionFlow
	cache      ProfileCache
	onboarding Onboarding
	logger     *slog.Logger
}

// New creates a Handler.
func New(flow SessionFlow, cache ProfileCache, ob Onboarding, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flow:       flow,
		cache:      cache,
		onboarding: ob,
		logger:     logger,
	}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a human readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// decodeJSON decodes a request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeFlowError maps flow, identity and store failures to responses.
func (h *Handler) writeFlowError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrSignInInProgress):
		writeError(w, http.StatusConflict, "SIGN_IN_IN_PROGRESS", "Another sign-in is already in progress")
	case errors.Is(err, reconcile.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Session service is starting")
	case errors.Is(err, identity.ErrNoCurrentUser):
		writeError(w, http.StatusConflict, "NO_SESSION", "No signed-in account")
	case identity.KindOf(err) == identity.KindCredential:
		h.logger.Warn("credential rejected", "op", op, "error", err, "request_id", requestID(r))
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", credentialMessage(err))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "The request timed out")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		writeError(w, http.StatusServiceUnavailable, "CANCELED", "The request was canceled")
	default:
		h.logger.Error("upstream failure", "op", op, "error", err, "request_id", requestID(r))
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "The identity provider or profile store failed")
	}
}

func credentialMessage(err error) string {
	var e *identity.Error
	if errors.As(err, &e) && e.Description != "" {
		return e.Description
	}
	return "The sign-in credential was rejected"
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
