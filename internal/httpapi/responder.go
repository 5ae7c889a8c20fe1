package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/pos-offline/internal/auth"
	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/store"
	"github.com/example/pos-offline/internal/syncengine"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errMissingLogin   = errors.New("login and secret are required")
	errMissingType    = errors.New("transaction type is required")
)

type errorResponse struct {
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: logging.Default(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps domain errors to HTTP statuses without leaking
// internals. Authentication failures stay deliberately uniform.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_INVALID",
			Message:   "invalid credentials",
		})
	case errors.Is(err, auth.ErrCredentialTooStale):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_STALE",
			Message:   "cached credentials are too old; connect to the server to refresh them",
		})
	case errors.Is(err, auth.ErrNoOpenSession):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Message: "no open session"})
	case errors.Is(err, store.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "resource not found"})
	case errors.Is(err, store.ErrDuplicate):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{Message: "resource already exists"})
	case errors.Is(err, syncengine.ErrDrainInProgress):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "SYNC_RUNNING",
			Message:   "a sync is already in progress",
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "internal error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}
