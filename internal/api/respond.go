package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ai4altruism/integritykit/internal/approval"
	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/lifecycle"
	"github.com/ai4altruism/integritykit/internal/middleware"
	"github.com/ai4altruism/integritykit/internal/rbac"
	"github.com/ai4altruism/integritykit/internal/risk"
)

// ActorSource resolves the authenticated actor ID (set by the auth
// middleware) to a full user record.
type ActorSource interface {
	Get(ctx context.Context, id string) (*rbac.User, error)
}

// requireActor loads the acting user from the request context. Writes a
// 401 and returns false if the request carries no usable identity.
func requireActor(w http.ResponseWriter, r *http.Request, users ActorSource) (*rbac.User, bool) {
	id := middleware.GetActorID(r.Context())
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return nil, false
	}

	user, err := users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrUserNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Unknown actor")
			return nil, false
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve actor")
		return nil, false
	}
	return user, true
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeServiceError maps domain errors to the standard error envelope.
// Anything unrecognized becomes a 500 without leaking the error text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, ErrCodeInternal, "Internal server error"

	var denied *lifecycle.GateDeniedError
	switch {
	case errors.As(err, &denied):
		status, code, message = http.StatusConflict, ErrCodeGateDenied, denied.Error()
	case errors.Is(err, rbac.ErrUserSuspended):
		status, code, message = http.StatusForbidden, ErrCodeSuspended, err.Error()
	case errors.Is(err, rbac.ErrAccessDenied):
		status, code, message = http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, candidate.ErrNotFound),
		errors.Is(err, approval.ErrNotFound),
		errors.Is(err, rbac.ErrUserNotFound),
		errors.Is(err, lifecycle.ErrConflictNotFound):
		status, code, message = http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, lifecycle.ErrAlreadyPublished):
		status, code, message = http.StatusConflict, ErrCodeAlreadyPublished, err.Error()
	case errors.Is(err, lifecycle.ErrApprovalMismatch):
		status, code, message = http.StatusConflict, ErrCodeApprovalMismatch, err.Error()
	case errors.Is(err, candidate.ErrRevisionConflict):
		status, code, message = http.StatusConflict, ErrCodeRevisionConflict, err.Error()
	case errors.Is(err, approval.ErrDuplicatePending):
		status, code, message = http.StatusConflict, ErrCodeApprovalPending, err.Error()
	case errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, approval.ErrNotConsumable):
		status, code, message = http.StatusConflict, ErrCodeApprovalResolved, err.Error()
	case errors.Is(err, approval.ErrExpired):
		status, code, message = http.StatusConflict, ErrCodeApprovalExpired, err.Error()
	case errors.Is(err, approval.ErrSelfApproval):
		status, code, message = http.StatusForbidden, ErrCodeSelfApproval, err.Error()
	case errors.Is(err, approval.ErrNotRequester):
		status, code, message = http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, approval.ErrJustificationRequired),
		errors.Is(err, risk.ErrJustificationTooShort),
		errors.Is(err, rbac.ErrReasonRequired),
		errors.Is(err, rbac.ErrInvalidRole):
		status, code, message = http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, risk.ErrInvalidTier):
		status, code, message = http.StatusBadRequest, ErrCodeInvalidTier, err.Error()
	case errors.Is(err, risk.ErrOverrideNotApplicable):
		status, code, message = http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.Is(err, rbac.ErrSelfSuspension),
		errors.Is(err, rbac.ErrSuspendAdmin):
		status, code, message = http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, rbac.ErrAlreadySuspended),
		errors.Is(err, rbac.ErrNotSuspended):
		status, code, message = http.StatusConflict, ErrCodeConflict, err.Error()
	default:
		slog.ErrorContext(r.Context(), "unhandled service error", "error", err)
	}

	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, status, code, message)
}
