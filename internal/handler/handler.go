// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/radkollektiv/ridesignup/internal/eventmeta"
	"github.com/radkollektiv/ridesignup/internal/model"
	"github.com/radkollektiv/ridesignup/internal/policy"
	"github.com/radkollektiv/ridesignup/internal/repository"
	"github.com/radkollektiv/ridesignup/internal/service"
)

// TokenVerifier checks a bearer token and returns the user id it carries.
type TokenVerifier interface {
	Verify(bearerToken string) (string, error)
}

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc      *service.RegistrationService
	verifier TokenVerifier
	log      *slog.Logger
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.RegistrationService, verifier TokenVerifier, log *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, verifier: verifier, log: log}
}

type ctxKey int

const userIDKey ctxKey = 0

// userID returns the authenticated user id, or "" for anonymous requests.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *RegistrationHandler) writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	var de *policy.DeniedError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &de):
		writeError(w, http.StatusForbidden, de.Reason)
	case errors.Is(err, service.ErrNotAssignedGuide):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, eventmeta.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "registration not found")
	case errors.Is(err, repository.ErrAlreadyRegistered),
		errors.Is(err, repository.ErrAlreadyWaitlisted),
		errors.Is(err, repository.ErrLevelCancelled),
		errors.Is(err, repository.ErrLevelAlreadyCancelled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		h.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Middleware ───────────────────────────────────────────────────────────────

// Authenticate resolves an optional bearer token. A request without an
// Authorization header proceeds anonymously; a present but invalid token is
// rejected outright.
func (h *RegistrationHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			next.ServeHTTP(w, r)
			return
		}
		bearer, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "malformed authorization header")
			return
		}
		id, err := h.verifier.Verify(bearer)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// RequireAuth rejects anonymous requests. Must run after Authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Signup handles POST /api/registrations
// Admits, waitlists, or denies one seat claim. Authenticated callers register
// as members; anonymous callers must supply an email and register as guests.
func (h *RegistrationHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if userID(r) == "" && strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusUnauthorized, "authentication or guest email required")
		return
	}

	resp, err := h.svc.Signup(r.Context(), userID(r), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelOwn handles POST /api/registrations/cancel
// Cancels the caller's registration for one (event, level) pair.
func (h *RegistrationHandler) CancelOwn(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.CancelOwn(r.Context(), userID(r), req); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CancelResponse{Success: true})
}

// CancelByToken handles POST /api/registrations/cancel-by-token
// Guest self-service cancellation with the credential issued at signup.
func (h *RegistrationHandler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	var req model.TokenCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.CancelByToken(r.Context(), req); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CancelResponse{Success: true})
}

// BulkCancel handles POST /api/levels/cancel
// Voids an entire ride level on behalf of an assigned guide.
func (h *RegistrationHandler) BulkCancel(w http.ResponseWriter, r *http.Request) {
	var req model.LevelCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.BulkCancel(r.Context(), userID(r), req)
	if err != nil {
		// The bulk-cancel contract has no 502: a collaborator outage here is
		// an internal failure, unlike on the signup path.
		if errors.Is(err, service.ErrUpstream) {
			h.log.Error("bulk cancel failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
