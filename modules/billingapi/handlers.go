package billingapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/logger"
	"github.com/fitforge/membership/pkg/membership"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// Handlers exposes the membership billing core over HTTP.
type Handlers struct {
	provider     billing.Provider
	reconciler   *membership.Reconciler
	workflow     *membership.Workflow
	maintenance  *membership.Maintenance
	resolveOwner OwnerResolver
	log          *slog.Logger
}

// NewHandlers creates the HTTP handlers. Panics on nil dependencies to fail
// fast during initialization.
func NewHandlers(
	provider billing.Provider,
	reconciler *membership.Reconciler,
	workflow *membership.Workflow,
	maintenance *membership.Maintenance,
	resolveOwner OwnerResolver,
	log *slog.Logger,
) *Handlers {
	if provider == nil || reconciler == nil || workflow == nil || maintenance == nil || resolveOwner == nil {
		panic("billingapi: all dependencies are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		provider:     provider,
		reconciler:   reconciler,
		workflow:     workflow,
		maintenance:  maintenance,
		resolveOwner: resolveOwner,
		log:          log,
	}
}

// HandleWebhook verifies, normalizes and applies one provider event.
// A membership miss returns 404 so the provider redelivers: the webhook may
// simply have outrun the local upsert.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.provider.ParseWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
		http.Error(w, "invalid webhook", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.ProcessEvent(r.Context(), *event); err != nil {
		if errors.Is(err, membership.ErrMembershipNotFound) {
			http.Error(w, "membership not found", http.StatusNotFound)
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed",
			logger.EventID(event.EventID),
			logger.Error(err))
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type confirmCheckoutRequest struct {
	SessionID string `json:"session_id"`
}

// ConfirmCheckout activates a membership from a completed checkout session.
func (h *Handlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req confirmCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	id, err := h.workflow.ConfirmCheckout(r.Context(), owner, req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"membership_id": id})
}

// CancelMembership flags the caller's active membership to end at the close
// of the current period.
func (h *Handlers) CancelMembership(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	m, err := h.workflow.Cancel(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// ResumeMembership clears a scheduled cancellation.
func (h *Handlers) ResumeMembership(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	if err := h.workflow.Resume(r.Context(), owner, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type changeTierRequest struct {
	Type     string `json:"type"`
	PriceRef string `json:"price_ref"`
}

// ChangeTier moves the membership onto a different tier and price.
func (h *Handlers) ChangeTier(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req changeTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workflow.ChangeTier(r.Context(), owner, id, membership.Type(req.Type), req.PriceRef); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CheckExpired runs the expiry sweep.
func (h *Handlers) CheckExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.maintenance.CheckExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"updated_count": n})
}

// FixPeriods runs the period repair sweep, optionally for one membership.
func (h *Handlers) FixPeriods(w http.ResponseWriter, r *http.Request) {
	var target *uuid.UUID
	if raw := r.URL.Query().Get("membership_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid membership_id", http.StatusBadRequest)
			return
		}
		target = &id
	}

	n, err := h.maintenance.FixPeriods(r.Context(), target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"fixed_count": n})
}

// CleanupDuplicates runs the duplicate collapse sweep, optionally for one
// owner.
func (h *Handlers) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	n, err := h.maintenance.CleanupDuplicates(r.Context(), r.URL.Query().Get("owner_ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"fixed_count": n})
}

func (h *Handlers) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := h.resolveOwner(r)
	if err != nil || owner == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

func (h *Handlers) membershipID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", logger.Error(err))
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, membership.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, membership.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, membership.ErrMembershipNotFound),
		errors.Is(err, membership.ErrNoActiveMembership):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, membership.ErrInvalidState),
		errors.Is(err, membership.ErrInvalidType):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, membership.ErrProviderUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.ErrorContext(r.Context(), "request failed", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
