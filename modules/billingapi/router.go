// Package billingapi mounts the membership billing core as HTTP handlers:
// the provider webhook endpoint, the user-facing workflow operations and
// the maintenance sweeps.
package billingapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// OwnerResolver resolves the caller's owning identity from a request. It is
// the seam to the external identity provider; an empty return means the
// request is unauthenticated.
type OwnerResolver func(r *http.Request) (string, error)

// Router mounts all membership billing endpoints.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billingapi.Router(handlers))
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/provider", h.HandleWebhook)
	r.Post("/checkout/confirm", h.ConfirmCheckout)

	r.Route("/memberships", func(m chi.Router) {
		m.Post("/cancel", h.CancelMembership)
		m.Post("/{membershipID}/resume", h.ResumeMembership)
		m.Post("/{membershipID}/tier", h.ChangeTier)
	})

	r.Route("/maintenance", func(mnt chi.Router) {
		mnt.Post("/check-expired", h.CheckExpired)
		mnt.Post("/fix-periods", h.FixPeriods)
		mnt.Post("/cleanup-duplicates", h.CleanupDuplicates)
	})

	return r
}
