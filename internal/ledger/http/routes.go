package ledgerhttp

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/merchants", h.CreateAccount)
	r.Get("/merchants", h.List)
	r.Get("/merchants/{id}", h.Show)
	r.Post("/merchants/{id}/add-credit", h.AddCredit)
	r.Post("/merchants/{id}/buy-charge", h.BuyCharge)
	r.Get("/merchants/{id}/credit", h.GetCredit)
	r.Get("/merchants/{id}/entries", h.Entries)
	r.Get("/merchants/{id}/reconciliation", h.Reconciliation)
	r.Post("/merchants/{id}/deactivate", h.Deactivate)
}
