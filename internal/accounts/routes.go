package accounts

import "github.com/go-chi/chi/v5"

// MountRoutes registers account routes under /accounts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/totals", h.TotalsHandler)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}
