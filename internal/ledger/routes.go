package ledger

import "github.com/go-chi/chi/v5"

// MountAccountRoutes registers the account-scoped ledger routes. Callers
// mount these inside the /accounts route group so chi sees a single subtree.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.Post("/{id}/transactions", h.Create)
	r.Get("/{id}/transactions", h.List)
	r.Get("/{id}/summary", h.Summary)
}

// MountRoutes registers the transaction and transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions/{id}", h.Get)
	r.Patch("/transactions/{id}", h.Update)
	r.Delete("/transactions/{id}", h.Delete)
	r.Post("/transfers", h.Transfer)
}
