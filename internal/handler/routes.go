package handler

import "github.com/go-chi/chi/v5"

// Mount registers the meal API on r. The server mounts it under /api.
//
//	POST   /meals                  create a manual meal
//	POST   /meals/uploads          start photo uploads
//	GET    /meals/today            today's meals
//	GET    /meals/week             the last seven days
//	GET    /meals/favorites        favorites
//	PATCH  /meals/{id}             edit a meal
//	DELETE /meals/{id}             delete a meal
//	POST   /meals/{id}/favorite    toggle favorite
//	GET    /timeline               pending + today's meals
//	GET    /summary/today          today's totals
//	GET    /pending                pending uploads
//	DELETE /pending/{mealID}       dismiss a pending upload
//	POST   /pending/{mealID}/retry re-upload a rejected photo
//	POST   /analysis/completions   analysis results
//	GET    /events                 change stream (websocket)
//	GET    /snapshot               cached lists (when WithSnapshots was called)
func (h *MealHandler) Mount(r chi.Router) {
	r.Route("/meals", func(r chi.Router) {
		r.Post("/", h.HandleCreateManual)
		r.Post("/uploads", h.HandleUpload)
		r.Get("/today", h.HandleToday)
		r.Get("/week", h.HandleWeek)
		r.Get("/favorites", h.HandleFavorites)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
		r.Post("/{id}/favorite", h.HandleToggleFavorite)
	})
	r.Get("/timeline", h.HandleTimeline)
	r.Get("/summary/today", h.HandleSummary)
	r.Get("/pending", h.HandlePending)
	r.Delete("/pending/{mealID}", h.HandleDismissPending)
	r.Post("/pending/{mealID}/retry", h.HandleRetryPending)
	r.Post("/analysis/completions", h.HandleCompletion)
	r.Get("/events", h.HandleEvents)
	if h.snapshots != nil {
		r.Get("/snapshot", h.HandleSnapshot)
	}
}
