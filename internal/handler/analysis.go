package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/calorily/internal/analysis"
)

// HandleCompletion receives an analysis result pushed by the analysis
// service. Results for meals we don't know (deleted, never uploaded) are
// accepted and dropped, so the service never retries them.
//
// HTTP: POST /api/analysis/completions
// BODY: {"meal_id":"...","analysis":{...}} or {"meal_id":"...","failure_reason":"..."}
func (h *MealHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var c analysis.Completion
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.meals.Complete(r.Context(), c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Debug("completion received", slog.String("meal_id", c.MealID), slog.Bool("failed", c.Failed()))
	w.WriteHeader(http.StatusNoContent)
}
