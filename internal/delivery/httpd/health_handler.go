package httpd

import (
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "essaypipe",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	writeJSON(w, http.StatusOK, response)
}

// GetStats reports essay counts per lifecycle status.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := h.essays.CountByStatus(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count essays")
		writeError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}

	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, count := range counts {
		byStatus[status.String()] = count
		total += count
	}

	writeSuccess(w, map[string]interface{}{
		"total_essays": total,
		"by_status":    byStatus,
	})
}
