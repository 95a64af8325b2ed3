// Package httpd exposes the read-side API: essay lifecycle lookups, roster
// listings, and the aggregated class and student metrics.
package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"essaypipe/internal/dispatch"
	"essaypipe/internal/repository"
)

type Handler struct {
	essays     repository.EssayRepository
	students   repository.StudentRepository
	metrics    repository.MetricsRepository
	dispatcher dispatch.Dispatcher
	logger     zerolog.Logger
}

func NewHandler(
	essays repository.EssayRepository,
	students repository.StudentRepository,
	metrics repository.MetricsRepository,
	dispatcher dispatch.Dispatcher,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		essays:     essays,
		students:   students,
		metrics:    metrics,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/stats", h.GetStats)

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/essays", func(r chi.Router) {
			r.Get("/{assignment_id}/{essay_id}", h.GetEssay)
			r.Post("/{assignment_id}/{essay_id}/reaggregate", h.ReaggregateEssay)
		})

		api.Get("/students", h.ListStudents)

		api.Route("/metrics", func(r chi.Router) {
			r.Get("/class/{assignment_id}", h.GetClassMetrics)
			r.Get("/student/{student_id}", h.GetStudentMetrics)
		})
	})
}

// teacherID resolves the caller's teacher scope from the X-Teacher-ID header,
// falling back to the teacher_id query parameter.
func teacherID(r *http.Request) string {
	if id := r.Header.Get("X-Teacher-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("teacher_id")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}
