package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) GetClassMetrics(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	tid := teacherID(r)
	if tid == "" {
		writeError(w, http.StatusBadRequest, "Teacher ID is required")
		return
	}

	ctx := r.Context()
	record, err := h.metrics.GetClass(ctx, tid, assignmentID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get class metrics")
		writeError(w, http.StatusInternalServerError, "Failed to get class metrics")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "No metrics for assignment")
		return
	}

	writeSuccess(w, record)
}

func (h *Handler) GetStudentMetrics(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "student_id")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "Student ID is required")
		return
	}

	tid := teacherID(r)
	if tid == "" {
		writeError(w, http.StatusBadRequest, "Teacher ID is required")
		return
	}

	ctx := r.Context()
	record, err := h.metrics.GetStudent(ctx, tid, studentID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get student metrics")
		writeError(w, http.StatusInternalServerError, "Failed to get student metrics")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "No metrics for student")
		return
	}

	writeSuccess(w, record)
}
