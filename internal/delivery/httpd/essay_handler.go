package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"essaypipe/internal/models"
)

func (h *Handler) GetEssay(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	essayID := chi.URLParam(r, "essay_id")
	if assignmentID == "" || essayID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID and essay ID are required")
		return
	}

	ctx := r.Context()
	essay, err := h.essays.Get(ctx, assignmentID, essayID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get essay")
		writeError(w, http.StatusInternalServerError, "Failed to get essay")
		return
	}
	if essay == nil {
		writeError(w, http.StatusNotFound, "Essay not found")
		return
	}

	if tid := teacherID(r); tid != "" && tid != essay.TeacherID {
		writeError(w, http.StatusNotFound, "Essay not found")
		return
	}

	writeSuccess(w, essay)
}

// ReaggregateEssay republishes a completion event for a processed essay,
// flagged as an override. Used after a manual feedback correction to force
// the aggregates current.
func (h *Handler) ReaggregateEssay(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	essayID := chi.URLParam(r, "essay_id")
	if assignmentID == "" || essayID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID and essay ID are required")
		return
	}

	ctx := r.Context()
	essay, err := h.essays.Get(ctx, assignmentID, essayID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get essay")
		writeError(w, http.StatusInternalServerError, "Failed to get essay")
		return
	}
	if essay == nil {
		writeError(w, http.StatusNotFound, "Essay not found")
		return
	}
	if tid := teacherID(r); tid != "" && tid != essay.TeacherID {
		writeError(w, http.StatusNotFound, "Essay not found")
		return
	}
	if essay.Status != models.EssayStatusProcessed {
		writeError(w, http.StatusConflict, "Essay is not processed")
		return
	}

	event := &models.CompletionEvent{
		TeacherID:    essay.TeacherID,
		AssignmentID: essay.AssignmentID,
		StudentID:    essay.StudentID,
		EssayID:      essay.EssayID,
		Override:     true,
	}
	if err := h.dispatcher.DispatchCompletion(ctx, event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to publish completion event")
		writeError(w, http.StatusInternalServerError, "Failed to trigger reaggregation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"essay_id": essay.EssayID,
	})
}

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	tid := teacherID(r)
	if tid == "" {
		writeError(w, http.StatusBadRequest, "Teacher ID is required")
		return
	}

	ctx := r.Context()
	students, err := h.students.ListByTeacher(ctx, tid)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list students")
		writeError(w, http.StatusInternalServerError, "Failed to list students")
		return
	}

	writeSuccess(w, students)
}
