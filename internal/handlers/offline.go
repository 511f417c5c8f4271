package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lumina-exam-agent/internal/models"
	"lumina-exam-agent/internal/offline"
	"lumina-exam-agent/internal/services"
)

// OfflineHandler exposes the offline submission pipeline to the UI.
type OfflineHandler struct {
	pipeline *offline.Pipeline
	log      *zap.Logger
}

func NewOfflineHandler(pipeline *offline.Pipeline, log *zap.Logger) *OfflineHandler {
	return &OfflineHandler{pipeline: pipeline, log: log.Named("offline_api")}
}

func (h *OfflineHandler) Submit(w http.ResponseWriter, r *http.Request) {
	form, err := parseAudioForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}
	if fields := validationFields(form); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	sub := &models.PendingSubmission{
		QuestionID:           form.QuestionID,
		AttemptID:            form.AttemptID,
		Audio:                form.Audio,
		RecordingTimeSeconds: form.RecordingTime,
		MimeType:             form.MimeType,
	}

	result, err := h.pipeline.Submit(r.Context(), sub)
	if err != nil {
		var subErr *services.SubmissionError
		if errors.As(err, &subErr) {
			code := subErr.Code
			if code == "" {
				code = "SUBMISSION_REJECTED"
			}
			status := subErr.StatusCode
			if status < 400 || status > 499 {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, errorResp(code, subErr.Error(), r))
			return
		}
		h.log.Error("submission could not be saved", zap.Int("question_id", sub.QuestionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save submission", r))
		return
	}

	status := http.StatusOK
	if result == offline.ResultQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]interface{}{
		"result":     result,
		"submission": sub,
	})
}

func (h *OfflineHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	var (
		pending []*models.PendingSubmission
		err     error
	)
	if raw := r.URL.Query().Get("attempt_id"); raw != "" {
		attemptID, convErr := positiveInt(raw)
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid attempt_id", r))
			return
		}
		pending, err = h.pipeline.PendingForAttempt(r.Context(), attemptID)
	} else {
		pending, err = h.pipeline.AllPending(r.Context())
	}
	if err != nil {
		h.log.Error("failed to list pending submissions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list pending submissions", r))
		return
	}
	if pending == nil {
		pending = []*models.PendingSubmission{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": pending,
		"count":       len(pending),
	})
}

func (h *OfflineHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

func (h *OfflineHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.ManualSync(r.Context()); err != nil {
		if errors.Is(err, offline.ErrOffline) {
			writeJSON(w, http.StatusConflict, errorResp("OFFLINE", "You are offline. Saved answers will sync when the connection returns.", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Sync failed", r))
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

func (h *OfflineHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	questionID, err := positiveInt(chi.URLParam(r, "questionId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid question ID", r))
		return
	}

	form, err := parseAudioForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}
	// The path carries the question ID; the form field may be omitted.
	if form.QuestionID != 0 && form.QuestionID != questionID {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "question_id does not match path", r))
		return
	}
	form.QuestionID = questionID
	if fields := validationFields(form); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	draft := &models.AudioDraft{
		QuestionID:           questionID,
		AttemptID:            form.AttemptID,
		Audio:                form.Audio,
		RecordingTimeSeconds: form.RecordingTime,
		MimeType:             form.MimeType,
	}
	if err := h.pipeline.SaveAudioDraft(r.Context(), draft); err != nil {
		h.log.Error("failed to save draft", zap.Int("question_id", questionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save draft", r))
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// GetDraft streams the draft audio; metadata travels in headers.
func (h *OfflineHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	questionID, err := positiveInt(chi.URLParam(r, "questionId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid question ID", r))
		return
	}

	draft, err := h.pipeline.GetAudioDraft(r.Context(), questionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load draft", r))
		return
	}
	if draft == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No draft for this question", r))
		return
	}

	w.Header().Set("Content-Type", draft.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(draft.Audio)))
	w.Header().Set("X-Attempt-ID", strconv.Itoa(draft.AttemptID))
	w.Header().Set("X-Recording-Time", strconv.FormatFloat(draft.RecordingTimeSeconds, 'f', -1, 64))
	w.Header().Set("X-Saved-At", time.UnixMilli(draft.SavedAt).UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	w.Write(draft.Audio)
}

func (h *OfflineHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.pipeline.GetAllAudioDrafts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list drafts", r))
		return
	}
	if drafts == nil {
		drafts = []*models.AudioDraft{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drafts": drafts,
		"count":  len(drafts),
	})
}

func (h *OfflineHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	questionID, err := positiveInt(chi.URLParam(r, "questionId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid question ID", r))
		return
	}
	if err := h.pipeline.DeleteAudioDraft(r.Context(), questionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete draft", r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OfflineHandler) ClearAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, err := positiveInt(chi.URLParam(r, "attemptId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid attempt ID", r))
		return
	}
	if err := h.pipeline.ClearAttemptData(r.Context(), attemptID); err != nil {
		h.log.Error("failed to clear attempt data", zap.Int("attempt_id", attemptID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to clear attempt data", r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
