package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"lumina-exam-agent/internal/coordination"
	"lumina-exam-agent/internal/models"
)

type ExamSessionHandler struct {
	coord *coordination.Coordinator
	log   *zap.Logger
}

func NewExamSessionHandler(coord *coordination.Coordinator, log *zap.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{coord: coord, log: log.Named("exam_sessions")}
}

type sessionView struct {
	TabID              string              `json:"tab_id"`
	State              coordination.State  `json:"state"`
	Degraded           bool                `json:"degraded"`
	HasConflict        bool                `json:"has_conflict"`
	Session            *models.ExamSession `json:"session"`
	ConflictingSession *models.ExamSession `json:"conflicting_session"`
}

func (h *ExamSessionHandler) view() sessionView {
	return sessionView{
		TabID:              h.coord.TabID(),
		State:              h.coord.State(),
		Degraded:           h.coord.Degraded(),
		HasConflict:        h.coord.HasConflict(),
		Session:            h.coord.CurrentSession(),
		ConflictingSession: h.coord.ConflictingSession(),
	}
}

func (h *ExamSessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExamID    int  `json:"exam_id" validate:"required,gt=0"`
		AttemptID int  `json:"attempt_id" validate:"required,gt=0"`
		PartID    *int `json:"part_id" validate:"omitempty,gt=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if fields := validationFields(&req); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	allowed, err := h.coord.StartExamSession(r.Context(), req.ExamID, req.AttemptID, req.PartID)
	if err != nil {
		if errors.Is(err, coordination.ErrNoSession) {
			writeJSON(w, http.StatusConflict, errorResp("SESSION_SUPERSEDED", "Session was replaced while negotiating", r))
			return
		}
		h.log.Warn("exam session negotiation interrupted", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResp("NEGOTIATION_ABORTED", "Session negotiation was interrupted", r))
		return
	}

	v := h.view()
	status := http.StatusOK
	if !allowed {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{
		"allowed":             allowed,
		"session":             v.Session,
		"conflicting_session": v.ConflictingSession,
		"state":               v.State,
	})
}

func (h *ExamSessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

func (h *ExamSessionHandler) End(w http.ResponseWriter, r *http.Request) {
	h.coord.EndExamSession(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExamSessionHandler) TakeOver(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ForceTakeOver(r.Context()); err != nil {
		if errors.Is(err, coordination.ErrNoSession) {
			writeJSON(w, http.StatusNotFound, errorResp("NO_SESSION", "No exam session to take over", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to take over session", r))
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}
