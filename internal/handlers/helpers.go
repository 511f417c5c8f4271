package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lumina-exam-agent/internal/middleware"
	"lumina-exam-agent/internal/models"
)

const maxAudioUpload = 32 << 20

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

// audioForm is the multipart body shared by submissions and drafts.
type audioForm struct {
	QuestionID    int     `json:"question_id" validate:"required,gt=0"`
	AttemptID     int     `json:"attempt_id" validate:"required,gt=0"`
	RecordingTime float64 `json:"recording_time" validate:"gte=0"`
	MimeType      string  `json:"mime_type"`
	Audio         []byte  `json:"audio" validate:"required,min=1"`
}

// parseAudioForm reads question_id, attempt_id, recording_time and the "audio"
// file part. Unparseable numbers are left at a value validation rejects.
func parseAudioForm(w http.ResponseWriter, r *http.Request) (*audioForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	form := &audioForm{
		QuestionID: atoiOrZero(r.FormValue("question_id")),
		AttemptID:  atoiOrZero(r.FormValue("attempt_id")),
	}
	if v := strings.TrimSpace(r.FormValue("recording_time")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			t = -1
		}
		form.RecordingTime = t
	}

	file, header, err := r.FormFile("audio")
	if err == nil {
		defer file.Close()
		form.Audio, err = io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
		form.MimeType = header.Header.Get("Content-Type")
	}
	if form.MimeType == "" || form.MimeType == "application/octet-stream" {
		form.MimeType = "audio/webm"
	}
	return form, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
