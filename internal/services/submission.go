package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lumina-exam-agent/internal/models"
)

const submitAnswerPath = "/api/speaking/submit-answer"

// SubmissionError is a non-2xx answer from the submission endpoint.
type SubmissionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submission rejected (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission rejected (%d)", e.StatusCode)
}

// NetworkError wraps a failure to reach the endpoint at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "submission endpoint unreachable: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

type SubmissionClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewSubmissionClient(httpClient *http.Client, baseURL, token string) *SubmissionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &SubmissionClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// SubmitSpeakingAnswer uploads one recorded answer as multipart form data.
func (c *SubmissionClient) SubmitSpeakingAnswer(ctx context.Context, sub *models.PendingSubmission) error {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitAnswerPath, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		token := c.token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeSubmissionError(resp)
}

func encodeSubmission(sub *models.PendingSubmission) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"questionId":    strconv.Itoa(sub.QuestionID),
		"attemptId":     strconv.Itoa(sub.AttemptID),
		"recordingTime": strconv.FormatFloat(sub.RecordingTimeSeconds, 'f', -1, 64),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile("audio", audioFileName(sub))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(sub.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func audioFileName(sub *models.PendingSubmission) string {
	ext := "webm"
	switch {
	case strings.Contains(sub.MimeType, "ogg"):
		ext = "ogg"
	case strings.Contains(sub.MimeType, "wav"):
		ext = "wav"
	case strings.Contains(sub.MimeType, "mp4"), strings.Contains(sub.MimeType, "m4a"):
		ext = "m4a"
	case strings.Contains(sub.MimeType, "mpeg"):
		ext = "mp3"
	}
	return fmt.Sprintf("question_%d.%s", sub.QuestionID, ext)
}

// decodeSubmissionError accepts both {"error":{"code","message"}} and {"message"} bodies.
func decodeSubmissionError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	out := &SubmissionError{StatusCode: resp.StatusCode}

	var wrapped models.ErrorResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && (wrapped.Error.Code != "" || wrapped.Error.Message != "") {
		out.Code = wrapped.Error.Code
		out.Message = wrapped.Error.Message
		return out
	}

	var flat struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		out.Code = flat.Code
		out.Message = flat.Message
		if out.Message == "" {
			out.Message = flat.Error
		}
		return out
	}

	out.Message = strings.TrimSpace(string(raw))
	return out
}
