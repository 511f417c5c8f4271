package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"lumina-exam-agent/internal/models"
)

func TestSubmitSpeakingAnswer_SendsMultipart(t *testing.T) {
	var gotAuth, gotQuestion, gotAttempt, gotFile string
	var gotAudio []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != submitAnswerPath {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		gotQuestion = r.FormValue("questionId")
		gotAttempt = r.FormValue("attemptId")
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		gotFile = hdr.Filename
		gotAudio, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSubmissionClient(ts.Client(), ts.URL+"/", "abc")
	err := client.SubmitSpeakingAnswer(context.Background(), &models.PendingSubmission{
		QuestionID:           11,
		AttemptID:            42,
		Audio:                []byte("RIFFdata"),
		RecordingTimeSeconds: 31.5,
		MimeType:             "audio/webm;codecs=opus",
	})
	if err != nil {
		t.Fatalf("SubmitSpeakingAnswer: %v", err)
	}

	if gotAuth != "Bearer abc" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotQuestion != "11" || gotAttempt != "42" {
		t.Errorf("unexpected ids question=%q attempt=%q", gotQuestion, gotAttempt)
	}
	if gotFile != "question_11.webm" {
		t.Errorf("unexpected file name %q", gotFile)
	}
	if string(gotAudio) != "RIFFdata" {
		t.Errorf("unexpected audio payload %q", gotAudio)
	}
}

func TestSubmitSpeakingAnswer_DecodesErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{"wrapped error", http.StatusConflict, `{"error":{"code":"DUPLICATE_SUBMISSION","message":"Answer already exists"}}`, "DUPLICATE_SUBMISSION", "Answer already exists"},
		{"flat message", http.StatusBadRequest, `{"message":"Invalid audio"}`, "", "Invalid audio"},
		{"flat error string", http.StatusUnprocessableEntity, `{"error":"duplicate answer"}`, "", "duplicate answer"},
		{"plain text", http.StatusServiceUnavailable, "upstream down", "", "upstream down"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			client := NewSubmissionClient(ts.Client(), ts.URL, "")
			err := client.SubmitSpeakingAnswer(context.Background(), &models.PendingSubmission{QuestionID: 1, AttemptID: 1})

			var se *SubmissionError
			if !errors.As(err, &se) {
				t.Fatalf("expected SubmissionError, got %v", err)
			}
			if se.StatusCode != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, se.StatusCode)
			}
			if se.Code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, se.Code)
			}
			if se.Message != tc.wantMessage {
				t.Errorf("expected message %q, got %q", tc.wantMessage, se.Message)
			}
		})
	}
}

func TestSubmitSpeakingAnswer_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := NewSubmissionClient(http.DefaultClient, url, "")
	err := client.SubmitSpeakingAnswer(context.Background(), &models.PendingSubmission{QuestionID: 1})

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestMultiNotifier_FansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	NotifyWarning(MultiNotifier{a, nil, b}, "Offline", "saved for later")

	for i, r := range []*recordingNotifier{a, b} {
		if len(r.got) != 1 || r.got[0].Level != models.LevelWarning {
			t.Fatalf("sink %d: expected one warning, got %+v", i, r.got)
		}
	}
}

type recordingNotifier struct {
	got []models.Notification
}

func (r *recordingNotifier) Notify(n models.Notification) { r.got = append(r.got, n) }
