package handlers

import (
	"strings"
	"testing"
)

func TestValidationFields_UsesJSONNames(t *testing.T) {
	partID := -1
	req := struct {
		ExamID    int  `json:"exam_id" validate:"required,gt=0"`
		AttemptID int  `json:"attempt_id" validate:"required,gt=0"`
		PartID    *int `json:"part_id" validate:"omitempty,gt=0"`
	}{AttemptID: 3, PartID: &partID}

	fields := validationFields(&req)
	if len(fields) != 2 {
		t.Fatalf("Expected 2 field errors, got %+v", fields)
	}
	if msg := fields["exam_id"]; !strings.Contains(msg, "exam_id") {
		t.Fatalf("Expected translated message naming exam_id, got %q", msg)
	}
	if _, ok := fields["part_id"]; !ok {
		t.Fatalf("Expected part_id error, got %+v", fields)
	}
}

func TestValidationFields_ValidAudioForm(t *testing.T) {
	form := &audioForm{QuestionID: 1, AttemptID: 2, RecordingTime: 0, Audio: []byte("a")}
	if fields := validationFields(form); fields != nil {
		t.Fatalf("Expected no errors, got %+v", fields)
	}

	form.Audio = []byte{}
	if fields := validationFields(form); fields["audio"] == "" {
		t.Fatalf("Expected audio error for empty upload, got %+v", fields)
	}
}
