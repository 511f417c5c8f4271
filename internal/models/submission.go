package models

// PendingSubmission is a speaking answer waiting to be uploaded.
// Only one pending submission exists per QuestionID.
type PendingSubmission struct {
	QuestionID           int     `json:"question_id"`
	AttemptID            int     `json:"attempt_id"`
	Audio                []byte  `json:"-"`
	RecordingTimeSeconds float64 `json:"recording_time_seconds"`
	MimeType             string  `json:"mime_type"`
	Timestamp            int64   `json:"timestamp"` // unix ms, sync order
}

// AudioDraft is a recovery snapshot of an in-progress recording.
type AudioDraft struct {
	QuestionID           int     `json:"question_id"`
	AttemptID            int     `json:"attempt_id"`
	Audio                []byte  `json:"-"`
	RecordingTimeSeconds float64 `json:"recording_time_seconds"`
	MimeType             string  `json:"mime_type"`
	SavedAt              int64   `json:"saved_at"`
}

// SyncStatus is the observable aggregate of the current sync pass.
type SyncStatus struct {
	IsSyncing    bool `json:"is_syncing"`
	PendingCount int  `json:"pending_count"`
	SuccessCount int  `json:"success_count"`
	FailedCount  int  `json:"failed_count"`
}
