package offline

import (
	"context"

	"lumina-exam-agent/internal/models"
)

// Store is the durable local store: two collections keyed by question ID with a
// secondary lookup by attempt ID. Get methods return repository.ErrNotFound for missing keys.
type Store interface {
	PutPending(ctx context.Context, sub *models.PendingSubmission) error
	GetPending(ctx context.Context, questionID int) (*models.PendingSubmission, error)
	ListPending(ctx context.Context) ([]*models.PendingSubmission, error)
	ListPendingByAttempt(ctx context.Context, attemptID int) ([]*models.PendingSubmission, error)
	DeletePending(ctx context.Context, questionID int) error
	DeletePendingByAttempt(ctx context.Context, attemptID int) error

	PutDraft(ctx context.Context, draft *models.AudioDraft) error
	GetDraft(ctx context.Context, questionID int) (*models.AudioDraft, error)
	ListDrafts(ctx context.Context) ([]*models.AudioDraft, error)
	ListDraftsByAttempt(ctx context.Context, attemptID int) ([]*models.AudioDraft, error)
	DeleteDraft(ctx context.Context, questionID int) error
	DeleteDraftsByAttempt(ctx context.Context, attemptID int) error
}

// Uploader delivers one submission to the remote endpoint.
type Uploader interface {
	SubmitSpeakingAnswer(ctx context.Context, sub *models.PendingSubmission) error
}
