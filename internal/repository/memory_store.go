package repository

import (
	"context"
	"sort"
	"sync"

	"lumina-exam-agent/internal/models"
)

// MemoryStore keeps the queue in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	pending map[int]models.PendingSubmission
	drafts  map[int]models.AudioDraft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[int]models.PendingSubmission),
		drafts:  make(map[int]models.AudioDraft),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) PutPending(_ context.Context, sub *models.PendingSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sub
	c.Audio = append([]byte(nil), sub.Audio...)
	s.pending[sub.QuestionID] = c
	return nil
}

func (s *MemoryStore) GetPending(_ context.Context, questionID int) (*models.PendingSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.pending[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*models.PendingSubmission, error) {
	return s.listPending(func(*models.PendingSubmission) bool { return true }), nil
}

func (s *MemoryStore) ListPendingByAttempt(_ context.Context, attemptID int) ([]*models.PendingSubmission, error) {
	return s.listPending(func(p *models.PendingSubmission) bool { return p.AttemptID == attemptID }), nil
}

func (s *MemoryStore) listPending(keep func(*models.PendingSubmission) bool) []*models.PendingSubmission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PendingSubmission, 0, len(s.pending))
	for _, sub := range s.pending {
		if keep(&sub) {
			out = append(out, &sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (s *MemoryStore) DeletePending(_ context.Context, questionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, questionID)
	return nil
}

func (s *MemoryStore) DeletePendingByAttempt(_ context.Context, attemptID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.pending {
		if sub.AttemptID == attemptID {
			delete(s.pending, id)
		}
	}
	return nil
}

func (s *MemoryStore) PutDraft(_ context.Context, draft *models.AudioDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *draft
	c.Audio = append([]byte(nil), draft.Audio...)
	s.drafts[draft.QuestionID] = c
	return nil
}

func (s *MemoryStore) GetDraft(_ context.Context, questionID int) (*models.AudioDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) ListDrafts(_ context.Context) ([]*models.AudioDraft, error) {
	return s.listDrafts(func(*models.AudioDraft) bool { return true }), nil
}

func (s *MemoryStore) ListDraftsByAttempt(_ context.Context, attemptID int) ([]*models.AudioDraft, error) {
	return s.listDrafts(func(d *models.AudioDraft) bool { return d.AttemptID == attemptID }), nil
}

func (s *MemoryStore) listDrafts(keep func(*models.AudioDraft) bool) []*models.AudioDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AudioDraft, 0, len(s.drafts))
	for _, d := range s.drafts {
		if keep(&d) {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (s *MemoryStore) DeleteDraft(_ context.Context, questionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, questionID)
	return nil
}

func (s *MemoryStore) DeleteDraftsByAttempt(_ context.Context, attemptID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.drafts {
		if d.AttemptID == attemptID {
			delete(s.drafts, id)
		}
	}
	return nil
}
