package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lumina-exam-agent/internal/database"
	"lumina-exam-agent/internal/models"
)

// PostgresStore keeps the queue in a shared Postgres database for managed
// kiosk deployments. Like SQLiteStore it connects lazily.
type PostgresStore struct {
	databaseURL string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgresStore(databaseURL string) *PostgresStore {
	return &PostgresStore{databaseURL: databaseURL}
}

func (s *PostgresStore) conn(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}

	pool, err := database.NewPostgresPool(ctx, s.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := database.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.pool = pool
	return pool, nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PostgresStore) PutPending(ctx context.Context, sub *models.PendingSubmission) error {
	return s.exec(ctx, `
		INSERT INTO pending_submissions (question_id, attempt_id, audio, recording_time_seconds, mime_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_id) DO UPDATE SET
			attempt_id = EXCLUDED.attempt_id,
			audio = EXCLUDED.audio,
			recording_time_seconds = EXCLUDED.recording_time_seconds,
			mime_type = EXCLUDED.mime_type,
			timestamp = EXCLUDED.timestamp
	`, sub.QuestionID, sub.AttemptID, sub.Audio, sub.RecordingTimeSeconds, sub.MimeType, sub.Timestamp)
}

func (s *PostgresStore) GetPending(ctx context.Context, questionID int) (*models.PendingSubmission, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var p models.PendingSubmission
	err = pool.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_submissions WHERE question_id = $1`, questionID).
		Scan(&p.QuestionID, &p.AttemptID, &p.Audio, &p.RecordingTimeSeconds, &p.MimeType, &p.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]*models.PendingSubmission, error) {
	return s.queryPending(ctx, `SELECT `+pendingColumns+` FROM pending_submissions ORDER BY timestamp ASC, question_id ASC`)
}

func (s *PostgresStore) ListPendingByAttempt(ctx context.Context, attemptID int) ([]*models.PendingSubmission, error) {
	return s.queryPending(ctx, `SELECT `+pendingColumns+` FROM pending_submissions WHERE attempt_id = $1 ORDER BY timestamp ASC, question_id ASC`, attemptID)
}

func (s *PostgresStore) queryPending(ctx context.Context, query string, args ...any) ([]*models.PendingSubmission, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingSubmission
	for rows.Next() {
		var p models.PendingSubmission
		if err := rows.Scan(&p.QuestionID, &p.AttemptID, &p.Audio, &p.RecordingTimeSeconds, &p.MimeType, &p.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePending(ctx context.Context, questionID int) error {
	return s.exec(ctx, `DELETE FROM pending_submissions WHERE question_id = $1`, questionID)
}

func (s *PostgresStore) DeletePendingByAttempt(ctx context.Context, attemptID int) error {
	return s.exec(ctx, `DELETE FROM pending_submissions WHERE attempt_id = $1`, attemptID)
}

func (s *PostgresStore) PutDraft(ctx context.Context, d *models.AudioDraft) error {
	return s.exec(ctx, `
		INSERT INTO audio_drafts (question_id, attempt_id, audio, recording_time_seconds, mime_type, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_id) DO UPDATE SET
			attempt_id = EXCLUDED.attempt_id,
			audio = EXCLUDED.audio,
			recording_time_seconds = EXCLUDED.recording_time_seconds,
			mime_type = EXCLUDED.mime_type,
			saved_at = EXCLUDED.saved_at
	`, d.QuestionID, d.AttemptID, d.Audio, d.RecordingTimeSeconds, d.MimeType, d.SavedAt)
}

func (s *PostgresStore) GetDraft(ctx context.Context, questionID int) (*models.AudioDraft, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var d models.AudioDraft
	err = pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM audio_drafts WHERE question_id = $1`, questionID).
		Scan(&d.QuestionID, &d.AttemptID, &d.Audio, &d.RecordingTimeSeconds, &d.MimeType, &d.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context) ([]*models.AudioDraft, error) {
	return s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM audio_drafts ORDER BY question_id ASC`)
}

func (s *PostgresStore) ListDraftsByAttempt(ctx context.Context, attemptID int) ([]*models.AudioDraft, error) {
	return s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM audio_drafts WHERE attempt_id = $1 ORDER BY question_id ASC`, attemptID)
}

func (s *PostgresStore) queryDrafts(ctx context.Context, query string, args ...any) ([]*models.AudioDraft, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AudioDraft
	for rows.Next() {
		var d models.AudioDraft
		if err := rows.Scan(&d.QuestionID, &d.AttemptID, &d.Audio, &d.RecordingTimeSeconds, &d.MimeType, &d.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, questionID int) error {
	return s.exec(ctx, `DELETE FROM audio_drafts WHERE question_id = $1`, questionID)
}

func (s *PostgresStore) DeleteDraftsByAttempt(ctx context.Context, attemptID int) error {
	return s.exec(ctx, `DELETE FROM audio_drafts WHERE attempt_id = $1`, attemptID)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, query, args...)
	return err
}
