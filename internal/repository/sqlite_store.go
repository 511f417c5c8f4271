package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"lumina-exam-agent/internal/database"
	"lumina-exam-agent/internal/models"
)

// SQLiteStore is the durable queue on local disk. The database is opened and
// migrated on first use; a failed open is reported to that caller and retried
// by the next one.
type SQLiteStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := database.OpenSQLite(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := database.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.db = db
	return db, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) PutPending(ctx context.Context, sub *models.PendingSubmission) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO pending_submissions (question_id, attempt_id, audio, recording_time_seconds, mime_type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_id) DO UPDATE SET
			attempt_id = excluded.attempt_id,
			audio = excluded.audio,
			recording_time_seconds = excluded.recording_time_seconds,
			mime_type = excluded.mime_type,
			timestamp = excluded.timestamp
	`, sub.QuestionID, sub.AttemptID, sub.Audio, sub.RecordingTimeSeconds, sub.MimeType, sub.Timestamp)
	return err
}

const pendingColumns = `question_id, attempt_id, audio, recording_time_seconds, mime_type, timestamp`

func (s *SQLiteStore) GetPending(ctx context.Context, questionID int) (*models.PendingSubmission, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_submissions WHERE question_id = ?`, questionID)
	var p models.PendingSubmission
	if err := row.Scan(&p.QuestionID, &p.AttemptID, &p.Audio, &p.RecordingTimeSeconds, &p.MimeType, &p.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.PendingSubmission, error) {
	return s.queryPending(ctx, `SELECT `+pendingColumns+` FROM pending_submissions ORDER BY timestamp ASC, question_id ASC`)
}

func (s *SQLiteStore) ListPendingByAttempt(ctx context.Context, attemptID int) ([]*models.PendingSubmission, error) {
	return s.queryPending(ctx, `SELECT `+pendingColumns+` FROM pending_submissions WHERE attempt_id = ? ORDER BY timestamp ASC, question_id ASC`, attemptID)
}

func (s *SQLiteStore) queryPending(ctx context.Context, query string, args ...any) ([]*models.PendingSubmission, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) DeletePending(ctx context.Context, questionID int) error {
	return s.exec(ctx, `DELETE FROM pending_submissions WHERE question_id = ?`, questionID)
}

func (s *SQLiteStore) DeletePendingByAttempt(ctx context.Context, attemptID int) error {
	return s.exec(ctx, `DELETE FROM pending_submissions WHERE attempt_id = ?`, attemptID)
}

func (s *SQLiteStore) PutDraft(ctx context.Context, d *models.AudioDraft) error {
	return s.exec(ctx, `
		INSERT INTO audio_drafts (question_id, attempt_id, audio, recording_time_seconds, mime_type, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_id) DO UPDATE SET
			attempt_id = excluded.attempt_id,
			audio = excluded.audio,
			recording_time_seconds = excluded.recording_time_seconds,
			mime_type = excluded.mime_type,
			saved_at = excluded.saved_at
	`, d.QuestionID, d.AttemptID, d.Audio, d.RecordingTimeSeconds, d.MimeType, d.SavedAt)
}

const draftColumns = `question_id, attempt_id, audio, recording_time_seconds, mime_type, saved_at`

func (s *SQLiteStore) GetDraft(ctx context.Context, questionID int) (*models.AudioDraft, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM audio_drafts WHERE question_id = ?`, questionID)
	var d models.AudioDraft
	if err := row.Scan(&d.QuestionID, &d.AttemptID, &d.Audio, &d.RecordingTimeSeconds, &d.MimeType, &d.SavedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) ListDrafts(ctx context.Context) ([]*models.AudioDraft, error) {
	return s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM audio_drafts ORDER BY question_id ASC`)
}

func (s *SQLiteStore) ListDraftsByAttempt(ctx context.Context, attemptID int) ([]*models.AudioDraft, error) {
	return s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM audio_drafts WHERE attempt_id = ? ORDER BY question_id ASC`, attemptID)
}

func (s *SQLiteStore) queryDrafts(ctx context.Context, query string, args ...any) ([]*models.AudioDraft, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) DeleteDraft(ctx context.Context, questionID int) error {
	return s.exec(ctx, `DELETE FROM audio_drafts WHERE question_id = ?`, questionID)
}

func (s *SQLiteStore) DeleteDraftsByAttempt(ctx context.Context, attemptID int) error {
	return s.exec(ctx, `DELETE FROM audio_drafts WHERE attempt_id = ?`, attemptID)
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}
