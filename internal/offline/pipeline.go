// Package offline keeps speaking answers safe across connectivity loss.
//
// Answers that cannot be uploaded are written to the local Store and drained
// later, oldest first and one at a time, whenever the network comes back.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lumina-exam-agent/internal/metrics"
	"lumina-exam-agent/internal/models"
	"lumina-exam-agent/internal/network"
	"lumina-exam-agent/internal/observable"
	"lumina-exam-agent/internal/repository"
	"lumina-exam-agent/internal/services"
)

const DefaultItemDelay = 500 * time.Millisecond

var ErrOffline = errors.New("network is offline")

type SubmitResult string

const (
	ResultSubmitted SubmitResult = "submitted"
	ResultQueued    SubmitResult = "queued"
)

type Option func(*Pipeline)

// WithItemDelay sets the pause between uploads in a sync pass.
func WithItemDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.itemDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

type Pipeline struct {
	store     Store
	uploader  Uploader
	network   network.Observer
	notifier  services.Notifier
	log       *zap.Logger
	itemDelay time.Duration
	now       func() time.Time

	syncing atomic.Bool
	status  *observable.Value[models.SyncStatus]

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Store, uploader Uploader, net network.Observer, notifier services.Notifier, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = services.NewLogNotifier(log)
	}
	p := &Pipeline{
		store:     store,
		uploader:  uploader,
		network:   net,
		notifier:  notifier,
		log:       log.Named("offline"),
		itemDelay: DefaultItemDelay,
		now:       time.Now,
		status:    observable.NewValue(models.SyncStatus{}),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the startup sync when online with pending items and then syncs on
// every offline to online transition.
func (p *Pipeline) Start(ctx context.Context) {
	ch, cancel := p.network.Subscribe()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		wasOnline, ok := <-ch
		if !ok {
			return
		}
		if wasOnline {
			if n, err := p.PendingCount(ctx); err != nil {
				p.log.Warn("failed to read pending submissions at startup", zap.Error(err))
			} else if n > 0 {
				p.log.Info("pending submissions found at startup", zap.Int("count", n))
				p.SyncPendingSubmissions(ctx)
			}
		}

		for {
			select {
			case <-p.stopChan:
				return
			case <-ctx.Done():
				return
			case online, ok := <-ch:
				if !ok {
					return
				}
				if online && !wasOnline {
					p.log.Info("connection restored, syncing pending submissions")
					p.SyncPendingSubmissions(ctx)
				}
				wasOnline = online
			}
		}
	}()
}

// Stop ends the trigger loop. An upload in flight is allowed to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

// SyncPendingSubmissions drains the pending queue once. Concurrent calls and
// calls while offline are no-ops.
func (p *Pipeline) SyncPendingSubmissions(ctx context.Context) {
	if !p.syncing.CompareAndSwap(false, true) {
		p.log.Debug("sync already in progress")
		return
	}
	defer p.syncing.Store(false)

	if !p.network.Online() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.failSync(fmt.Errorf("panic during sync: %v", r))
		}
	}()

	pending, err := p.store.ListPending(ctx)
	if err != nil {
		p.failSync(err)
		return
	}
	if len(pending) == 0 {
		return
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp < pending[j].Timestamp
	})

	total := len(pending)
	var success, permanent, transient int
	p.status.Set(models.SyncStatus{IsSyncing: true, PendingCount: total})
	services.NotifyInfo(p.notifier, "Syncing answers", fmt.Sprintf("Uploading %d saved answer(s)...", total))
	p.log.Info("sync started", zap.Int("pending", total))

	for i, sub := range pending {
		err := p.uploader.SubmitSpeakingAnswer(ctx, sub)
		switch {
		case err == nil:
			success++
			metrics.Uploads.WithLabelValues("success").Inc()
			if delErr := p.store.DeletePending(ctx, sub.QuestionID); delErr != nil {
				p.log.Error("uploaded submission could not be removed from queue",
					zap.Int("question_id", sub.QuestionID), zap.Error(delErr))
			}
			p.status.Set(models.SyncStatus{
				IsSyncing:    true,
				PendingCount: total - success,
				SuccessCount: success,
				FailedCount:  permanent + transient,
			})
		case IsPermanent(err):
			permanent++
			metrics.Uploads.WithLabelValues("permanent").Inc()
			p.log.Warn("submission rejected permanently, dropping from queue",
				zap.Int("question_id", sub.QuestionID), zap.Error(err))
			if delErr := p.store.DeletePending(ctx, sub.QuestionID); delErr != nil {
				p.log.Error("rejected submission could not be removed from queue",
					zap.Int("question_id", sub.QuestionID), zap.Error(delErr))
			}
		default:
			transient++
			metrics.Uploads.WithLabelValues("transient").Inc()
			p.log.Warn("submission upload failed, will retry",
				zap.Int("question_id", sub.QuestionID), zap.Error(err))
		}

		if i < total-1 && !p.pause(ctx) {
			transient += total - i - 1
			p.log.Info("sync interrupted", zap.Error(ctx.Err()))
			break
		}
	}

	final := models.SyncStatus{
		IsSyncing:    false,
		PendingCount: transient,
		SuccessCount: success,
		FailedCount:  permanent + transient,
	}
	p.status.Set(final)
	metrics.SyncPasses.WithLabelValues("completed").Inc()
	metrics.PendingSubmissions.Set(float64(transient))
	p.log.Info("sync finished",
		zap.Int("success", success), zap.Int("permanent", permanent), zap.Int("transient", transient))

	p.notifySummary(success, permanent, transient)
}

// pause waits between uploads; false means the context ended first.
func (p *Pipeline) pause(ctx context.Context) bool {
	if p.itemDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.itemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Pipeline) notifySummary(success, permanent, transient int) {
	if success > 0 {
		services.NotifySuccess(p.notifier, "Answers synced", fmt.Sprintf("%d saved answer(s) uploaded.", success))
	}
	if permanent > 0 {
		services.NotifyWarning(p.notifier, "Answers rejected", fmt.Sprintf("%d saved answer(s) were rejected by the server and removed.", permanent))
	}
	if transient > 0 {
		services.NotifyWarning(p.notifier, "Sync incomplete", fmt.Sprintf("%d answer(s) could not be uploaded and will be retried.", transient))
	}
}

func (p *Pipeline) failSync(err error) {
	p.log.Error("sync failed", zap.Error(err))
	p.status.Set(models.SyncStatus{})
	metrics.SyncPasses.WithLabelValues("aborted").Inc()
	services.NotifyError(p.notifier, "Sync failed", "Saved answers could not be synced. Please try again.")
}

// ManualSync syncs on user request. It refuses immediately when offline.
func (p *Pipeline) ManualSync(ctx context.Context) error {
	if !p.network.Online() {
		services.NotifyWarning(p.notifier, "You are offline", "Saved answers will be uploaded when the connection returns.")
		return ErrOffline
	}
	p.SyncPendingSubmissions(ctx)
	return nil
}

// Submit uploads an answer right away when possible and keeps it in the queue
// when the network is down or the upload fails transiently.
func (p *Pipeline) Submit(ctx context.Context, sub *models.PendingSubmission) (SubmitResult, error) {
	if sub.Timestamp == 0 {
		sub.Timestamp = p.now().UnixMilli()
	}

	if !p.network.Online() {
		if err := p.SavePending(ctx, sub); err != nil {
			return "", err
		}
		services.NotifyWarning(p.notifier, "Saved offline", "Your answer was saved and will be submitted when you are back online.")
		return ResultQueued, nil
	}

	err := p.uploader.SubmitSpeakingAnswer(ctx, sub)
	if err == nil {
		if delErr := p.store.DeletePending(ctx, sub.QuestionID); delErr != nil {
			p.log.Debug("no stale queue entry removed", zap.Int("question_id", sub.QuestionID), zap.Error(delErr))
		}
		return ResultSubmitted, nil
	}
	if IsPermanent(err) {
		return "", err
	}

	p.log.Warn("submission failed, saving for retry", zap.Int("question_id", sub.QuestionID), zap.Error(err))
	if saveErr := p.SavePending(ctx, sub); saveErr != nil {
		return "", fmt.Errorf("upload failed (%v) and answer could not be saved: %w", err, saveErr)
	}
	services.NotifyWarning(p.notifier, "Connection problem", "Your answer was saved and will be retried automatically.")
	return ResultQueued, nil
}

// SavePending stores a submission for the next sync pass, replacing any
// earlier entry for the same question.
func (p *Pipeline) SavePending(ctx context.Context, sub *models.PendingSubmission) error {
	if sub.Timestamp == 0 {
		sub.Timestamp = p.now().UnixMilli()
	}
	if err := p.store.PutPending(ctx, sub); err != nil {
		return fmt.Errorf("failed to save pending submission: %w", err)
	}
	return nil
}

func (p *Pipeline) PendingCount(ctx context.Context) (int, error) {
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (p *Pipeline) AllPending(ctx context.Context) ([]*models.PendingSubmission, error) {
	return p.store.ListPending(ctx)
}

func (p *Pipeline) PendingForAttempt(ctx context.Context, attemptID int) ([]*models.PendingSubmission, error) {
	return p.store.ListPendingByAttempt(ctx, attemptID)
}

func (p *Pipeline) SaveAudioDraft(ctx context.Context, draft *models.AudioDraft) error {
	draft.SavedAt = p.now().UnixMilli()
	if err := p.store.PutDraft(ctx, draft); err != nil {
		return fmt.Errorf("failed to save audio draft: %w", err)
	}
	return nil
}

// GetAudioDraft returns nil without error when no draft exists.
func (p *Pipeline) GetAudioDraft(ctx context.Context, questionID int) (*models.AudioDraft, error) {
	d, err := p.store.GetDraft(ctx, questionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

func (p *Pipeline) DeleteAudioDraft(ctx context.Context, questionID int) error {
	return p.store.DeleteDraft(ctx, questionID)
}

func (p *Pipeline) GetAllAudioDrafts(ctx context.Context) ([]*models.AudioDraft, error) {
	return p.store.ListDrafts(ctx)
}

// ClearAttemptData removes pending submissions and drafts of a finished
// attempt. Both deletes run independently and both must finish.
func (p *Pipeline) ClearAttemptData(ctx context.Context, attemptID int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.store.DeletePendingByAttempt(gctx, attemptID); err != nil {
			return fmt.Errorf("failed to clear pending submissions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.store.DeleteDraftsByAttempt(gctx, attemptID); err != nil {
			return fmt.Errorf("failed to clear audio drafts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	p.log.Info("attempt data cleared", zap.Int("attempt_id", attemptID))
	return nil
}

func (p *Pipeline) Status() models.SyncStatus { return p.status.Get() }

func (p *Pipeline) IsSyncing() bool { return p.syncing.Load() }

func (p *Pipeline) StatusStream() (<-chan models.SyncStatus, func()) {
	return p.status.Subscribe()
}
