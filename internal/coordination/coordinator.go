// Package coordination keeps a single tab authoritative for an exam attempt.
//
// Tabs gossip over a shared broadcast Transport. A tab that starts an attempt
// first asks the others for their status, waits a short negotiation window and
// only then becomes active. When two tabs run the same attempt the one whose
// session started later yields. The protocol is advisory: when the transport is
// missing or failing, sessions are always allowed.
package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumina-exam-agent/internal/metrics"
	"lumina-exam-agent/internal/models"
	"lumina-exam-agent/internal/observable"
)

const (
	DefaultNegotiationWindow = 200 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Second

	publishTimeout = 2 * time.Second
)

type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateBlocked     State = "blocked"
)

var ErrNoSession = errors.New("no exam session in progress")

type Option func(*Coordinator)

func WithNegotiationWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.negotiationWindow = d
		}
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithClock overrides the time source used for session start times.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTabID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.tabID = id
		}
	}
}

type Coordinator struct {
	transport         Transport
	log               *zap.Logger
	tabID             string
	negotiationWindow time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time

	mu            sync.Mutex
	state         State
	current       *models.ExamSession
	conflicting   *models.ExamSession
	degraded      bool
	heartbeatStop chan struct{}

	conflict           *observable.Value[bool]
	conflictingSession *observable.Value[*models.ExamSession]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a coordinator. A nil transport means cross-tab messaging is not
// available in this environment and every session is permitted.
func New(transport Transport, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		transport:          transport,
		log:                log.Named("coordinator"),
		negotiationWindow:  DefaultNegotiationWindow,
		heartbeatInterval:  DefaultHeartbeatInterval,
		now:                time.Now,
		state:              StateIdle,
		conflict:           observable.NewValue(false),
		conflictingSession: observable.NewValue[*models.ExamSession](nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tabID == "" {
		c.tabID = newTabID(c.now())
	}
	return c
}

func newTabID(now time.Time) string {
	return fmt.Sprintf("tab_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Start subscribes to the transport and begins processing peer messages in
// arrival order. Subscription failure degrades the coordinator instead of failing.
func (c *Coordinator) Start(ctx context.Context) {
	if c.transport == nil {
		c.degrade("broadcast transport unavailable")
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ch, err := c.transport.Subscribe(ctx)
	if err != nil {
		cancel()
		c.degrade(err.Error())
		return
	}

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.receive(loopCtx, ch, done)
	c.log.Info("coordinator started", zap.String("tab_id", c.tabID))
}

func (c *Coordinator) degrade(reason string) {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
	c.log.Warn("cross-tab exam protection disabled", zap.String("reason", reason))
}

func (c *Coordinator) receive(ctx context.Context, ch <-chan []byte, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			var msg models.CoordinationMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.log.Debug("ignoring malformed coordination message", zap.Error(err))
				continue
			}
			c.handleMessage(msg)
		}
	}
}

// StartExamSession negotiates ownership of an attempt. It returns false when an
// older session for the same attempt is running in another tab.
func (c *Coordinator) StartExamSession(ctx context.Context, examID, attemptID int, partID *int) (bool, error) {
	c.EndExamSession(ctx)

	session := &models.ExamSession{
		ExamID:    examID,
		AttemptID: attemptID,
		PartID:    partID,
		StartTime: c.now().UnixMilli(),
		TabID:     c.tabID,
	}

	c.mu.Lock()
	c.current = session
	c.setConflictLocked(nil)
	if c.degraded || c.transport == nil {
		c.state = StateActive
		c.mu.Unlock()
		c.log.Info("exam session started without cross-tab protection",
			zap.Int("exam_id", examID), zap.Int("attempt_id", attemptID))
		return true, nil
	}
	c.state = StateNegotiating
	c.mu.Unlock()

	c.publish(ctx, models.MessageRequestStatus, *session)

	timer := time.NewTimer(c.negotiationWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.mu.Lock()
		if c.current == session {
			c.current = nil
			c.state = StateIdle
			c.setConflictLocked(nil)
		}
		c.mu.Unlock()
		return false, ctx.Err()
	case <-timer.C:
	}

	c.mu.Lock()
	if c.current != session {
		c.mu.Unlock()
		return false, ErrNoSession
	}
	if c.conflict.Get() {
		c.state = StateBlocked
		other := c.conflicting
		c.mu.Unlock()
		fields := []zap.Field{zap.Int("attempt_id", attemptID)}
		if other != nil {
			fields = append(fields, zap.String("other_tab_id", other.TabID))
		}
		c.log.Warn("exam attempt already running in another tab", fields...)
		return false, nil
	}
	c.state = StateActive
	c.startHeartbeatLocked()
	c.mu.Unlock()

	c.publish(ctx, models.MessageSessionStarted, *session)
	c.log.Info("exam session started",
		zap.Int("exam_id", examID), zap.Int("attempt_id", attemptID))
	return true, nil
}

// EndExamSession broadcasts the end of the local session and clears all session state.
func (c *Coordinator) EndExamSession(ctx context.Context) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	session := *c.current
	c.current = nil
	c.state = StateIdle
	c.stopHeartbeatLocked()
	c.setConflictLocked(nil)
	c.mu.Unlock()

	c.publish(ctx, models.MessageSessionEnded, session)
	c.log.Info("exam session ended", zap.Int("attempt_id", session.AttemptID))
}

// ForceTakeOver clears a conflict and makes the local session active without renegotiating.
func (c *Coordinator) ForceTakeOver(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	session := *c.current
	c.setConflictLocked(nil)
	c.state = StateActive
	c.startHeartbeatLocked()
	c.mu.Unlock()

	metrics.Takeovers.Inc()
	c.publish(ctx, models.MessageSessionStarted, session)
	c.log.Warn("exam session taken over", zap.Int("attempt_id", session.AttemptID))
	return nil
}

func (c *Coordinator) handleMessage(msg models.CoordinationMessage) {
	if msg.Session.TabID == c.tabID {
		return
	}

	switch msg.Type {
	case models.MessageSessionStarted:
		c.handleSessionStarted(msg.Session)
	case models.MessageSessionEnded:
		c.handleSessionEnded(msg.Session)
	case models.MessageRequestStatus:
		c.handleRequestStatus()
	case models.MessageHeartbeat:
		c.log.Debug("heartbeat", zap.String("tab_id", msg.Session.TabID), zap.Int("attempt_id", msg.Session.AttemptID))
	default:
		c.log.Debug("unknown coordination message", zap.String("type", string(msg.Type)))
	}
}

func (c *Coordinator) handleSessionStarted(other models.ExamSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}
	if other.AttemptID != c.current.AttemptID {
		if other.ExamID == c.current.ExamID {
			c.log.Debug("same exam, different attempt: treating as retake",
				zap.Int("attempt_id", c.current.AttemptID), zap.Int("other_attempt_id", other.AttemptID))
		}
		return
	}
	if !startedAfter(*c.current, other) {
		// the other tab is expected to yield
		return
	}

	o := other
	if !c.conflict.Get() {
		metrics.ConflictsDetected.Inc()
	}
	c.setConflictLocked(&o)
	c.log.Warn("conflicting session detected",
		zap.Int("attempt_id", other.AttemptID), zap.String("other_tab_id", other.TabID))
}

// startedAfter reports whether a started after b. Equal start times fall back
// to the tab ID so both tabs agree on who yields.
func startedAfter(a, b models.ExamSession) bool {
	if a.StartTime != b.StartTime {
		return a.StartTime > b.StartTime
	}
	return a.TabID > b.TabID
}

func (c *Coordinator) handleSessionEnded(other models.ExamSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflicting == nil || c.conflicting.TabID != other.TabID {
		return
	}
	c.setConflictLocked(nil)
	c.log.Info("conflicting session ended", zap.String("other_tab_id", other.TabID))
}

func (c *Coordinator) handleRequestStatus() {
	c.mu.Lock()
	if c.state != StateActive || c.current == nil {
		c.mu.Unlock()
		return
	}
	session := *c.current
	c.mu.Unlock()

	c.publish(context.Background(), models.MessageSessionStarted, session)
}

func (c *Coordinator) setConflictLocked(other *models.ExamSession) {
	c.conflicting = other
	c.conflict.Set(other != nil)
	c.conflictingSession.Set(other)
}

func (c *Coordinator) startHeartbeatLocked() {
	if c.heartbeatStop != nil || c.transport == nil {
		return
	}
	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.state != StateActive || c.current == nil {
					c.mu.Unlock()
					continue
				}
				session := *c.current
				c.mu.Unlock()
				c.publish(context.Background(), models.MessageHeartbeat, session)
			}
		}
	}()
}

func (c *Coordinator) stopHeartbeatLocked() {
	if c.heartbeatStop == nil {
		return
	}
	close(c.heartbeatStop)
	c.heartbeatStop = nil
}

// publish sends a message and swallows failures.
func (c *Coordinator) publish(ctx context.Context, t models.MessageType, session models.ExamSession) {
	c.mu.Lock()
	skip := c.transport == nil || c.degraded
	c.mu.Unlock()
	if skip {
		return
	}

	payload, err := json.Marshal(models.CoordinationMessage{
		Type:      t,
		Session:   session,
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		c.log.Error("failed to encode coordination message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.transport.Publish(ctx, payload); err != nil {
		c.log.Warn("failed to broadcast coordination message",
			zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Coordinator) TabID() string { return c.tabID }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) HasConflict() bool { return c.conflict.Get() }

func (c *Coordinator) CurrentSession() *models.ExamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

func (c *Coordinator) ConflictingSession() *models.ExamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conflicting == nil {
		return nil
	}
	s := *c.conflicting
	return &s
}

// Degraded reports whether cross-tab protection is disabled.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded || c.transport == nil
}

func (c *Coordinator) ConflictStream() (<-chan bool, func()) {
	return c.conflict.Subscribe()
}

func (c *Coordinator) ConflictingSessionStream() (<-chan *models.ExamSession, func()) {
	return c.conflictingSession.Subscribe()
}

// Close ends the active session and releases the transport.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.EndExamSession(context.Background())

		c.mu.Lock()
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if c.transport != nil {
			err = c.transport.Close()
		}
		if done != nil {
			<-done
		}
		c.conflict.Close()
		c.conflictingSession.Close()
	})
	return err
}
