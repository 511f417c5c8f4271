package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lumina-exam-agent/internal/models"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// activeWith puts a coordinator straight into the active state for message tests.
func activeWith(c *Coordinator, s models.ExamSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.TabID = c.tabID
	c.current = &s
	c.state = StateActive
}

type failingTransport struct {
	mu        sync.Mutex
	published int
}

func (f *failingTransport) Publish(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.published++
	f.mu.Unlock()
	return errors.New("broadcast channel closed")
}

func (f *failingTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *failingTransport) Close() error { return nil }

func TestTieBreak_LaterSessionYields(t *testing.T) {
	tests := []struct {
		name          string
		localStart    int64
		otherStart    int64
		expectBlocked bool
	}{
		{"local started later", 1500, 1000, true},
		{"local started earlier", 1000, 1500, false},
		{"far apart", 10, 999999, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(nil, nil, WithTabID("tab_local"))
			activeWith(c, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: tc.localStart})

			other := models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: tc.otherStart, TabID: "tab_other"}
			c.handleMessage(models.CoordinationMessage{Type: models.MessageSessionStarted, Session: other})

			if c.HasConflict() != tc.expectBlocked {
				t.Fatalf("expected conflict=%v, got %v", tc.expectBlocked, c.HasConflict())
			}
			if tc.expectBlocked {
				got := c.ConflictingSession()
				if got == nil || got.TabID != "tab_other" {
					t.Fatalf("expected conflicting session from tab_other, got %+v", got)
				}
			} else if c.ConflictingSession() != nil {
				t.Fatalf("expected no conflicting session")
			}
		})
	}
}

func TestTieBreak_IsSymmetric(t *testing.T) {
	a := New(nil, nil, WithTabID("tab_a"))
	b := New(nil, nil, WithTabID("tab_b"))
	activeWith(a, models.ExamSession{ExamID: 3, AttemptID: 9, StartTime: 2000})
	activeWith(b, models.ExamSession{ExamID: 3, AttemptID: 9, StartTime: 2000})

	a.handleMessage(models.CoordinationMessage{Type: models.MessageSessionStarted, Session: *b.CurrentSession()})
	b.handleMessage(models.CoordinationMessage{Type: models.MessageSessionStarted, Session: *a.CurrentSession()})

	if a.HasConflict() == b.HasConflict() {
		t.Fatalf("expected exactly one tab to yield on equal start times, a=%v b=%v", a.HasConflict(), b.HasConflict())
	}
	if !b.HasConflict() {
		t.Fatalf("expected the larger tab id to yield")
	}
}

func TestRetake_NoConflict(t *testing.T) {
	c := New(nil, nil, WithTabID("tab_local"))
	activeWith(c, models.ExamSession{ExamID: 5, AttemptID: 100, StartTime: 5000})

	other := models.ExamSession{ExamID: 5, AttemptID: 101, StartTime: 1, TabID: "tab_other"}
	c.handleMessage(models.CoordinationMessage{Type: models.MessageSessionStarted, Session: other})

	if c.HasConflict() {
		t.Fatalf("expected different attempt of the same exam not to conflict")
	}
}

func TestSelfMessagesIgnored(t *testing.T) {
	c := New(nil, nil, WithTabID("tab_self"))
	activeWith(c, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 5000})

	echo := models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1, TabID: "tab_self"}
	for _, mt := range []models.MessageType{
		models.MessageSessionStarted,
		models.MessageSessionEnded,
		models.MessageRequestStatus,
		models.MessageHeartbeat,
	} {
		c.handleMessage(models.CoordinationMessage{Type: mt, Session: echo})
	}

	if c.HasConflict() {
		t.Fatalf("expected own messages to be ignored")
	}
	if c.State() != StateActive || c.CurrentSession() == nil {
		t.Fatalf("expected own messages not to change state, got %s", c.State())
	}
}

func TestSessionEnded_ClearsMatchingConflict(t *testing.T) {
	c := New(nil, nil, WithTabID("tab_local"))
	activeWith(c, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1500})

	older := models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1000, TabID: "tab_older"}
	c.handleMessage(models.CoordinationMessage{Type: models.MessageSessionStarted, Session: older})
	if !c.HasConflict() {
		t.Fatalf("expected conflict after older session started")
	}

	unrelated := models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 900, TabID: "tab_unrelated"}
	c.handleMessage(models.CoordinationMessage{Type: models.MessageSessionEnded, Session: unrelated})
	if !c.HasConflict() {
		t.Fatalf("expected conflict to survive an unrelated SESSION_ENDED")
	}

	c.handleMessage(models.CoordinationMessage{Type: models.MessageSessionEnded, Session: older})
	if c.HasConflict() {
		t.Fatalf("expected conflict cleared once the conflicting session ended")
	}
	if c.ConflictingSession() != nil {
		t.Fatalf("expected conflicting session cleared")
	}
}

func TestRequestStatus_ActiveTabReplies(t *testing.T) {
	bus := NewMemoryBus()
	local := New(bus.Join(), nil, WithTabID("tab_local"))
	activeWith(local, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1000})

	peer := bus.Join()
	inbox, err := peer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	local.handleMessage(models.CoordinationMessage{
		Type:    models.MessageRequestStatus,
		Session: models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 2000, TabID: "tab_new"},
	})

	select {
	case payload := <-inbox:
		var msg models.CoordinationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if msg.Type != models.MessageSessionStarted {
			t.Fatalf("expected SESSION_STARTED reply, got %s", msg.Type)
		}
		if msg.Session.TabID != "tab_local" || msg.Session.AttemptID != 42 {
			t.Fatalf("unexpected reply session %+v", msg.Session)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a reply to REQUEST_STATUS")
	}
}

func TestScenario_TwoTabsSameAttempt(t *testing.T) {
	bus := NewMemoryBus()
	window := WithNegotiationWindow(200 * time.Millisecond)
	tabA := New(bus.Join(), nil, WithTabID("tab_a"), WithClock(fixedClock(1000)), window)
	tabB := New(bus.Join(), nil, WithTabID("tab_b"), WithClock(fixedClock(1500)), window)
	ctx := context.Background()
	tabA.Start(ctx)
	tabB.Start(ctx)
	defer tabA.Close()
	defer tabB.Close()

	var wg sync.WaitGroup
	var okA, okB bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		okA, _ = tabA.StartExamSession(ctx, 7, 42, nil)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(100 * time.Millisecond)
		okB, _ = tabB.StartExamSession(ctx, 7, 42, nil)
	}()
	wg.Wait()

	if !okA {
		t.Fatalf("expected tab A to be allowed")
	}
	if okB {
		t.Fatalf("expected tab B to be blocked")
	}
	if tabA.HasConflict() {
		t.Fatalf("expected tab A to have no conflict")
	}
	if !tabB.HasConflict() {
		t.Fatalf("expected tab B conflict flag set")
	}
	other := tabB.ConflictingSession()
	if other == nil || other.TabID != "tab_a" || other.StartTime != 1000 {
		t.Fatalf("expected tab B to reference tab A's session, got %+v", other)
	}
	if tabB.State() != StateBlocked {
		t.Fatalf("expected tab B blocked, got %s", tabB.State())
	}
}

func TestLateTabLearnsFromStatusReply(t *testing.T) {
	bus := NewMemoryBus()
	window := WithNegotiationWindow(100 * time.Millisecond)
	tabA := New(bus.Join(), nil, WithTabID("tab_a"), WithClock(fixedClock(1000)), window)
	tabB := New(bus.Join(), nil, WithTabID("tab_b"), WithClock(fixedClock(5000)), window)
	ctx := context.Background()
	tabA.Start(ctx)
	tabB.Start(ctx)
	defer tabA.Close()
	defer tabB.Close()

	if ok, err := tabA.StartExamSession(ctx, 1, 42, nil); !ok || err != nil {
		t.Fatalf("expected tab A allowed, ok=%v err=%v", ok, err)
	}
	ok, err := tabB.StartExamSession(ctx, 1, 42, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected tab B to be blocked by tab A's status reply")
	}
}

func TestForceTakeOver(t *testing.T) {
	c := New(NewMemoryBus().Join(), nil, WithTabID("tab_local"))
	if err := c.ForceTakeOver(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession without a session, got %v", err)
	}

	activeWith(c, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1500})
	c.handleMessage(models.CoordinationMessage{
		Type:    models.MessageSessionStarted,
		Session: models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1000, TabID: "tab_older"},
	})
	c.mu.Lock()
	c.state = StateBlocked
	c.mu.Unlock()

	if err := c.ForceTakeOver(context.Background()); err != nil {
		t.Fatalf("ForceTakeOver: %v", err)
	}
	defer c.Close()
	if c.HasConflict() {
		t.Fatalf("expected conflict cleared after takeover")
	}
	if c.State() != StateActive {
		t.Fatalf("expected active after takeover, got %s", c.State())
	}
}

func TestEndExamSession_ResetsState(t *testing.T) {
	c := New(NewMemoryBus().Join(), nil, WithNegotiationWindow(10*time.Millisecond))
	c.Start(context.Background())
	defer c.Close()

	ok, err := c.StartExamSession(context.Background(), 1, 2, nil)
	if !ok || err != nil {
		t.Fatalf("expected session allowed, ok=%v err=%v", ok, err)
	}
	c.EndExamSession(context.Background())

	if c.CurrentSession() != nil {
		t.Fatalf("expected session cleared")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
}

func TestNoTransport_AlwaysAllows(t *testing.T) {
	c := New(nil, nil)
	c.Start(context.Background())
	defer c.Close()

	ok, err := c.StartExamSession(context.Background(), 1, 2, nil)
	if !ok || err != nil {
		t.Fatalf("expected degraded coordinator to allow, ok=%v err=%v", ok, err)
	}
	if !c.Degraded() {
		t.Fatalf("expected degraded mode")
	}
}

func TestPublishFailuresAreSwallowed(t *testing.T) {
	ft := &failingTransport{}
	c := New(ft, nil, WithNegotiationWindow(10*time.Millisecond))
	c.Start(context.Background())
	defer c.Close()

	ok, err := c.StartExamSession(context.Background(), 1, 2, nil)
	if !ok || err != nil {
		t.Fatalf("expected publish failures not to block, ok=%v err=%v", ok, err)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.published < 2 {
		t.Fatalf("expected status request and start broadcasts, got %d", ft.published)
	}
}

func TestConflictStreamPushesUpdates(t *testing.T) {
	c := New(nil, nil, WithTabID("tab_local"))
	stream, cancel := c.ConflictStream()
	defer cancel()
	if <-stream {
		t.Fatalf("expected initial conflict value false")
	}

	activeWith(c, models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1500})
	c.handleMessage(models.CoordinationMessage{
		Type:    models.MessageSessionStarted,
		Session: models.ExamSession{ExamID: 1, AttemptID: 42, StartTime: 1000, TabID: "tab_older"},
	})

	select {
	case v := <-stream:
		if !v {
			t.Fatalf("expected conflict=true pushed")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected conflict update")
	}
}

func TestNewTabIDIsUnique(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a, b := newTabID(now), newTabID(now)
	if a == b {
		t.Fatalf("expected distinct tab ids, got %s twice", a)
	}
}
