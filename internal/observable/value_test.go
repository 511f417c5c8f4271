package observable

import "testing"

func TestValue_GetReturnsLatest(t *testing.T) {
	v := NewValue(false)
	if v.Get() {
		t.Fatalf("expected initial value false")
	}
	v.Set(true)
	if !v.Get() {
		t.Fatalf("expected value true after Set")
	}
}

func TestValue_SubscribeIsPrimedWithCurrent(t *testing.T) {
	v := NewValue(7)
	ch, cancel := v.Subscribe()
	defer cancel()

	if got := <-ch; got != 7 {
		t.Fatalf("expected primed value 7, got %d", got)
	}
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := NewValue(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}
	if got := <-ch; got != 5 {
		t.Fatalf("expected latest value 5, got %d", got)
	}
}

func TestValue_CancelClosesChannel(t *testing.T) {
	v := NewValue("a")
	ch, cancel := v.Subscribe()
	<-ch
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after cancel")
	}
	v.Set("b")
	if v.Get() != "b" {
		t.Fatalf("expected Set to still update current value")
	}
}

func TestValue_CloseEndsAllSubscribers(t *testing.T) {
	v := NewValue(1)
	a, _ := v.Subscribe()
	b, _ := v.Subscribe()
	<-a
	<-b
	v.Close()

	if _, ok := <-a; ok {
		t.Fatalf("expected subscriber a closed")
	}
	if _, ok := <-b; ok {
		t.Fatalf("expected subscriber b closed")
	}
	v.Set(2)
	if v.Get() != 1 {
		t.Fatalf("expected Set after Close to be ignored")
	}
}
