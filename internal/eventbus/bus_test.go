package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"dialogue.user_message", "dialogue.user_message", true},
		{"dialogue.*", "dialogue.user_message", true},
		{"dialogue.*", "dialogue.user_message.extra", false},
		{"dialogue.*", "dialogue", false},
		{"emotion.analysis.*", "emotion.analysis.completed", true},
		{"emotion.analysis.*", "emotion.analysis.rule.scored", false},
		{"other.*", "dialogue.user_message", false},
	}
	for _, c := range cases {
		if got := matches(c.pattern, c.eventType); got != c.want {
			t.Errorf("matches(%q, %q) = %v, want %v", c.pattern, c.eventType, got, c.want)
		}
	}
}

func TestPublishSyncDeliversInPriorityOrder(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return func(_ context.Context, _ Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	b.Subscribe("dialogue.user_message", record("low"), WithPriority(PriorityLow))
	b.Subscribe("dialogue.user_message", record("high"), WithPriority(PriorityHigh))
	b.Subscribe("dialogue.*", record("wildcard"), WithPriority(PriorityNormal))

	if err := b.PublishSync(context.Background(), Event{Type: "dialogue.user_message"}); err != nil {
		t.Fatalf("PublishSync error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("got %d deliveries, want 3: %v", len(order), order)
	}
	if order[0] != "high" || order[1] != "wildcard" || order[2] != "low" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestPublishSyncHandlerPanicIsRecovered(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var secondCalled bool
	b.Subscribe("x.y", func(context.Context, Event) error {
		panic("boom")
	}, WithPriority(PriorityHigh))
	b.Subscribe("x.y", func(context.Context, Event) error {
		secondCalled = true
		return nil
	}, WithPriority(PriorityLow))

	err := b.PublishSync(context.Background(), Event{Type: "x.y"})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if !secondCalled {
		t.Error("second handler should still run after first panics")
	}
}

func TestPublishSyncHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var secondCalled atomic.Bool
	b.Subscribe("x.y", func(context.Context, Event) error {
		return errors.New("handler failed")
	}, WithPriority(PriorityHigh))
	b.Subscribe("x.y", func(context.Context, Event) error {
		secondCalled.Store(true)
		return nil
	}, WithPriority(PriorityLow))

	_ = b.PublishSync(context.Background(), Event{Type: "x.y"})
	if !secondCalled.Load() {
		t.Error("second handler should run even though first returned an error")
	}
}

func TestPublishAsyncAndWaitEmpty(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count atomic.Int32
	b.Subscribe("a.b", func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	for i := 0; i < 50; i++ {
		if err := b.Publish(context.Background(), Event{Type: "a.b"}); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitEmpty(ctx); err != nil {
		t.Fatalf("WaitEmpty error: %v", err)
	}
	if got := count.Load(); got != 50 {
		t.Errorf("handled %d events, want 50", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var called atomic.Bool
	id := b.Subscribe("a.b", func(context.Context, Event) error {
		called.Store(true)
		return nil
	})
	if !b.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for known id")
	}
	_ = b.PublishSync(context.Background(), Event{Type: "a.b"})
	if called.Load() {
		t.Error("handler should not run after Unsubscribe")
	}
}
