package bus

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omnigate/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_PublishAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var received int32
	eb.Subscribe(domain.TopicMessageReceived, func(e domain.Event) {
		atomic.AddInt32(&received, 1)
		if e.ID == "" {
			t.Error("event id should be assigned")
		}
	}, domain.SubscribeOptions{})

	eb.Publish(domain.Event{Topic: domain.TopicMessageReceived, Payload: "x"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var count int32
	eb.Subscribe("*", func(e domain.Event) {
		atomic.AddInt32(&count, 1)
	}, domain.SubscribeOptions{})

	eb.Publish(domain.Event{Topic: "event.a"})
	eb.Publish(domain.Event{Topic: "event.b"})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_InstanceFilter(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var got []string
	eb.Subscribe("*", func(e domain.Event) {
		got = append(got, e.InstanceID)
	}, domain.SubscribeOptions{InstanceID: "wa-1"})

	eb.Publish(domain.Event{Topic: "t", InstanceID: "wa-1"})
	eb.Publish(domain.Event{Topic: "t", InstanceID: "dc-1"})

	if len(got) != 1 || got[0] != "wa-1" {
		t.Errorf("expected only wa-1 events, got %v", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var a, b int32
	idA := eb.Subscribe("t", func(domain.Event) { atomic.AddInt32(&a, 1) }, domain.SubscribeOptions{})
	eb.Subscribe("t", func(domain.Event) { atomic.AddInt32(&b, 1) }, domain.SubscribeOptions{})

	eb.Publish(domain.Event{Topic: "t"})
	eb.Unsubscribe("t", idA)
	eb.Publish(domain.Event{Topic: "t"})

	if atomic.LoadInt32(&a) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", a)
	}
	if atomic.LoadInt32(&b) != 2 {
		t.Errorf("remaining handler should see both events, got %d", b)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	eb.Publish(domain.Event{Topic: "a"})
	eb.Publish(domain.Event{Topic: "b"})
	eb.Publish(domain.Event{Topic: "a"})

	if events := eb.Replay("a", time.Time{}); len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}
	if all := eb.Replay("*", time.Time{}); len(all) != 3 {
		t.Errorf("expected 3 total events, got %d", len(all))
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	eb.Publish(domain.Event{Topic: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Publish(domain.Event{Topic: "new"})

	if events := eb.Replay("*", threshold); len(events) != 1 {
		t.Errorf("expected 1 event since threshold, got %d", len(events))
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 5)

	for i := 0; i < 10; i++ {
		eb.Publish(domain.Event{Topic: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var after int32
	eb.Subscribe("panic", func(domain.Event) { panic("test panic") }, domain.SubscribeOptions{})
	eb.Subscribe("panic", func(domain.Event) { atomic.AddInt32(&after, 1) }, domain.SubscribeOptions{})

	eb.Publish(domain.Event{Topic: "panic"})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_Async(t *testing.T) {
	eb := NewEventBus(testEBLogger(), 0)

	var wg sync.WaitGroup
	wg.Add(1)
	eb.Subscribe("async", func(domain.Event) { wg.Done() }, domain.SubscribeOptions{Async: true})

	eb.Publish(domain.Event{Topic: "async"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}
