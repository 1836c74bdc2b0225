package channel

import (
	"testing"
	"time"

	"omnigate/internal/bus"
	"omnigate/internal/domain"
)

func TestTeardown_WaitsForInboxHandler(t *testing.T) {
	eb := bus.NewEventBus(testLogger(), 0)
	c := newTestCore(eb)
	entered := make(chan struct{})
	release := make(chan struct{})
	inst := NewInstance(c, "dc-1", domain.InstanceConfig{}, func(id string) {
		if id == "m1" {
			close(entered)
			<-release
		}
		c.PublishMessage(domain.CanonicalMessage{ExternalID: id, InstanceID: "dc-1", ContentType: domain.ContentText, Text: "hi"})
	})
	inst.Inbox.Push("m1")
	inst.Inbox.Push("m2")
	<-entered

	done := make(chan struct{})
	go func() {
		inst.Teardown()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Teardown returned while the handler was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Teardown did not return")
	}

	received := func() int { return len(eb.Replay(domain.TopicMessageReceived, time.Time{})) }
	if n := received(); n != 1 {
		t.Fatalf("received = %d, want only the in-flight message", n)
	}
	if inst.Inbox.Push("m3") {
		t.Error("push accepted after teardown")
	}
	time.Sleep(20 * time.Millisecond)
	if n := received(); n != 1 {
		t.Errorf("received = %d after teardown", n)
	}
}
