package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"omnigate/internal/bus"
	"omnigate/internal/domain"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeSender struct {
	got chan domain.OutgoingMessage
}

func (f *fakeSender) Send(_ context.Context, instanceID string, msg domain.OutgoingMessage) domain.SendResult {
	f.got <- msg
	return domain.SendResult{Success: true, MessageID: instanceID + "-1"}
}

func startRelay(t *testing.T, sender Sender) (*Server, *bus.EventBus, *httptest.Server) {
	t.Helper()
	eb := bus.NewEventBus(testLogger(), 0)
	s := New(Config{Bus: eb, Sender: sender, Logger: testLogger()})
	eb.Subscribe("*", s.broadcast, domain.SubscribeOptions{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, eb, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if f := readFrame(t, conn); f.Type != "status" {
		t.Fatalf("expected status frame, got %+v", f)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestRelay_FiltersByTopicAndInstance(t *testing.T) {
	_, eb, ts := startRelay(t, nil)
	conn := dial(t, ts, "?topics=message.received&instance=wa-1")

	eb.Publish(domain.Event{Topic: domain.TopicMessageSent, InstanceID: "wa-1"})
	eb.Publish(domain.Event{Topic: domain.TopicMessageReceived, InstanceID: "dc-1"})
	eb.Publish(domain.Event{Topic: domain.TopicMessageReceived, InstanceID: "wa-1", Payload: "hello"})

	f := readFrame(t, conn)
	if f.Type != "event" || f.Event == nil {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Event.Topic != domain.TopicMessageReceived || f.InstanceID != "wa-1" {
		t.Errorf("filter leaked %s/%s", f.Event.Topic, f.InstanceID)
	}
}

func TestRelay_SendFrame(t *testing.T) {
	sender := &fakeSender{got: make(chan domain.OutgoingMessage, 1)}
	_, _, ts := startRelay(t, sender)
	conn := dial(t, ts, "")

	err := conn.WriteJSON(Frame{
		Type:       "send",
		ID:         "req-1",
		InstanceID: "dc-1",
		Message:    &domain.OutgoingMessage{To: "123", Content: domain.OutgoingContent{Type: domain.ContentText, Text: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, conn)
	if f.Type != "send_result" || f.ID != "req-1" || f.Result == nil || !f.Result.Success {
		t.Fatalf("unexpected reply %+v", f)
	}
	if msg := <-sender.got; msg.Content.Text != "hi" {
		t.Errorf("sender got %+v", msg)
	}
}

func TestRelay_SyncFramePublishesJob(t *testing.T) {
	_, eb, ts := startRelay(t, nil)
	jobs := make(chan domain.SyncJob, 1)
	eb.Subscribe(domain.TopicSyncStart, func(e domain.Event) {
		jobs <- e.Payload.(domain.SyncJob)
	}, domain.SubscribeOptions{})

	conn := dial(t, ts, "?topics=none")
	conn.WriteJSON(Frame{Type: "sync", Sync: &domain.SyncJob{InstanceID: "tg-1", Kind: domain.SyncGroups}})

	select {
	case job := <-jobs:
		if job.InstanceID != "tg-1" || job.Kind != domain.SyncGroups {
			t.Errorf("job = %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync job not published")
	}
}

func TestRelay_RejectsUnknownFrames(t *testing.T) {
	_, _, ts := startRelay(t, nil)
	conn := dial(t, ts, "")

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","id":"x"}`))
	if f := readFrame(t, conn); f.Type != "error" || f.ID != "x" {
		t.Errorf("expected error frame, got %+v", f)
	}

	conn.WriteJSON(Frame{Type: "send", ID: "y"})
	if f := readFrame(t, conn); f.Type != "error" || f.ID != "y" {
		t.Errorf("expected error for incomplete send, got %+v", f)
	}
}

func TestRelay_ExtraRoutes(t *testing.T) {
	s := New(Config{Bus: bus.NewEventBus(testLogger(), 0), Logger: testLogger(), Routes: map[string]http.Handler{
		"/metrics": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "up 1\n") }),
	}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "up 1\n" {
		t.Errorf("status=%d body=%q", resp.StatusCode, body)
	}
}
