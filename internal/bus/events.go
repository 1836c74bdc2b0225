package bus

import (
	"log/slog"
	"sync"
	"time"

	"omnigate/internal/domain"

	"github.com/google/uuid"
)

// EventBus is an in-process topic bus implementing domain.EventBus.
// It supports "*" wildcard subscriptions, per-instance filtering and a
// bounded history buffer for replay.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]subscription
	logger     *slog.Logger
	history    []domain.Event
	maxHistory int
}

type subscription struct {
	id      string
	handler domain.EventHandler
	opts    domain.SubscribeOptions
}

// NewEventBus creates an EventBus keeping up to maxHistory events
// (1000 when maxHistory <= 0).
func NewEventBus(logger *slog.Logger, maxHistory int) *EventBus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &EventBus{
		handlers:   make(map[string][]subscription),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// Subscribe registers a handler for topic. Use "*" for every topic.
func (eb *EventBus) Subscribe(topic string, handler domain.EventHandler, opts domain.SubscribeOptions) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := uuid.NewString()
	eb.handlers[topic] = append(eb.handlers[topic], subscription{id: id, handler: handler, opts: opts})
	return id
}

// Unsubscribe removes a handler by the id Subscribe returned.
func (eb *EventBus) Unsubscribe(topic, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			eb.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to matching handlers. Synchronous handlers run in
// subscription order on the caller's goroutine; a panicking handler is
// logged and does not affect the others.
func (eb *EventBus) Publish(evt domain.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, evt)
	subs := make([]subscription, 0, len(eb.handlers[evt.Topic])+len(eb.handlers["*"]))
	subs = append(subs, eb.handlers[evt.Topic]...)
	if evt.Topic != "*" {
		subs = append(subs, eb.handlers["*"]...)
	}
	eb.mu.Unlock()

	for _, s := range subs {
		if s.opts.InstanceID != "" && s.opts.InstanceID != evt.InstanceID {
			continue
		}
		if s.opts.Async {
			go eb.dispatch(s, evt)
			continue
		}
		eb.dispatch(s, evt)
	}
}

func (eb *EventBus) dispatch(s subscription, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "topic", evt.Topic, "handler", s.id, "panic", r)
		}
	}()
	s.handler(evt)
}

// Replay returns historical events for topic ("*" for all) since the given time.
func (eb *EventBus) Replay(topic string, since time.Time) []domain.Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []domain.Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if topic == "*" || e.Topic == topic {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the number of buffered events.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
