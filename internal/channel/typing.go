package channel

import (
	"sync"
	"time"

	"omnigate/internal/lifecycle"
)

// DefaultTypingAutoStop ends a typing indicator nobody stopped explicitly.
const DefaultTypingAutoStop = 5 * time.Second

// Typing owns the auto-stop timers of one instance's typing indicators.
type Typing struct {
	sched    lifecycle.Scheduler
	autoStop time.Duration

	mu     sync.Mutex
	timers map[string]lifecycle.Timer
	gen    map[string]uint64
}

func NewTyping(sched lifecycle.Scheduler, autoStop time.Duration) *Typing {
	if sched == nil {
		sched = lifecycle.RealScheduler{}
	}
	if autoStop <= 0 {
		autoStop = DefaultTypingAutoStop
	}
	return &Typing{
		sched:    sched,
		autoStop: autoStop,
		timers:   make(map[string]lifecycle.Timer),
		gen:      make(map[string]uint64),
	}
}

// Start arms the auto-stop for chatID, replacing any pending one. stop runs
// once when the timer fires.
func (t *Typing) Start(chatID string, stop func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[chatID]; ok {
		old.Stop()
	}
	t.gen[chatID]++
	gen := t.gen[chatID]
	t.timers[chatID] = t.sched.AfterFunc(t.autoStop, func() {
		t.mu.Lock()
		if t.gen[chatID] != gen {
			t.mu.Unlock()
			return
		}
		delete(t.timers, chatID)
		t.mu.Unlock()
		stop()
	})
}

// Stop cancels the pending auto-stop for chatID and reports whether one
// was active.
func (t *Typing) Stop(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[chatID]
	if !ok {
		return false
	}
	tm.Stop()
	delete(t.timers, chatID)
	t.gen[chatID]++
	return true
}

// StopAll cancels every pending timer without running the stop callbacks.
func (t *Typing) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, tm := range t.timers {
		tm.Stop()
		t.gen[chatID]++
	}
	clear(t.timers)
}

// Active returns the number of chats with a running indicator.
func (t *Typing) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
