package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const publishTimeout = 10 * time.Second

// Inbox is a bounded per-instance queue drained by one ordered loop.
// Transport callbacks Push into it; Run consumes.
type Inbox[E any] struct {
	name    string
	ch      chan E
	quit    chan struct{}
	done    chan struct{} // closed when Run returns
	running atomic.Bool
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	timeout time.Duration
}

// NewInbox creates an Inbox with the given buffer size (100 when <= 0).
func NewInbox[E any](name string, bufferSize int, logger *slog.Logger) *Inbox[E] {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Inbox[E]{
		name:    name,
		ch:      make(chan E, bufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		timeout: publishTimeout,
	}
}

// Push enqueues e. It blocks up to 10 seconds if the inbox is full instead
// of dropping, and reports whether e was accepted.
func (b *Inbox[E]) Push(e E) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	select {
	case b.ch <- e:
		return true
	case <-b.quit:
		return false
	default:
	}

	b.logger.Warn("inbox full, waiting", "inbox", b.name)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.ch <- e:
		return true
	case <-b.quit:
		return false
	case <-timer.C:
		b.logger.Error("event dropped: inbox full", "inbox", b.name, "waited", b.timeout)
		return false
	}
}

// Run handles events in arrival order until ctx ends or Close is called.
// A panicking handler is logged and the loop continues. Only the first
// call consumes; later calls return at once.
func (b *Inbox[E]) Run(ctx context.Context, handle func(E)) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case e := <-b.ch:
			select {
			case <-b.quit:
				return
			default:
			}
			b.safeHandle(handle, e)
		}
	}
}

func (b *Inbox[E]) safeHandle(handle func(E), e E) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("inbox handler panic", "inbox", b.name, "panic", r)
		}
	}()
	handle(e)
}

// Close stops the loop and rejects further pushes. Queued events are
// discarded. It returns once an in-flight handler has finished, so it
// must not be called from the handler; after the publish timeout it logs
// and returns anyway.
func (b *Inbox[E]) Close() {
	b.once.Do(func() { close(b.quit) })
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if !b.running.Load() {
		return
	}
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-b.done:
	case <-timer.C:
		b.logger.Warn("inbox handler still running after close", "inbox", b.name, "waited", b.timeout)
	}
}

// Len returns the number of queued events.
func (b *Inbox[E]) Len() int { return len(b.ch) }
