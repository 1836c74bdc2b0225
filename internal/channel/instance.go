package channel

import (
	"context"
	"log/slog"

	"omnigate/internal/bus"
	"omnigate/internal/domain"
	"omnigate/internal/lifecycle"
)

// Instance is the platform-independent part of one instance record. It owns
// every timer and goroutine tied to the instance; Teardown releases them.
type Instance[E any] struct {
	ID      string
	Config  domain.InstanceConfig
	Machine *lifecycle.Machine
	Inbox   *bus.Inbox[E]
	Typing  *Typing
	Streams *Streams
	Logger  *slog.Logger

	cancel context.CancelFunc
}

// NewInstance creates the record and starts its inbox loop.
func NewInstance[E any](c *Core, id string, cfg domain.InstanceConfig, handle func(E)) *Instance[E] {
	logger := c.Logger.With("instance", id)
	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance[E]{
		ID:      id,
		Config:  cfg,
		Inbox:   bus.NewInbox[E](string(c.Platform)+"/"+id, 256, logger),
		Typing:  NewTyping(c.Sched, c.Typing),
		Streams: NewStreams(),
		Logger:  logger,
		cancel:  cancel,
	}
	go inst.Inbox.Run(ctx, handle)
	return inst
}

// Teardown stops the inbox, typing timers and streams. The machine is
// closed by the caller first so no callback can race the teardown. Once it
// returns the inbox handler has finished and publishes nothing more.
func (i *Instance[E]) Teardown() {
	i.Inbox.Close()
	i.cancel()
	i.Typing.StopAll()
	i.Streams.AbortAll()
}

// Status returns the machine's latest status.
func (i *Instance[E]) Status() domain.ConnectionStatus {
	return i.Machine.Status()
}

// RequireConnected returns NotConnected unless the instance can send.
func (i *Instance[E]) RequireConnected() error {
	if i.Machine == nil || !i.Machine.Connected() {
		return domain.NotConnected(i.ID)
	}
	return nil
}
