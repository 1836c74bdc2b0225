// Package gateway owns the platform plugins and routes instance operations,
// sends and sync jobs to the plugin that serves each configured instance.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"omnigate/internal/config"
	"omnigate/internal/domain"
	"omnigate/internal/metrics"
)

// connectLimit caps concurrent Connect calls at startup.
const connectLimit = 4

// Options configures a Gateway.
type Options struct {
	Instances []config.InstanceEntry
	Plugins   []domain.Plugin
	Bus       domain.EventBus
	Logger    *slog.Logger
	// Closers are released after the plugins on Shutdown (auth and device
	// stores).
	Closers []io.Closer
}

// Gateway implements relay.Sender.
type Gateway struct {
	bus       domain.EventBus
	logger    *slog.Logger
	plugins   map[domain.Platform]domain.Plugin
	instances map[string]config.InstanceEntry
	order     []string
	closers   []io.Closer
	recorder  *metrics.Recorder

	mu     sync.Mutex
	ctx    context.Context
	subs   map[string]string // topic -> subscription id
	closed bool
	syncWG sync.WaitGroup
}

func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Gateway{
		bus:       opts.Bus,
		logger:    opts.Logger,
		plugins:   make(map[domain.Platform]domain.Plugin),
		instances: make(map[string]config.InstanceEntry),
		closers:   opts.Closers,
		recorder:  metrics.NewRecorder(),
		ctx:       context.Background(),
		subs:      make(map[string]string),
	}
	for _, p := range opts.Plugins {
		g.plugins[p.ID()] = p
	}
	for _, e := range opts.Instances {
		g.instances[e.ID] = e
		g.order = append(g.order, e.ID)
	}
	return g
}

func unknownInstance(id string) error {
	return &domain.ChannelError{Kind: domain.KindNotFound, Message: fmt.Sprintf("unknown instance %q", id)}
}

// lookup returns the instance entry and the plugin serving it.
func (g *Gateway) lookup(id string) (config.InstanceEntry, domain.Plugin, error) {
	e, ok := g.instances[id]
	if !ok {
		return e, nil, unknownInstance(id)
	}
	p, ok := g.plugins[domain.Platform(e.Platform)]
	if !ok {
		return e, nil, fmt.Errorf("instance %s: no %s plugin loaded", id, e.Platform)
	}
	return e, p, nil
}

// Plugin returns the plugin serving the instance.
func (g *Gateway) Plugin(id string) (domain.Plugin, error) {
	_, p, err := g.lookup(id)
	return p, err
}

// Start attaches the metrics recorder and the sync worker, then connects
// every autoConnect instance. Connect failures are logged and joined; they
// do not stop the other instances.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	if g.bus != nil {
		g.subs["*"] = g.recorder.Attach(g.bus)
		g.subs[domain.TopicSyncStart] = g.bus.Subscribe(domain.TopicSyncStart, g.onSyncStart, domain.SubscribeOptions{})
	}
	g.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(connectLimit)
	for _, id := range g.order {
		if !g.instances[id].AutoConnect {
			continue
		}
		eg.Go(func() error {
			if err := g.Connect(ectx, id, false); err != nil {
				g.logger.Warn("auto-connect failed", "instance", id, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	eg.Wait()
	return errors.Join(errs...)
}

// Connect starts the instance. force clears stored auth first and allows
// connecting out of a terminal state.
func (g *Gateway) Connect(ctx context.Context, id string, force bool) error {
	e, p, err := g.lookup(id)
	if err != nil {
		return err
	}
	cfg := e.InstanceConfig()
	cfg.ForceReauth = force
	g.logger.Info("connecting instance", "instance", id, "platform", e.Platform, "force", force)
	return p.Connect(ctx, id, cfg)
}

func (g *Gateway) Disconnect(ctx context.Context, id string) error {
	_, p, err := g.lookup(id)
	if err != nil {
		return err
	}
	return p.Disconnect(ctx, id)
}

func (g *Gateway) Logout(ctx context.Context, id string) error {
	_, p, err := g.lookup(id)
	if err != nil {
		return err
	}
	return p.Logout(ctx, id)
}

// Send routes msg to the instance's plugin.
func (g *Gateway) Send(ctx context.Context, id string, msg domain.OutgoingMessage) domain.SendResult {
	_, p, err := g.lookup(id)
	if err != nil {
		return domain.Failed(err)
	}
	return p.SendMessage(ctx, id, msg)
}

// Status lists every configured instance; instances never connected are
// idle.
func (g *Gateway) Status() []domain.ConnectionStatus {
	out := make([]domain.ConnectionStatus, 0, len(g.order))
	for _, id := range g.order {
		e := g.instances[id]
		st := domain.ConnectionStatus{InstanceID: id, Platform: domain.Platform(e.Platform), State: domain.StateIdle}
		if p, ok := g.plugins[st.Platform]; ok {
			if s, ok := p.Status(id); ok {
				st = s
			}
		}
		out = append(out, st)
	}
	return out
}

// Shutdown closes every plugin in parallel and then the stores.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	subs := g.subs
	g.subs = make(map[string]string)
	g.closed = true
	g.mu.Unlock()
	for topic, id := range subs {
		g.bus.Unsubscribe(topic, id)
	}
	g.syncWG.Wait()

	var eg errgroup.Group
	platforms := make([]domain.Platform, 0, len(g.plugins))
	for p := range g.plugins {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)
	for _, name := range platforms {
		p := g.plugins[name]
		eg.Go(func() error {
			start := time.Now()
			if err := p.Close(ctx); err != nil {
				return fmt.Errorf("close %s: %w", name, err)
			}
			g.logger.Debug("plugin closed", "platform", name, "took", time.Since(start))
			return nil
		})
	}
	err := eg.Wait()

	for _, c := range g.closers {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
