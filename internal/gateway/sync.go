package gateway

import (
	"context"
	"fmt"
	"time"

	"omnigate/internal/domain"
)

// onSyncStart runs a sync.start job in the background.
func (g *Gateway) onSyncStart(e domain.Event) {
	var job domain.SyncJob
	switch p := e.Payload.(type) {
	case domain.SyncJob:
		job = p
	case *domain.SyncJob:
		job = *p
	default:
		g.logger.Warn("sync.start with unexpected payload", "type", fmt.Sprintf("%T", e.Payload))
		return
	}
	if job.InstanceID == "" {
		job.InstanceID = e.InstanceID
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	ctx := g.ctx
	g.syncWG.Add(1)
	g.mu.Unlock()
	go func() {
		defer g.syncWG.Done()
		g.Sync(ctx, job)
	}()
}

// Sync runs one bulk fetch. Every item is published as sync.item and the
// run ends with sync.completed, also on failure.
func (g *Gateway) Sync(ctx context.Context, job domain.SyncJob) domain.SyncProgress {
	prog := domain.SyncProgress{Kind: job.Kind}
	e, p, err := g.lookup(job.InstanceID)
	platform := domain.Platform(e.Platform)

	if err == nil {
		emit := func(item any) error {
			g.publish(domain.TopicSyncItem, job.InstanceID, platform, domain.SyncItem{Kind: job.Kind, Item: item})
			return ctx.Err()
		}
		start := time.Now()
		switch job.Kind {
		case domain.SyncHistory:
			prog.Result, err = p.FetchHistory(ctx, job.InstanceID, job.Options, func(m domain.CanonicalMessage) error { return emit(m) })
		case domain.SyncContacts:
			prog.Result, err = p.FetchContacts(ctx, job.InstanceID, job.Options, func(c domain.ContactInfo) error { return emit(c) })
		case domain.SyncGroups:
			prog.Result, err = p.FetchGroups(ctx, job.InstanceID, job.Options, func(gi domain.GroupInfo) error { return emit(gi) })
		default:
			err = fmt.Errorf("unknown sync kind %q", job.Kind)
		}
		g.logger.Info("sync finished", "instance", job.InstanceID, "kind", job.Kind,
			"fetched", prog.Result.Fetched, "partial", prog.Result.Partial, "took", time.Since(start), "err", err)
	}
	if err != nil {
		prog.Error = err.Error()
	}
	g.publish(domain.TopicSyncCompleted, job.InstanceID, platform, prog)
	return prog
}

func (g *Gateway) publish(topic, instanceID string, platform domain.Platform, payload any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(domain.Event{
		Topic:      topic,
		InstanceID: instanceID,
		Platform:   platform,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}
