package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"omnigate/internal/domain"
	"omnigate/internal/format"
	"omnigate/internal/lifecycle"
	"omnigate/internal/metrics"
)

// Config carries the collaborators every adapter needs.
type Config struct {
	Bus       domain.EventBus
	Store     domain.AuthStore
	Policy    lifecycle.Policy
	Scheduler lifecycle.Scheduler
	Throttle  time.Duration // streaming edit interval
	TypingFor time.Duration // typing auto-stop
	Media     MediaFetcher
	Logger    *slog.Logger
}

// Core implements the platform-independent half of a plugin: event
// publishing, outbound validation and instance bookkeeping.
type Core struct {
	Platform domain.Platform
	Bus      domain.EventBus
	Store    domain.AuthStore
	Policy   lifecycle.Policy
	Sched    lifecycle.Scheduler
	Throttle time.Duration
	Typing   time.Duration
	Media    MediaFetcher
	Logger   *slog.Logger
}

func NewCore(p domain.Platform, cfg Config) *Core {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = lifecycle.RealScheduler{}
	}
	return &Core{
		Platform: p,
		Bus:      cfg.Bus,
		Store:    cfg.Store,
		Policy:   cfg.Policy,
		Sched:    cfg.Scheduler,
		Throttle: cfg.Throttle,
		Typing:   cfg.TypingFor,
		Media:    cfg.Media,
		Logger:   cfg.Logger.With("platform", string(p)),
	}
}

func (c *Core) publish(topic, instanceID string, payload any) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(domain.Event{
		Topic:      topic,
		InstanceID: instanceID,
		Platform:   c.Platform,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

// PublishStatus emits a lifecycle transition on its state topic.
func (c *Core) PublishStatus(st domain.ConnectionStatus) {
	c.publish(st.Topic(), st.InstanceID, st)
}

// PublishChallenge emits a pairing challenge.
func (c *Core) PublishChallenge(ch domain.Challenge) {
	c.publish(domain.TopicInstanceAuthChallenge, ch.InstanceID, ch)
}

// PublishMessage emits a canonical inbound message. Reactions go to their
// own topics; an empty glyph is a removal.
func (c *Core) PublishMessage(msg domain.CanonicalMessage) {
	topic := domain.TopicMessageReceived
	if msg.ContentType == domain.ContentReaction {
		topic = domain.TopicReactionReceived
		if msg.Text == "" {
			topic = domain.TopicReactionRemoved
		}
	}
	c.publish(topic, msg.InstanceID, msg)
}

// PublishReceipt emits a delivery or read receipt.
func (c *Core) PublishReceipt(instanceID string, read bool, r domain.Receipt) {
	topic := domain.TopicMessageDelivered
	if read {
		topic = domain.TopicMessageRead
	}
	c.publish(topic, instanceID, r)
}

// PublishPresence emits a typing indicator from a remote user.
func (c *Core) PublishPresence(instanceID string, p domain.Presence) {
	c.publish(domain.TopicPresenceTyping, instanceID, p)
}

// NewMachine builds a lifecycle machine wired to the bus.
func (c *Core) NewMachine(instanceID string, policy lifecycle.Policy, sess lifecycle.Session) *lifecycle.Machine {
	return lifecycle.New(lifecycle.Config{
		InstanceID:  instanceID,
		Platform:    c.Platform,
		Policy:      policy,
		Session:     sess,
		Scheduler:   c.Sched,
		OnStatus:    c.PublishStatus,
		OnChallenge: c.PublishChallenge,
		Logger:      c.Logger,
	})
}

// ClearAuth removes the instance's keys from the auth store.
func (c *Core) ClearAuth(ctx context.Context, instanceID string) error {
	if c.Store == nil {
		return nil
	}
	return domain.ClearAuth(ctx, c.Store, instanceID)
}

// Send validates msg, runs deliver and publishes the outcome. It never
// panics and always returns a SendResult.
func (c *Core) Send(ctx context.Context, instanceID string, caps domain.Capabilities, msg domain.OutgoingMessage,
	deliver func(ctx context.Context) (domain.SendResult, error)) (res domain.SendResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("send panic", "instance", instanceID, "panic", r)
			res = domain.Failed(fmt.Errorf("send panic: %v", r))
		}
		if res.Timestamp.IsZero() {
			res.Timestamp = time.Now()
		}
		topic := domain.TopicMessageSent
		if res.Success {
			metrics.SendLatency(c.Platform).ObserveSince(start)
		} else {
			topic = domain.TopicMessageFailed
			c.Logger.Warn("send failed", "instance", instanceID, "to", msg.To,
				"type", msg.Content.Type, "code", res.ErrorCode, "err", res.Error)
		}
		c.publish(topic, instanceID, domain.SendOutcome{To: msg.To, ContentType: msg.Content.Type, Result: res})
	}()

	if err := Validate(caps, msg); err != nil {
		return domain.Failed(err)
	}
	res, err := deliver(ctx)
	if err != nil {
		return domain.Failed(err)
	}
	res.Success = true
	if res.MessageID == "" && len(res.MessageIDs) > 0 {
		res.MessageID = res.MessageIDs[0]
	}
	return res
}

// Validate checks msg against the platform descriptor before any wire work.
func Validate(caps domain.Capabilities, msg domain.OutgoingMessage) error {
	c := msg.Content
	if msg.To == "" {
		return domain.MissingField(c.Type, "recipient")
	}
	if !caps.Supports(c.Type) {
		return domain.UnsupportedContent(caps.Platform, c.Type)
	}
	switch c.Type {
	case domain.ContentText:
		if c.Text == "" {
			return domain.MissingField(c.Type, "text")
		}
	case domain.ContentImage, domain.ContentAudio, domain.ContentVideo, domain.ContentDocument:
		if c.MediaURL == "" && msg.MetaString(domain.MetaMediaBase64) == "" {
			return domain.MissingField(c.Type, "mediaUrl or mediaBase64")
		}
	case domain.ContentSticker:
		if c.MediaURL == "" && msg.MetaString(domain.MetaMediaBase64) == "" && msg.MetaString(domain.MetaStickerID) == "" {
			return domain.MissingField(c.Type, "sticker media or stickerId")
		}
	case domain.ContentReaction:
		if c.TargetID == "" {
			return domain.MissingField(c.Type, "targetMessageId")
		}
	case domain.ContentEdit:
		if c.TargetID == "" || c.Text == "" {
			return domain.MissingField(c.Type, "targetMessageId and text")
		}
	case domain.ContentDelete:
		if c.TargetID == "" {
			return domain.MissingField(c.Type, "targetMessageId")
		}
	case domain.ContentContact:
		if c.Contact == nil || c.Contact.Name == "" {
			return domain.MissingField(c.Type, "contact name")
		}
	case domain.ContentLocation:
		if c.Location == nil {
			return domain.MissingField(c.Type, "location")
		}
	case domain.ContentPoll:
		if c.Poll == nil || c.Poll.Question == "" || len(c.Poll.Options) < 2 {
			return domain.MissingField(c.Type, "question and at least two options")
		}
		if caps.MaxPollOptions > 0 && len(c.Poll.Options) > caps.MaxPollOptions {
			return &domain.ChannelError{
				Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected,
				Message: fmt.Sprintf("poll has %d options, %s allows %d", len(c.Poll.Options), caps.Platform, caps.MaxPollOptions),
			}
		}
	case domain.ContentEmbed:
		if c.Embed == nil {
			return domain.MissingField(c.Type, "embed")
		}
		if caps.MaxEmbedFields > 0 && len(c.Embed.Fields) > caps.MaxEmbedFields {
			return &domain.ChannelError{
				Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected,
				Message: fmt.Sprintf("embed has %d fields, %s allows %d", len(c.Embed.Fields), caps.Platform, caps.MaxEmbedFields),
			}
		}
	}
	return nil
}

// RenderText transcodes text into the platform dialect unless the message
// asks for passthrough.
func RenderText(d format.Dialect, msg domain.OutgoingMessage, text string) string {
	if msg.MetaString(domain.MetaFormatMode) == domain.FormatPassthrough {
		return text
	}
	return d.Transcode(text)
}
