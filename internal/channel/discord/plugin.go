package discord

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
	"omnigate/internal/stream"
)

const (
	historyPage = 100
	memberPage  = 1000
)

var _ restAPI = (*discordgo.Session)(nil)

type instance struct {
	*channel.Instance[event]
	session *session

	selfID string // set on ready; touched only by the inbox goroutine
	api    restAPI
}

// rest returns the REST client of the live session.
func (inst *instance) rest() restAPI {
	if inst.api != nil {
		return inst.api
	}
	if dg := inst.session.API(); dg != nil {
		return dg
	}
	return nil
}

// inGuild applies the instance's guild scope. A scoped instance drops
// direct messages too.
func (inst *instance) inGuild(guildID string) bool {
	return inst.Config.GuildID == "" || guildID == inst.Config.GuildID
}

// Plugin implements domain.Plugin for Discord bots.
type Plugin struct {
	core      *channel.Core
	instances *channel.Registry[*instance]
	now       func() time.Time
}

var _ domain.Plugin = (*Plugin)(nil)

func New(cfg channel.Config) *Plugin {
	if cfg.Throttle <= 0 {
		cfg.Throttle = streamThrottle
	}
	return &Plugin{
		core:      channel.NewCore(domain.PlatformDiscord, cfg),
		instances: channel.NewRegistry[*instance](),
		now:       time.Now,
	}
}

func (p *Plugin) ID() domain.Platform { return domain.PlatformDiscord }

func (p *Plugin) Capabilities() domain.Capabilities { return Capabilities() }

func (p *Plugin) newInstance(id string, cfg domain.InstanceConfig) *instance {
	inst := &instance{}
	inst.Instance = channel.NewInstance(p.core, id, cfg, func(e event) { p.handle(inst, e) })
	inst.session = &session{
		instanceID: id,
		token:      cfg.Token,
		push:       inst.Inbox.Push,
		logger:     inst.Logger,
	}
	pol := p.core.Policy
	pol.UnauthenticatedRetries = 0
	inst.Machine = p.core.NewMachine(id, pol, inst.session)
	return inst
}

func (p *Plugin) Connect(ctx context.Context, instanceID string, cfg domain.InstanceConfig) error {
	inst, created := p.instances.GetOrCreate(instanceID, func() *instance { return p.newInstance(instanceID, cfg) })
	if !created && cfg.Token != "" && cfg.Token != inst.Config.Token {
		// A new token needs a fresh record.
		p.Disconnect(ctx, instanceID)
		inst, _ = p.instances.GetOrCreate(instanceID, func() *instance { return p.newInstance(instanceID, cfg) })
	}
	return inst.Machine.Connect(ctx, cfg.ForceReauth)
}

func (p *Plugin) Disconnect(_ context.Context, instanceID string) error {
	inst, ok := p.instances.Delete(instanceID)
	if !ok {
		return nil
	}
	inst.Machine.Close()
	inst.Teardown()
	return nil
}

// Logout closes the gateway and forgets the instance's auth entries.
func (p *Plugin) Logout(ctx context.Context, instanceID string) error {
	inst, ok := p.instances.Delete(instanceID)
	if !ok {
		return p.core.ClearAuth(ctx, instanceID)
	}
	err := inst.Machine.Logout(ctx)
	inst.Machine.Close()
	inst.Teardown()
	if cerr := p.core.ClearAuth(ctx, instanceID); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (p *Plugin) Status(instanceID string) (domain.ConnectionStatus, bool) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.ConnectionStatus{}, false
	}
	return inst.Status(), true
}

func (p *Plugin) Close(ctx context.Context) error {
	for _, id := range p.instances.IDs() {
		p.Disconnect(ctx, id)
	}
	return nil
}

func (p *Plugin) handle(inst *instance, e event) {
	if !inst.session.current(e) {
		return
	}
	switch ev := e.(type) {
	case readyEvent:
		if ev.self != nil {
			inst.selfID = ev.self.ID
			inst.Logger.Info("discord bot ready", "user", ev.self.Username, "id", ev.self.ID)
		}
		inst.Machine.OnConnected()
	case closedEvent:
		inst.Machine.OnClosed(ev.reason, ev.loggedOut)
	case createEvent:
		if ev.msg == nil || !inst.inGuild(ev.msg.GuildID) {
			return
		}
		p.publish(inst, Extract(inst.ID, ev.msg))
	case updateEvent:
		if ev.msg == nil || !inst.inGuild(ev.msg.GuildID) {
			return
		}
		p.publish(inst, ExtractEdit(inst.ID, ev.msg, p.now()))
	case deleteEvent:
		if ev.msg == nil || !inst.inGuild(ev.msg.GuildID) {
			return
		}
		p.publish(inst, ExtractDelete(inst.ID, ev.msg, ev.before, p.now()))
	case reactionEvent:
		r := ev.reaction
		if r == nil || r.UserID == inst.selfID || !inst.inGuild(r.GuildID) {
			return
		}
		p.publish(inst, ExtractReaction(inst.ID, r, ev.removed, p.now()))
	case typingEvent:
		t := ev.typing
		if t == nil || t.UserID == inst.selfID || !inst.inGuild(t.GuildID) {
			return
		}
		p.core.PublishPresence(inst.ID, domain.Presence{ChatID: t.ChannelID, SenderID: t.UserID, Typing: true})
	}
}

func (p *Plugin) publish(inst *instance, msg *domain.CanonicalMessage) {
	if msg == nil {
		return
	}
	if msg.SenderID != "" && !channel.Allowed(inst.Config.AllowFrom, msg.ChatID, msg.SenderID) {
		inst.Logger.Debug("message from sender outside allow list", "sender", msg.SenderID)
		return
	}
	p.core.PublishMessage(*msg)
}

func (p *Plugin) live(instanceID string) (*instance, restAPI, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return nil, nil, domain.NotConnected(instanceID)
	}
	if err := inst.RequireConnected(); err != nil {
		return nil, nil, err
	}
	api := inst.rest()
	if api == nil {
		return nil, nil, domain.NotConnected(instanceID)
	}
	return inst, api, nil
}

func (p *Plugin) SendMessage(ctx context.Context, instanceID string, msg domain.OutgoingMessage) domain.SendResult {
	caps := Capabilities()
	return p.core.Send(ctx, instanceID, caps, msg, func(ctx context.Context) (domain.SendResult, error) {
		_, api, err := p.live(instanceID)
		if err != nil {
			return domain.SendResult{}, err
		}
		return p.deliver(ctx, api, caps, msg)
	})
}

// targetChannel routes to the thread named in metadata, if any.
func targetChannel(msg domain.OutgoingMessage) string {
	if thread := msg.MetaString(domain.MetaThreadID); thread != "" {
		return thread
	}
	return msg.To
}

func (p *Plugin) deliver(ctx context.Context, api restAPI, caps domain.Capabilities, msg domain.OutgoingMessage) (domain.SendResult, error) {
	in := buildInput{msg: msg, channelID: targetChannel(msg)}

	var payloads []*payload
	switch t := msg.Content.Type; {
	case t == domain.ContentText:
		body := channel.RenderText(format.Discord, msg, channel.RenderMentions(msg.Content.Text, msg.Mentions, mentionToken))
		for i, chunk := range format.Chunk(body, caps.MaxMessageLength) {
			cin := in
			cin.text = chunk
			if i > 0 {
				cin.msg.ReplyTo = ""
			}
			pl, err := build(cin)
			if err != nil {
				return domain.SendResult{}, err
			}
			payloads = append(payloads, pl)
		}
	default:
		if t == domain.ContentEdit || t == domain.ContentEmbed {
			if msg.Content.Text != "" {
				in.text = channel.RenderText(format.Discord, msg, msg.Content.Text)
			}
		}
		if t.IsMedia() && !(t == domain.ContentSticker && msg.MetaString(domain.MetaStickerID) != "") {
			media, err := p.core.Media.Resolve(ctx, msg, caps.MediaLimit(t))
			if err != nil {
				return domain.SendResult{}, err
			}
			in.media = media
		}
		pl, err := build(in)
		if err != nil {
			return domain.SendResult{}, err
		}
		payloads = append(payloads, pl)
	}

	var res domain.SendResult
	for _, pl := range payloads {
		id, err := pl.exec(ctx, api)
		if err != nil {
			return res, mapError(err)
		}
		if id != "" {
			res.MessageIDs = append(res.MessageIDs, id)
		}
	}
	res.Timestamp = p.now()
	return res, nil
}

// SendTyping triggers the typing indicator. Discord clears it after ten
// seconds or on the next message, so there is nothing to stop.
func (p *Plugin) SendTyping(ctx context.Context, instanceID, chatID string) error {
	_, api, err := p.live(instanceID)
	if err != nil {
		return err
	}
	return mapError(api.ChannelTyping(chatID, discordgo.WithContext(ctx)))
}

type editor struct {
	api       restAPI
	channelID string
	replyTo   string
}

func (e *editor) Send(ctx context.Context, f stream.Frame) (string, error) {
	ms := &discordgo.MessageSend{Content: f.Text}
	if e.replyTo != "" {
		ms.Reference = &discordgo.MessageReference{MessageID: e.replyTo, ChannelID: e.channelID}
		e.replyTo = ""
	}
	m, err := e.api.ChannelMessageSendComplex(e.channelID, ms, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return m.ID, nil
}

func (e *editor) Edit(ctx context.Context, id string, f stream.Frame) error {
	edit := discordgo.NewMessageEdit(e.channelID, id).SetContent(f.Text)
	if _, err := e.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

func (p *Plugin) NewStream(instanceID, chatID, replyTo string) (domain.Stream, error) {
	inst, api, err := p.live(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.Streams.New(&editor{api: api, channelID: chatID, replyTo: replyTo}, stream.Options{
		Throttle:         p.core.Throttle,
		MaxStreamChars:   maxStreamChars,
		MaxMessageLength: maxMessageLength,
		Cursor:           streamCursor,
		Dialect:          format.Discord,
		Logger:           inst.Logger,
	}), nil
}

// FetchHistory pages backwards through a channel, newest first.
func (p *Plugin) FetchHistory(ctx context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.CanonicalMessage) error) (domain.SyncResult, error) {
	inst, api, err := p.live(instanceID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if opts.ChatID == "" {
		return domain.SyncResult{}, errors.New("discord history requires a channel id")
	}

	var res domain.SyncResult
	before := opts.Before
	for {
		if err := ctx.Err(); err != nil {
			res.Partial = true
			return res, err
		}
		page, err := api.ChannelMessages(opts.ChatID, historyPage, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			res.Partial = true
			return res, mapError(err)
		}
		for _, m := range page {
			if !opts.Since.IsZero() && m.Timestamp.Before(opts.Since) {
				return res, nil
			}
			if opts.Limit > 0 && res.Fetched >= opts.Limit {
				res.Partial = true
				return res, nil
			}
			msg := Extract(inst.ID, m)
			if msg == nil {
				continue
			}
			if err := fn(*msg); err != nil {
				return res, err
			}
			res.Fetched++
		}
		if len(page) < historyPage {
			return res, nil
		}
		before = page[len(page)-1].ID
	}
}

// FetchContacts lists the members of the instance's guilds.
func (p *Plugin) FetchContacts(ctx context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.ContactInfo) error) (domain.SyncResult, error) {
	inst, api, err := p.live(instanceID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	var res domain.SyncResult
	for _, guildID := range p.guilds(inst) {
		after := ""
		for {
			members, err := api.GuildMembers(guildID, after, memberPage, discordgo.WithContext(ctx))
			if err != nil {
				res.Partial = true
				return res, mapError(err)
			}
			for _, m := range members {
				if m.User == nil {
					continue
				}
				if opts.Limit > 0 && res.Fetched >= opts.Limit {
					res.Partial = true
					return res, nil
				}
				c := domain.ContactInfo{ID: m.User.ID, Name: m.User.Username, DisplayName: firstNonEmpty(m.Nick, displayName(m.User)), IsBot: m.User.Bot}
				if err := fn(c); err != nil {
					return res, err
				}
				res.Fetched++
			}
			if len(members) < memberPage {
				break
			}
			after = members[len(members)-1].User.ID
		}
	}
	return res, nil
}

// FetchGroups lists text channels and threads as groups.
func (p *Plugin) FetchGroups(ctx context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.GroupInfo) error) (domain.SyncResult, error) {
	inst, api, err := p.live(instanceID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	var res domain.SyncResult
	for _, guildID := range p.guilds(inst) {
		channels, err := api.GuildChannels(guildID, discordgo.WithContext(ctx))
		if err != nil {
			res.Partial = true
			return res, mapError(err)
		}
		for _, c := range channels {
			switch c.Type {
			case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
				discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
			default:
				continue
			}
			if opts.Limit > 0 && res.Fetched >= opts.Limit {
				res.Partial = true
				return res, nil
			}
			if err := fn(domain.GroupInfo{ID: c.ID, Name: c.Name, ParentID: c.ParentID}); err != nil {
				return res, err
			}
			res.Fetched++
		}
	}
	return res, nil
}

// guilds returns the configured guild or every guild in the state cache.
func (p *Plugin) guilds(inst *instance) []string {
	if inst.Config.GuildID != "" {
		return []string{inst.Config.GuildID}
	}
	dg := inst.session.API()
	if dg == nil || dg.State == nil {
		return nil
	}
	dg.State.RLock()
	defer dg.State.RUnlock()
	ids := make([]string, 0, len(dg.State.Guilds))
	for _, g := range dg.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}
