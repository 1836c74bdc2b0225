package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
	"omnigate/internal/stream"
)

// Config configures the WhatsApp plugin.
type Config struct {
	channel.Config
	// Devices is the whatsmeow device store shared by every instance.
	Devices *DeviceStore
	// HistoryCap bounds the history-sync buffer per instance.
	HistoryCap int
}

type instance struct {
	*channel.Instance[event]
	session *session
	history *channel.History
}

// Plugin implements domain.Plugin for WhatsApp.
type Plugin struct {
	core       *channel.Core
	devices    *DeviceStore
	historyCap int
	instances  *channel.Registry[*instance]
}

var _ domain.Plugin = (*Plugin)(nil)

func New(cfg Config) *Plugin {
	if cfg.Throttle <= 0 {
		cfg.Throttle = streamThrottle
	}
	store.SetOSInfo("omnigate", [3]uint32{1, 0, 0})
	return &Plugin{
		core:       channel.NewCore(domain.PlatformWhatsApp, cfg.Config),
		devices:    cfg.Devices,
		historyCap: cfg.HistoryCap,
		instances:  channel.NewRegistry[*instance](),
	}
}

func (p *Plugin) ID() domain.Platform { return domain.PlatformWhatsApp }

func (p *Plugin) Capabilities() domain.Capabilities { return Capabilities() }

func (p *Plugin) newInstance(id string, cfg domain.InstanceConfig) *instance {
	inst := &instance{history: channel.NewHistory(p.historyCap)}
	inst.Instance = channel.NewInstance(p.core, id, cfg, func(e event) { p.handle(inst, e) })
	inst.session = &session{
		instanceID: id,
		phone:      onlyDigits(cfg.PhoneNumber),
		devices:    p.devices,
		auth:       p.core.Store,
		push:       inst.Inbox.Push,
		logger:     inst.Logger,
	}
	// A dropped socket of a paired device gets one free reconnect before
	// the attempt counter starts.
	pol := p.core.Policy
	pol.UnauthenticatedRetries = 1
	inst.Machine = p.core.NewMachine(id, pol, inst.session)
	return inst
}

// Connect starts (or restarts) the instance. Unpaired devices go through
// QR or phone-code pairing.
func (p *Plugin) Connect(ctx context.Context, instanceID string, cfg domain.InstanceConfig) error {
	if p.devices == nil {
		return errors.New("whatsapp device store is not configured")
	}
	return p.record(ctx, instanceID, cfg).Machine.Connect(ctx, cfg.ForceReauth)
}

// record returns the instance record, replacing it when the phone number
// or allow list changed since it was built.
func (p *Plugin) record(ctx context.Context, instanceID string, cfg domain.InstanceConfig) *instance {
	inst, created := p.instances.GetOrCreate(instanceID, func() *instance { return p.newInstance(instanceID, cfg) })
	if !created && configChanged(inst.Config, cfg) {
		p.Disconnect(ctx, instanceID)
		inst, _ = p.instances.GetOrCreate(instanceID, func() *instance { return p.newInstance(instanceID, cfg) })
	}
	return inst
}

func configChanged(old, cfg domain.InstanceConfig) bool {
	return onlyDigits(old.PhoneNumber) != onlyDigits(cfg.PhoneNumber) || !slices.Equal(old.AllowFrom, cfg.AllowFrom)
}

// Disconnect stops the instance and forgets the record. The paired device
// stays in the store.
func (p *Plugin) Disconnect(_ context.Context, instanceID string) error {
	inst, ok := p.instances.Delete(instanceID)
	if !ok {
		return nil
	}
	inst.Machine.Close()
	inst.Teardown()
	return nil
}

// Logout unlinks the device from the phone and deletes its keys.
func (p *Plugin) Logout(ctx context.Context, instanceID string) error {
	inst, ok := p.instances.Delete(instanceID)
	if !ok {
		sess := &session{instanceID: instanceID, devices: p.devices, auth: p.core.Store, logger: p.core.Logger}
		return sess.ClearAuth(ctx)
	}
	if client := inst.session.Client(); client != nil && client.IsLoggedIn() {
		if err := client.Logout(ctx); err != nil {
			inst.Logger.Warn("whatsapp logout request failed", "err", err)
		}
	}
	err := inst.Machine.Logout(ctx)
	inst.Machine.Close()
	inst.Teardown()
	return err
}

func (p *Plugin) Status(instanceID string) (domain.ConnectionStatus, bool) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.ConnectionStatus{}, false
	}
	return inst.Status(), true
}

// Close disconnects every instance.
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
	m := inst.Machine
	switch ev := e.(type) {
	case challengeEvent:
		m.OnChallenge(ev.kind, ev.code, ev.ttl)
	case pairedEvent:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.devices.remember(ctx, p.core.Store, inst.ID, ev.jid); err != nil {
			inst.Logger.Error("store paired device", "jid", ev.jid, "err", err)
		}
		cancel()
		inst.Logger.Info("whatsapp device paired", "jid", ev.jid)
		m.OnPaired()
	case connectedEvent:
		m.OnConnected()
		if client := inst.session.Client(); client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := client.SendPresence(ctx, types.PresenceAvailable); err != nil {
				inst.Logger.Debug("send presence failed", "err", err)
			}
			cancel()
		}
	case closedEvent:
		m.OnClosed(ev.reason, ev.loggedOut)
	case messageEvent:
		p.onMessage(inst, ev.msg)
	case receiptEvent:
		p.onReceipt(inst, ev.receipt)
	case presenceEvent:
		pr := ev.presence
		p.core.PublishPresence(inst.ID, domain.Presence{
			ChatID:   pr.Chat.String(),
			SenderID: pr.Sender.ToNonAD().String(),
			Typing:   pr.State == types.ChatPresenceComposing,
		})
	case historyEvent:
		p.onHistory(inst, ev)
	}
}

func (p *Plugin) onMessage(inst *instance, evt *events.Message) {
	msg := Extract(inst.ID, evt, inst.Logger)
	if msg == nil {
		return
	}
	if !channel.Allowed(inst.Config.AllowFrom, msg.ChatID, msg.SenderID, evt.Info.Sender.User) {
		inst.Logger.Debug("message from sender outside allow list", "sender", msg.SenderID)
		return
	}
	p.core.PublishMessage(*msg)
}

func (p *Plugin) onReceipt(inst *instance, r *events.Receipt) {
	var read bool
	switch r.Type {
	case types.ReceiptTypeDelivered:
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		read = true
	default:
		return
	}
	ids := make([]string, 0, len(r.MessageIDs))
	for _, id := range r.MessageIDs {
		ids = append(ids, string(id))
	}
	p.core.PublishReceipt(inst.ID, read, domain.Receipt{
		ChatID:     r.Chat.String(),
		SenderID:   r.Sender.ToNonAD().String(),
		MessageIDs: ids,
		Timestamp:  r.Timestamp,
	})
}

func (p *Plugin) onHistory(inst *instance, ev historyEvent) {
	client := inst.session.Client()
	if client == nil || ev.data == nil {
		return
	}
	var msgs []domain.CanonicalMessage
	for _, conv := range ev.data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, hm := range conv.GetMessages() {
			evt, err := client.ParseWebMessage(chat, hm.GetMessage())
			if err != nil {
				continue
			}
			if msg := Extract(inst.ID, evt, inst.Logger); msg != nil {
				msgs = append(msgs, *msg)
			}
		}
	}
	inst.history.Add(msgs...)
	inst.Logger.Debug("history sync buffered", "messages", len(msgs), "buffered", inst.history.Len())
}

// live returns a connected instance and its client.
func (p *Plugin) live(instanceID string) (*instance, *whatsmeow.Client, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return nil, nil, domain.NotConnected(instanceID)
	}
	if err := inst.RequireConnected(); err != nil {
		return nil, nil, err
	}
	client := inst.session.Client()
	if client == nil {
		return nil, nil, domain.NotConnected(instanceID)
	}
	return inst, client, nil
}

func (p *Plugin) SendMessage(ctx context.Context, instanceID string, msg domain.OutgoingMessage) domain.SendResult {
	caps := Capabilities()
	return p.core.Send(ctx, instanceID, caps, msg, func(ctx context.Context) (domain.SendResult, error) {
		_, client, err := p.live(instanceID)
		if err != nil {
			return domain.SendResult{}, err
		}
		return p.deliver(ctx, client, caps, msg)
	})
}

func (p *Plugin) deliver(ctx context.Context, client *whatsmeow.Client, caps domain.Capabilities, msg domain.OutgoingMessage) (domain.SendResult, error) {
	chat, err := parseJID(msg.To)
	if err != nil {
		return domain.SendResult{}, domain.MissingField(msg.Content.Type, "valid recipient")
	}
	in := buildInput{msg: msg, chat: chat, protos: client}

	var payloads []*payload
	switch t := msg.Content.Type; {
	case t == domain.ContentText:
		body := channel.RenderText(format.WhatsApp, msg, channel.RenderMentions(msg.Content.Text, msg.Mentions, mentionToken))
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
	case t == domain.ContentEdit:
		in.text = channel.RenderText(format.WhatsApp, msg, msg.Content.Text)
		fallthrough
	default:
		if t.IsMedia() {
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
		if pl.mediaType != "" {
			up, err := client.Upload(ctx, pl.data, pl.mediaType)
			if err != nil {
				return res, fmt.Errorf("upload %s: %w", msg.Content.Type, mapError(err))
			}
			pl.attach(up)
		}
		resp, err := client.SendMessage(ctx, chat, pl.msg)
		if err != nil {
			return res, mapError(err)
		}
		res.MessageIDs = append(res.MessageIDs, string(resp.ID))
		res.Timestamp = resp.Timestamp
	}
	return res, nil
}

// SendTyping shows "composing" in the chat until the auto-stop timer
// sends "paused".
func (p *Plugin) SendTyping(ctx context.Context, instanceID, chatID string) error {
	inst, client, err := p.live(instanceID)
	if err != nil {
		return err
	}
	chat, err := parseJID(chatID)
	if err != nil {
		return err
	}
	if err := client.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		return mapError(err)
	}
	inst.Typing.Start(chatID, func() {
		c := inst.session.Client()
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
			inst.Logger.Debug("stop typing failed", "chat", chatID, "err", err)
		}
	})
	return nil
}

// editor sends the stream placeholder and edits it with BuildEdit.
type editor struct {
	client  *whatsmeow.Client
	chat    types.JID
	replyTo string
}

func (e *editor) Send(ctx context.Context, f stream.Frame) (string, error) {
	pl, err := buildText(buildInput{msg: domain.OutgoingMessage{ReplyTo: e.replyTo}, chat: e.chat, text: f.Text})
	if err != nil {
		return "", err
	}
	resp, err := e.client.SendMessage(ctx, e.chat, pl.msg)
	if err != nil {
		return "", mapError(err)
	}
	return string(resp.ID), nil
}

func (e *editor) Edit(ctx context.Context, id string, f stream.Frame) error {
	edit := e.client.BuildEdit(e.chat, id, &waE2E.Message{Conversation: proto.String(f.Text)})
	if _, err := e.client.SendMessage(ctx, e.chat, edit); err != nil {
		return mapError(err)
	}
	return nil
}

func (p *Plugin) NewStream(instanceID, chatID, replyTo string) (domain.Stream, error) {
	inst, client, err := p.live(instanceID)
	if err != nil {
		return nil, err
	}
	chat, err := parseJID(chatID)
	if err != nil {
		return nil, err
	}
	return inst.Streams.New(&editor{client: client, chat: chat, replyTo: replyTo}, stream.Options{
		Throttle:         p.core.Throttle,
		MaxStreamChars:   stream.DefaultMaxStreamChars,
		MaxMessageLength: maxMessageLength,
		Cursor:           streamCursor,
		Dialect:          format.WhatsApp,
		Logger:           inst.Logger,
	}), nil
}

func (p *Plugin) FetchHistory(_ context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.CanonicalMessage) error) (domain.SyncResult, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.SyncResult{}, domain.NotConnected(instanceID)
	}
	return inst.history.Fetch(opts, fn)
}

func (p *Plugin) FetchContacts(ctx context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.ContactInfo) error) (domain.SyncResult, error) {
	_, client, err := p.live(instanceID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	contacts, err := client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("load contacts: %w", err)
	}
	jids := make([]types.JID, 0, len(contacts))
	for jid := range contacts {
		jids = append(jids, jid)
	}
	slices.SortFunc(jids, func(a, b types.JID) int { return strings.Compare(a.String(), b.String()) })

	var res domain.SyncResult
	for _, jid := range jids {
		if opts.Limit > 0 && res.Fetched >= opts.Limit {
			res.Partial = true
			break
		}
		c := contacts[jid]
		name := firstNonEmpty(c.FullName, c.FirstName, c.BusinessName, c.PushName)
		if err := fn(domain.ContactInfo{ID: jid.String(), Name: name, DisplayName: c.PushName}); err != nil {
			return res, err
		}
		res.Fetched++
	}
	return res, nil
}

func (p *Plugin) FetchGroups(ctx context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.GroupInfo) error) (domain.SyncResult, error) {
	_, client, err := p.live(instanceID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return domain.SyncResult{}, mapError(err)
	}
	var res domain.SyncResult
	for _, g := range groups {
		if opts.Limit > 0 && res.Fetched >= opts.Limit {
			res.Partial = true
			break
		}
		info := domain.GroupInfo{ID: g.JID.String(), Name: g.Name}
		for _, pt := range g.Participants {
			info.Participants = append(info.Participants, pt.JID.String())
		}
		if err := fn(info); err != nil {
			return res, err
		}
		res.Fetched++
	}
	return res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
