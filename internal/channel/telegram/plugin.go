package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
	"omnigate/internal/stream"
)

// Config configures the Telegram plugin.
type Config struct {
	channel.Config
	// HistoryCap bounds the per-instance buffer of received messages.
	HistoryCap int
	// Endpoint overrides the Bot API endpoint format, e.g. for a local
	// Bot API server.
	Endpoint string
}

var _ botAPI = (*tgbotapi.BotAPI)(nil)

type instance struct {
	*channel.Instance[event]
	session *session
	history *channel.History
	dir     *directory

	self tgbotapi.User // set on ready; touched only by the inbox goroutine
	api  botAPI
}

func (inst *instance) rest() botAPI {
	if inst.api != nil {
		return inst.api
	}
	if bot := inst.session.API(); bot != nil {
		return bot
	}
	return nil
}

// Plugin implements domain.Plugin for Telegram bots.
type Plugin struct {
	core       *channel.Core
	historyCap int
	endpoint   string
	instances  *channel.Registry[*instance]
}

var _ domain.Plugin = (*Plugin)(nil)

func New(cfg Config) *Plugin {
	if cfg.Throttle <= 0 {
		cfg.Throttle = streamThrottle
	}
	return &Plugin{
		core:       channel.NewCore(domain.PlatformTelegram, cfg.Config),
		historyCap: cfg.HistoryCap,
		endpoint:   cfg.Endpoint,
		instances:  channel.NewRegistry[*instance](),
	}
}

func (p *Plugin) ID() domain.Platform { return domain.PlatformTelegram }

func (p *Plugin) Capabilities() domain.Capabilities { return Capabilities() }

func (p *Plugin) newInstance(id string, cfg domain.InstanceConfig) *instance {
	inst := &instance{history: channel.NewHistory(p.historyCap), dir: newDirectory()}
	inst.Instance = channel.NewInstance(p.core, id, cfg, func(e event) { p.handle(inst, e) })
	inst.session = &session{
		instanceID: id,
		token:      cfg.Token,
		endpoint:   p.endpoint,
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

// Logout stops polling and forgets the instance's auth entries. The token
// itself stays valid; revoke it with BotFather.
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
		inst.self = ev.self
		inst.Logger.Info("telegram bot ready", "user", ev.self.UserName, "id", ev.self.ID)
		inst.Machine.OnConnected()
	case closedEvent:
		inst.Machine.OnClosed(ev.reason, ev.loggedOut)
	case updateEvent:
		u := ev.update
		switch {
		case u.Message != nil:
			p.onMessage(inst, u.Message, false)
		case u.ChannelPost != nil:
			p.onMessage(inst, u.ChannelPost, false)
		case u.EditedMessage != nil:
			p.onMessage(inst, u.EditedMessage, true)
		case u.EditedChannelPost != nil:
			p.onMessage(inst, u.EditedChannelPost, true)
		case u.MessageReaction != nil:
			for _, msg := range ExtractReactions(inst.ID, u.MessageReaction) {
				p.publish(inst, &msg, "")
			}
		}
	}
}

func (p *Plugin) onMessage(inst *instance, m *tgbotapi.Message, edited bool) {
	inst.dir.observe(m)
	msg := Extract(inst.ID, m, edited)
	if msg == nil {
		return
	}
	username := ""
	if m.From != nil && m.From.UserName != "" {
		username = "@" + m.From.UserName
	}
	if p.publish(inst, msg, username) {
		inst.history.Add(*msg)
	}
}

func (p *Plugin) publish(inst *instance, msg *domain.CanonicalMessage, username string) bool {
	if !channel.Allowed(inst.Config.AllowFrom, msg.ChatID, msg.SenderID, username) {
		inst.Logger.Debug("message from sender outside allow list", "sender", msg.SenderID)
		return false
	}
	p.core.PublishMessage(*msg)
	return true
}

func (p *Plugin) live(instanceID string) (*instance, botAPI, error) {
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

func (p *Plugin) deliver(ctx context.Context, api botAPI, caps domain.Capabilities, msg domain.OutgoingMessage) (domain.SendResult, error) {
	chat, err := parseChat(msg.To)
	if err != nil {
		return domain.SendResult{}, domain.MissingField(msg.Content.Type, "numeric chat id or @username")
	}
	in := buildInput{msg: msg, chat: chat}

	var payloads []*payload
	switch t := msg.Content.Type; {
	case t == domain.ContentText:
		body := channel.RenderText(format.Telegram, msg, channel.RenderMentions(msg.Content.Text, msg.Mentions, mentionToken))
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
		if t == domain.ContentEdit {
			in.text = channel.RenderText(format.Telegram, msg, msg.Content.Text)
		}
		if t.IsMedia() {
			file, err := p.file(ctx, caps, msg)
			if err != nil {
				return domain.SendResult{}, err
			}
			in.file = file
		}
		pl, err := build(in)
		if err != nil {
			return domain.SendResult{}, err
		}
		payloads = append(payloads, pl)
	}

	var res domain.SendResult
	for _, pl := range payloads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id, err := pl.exec(api)
		if err != nil {
			return res, mapError(err)
		}
		res.MessageIDs = append(res.MessageIDs, id)
	}
	res.Timestamp = time.Now()
	return res, nil
}

// file picks the upload source. Inline buffers are uploaded; plain URLs
// are handed to Telegram, which downloads them itself. Sticker ids need no
// file at all.
func (p *Plugin) file(ctx context.Context, caps domain.Capabilities, msg domain.OutgoingMessage) (tgbotapi.RequestFileData, error) {
	t := msg.Content.Type
	if t == domain.ContentSticker && msg.MetaString(domain.MetaStickerID) != "" {
		return nil, nil
	}
	if msg.MetaString(domain.MetaMediaBase64) == "" && msg.Content.MediaURL != "" {
		return tgbotapi.FileURL(msg.Content.MediaURL), nil
	}
	media, err := p.core.Media.Resolve(ctx, msg, caps.MediaLimit(t))
	if err != nil {
		return nil, err
	}
	return tgbotapi.FileBytes{Name: media.FileName, Bytes: media.Data}, nil
}

// SendTyping shows "typing…" for about five seconds; Telegram has no
// call to clear it early.
func (p *Plugin) SendTyping(_ context.Context, instanceID, chatID string) error {
	_, api, err := p.live(instanceID)
	if err != nil {
		return err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return err
	}
	_, err = api.Request(tgbotapi.ChatActionConfig{BaseChat: chat.base(), Action: tgbotapi.ChatTyping})
	return mapError(err)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// renderThinking shows the reasoning tail in an expandable blockquote.
func renderThinking(thinking string) string {
	tail := format.TailRunes(thinking, maxThinkingChars)
	if tail != thinking {
		tail = "..." + tail
	}
	return "<blockquote expandable>🧠 Thinking...\n" + htmlEscaper.Replace(tail) + "</blockquote>"
}

// editor maps frames to parse modes: thinking and final frames are HTML,
// streaming frames plain text.
type editor struct {
	api     botAPI
	chat    chatRef
	replyTo int
}

func frameMode(f stream.Frame) string {
	switch {
	case f.HTML, f.Final:
		return tgbotapi.ModeHTML
	}
	return ""
}

func (e *editor) Send(_ context.Context, f stream.Frame) (string, error) {
	cfg := tgbotapi.MessageConfig{BaseChat: e.chat.base(), Text: f.Text, ParseMode: frameMode(f)}
	cfg.ReplyToMessageID = e.replyTo
	e.replyTo = 0
	plain := cfg
	plain.ParseMode = ""
	plain.Text = plainText(f.Text, cfg.ParseMode)
	id, err := (&payload{op: opSend, config: cfg, plain: plain}).exec(e.api)
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

func (e *editor) Edit(_ context.Context, id string, f stream.Frame) error {
	msgID, err := strconv.Atoi(id)
	if err != nil {
		return err
	}
	mode := frameMode(f)
	pl := &payload{
		op:       opSend,
		config:   editConfig(e.chat, msgID, f.Text, mode),
		plain:    editConfig(e.chat, msgID, plainText(f.Text, mode), ""),
		targetID: id,
	}
	if _, err := pl.exec(e.api); err != nil {
		return mapError(err)
	}
	return nil
}

func (p *Plugin) NewStream(instanceID, chatID, replyTo string) (domain.Stream, error) {
	inst, api, err := p.live(instanceID)
	if err != nil {
		return nil, err
	}
	chat, err := parseChat(chatID)
	if err != nil {
		return nil, err
	}
	reply, _ := strconv.Atoi(replyTo)
	return inst.Streams.New(&editor{api: api, chat: chat, replyTo: reply}, stream.Options{
		Throttle:         p.core.Throttle,
		MaxStreamChars:   stream.DefaultMaxStreamChars,
		MaxMessageLength: maxMessageLength,
		Cursor:           streamCursor,
		Dialect:          format.Telegram,
		RenderThinking:   renderThinking,
		ThinkingDelay:    thinkingDelay,
		Logger:           inst.Logger,
	}), nil
}

// FetchHistory reads messages received since the instance connected; the
// Bot API cannot read older history.
func (p *Plugin) FetchHistory(_ context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.CanonicalMessage) error) (domain.SyncResult, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.SyncResult{}, domain.NotConnected(instanceID)
	}
	return inst.history.Fetch(opts, fn)
}

func (p *Plugin) FetchContacts(_ context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.ContactInfo) error) (domain.SyncResult, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.SyncResult{}, domain.NotConnected(instanceID)
	}
	return emit(inst.dir.contacts(), opts.Limit, fn)
}

func (p *Plugin) FetchGroups(_ context.Context, instanceID string, opts domain.SyncOptions, fn func(domain.GroupInfo) error) (domain.SyncResult, error) {
	inst, ok := p.instances.Get(instanceID)
	if !ok {
		return domain.SyncResult{}, domain.NotConnected(instanceID)
	}
	return emit(inst.dir.groups(), opts.Limit, fn)
}

func emit[T any](items []T, limit int, fn func(T) error) (domain.SyncResult, error) {
	var res domain.SyncResult
	for _, it := range items {
		if limit > 0 && res.Fetched >= limit {
			res.Partial = true
			break
		}
		if err := fn(it); err != nil {
			return res, err
		}
		res.Fetched++
	}
	return res, nil
}
