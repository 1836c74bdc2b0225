package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/bus"
	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/lifecycle"
)

type nopSession struct{}

func (nopSession) Open(context.Context) error      { return nil }
func (nopSession) Close()                          {}
func (nopSession) ClearAuth(context.Context) error { return nil }

var parseErr = &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: can't parse entities: unclosed bold"}

type fakeBot struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	raw      []tgbotapi.Params
	next     int
	// rejectMarkup fails every config that carries a parse mode.
	rejectMarkup bool
	failErr      error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failErr != nil {
		return tgbotapi.Message{}, f.failErr
	}
	if mc, ok := c.(tgbotapi.MessageConfig); ok && f.rejectMarkup && mc.ParseMode != "" {
		return tgbotapi.Message{}, parseErr
	}
	f.sent = append(f.sent, c)
	f.next++
	return tgbotapi.Message{MessageID: 100 + f.next}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) MakeRequest(_ string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.raw = append(f.raw, params)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestPlugin(t *testing.T, cfg domain.InstanceConfig) (*Plugin, *instance, *bus.EventBus) {
	t.Helper()
	eb := bus.NewEventBus(testLogger(), 0)
	p := New(Config{Config: channel.Config{Bus: eb, Logger: testLogger()}})
	inst := p.newInstance("tg-1", cfg)
	t.Cleanup(func() {
		inst.Machine.Close()
		inst.Teardown()
	})
	return p, inst, eb
}

func connected(t *testing.T, p *Plugin, inst *instance) *fakeBot {
	t.Helper()
	bot := &fakeBot{}
	inst.api = bot
	inst.Machine = p.core.NewMachine(inst.ID, p.core.Policy, nopSession{})
	if err := inst.Machine.Connect(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	inst.Machine.OnConnected()
	p.instances.GetOrCreate(inst.ID, func() *instance { return inst })
	return bot
}

func messageUpdate(m *tgbotapi.Message) updateEvent {
	return updateEvent{update: update{Update: tgbotapi.Update{Message: m}}}
}

func TestHandle_MessagesAndDirectory(t *testing.T) {
	p, inst, eb := newTestPlugin(t, domain.InstanceConfig{})
	p.handle(inst, messageUpdate(incoming(group, func(m *tgbotapi.Message) { m.Text = "hi" })))
	p.handle(inst, updateEvent{update: update{Update: tgbotapi.Update{
		EditedMessage: incoming(group, func(m *tgbotapi.Message) { m.Text = "hi!"; m.EditDate = int(when.Unix()) + 5 }),
	}}})

	msgs := eb.Replay(domain.TopicMessageReceived, time.Time{})
	if len(msgs) != 2 {
		t.Fatalf("events = %d", len(msgs))
	}
	if got := msgs[1].Payload.(domain.CanonicalMessage); got.ContentType != domain.ContentEdit {
		t.Errorf("second event = %+v", got)
	}
	if inst.history.Len() != 2 {
		t.Errorf("history = %d", inst.history.Len())
	}
	groups := inst.dir.groups()
	if len(groups) != 1 || groups[0].ID != "-1001" || groups[0].Name != "Team" {
		t.Errorf("groups = %+v", groups)
	}
	if contacts := inst.dir.contacts(); len(contacts) != 1 || contacts[0].Name != "Ana Lima" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestHandle_AllowListByUsername(t *testing.T) {
	p, inst, eb := newTestPlugin(t, domain.InstanceConfig{AllowFrom: []string{"@ana"}})
	p.handle(inst, messageUpdate(incoming(dm, func(m *tgbotapi.Message) { m.Text = "hi" })))
	p.handle(inst, messageUpdate(incoming(dm, func(m *tgbotapi.Message) {
		m.Text = "hey"
		m.From = &tgbotapi.User{ID: 77, FirstName: "Bo", UserName: "bo"}
	})))
	msgs := eb.Replay(domain.TopicMessageReceived, time.Time{})
	if len(msgs) != 1 || msgs[0].Payload.(domain.CanonicalMessage).Text != "hi" {
		t.Errorf("events = %+v", msgs)
	}
	if inst.history.Len() != 1 {
		t.Errorf("filtered message stored in history")
	}
}

func TestHandle_Reactions(t *testing.T) {
	p, inst, eb := newTestPlugin(t, domain.InstanceConfig{})
	p.handle(inst, updateEvent{update: update{MessageReaction: &reactionUpdate{
		Chat: *group, MessageID: 7, User: ana, Date: int(when.Unix()),
		OldReaction: []reaction{{Type: "emoji", Emoji: "👎"}},
		NewReaction: []reaction{{Type: "emoji", Emoji: "👍"}},
	}}})
	if n := len(eb.Replay(domain.TopicReactionReceived, time.Time{})); n != 1 {
		t.Errorf("reactions = %d", n)
	}
	if n := len(eb.Replay(domain.TopicReactionRemoved, time.Time{})); n != 1 {
		t.Errorf("removals = %d", n)
	}
}

func TestHandle_ReadyAndUnauthorized(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	inst.Machine = p.core.NewMachine(inst.ID, p.core.Policy, nopSession{})
	if err := inst.Machine.Connect(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	p.handle(inst, readyEvent{self: tgbotapi.User{ID: 1, UserName: "omnigate_bot", IsBot: true}})
	if st := inst.Status(); st.State != domain.StateConnected {
		t.Fatalf("state = %s", st.State)
	}
	if inst.self.UserName != "omnigate_bot" {
		t.Errorf("self = %+v", inst.self)
	}

	p.handle(inst, closedEvent{reason: "poll updates", loggedOut: unauthorized(&tgbotapi.Error{Code: http.StatusUnauthorized, Message: "Unauthorized"})})
	if st := inst.Status(); st.State != domain.StateDisconnected || !st.Terminal {
		t.Errorf("status = %+v", st)
	}
}

func TestHandle_DropsStaleGeneration(t *testing.T) {
	p, inst, eb := newTestPlugin(t, domain.InstanceConfig{})
	inst.session.gen.Store(2)
	ev := messageUpdate(incoming(dm, func(m *tgbotapi.Message) { m.Text = "old" }))
	ev.epoch = 1
	p.handle(inst, ev)
	if n := len(eb.Replay(domain.TopicMessageReceived, time.Time{})); n != 0 {
		t.Errorf("stale event published")
	}
}

func TestSession_EmptyTokenIsLoggedOut(t *testing.T) {
	s := &session{instanceID: "tg-1", logger: testLogger()}
	if err := s.Open(context.Background()); !errors.Is(err, lifecycle.ErrLoggedOut) {
		t.Errorf("err = %v", err)
	}
}

func TestUpdateDecode_MessageReaction(t *testing.T) {
	raw := `[
		{"update_id":5,"message":{"message_id":7,"date":1,"chat":{"id":42,"type":"private"},"from":{"id":42,"first_name":"Ana"},"text":"hi"}},
		{"update_id":6,"message_reaction":{"chat":{"id":-1001,"type":"supergroup"},"message_id":7,"user":{"id":42,"first_name":"Ana"},"date":1,
			"old_reaction":[],"new_reaction":[{"type":"emoji","emoji":"👍"}]}}
	]`
	var updates []update
	if err := json.Unmarshal([]byte(raw), &updates); err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 || updates[0].Message == nil || updates[0].Message.Text != "hi" {
		t.Fatalf("updates = %+v", updates)
	}
	r := updates[1].MessageReaction
	if r == nil || updates[1].UpdateID != 6 || len(r.NewReaction) != 1 || r.NewReaction[0].Emoji != "👍" {
		t.Errorf("reaction update = %+v", r)
	}
}

func TestSendMessage_NotConnected(t *testing.T) {
	p, _, eb := newTestPlugin(t, domain.InstanceConfig{})
	res := p.SendMessage(context.Background(), "tg-9", domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: domain.ContentText, Text: "hi"}})
	if res.Success || res.ErrorCode != string(domain.KindNotConnected) {
		t.Errorf("res = %+v", res)
	}
	if n := len(eb.Replay(domain.TopicMessageFailed, time.Time{})); n != 1 {
		t.Errorf("failed events = %d", n)
	}
}

func TestSendMessage_PlainFallback(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	bot := connected(t, p, inst)
	bot.rejectMarkup = true

	res := p.SendMessage(context.Background(), "tg-1", domain.OutgoingMessage{
		To: "42", Content: domain.OutgoingContent{Type: domain.ContentText, Text: "**bold** a < b"},
	})
	if !res.Success || res.MessageID != "101" {
		t.Fatalf("res = %+v", res)
	}
	mc := bot.sent[0].(tgbotapi.MessageConfig)
	if mc.ParseMode != "" {
		t.Errorf("fallback kept parse mode %q", mc.ParseMode)
	}
	if mc.Text != "bold a < b" {
		t.Errorf("fallback text = %q", mc.Text)
	}
}

func TestSendMessage_ChunksLongText(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	bot := connected(t, p, inst)

	res := p.SendMessage(context.Background(), "tg-1", domain.OutgoingMessage{
		To: "42", ReplyTo: "5",
		Content: domain.OutgoingContent{Type: domain.ContentText, Text: strings.Repeat("a", maxMessageLength+100)},
	})
	if !res.Success || len(res.MessageIDs) != 2 {
		t.Fatalf("res = %+v", res)
	}
	first, second := bot.sent[0].(tgbotapi.MessageConfig), bot.sent[1].(tgbotapi.MessageConfig)
	if first.ReplyToMessageID != 5 || second.ReplyToMessageID != 0 {
		t.Error("only the first chunk should reply")
	}
}

func TestSendMessage_Operations(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	bot := connected(t, p, inst)
	ctx := context.Background()

	res := p.SendMessage(ctx, "tg-1", domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: domain.ContentImage, MediaURL: "https://x/a.png"}})
	if !res.Success {
		t.Fatalf("image: %+v", res)
	}
	if f, ok := bot.sent[0].(tgbotapi.PhotoConfig).File.(tgbotapi.FileURL); !ok || f != "https://x/a.png" {
		t.Errorf("photo file = %v", bot.sent[0].(tgbotapi.PhotoConfig).File)
	}

	res = p.SendMessage(ctx, "tg-1", domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: domain.ContentDelete, TargetID: "9"}})
	if !res.Success || res.MessageID != "9" || len(bot.requests) != 1 {
		t.Errorf("delete: %+v", res)
	}

	res = p.SendMessage(ctx, "tg-1", domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: domain.ContentReaction, TargetID: "9", Emoji: "🔥"}})
	if !res.Success || len(bot.raw) != 1 || bot.raw[0]["message_id"] != "9" {
		t.Errorf("reaction: %+v %v", res, bot.raw)
	}

	res = p.SendMessage(ctx, "tg-1", domain.OutgoingMessage{To: "team", Content: domain.OutgoingContent{Type: domain.ContentText, Text: "x"}})
	if res.Success || res.ErrorCode != string(domain.ReasonMissingField) {
		t.Errorf("bad chat: %+v", res)
	}
}

func TestSendMessage_MapsAPIErrors(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	bot := connected(t, p, inst)
	bot.failErr = &tgbotapi.Error{Code: http.StatusForbidden, Message: "Forbidden: bot was blocked by the user"}

	res := p.SendMessage(context.Background(), "tg-1", domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: domain.ContentText, Text: "hi"}})
	if res.Success || res.Retryable || !strings.HasPrefix(res.ErrorCode, string(domain.KindAuthFailed)) {
		t.Errorf("res = %+v", res)
	}
}

func TestSendTyping(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	bot := connected(t, p, inst)
	if err := p.SendTyping(context.Background(), "tg-1", "-1001"); err != nil {
		t.Fatal(err)
	}
	if a, ok := bot.requests[0].(tgbotapi.ChatActionConfig); !ok || a.Action != tgbotapi.ChatTyping || a.ChatID != -1001 {
		t.Errorf("requests = %+v", bot.requests)
	}
}

func TestFetch_FromSessionBuffers(t *testing.T) {
	p, inst, _ := newTestPlugin(t, domain.InstanceConfig{})
	p.instances.GetOrCreate(inst.ID, func() *instance { return inst })
	for i, txt := range []string{"a", "b", "c"} {
		p.handle(inst, messageUpdate(incoming(group, func(m *tgbotapi.Message) {
			m.MessageID = 10 + i
			m.Text = txt
			m.Date = int(when.Unix()) + i
		})))
	}

	var got []string
	res, err := p.FetchHistory(context.Background(), "tg-1", domain.SyncOptions{Limit: 2}, func(m domain.CanonicalMessage) error {
		got = append(got, m.Text)
		return nil
	})
	if err != nil || res.Fetched != 2 || !res.Partial || strings.Join(got, "") != "bc" {
		t.Errorf("history = %v %+v %v", got, res, err)
	}

	var groups []domain.GroupInfo
	if _, err := p.FetchGroups(context.Background(), "tg-1", domain.SyncOptions{}, func(g domain.GroupInfo) error {
		groups = append(groups, g)
		return nil
	}); err != nil || len(groups) != 1 {
		t.Errorf("groups = %+v %v", groups, err)
	}

	if _, err := p.FetchContacts(context.Background(), "tg-9", domain.SyncOptions{}, func(domain.ContactInfo) error { return nil }); domain.KindOf(err) != domain.KindNotConnected {
		t.Errorf("unknown instance err = %v", err)
	}
}

func TestRenderThinking(t *testing.T) {
	got := renderThinking("a<b")
	if got != "<blockquote expandable>🧠 Thinking...\na&lt;b</blockquote>" {
		t.Errorf("short = %q", got)
	}
	long := renderThinking(strings.Repeat("x", maxThinkingChars+10))
	if !strings.Contains(long, "..."+strings.Repeat("x", maxThinkingChars)+"</blockquote>") {
		t.Errorf("long thinking not truncated to its tail")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err       error
		kind      domain.Kind
		retryable bool
	}{
		{&tgbotapi.Error{Code: 401, Message: "Unauthorized"}, domain.KindInvalidCredential, false},
		{&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}, domain.KindRateLimited, true},
		{&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, domain.KindNotFound, false},
		{errors.New("connection reset"), domain.KindSendFailed, true},
	}
	for _, tt := range tests {
		err := mapError(tt.err)
		var ce *domain.ChannelError
		if !errors.As(err, &ce) || ce.Kind != tt.kind || ce.Retryable != tt.retryable {
			t.Errorf("mapError(%v) = %+v", tt.err, err)
		}
	}
	var ce *domain.ChannelError
	errors.As(mapError(&tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}), &ce)
	if ce.RetryAfter != 3*time.Second {
		t.Errorf("retry after = %s", ce.RetryAfter)
	}
}
