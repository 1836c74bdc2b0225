package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/domain"
)

func outgoing(t domain.ContentType, mut func(m *domain.OutgoingMessage)) domain.OutgoingMessage {
	m := domain.OutgoingMessage{To: "42", Content: domain.OutgoingContent{Type: t}}
	if mut != nil {
		mut(&m)
	}
	return m
}

func TestParseChat(t *testing.T) {
	if c, err := parseChat("-1001"); err != nil || c.id != -1001 || c.param() != "-1001" {
		t.Errorf("numeric = %+v %v", c, err)
	}
	if c, err := parseChat("@news"); err != nil || c.username != "@news" || c.param() != "@news" {
		t.Errorf("username = %+v %v", c, err)
	}
	if _, err := parseChat("abc"); err == nil {
		t.Error("expected error")
	}
}

func TestBuildText(t *testing.T) {
	msg := outgoing(domain.ContentText, func(m *domain.OutgoingMessage) { m.ReplyTo = "5" })
	pl, err := build(buildInput{msg: msg, chat: chatRef{id: 42}, text: "<b>hi</b> &amp; bye"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := pl.config.(tgbotapi.MessageConfig)
	if cfg.ParseMode != tgbotapi.ModeHTML || cfg.ReplyToMessageID != 5 || cfg.ChatID != 42 {
		t.Errorf("config = %+v", cfg)
	}
	if plain := pl.plain.(tgbotapi.MessageConfig); plain.ParseMode != "" || plain.Text != "hi & bye" {
		t.Errorf("plain = %+v", plain)
	}

	msg.Metadata = map[string]any{domain.MetaFormatMode: domain.FormatPassthrough}
	pl, _ = build(buildInput{msg: msg, chat: chatRef{id: 42}, text: "*hi*"})
	if cfg := pl.config.(tgbotapi.MessageConfig); cfg.ParseMode != "" {
		t.Errorf("passthrough parse mode = %q", cfg.ParseMode)
	}
}

func TestBuildMedia(t *testing.T) {
	file := tgbotapi.FileURL("https://x/a.ogg")
	voice := outgoing(domain.ContentAudio, func(m *domain.OutgoingMessage) { m.Content.MimeType = "audio/ogg" })
	pl, err := build(buildInput{msg: voice, chat: chatRef{id: 42}, file: file})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pl.config.(tgbotapi.VoiceConfig); !ok {
		t.Errorf("ogg audio built %T", pl.config)
	}

	song := outgoing(domain.ContentAudio, func(m *domain.OutgoingMessage) { m.Content.MimeType = "audio/mpeg" })
	if pl, _ := build(buildInput{msg: song, chat: chatRef{id: 42}, file: file}); pl != nil {
		if _, ok := pl.config.(tgbotapi.AudioConfig); !ok {
			t.Errorf("mp3 audio built %T", pl.config)
		}
	}

	photo := outgoing(domain.ContentImage, func(m *domain.OutgoingMessage) { m.Content.Caption = "**nice**" })
	pl, _ = build(buildInput{msg: photo, chat: chatRef{id: 42}, file: file})
	cfg := pl.config.(tgbotapi.PhotoConfig)
	if cfg.Caption != "<b>nice</b>" || cfg.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("photo = %+v", cfg)
	}
}

func TestBuildSticker(t *testing.T) {
	msg := outgoing(domain.ContentSticker, func(m *domain.OutgoingMessage) {
		m.Metadata = map[string]any{domain.MetaStickerID: "CAAD"}
	})
	pl, err := build(buildInput{msg: msg, chat: chatRef{id: 42}})
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := pl.config.(tgbotapi.StickerConfig).File.(tgbotapi.FileID); !ok || f != "CAAD" {
		t.Errorf("sticker file = %v", pl.config.(tgbotapi.StickerConfig).File)
	}
	if _, err := build(buildInput{msg: outgoing(domain.ContentSticker, nil), chat: chatRef{id: 42}}); err == nil {
		t.Error("sticker without source should fail")
	}
}

func TestBuildContactAndLocation(t *testing.T) {
	contact := outgoing(domain.ContentContact, func(m *domain.OutgoingMessage) {
		m.Content.Contact = &domain.Contact{Name: "Bo Ng", Phone: "+5511"}
	})
	pl, err := build(buildInput{msg: contact, chat: chatRef{id: 42}})
	if err != nil {
		t.Fatal(err)
	}
	if c := pl.config.(tgbotapi.ContactConfig); c.FirstName != "Bo" || c.LastName != "Ng" {
		t.Errorf("contact = %+v", c)
	}

	venue := outgoing(domain.ContentLocation, func(m *domain.OutgoingMessage) {
		m.Content.Location = &domain.Location{Latitude: 1, Longitude: 2, Name: "Cafe"}
	})
	if pl, _ := build(buildInput{msg: venue, chat: chatRef{id: 42}}); pl != nil {
		if _, ok := pl.config.(tgbotapi.VenueConfig); !ok {
			t.Errorf("named location built %T", pl.config)
		}
	}
	point := outgoing(domain.ContentLocation, func(m *domain.OutgoingMessage) {
		m.Content.Location = &domain.Location{Latitude: 1, Longitude: 2}
	})
	if pl, _ := build(buildInput{msg: point, chat: chatRef{id: 42}}); pl != nil {
		if _, ok := pl.config.(tgbotapi.LocationConfig); !ok {
			t.Errorf("bare location built %T", pl.config)
		}
	}
}

func TestBuildPoll(t *testing.T) {
	msg := outgoing(domain.ContentPoll, func(m *domain.OutgoingMessage) {
		m.Content.Poll = &domain.Poll{Question: "q", Options: []string{"a", "b"}, MultiSelect: true}
	})
	pl, err := build(buildInput{msg: msg, chat: chatRef{id: 42}})
	if err != nil {
		t.Fatal(err)
	}
	if p := pl.config.(tgbotapi.SendPollConfig); !p.AllowsMultipleAnswers || len(p.Options) != 2 {
		t.Errorf("poll = %+v", p)
	}
}

func TestBuildReaction(t *testing.T) {
	msg := outgoing(domain.ContentReaction, func(m *domain.OutgoingMessage) {
		m.Content.Emoji = "👍"
		m.Content.TargetID = "7"
	})
	pl, err := build(buildInput{msg: msg, chat: chatRef{username: "@news"}})
	if err != nil {
		t.Fatal(err)
	}
	if pl.op != opRaw || pl.endpoint != "setMessageReaction" {
		t.Fatalf("payload = %+v", pl)
	}
	if pl.params["chat_id"] != "@news" || pl.params["message_id"] != "7" || pl.params["reaction"] != `[{"type":"emoji","emoji":"👍"}]` {
		t.Errorf("params = %v", pl.params)
	}

	msg.Metadata = map[string]any{MetaRemoveReaction: true}
	pl, _ = build(buildInput{msg: msg, chat: chatRef{id: 42}})
	if pl.params["reaction"] != "[]" {
		t.Errorf("removal reaction = %s", pl.params["reaction"])
	}

	msg.Content.TargetID = "abc"
	if _, err := build(buildInput{msg: msg, chat: chatRef{id: 42}}); err == nil {
		t.Error("non-numeric target should fail")
	}
}

func TestBuildEditAndDelete(t *testing.T) {
	edit := outgoing(domain.ContentEdit, func(m *domain.OutgoingMessage) {
		m.Content.TargetID = "7"
		m.Content.Text = "v2"
	})
	pl, err := build(buildInput{msg: edit, chat: chatRef{id: 42}, text: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg := pl.config.(tgbotapi.EditMessageTextConfig); cfg.MessageID != 7 || cfg.Text != "v2" {
		t.Errorf("edit = %+v", cfg)
	}

	del := outgoing(domain.ContentDelete, func(m *domain.OutgoingMessage) { m.Content.TargetID = "7" })
	pl, err = build(buildInput{msg: del, chat: chatRef{id: 42}})
	if err != nil || pl.op != opRequest || pl.config.(tgbotapi.DeleteMessageConfig).MessageID != 7 {
		t.Errorf("delete = %+v %v", pl, err)
	}
}

func TestBuild_Unsupported(t *testing.T) {
	_, err := build(buildInput{msg: outgoing(domain.ContentEmbed, nil), chat: chatRef{id: 42}})
	var ce *domain.ChannelError
	if !errors.As(err, &ce) || ce.Reason != domain.ReasonUnsupportedContent {
		t.Errorf("got %v", err)
	}
}

func TestMentionToken(t *testing.T) {
	if got := mentionToken(domain.Mention{ID: "@ana"}); got != "@ana" {
		t.Errorf("username = %q", got)
	}
	if got := mentionToken(domain.Mention{ID: "42", Name: "Ana"}); got != "[Ana](tg://user?id=42)" {
		t.Errorf("inline = %q", got)
	}
}
