package discord

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"omnigate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var when = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func userMessage(mut func(m *discordgo.Message)) *discordgo.Message {
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Type:      discordgo.MessageTypeDefault,
		Author:    &discordgo.User{ID: "u1", Username: "ana", GlobalName: "Ana"},
		Timestamp: when,
	}
	if mut != nil {
		mut(m)
	}
	return m
}

func TestExtract_Content(t *testing.T) {
	tests := []struct {
		name     string
		mut      func(m *discordgo.Message)
		wantType domain.ContentType
		wantText string
	}{
		{"text", func(m *discordgo.Message) { m.Content = "hello" }, domain.ContentText, "hello"},
		{"image attachment", func(m *discordgo.Message) {
			m.Content = "look"
			m.Attachments = []*discordgo.MessageAttachment{{ID: "a1", URL: "https://cdn/x.png", Filename: "x.png", ContentType: "image/png", Size: 10}}
		}, domain.ContentImage, "look"},
		{"untyped attachment", func(m *discordgo.Message) {
			m.Attachments = []*discordgo.MessageAttachment{{ID: "a1", Filename: "x.bin"}}
		}, domain.ContentDocument, ""},
		{"audio attachment", func(m *discordgo.Message) {
			m.Attachments = []*discordgo.MessageAttachment{{ID: "a1", ContentType: "audio/ogg"}}
		}, domain.ContentAudio, ""},
		{"sticker", func(m *discordgo.Message) {
			m.StickerItems = []*discordgo.StickerItem{{ID: "s1", Name: "wave", FormatType: discordgo.StickerFormatTypePNG}}
		}, domain.ContentSticker, "wave"},
		{"poll wins over text", func(m *discordgo.Message) {
			m.Content = "ignored"
			m.Poll = &discordgo.Poll{
				Question: discordgo.PollMedia{Text: "lunch?"},
				Answers:  []discordgo.PollAnswer{{Media: &discordgo.PollMedia{Text: "pizza"}}, {Media: &discordgo.PollMedia{Text: "sushi"}}},
			}
		}, domain.ContentPoll, "lunch?"},
		{"embed only", func(m *discordgo.Message) {
			m.Embeds = []*discordgo.MessageEmbed{{Title: "Card"}}
		}, domain.ContentText, "Card"},
		{"empty embed", func(m *discordgo.Message) {
			m.Embeds = []*discordgo.MessageEmbed{{}}
		}, domain.ContentText, "[Embed]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Extract("dc-1", userMessage(tt.mut))
			if msg == nil {
				t.Fatal("nil message")
			}
			if msg.ContentType != tt.wantType || msg.Text != tt.wantText {
				t.Errorf("got %s %q, want %s %q", msg.ContentType, msg.Text, tt.wantType, tt.wantText)
			}
			if msg.SenderName != "Ana" || !msg.IsGroup || !msg.Timestamp.Equal(when) {
				t.Errorf("envelope = %+v", msg)
			}
		})
	}
}

func TestExtract_AttachmentDefaults(t *testing.T) {
	msg := Extract("dc-1", userMessage(func(m *discordgo.Message) {
		m.Attachments = []*discordgo.MessageAttachment{{ID: "a1", Filename: "x.bin", Size: 42}}
	}))
	if msg.Media.MimeType != "application/octet-stream" || msg.Media.Size != 42 {
		t.Errorf("media = %+v", msg.Media)
	}
}

func TestExtract_Poll(t *testing.T) {
	msg := Extract("dc-1", userMessage(func(m *discordgo.Message) {
		m.Poll = &discordgo.Poll{
			Question:         discordgo.PollMedia{Text: "q"},
			Answers:          []discordgo.PollAnswer{{Media: &discordgo.PollMedia{Text: "a"}}, {Media: &discordgo.PollMedia{}}},
			AllowMultiselect: true,
		}
	}))
	if msg.Poll == nil || len(msg.Poll.Options) != 1 || !msg.Poll.MultiSelect {
		t.Errorf("poll = %+v", msg.Poll)
	}
}

func TestExtract_Skips(t *testing.T) {
	tests := map[string]func(m *discordgo.Message){
		"bot author":     func(m *discordgo.Message) { m.Content = "x"; m.Author.Bot = true },
		"system message": func(m *discordgo.Message) { m.Content = "x"; m.Type = discordgo.MessageTypeGuildMemberJoin },
		"empty":          nil,
	}
	for name, mut := range tests {
		if msg := Extract("dc-1", userMessage(mut)); msg != nil {
			t.Errorf("%s: expected nil, got %+v", name, msg)
		}
	}
}

func TestExtract_Reply(t *testing.T) {
	msg := Extract("dc-1", userMessage(func(m *discordgo.Message) {
		m.Type = discordgo.MessageTypeReply
		m.Content = "yes"
		m.MessageReference = &discordgo.MessageReference{MessageID: "m0"}
	}))
	if msg == nil || msg.ReplyTo != "m0" {
		t.Errorf("reply = %+v", msg)
	}
}

func TestExtractEdit(t *testing.T) {
	now := when.Add(time.Minute)
	if ExtractEdit("dc-1", userMessage(func(m *discordgo.Message) { m.Content = "x" }), now) != nil {
		t.Error("update without edit timestamp should be skipped")
	}
	edited := when.Add(30 * time.Second)
	msg := ExtractEdit("dc-1", userMessage(func(m *discordgo.Message) {
		m.Content = "fixed"
		m.EditedTimestamp = &edited
	}), now)
	if msg == nil || msg.ContentType != domain.ContentEdit || msg.TargetID != "m1" || msg.Text != "fixed" {
		t.Fatalf("edit = %+v", msg)
	}
	if msg.ExternalID == "m1" || !msg.Timestamp.Equal(edited) {
		t.Errorf("edit envelope = %+v", msg)
	}
}

func TestExtractDelete(t *testing.T) {
	gone := &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1"}
	msg := ExtractDelete("dc-1", gone, nil, when)
	if msg == nil || !msg.Deleted || msg.TargetID != "m1" || msg.SenderID != "" {
		t.Fatalf("delete = %+v", msg)
	}

	msg = ExtractDelete("dc-1", gone, userMessage(nil), when)
	if msg.SenderID != "u1" {
		t.Errorf("cached author not used: %+v", msg)
	}

	bot := userMessage(func(m *discordgo.Message) { m.Author.Bot = true })
	if ExtractDelete("dc-1", gone, bot, when) != nil {
		t.Error("bot message deletion should be skipped")
	}
}

func TestExtractReaction(t *testing.T) {
	r := &discordgo.MessageReaction{UserID: "u1", MessageID: "m1", ChannelID: "c1", Emoji: discordgo.Emoji{Name: "👍"}}
	msg := ExtractReaction("dc-1", r, false, when)
	if msg.Text != "👍" || msg.TargetID != "m1" || msg.ContentType != domain.ContentReaction {
		t.Errorf("reaction = %+v", msg)
	}
	if removed := ExtractReaction("dc-1", r, true, when); removed.Text != "" {
		t.Errorf("removal glyph = %q", removed.Text)
	}

	custom := &discordgo.MessageReaction{UserID: "u1", MessageID: "m1", Emoji: discordgo.Emoji{ID: "99", Name: "party"}}
	if msg := ExtractReaction("dc-1", custom, false, when); msg.Text != "<:party:99>" {
		t.Errorf("custom emoji = %q", msg.Text)
	}
}
