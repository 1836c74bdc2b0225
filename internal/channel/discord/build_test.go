package discord

import (
	"errors"
	"io"
	"testing"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
)

func TestBuildText_ReplyAndMentions(t *testing.T) {
	msg := domain.OutgoingMessage{
		To:       "c1",
		ReplyTo:  "m0",
		Content:  domain.OutgoingContent{Type: domain.ContentText, Text: "hi"},
		Mentions: []domain.Mention{{ID: "u1"}, {ID: "r1", Type: domain.MentionRole}, {Type: domain.MentionEveryone}},
	}
	pl, err := build(buildInput{msg: msg, channelID: "c1", text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if pl.op != opSend || pl.send.Reference == nil || pl.send.Reference.MessageID != "m0" {
		t.Fatalf("payload = %+v", pl.send)
	}
	am := pl.send.AllowedMentions
	if len(am.Users) != 1 || len(am.Roles) != 1 || len(am.Parse) != 1 {
		t.Errorf("allowed mentions = %+v", am)
	}
}

func TestBuildFile(t *testing.T) {
	msg := domain.OutgoingMessage{To: "c1", Content: domain.OutgoingContent{Type: domain.ContentImage, Caption: "pic"}}
	pl, err := build(buildInput{msg: msg, channelID: "c1", media: channel.Media{Data: []byte("png"), MimeType: "image/png", FileName: "a.png"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pl.send.Files) != 1 || pl.send.Files[0].Name != "a.png" || pl.send.Content != "pic" {
		t.Fatalf("send = %+v", pl.send)
	}
	data, _ := io.ReadAll(pl.send.Files[0].Reader)
	if string(data) != "png" {
		t.Errorf("file body = %q", data)
	}
}

func TestBuildSticker(t *testing.T) {
	msg := domain.OutgoingMessage{
		To:       "c1",
		Content:  domain.OutgoingContent{Type: domain.ContentSticker},
		Metadata: map[string]any{domain.MetaStickerID: "s1"},
	}
	pl, err := build(buildInput{msg: msg, channelID: "c1"})
	if err != nil || len(pl.send.StickerIDs) != 1 || pl.send.StickerIDs[0] != "s1" {
		t.Fatalf("sticker = %+v, %v", pl, err)
	}

	msg.Metadata = nil
	if _, err := build(buildInput{msg: msg, channelID: "c1"}); domain.KindOf(err) != domain.KindSendFailed {
		t.Errorf("sticker without id or media: %v", err)
	}
}

func TestPoll_DefaultDuration(t *testing.T) {
	p := Poll(domain.Poll{Question: "q", Options: []string{"a", "b"}, MultiSelect: true})
	if p.Duration != defaultPollHours || !p.AllowMultiselect || len(p.Answers) != 2 || p.Answers[1].Media.Text != "b" {
		t.Errorf("poll = %+v", p)
	}
	if p := Poll(domain.Poll{Question: "q", Options: []string{"a", "b"}, DurationHours: 3}); p.Duration != 3 {
		t.Errorf("duration = %d", p.Duration)
	}
}

func TestEmbed(t *testing.T) {
	e := Embed(domain.Embed{Title: "t", ImageURL: "https://x/i.png", Footer: "f", Fields: []domain.EmbedField{{Name: "k", Value: "v", Inline: true}}})
	if e.Color != defaultEmbedColor || e.Image == nil || e.Footer.Text != "f" || len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Errorf("embed = %+v", e)
	}
	if e := Embed(domain.Embed{Title: "t", Color: 0xff0000}); e.Color != 0xff0000 || e.Image != nil {
		t.Errorf("explicit colour = %+v", e)
	}
}

func TestBuildReaction(t *testing.T) {
	msg := domain.OutgoingMessage{To: "c1", Content: domain.OutgoingContent{Type: domain.ContentReaction, Emoji: "👍", TargetID: "m1"}}
	pl, err := build(buildInput{msg: msg, channelID: "c1"})
	if err != nil || pl.op != opReact || pl.messageID != "m1" || pl.emoji != "👍" {
		t.Fatalf("reaction = %+v, %v", pl, err)
	}
	msg.Metadata = map[string]any{MetaRemoveReaction: true}
	if pl, _ := build(buildInput{msg: msg, channelID: "c1"}); pl.op != opUnreact {
		t.Errorf("op = %v", pl.op)
	}
}

func TestBuildEditAndDelete(t *testing.T) {
	edit := domain.OutgoingMessage{To: "c1", Content: domain.OutgoingContent{Type: domain.ContentEdit, TargetID: "m1", Text: "x"}}
	pl, err := build(buildInput{msg: edit, channelID: "c1", text: "x"})
	if err != nil || pl.op != opEdit || pl.edit.ID != "m1" || *pl.edit.Content != "x" {
		t.Fatalf("edit = %+v, %v", pl, err)
	}
	del := domain.OutgoingMessage{To: "c1", Content: domain.OutgoingContent{Type: domain.ContentDelete, TargetID: "m1"}}
	if pl, err := build(buildInput{msg: del, channelID: "c1"}); err != nil || pl.op != opDelete {
		t.Errorf("delete = %+v, %v", pl, err)
	}
}

func TestBuild_Unsupported(t *testing.T) {
	msg := domain.OutgoingMessage{To: "c1", Content: domain.OutgoingContent{Type: domain.ContentLocation}}
	_, err := build(buildInput{msg: msg, channelID: "c1"})
	var ce *domain.ChannelError
	if !errors.As(err, &ce) || ce.Reason != domain.ReasonUnsupportedContent {
		t.Errorf("got %v", err)
	}
}

func TestMentionToken(t *testing.T) {
	tests := map[domain.MentionType]string{
		domain.MentionUser:     "<@1>",
		domain.MentionRole:     "<@&1>",
		domain.MentionChannel:  "<#1>",
		domain.MentionEveryone: "@everyone",
		domain.MentionHere:     "@here",
	}
	for typ, want := range tests {
		if got := mentionToken(domain.Mention{ID: "1", Type: typ}); got != want {
			t.Errorf("%s: got %q, want %q", typ, got, want)
		}
	}
}

func TestTargetChannel_Thread(t *testing.T) {
	msg := domain.OutgoingMessage{To: "c1", Metadata: map[string]any{domain.MetaThreadID: "t1"}}
	if got := targetChannel(msg); got != "t1" {
		t.Errorf("channel = %s", got)
	}
	msg.Metadata = nil
	if got := targetChannel(msg); got != "c1" {
		t.Errorf("channel = %s", got)
	}
}
