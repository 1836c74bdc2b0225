package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"omnigate/internal/domain"
)

// Extract normalizes a created message. Bot authors (this bot included)
// and system messages yield nil.
func Extract(instanceID string, m *discordgo.Message) *domain.CanonicalMessage {
	if m == nil || m.Author == nil || m.Author.Bot {
		return nil
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return nil
	}
	out := envelope(instanceID, m)
	if !extractContent(m, out) {
		return nil
	}
	if m.MessageReference != nil {
		out.ReplyTo = m.MessageReference.MessageID
	}
	return out
}

func envelope(instanceID string, m *discordgo.Message) *domain.CanonicalMessage {
	out := &domain.CanonicalMessage{
		ExternalID: m.ID,
		InstanceID: instanceID,
		Platform:   domain.PlatformDiscord,
		ChatID:     m.ChannelID,
		IsGroup:    m.GuildID != "",
		Timestamp:  m.Timestamp,
		Raw:        m,
	}
	if m.Author != nil {
		out.SenderID = m.Author.ID
		out.SenderName = displayName(m.Author)
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return out
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// extractContent applies the content order: poll, attachment, sticker,
// text, then the first embed's description.
func extractContent(m *discordgo.Message, out *domain.CanonicalMessage) bool {
	switch {
	case m.Poll != nil:
		poll := &domain.Poll{Question: m.Poll.Question.Text, MultiSelect: m.Poll.AllowMultiselect}
		for _, a := range m.Poll.Answers {
			if a.Media != nil && a.Media.Text != "" {
				poll.Options = append(poll.Options, a.Media.Text)
			}
		}
		out.ContentType = domain.ContentPoll
		out.Text = poll.Question
		out.Poll = poll
	case len(m.Attachments) > 0:
		a := m.Attachments[0]
		mimeType := a.ContentType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		out.ContentType = attachmentType(mimeType)
		out.Text = m.Content
		out.Media = &domain.MediaRef{
			ID:       a.ID,
			URL:      a.URL,
			MimeType: mimeType,
			FileName: a.Filename,
			Size:     int64(a.Size),
		}
	case len(m.StickerItems) > 0:
		s := m.StickerItems[0]
		out.ContentType = domain.ContentSticker
		out.Text = s.Name
		out.Media = &domain.MediaRef{
			ID:       s.ID,
			URL:      fmt.Sprintf("https://media.discordapp.net/stickers/%s.png", s.ID),
			MimeType: "image/png",
			Animated: s.FormatType != discordgo.StickerFormatTypePNG,
		}
	case m.Content != "":
		out.ContentType = domain.ContentText
		out.Text = m.Content
	case len(m.Embeds) > 0:
		e := m.Embeds[0]
		out.ContentType = domain.ContentText
		out.Text = firstNonEmpty(e.Description, e.Title, "[Embed]")
	default:
		return false
	}
	return true
}

func attachmentType(mimeType string) domain.ContentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.ContentImage
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.ContentAudio
	case strings.HasPrefix(mimeType, "video/"):
		return domain.ContentVideo
	}
	return domain.ContentDocument
}

// ExtractEdit synthesizes an edit event. Updates that only resolve link
// embeds carry no edit timestamp and are skipped.
func ExtractEdit(instanceID string, m *discordgo.Message, now time.Time) *domain.CanonicalMessage {
	if m == nil || m.Author == nil || m.Author.Bot || m.EditedTimestamp == nil {
		return nil
	}
	out := envelope(instanceID, m)
	out.ExternalID = fmt.Sprintf("%s-edit-%d", m.ID, now.UnixMilli())
	out.ContentType = domain.ContentEdit
	out.TargetID = m.ID
	out.Text = m.Content
	out.Timestamp = *m.EditedTimestamp
	return out
}

// ExtractDelete synthesizes a delete event. before is the cached message
// when the state cache had it.
func ExtractDelete(instanceID string, m *discordgo.Message, before *discordgo.Message, now time.Time) *domain.CanonicalMessage {
	if m == nil {
		return nil
	}
	out := &domain.CanonicalMessage{
		ExternalID:  fmt.Sprintf("%s-delete-%d", m.ID, now.UnixMilli()),
		InstanceID:  instanceID,
		Platform:    domain.PlatformDiscord,
		ChatID:      m.ChannelID,
		IsGroup:     m.GuildID != "",
		ContentType: domain.ContentDelete,
		TargetID:    m.ID,
		Deleted:     true,
		Timestamp:   now,
		Raw:         m,
	}
	if before != nil && before.Author != nil {
		if before.Author.Bot {
			return nil
		}
		out.SenderID = before.Author.ID
		out.SenderName = displayName(before.Author)
	}
	return out
}

// ExtractReaction normalizes a reaction change; removals carry an empty
// glyph.
func ExtractReaction(instanceID string, r *discordgo.MessageReaction, removed bool, now time.Time) *domain.CanonicalMessage {
	if r == nil || r.MessageID == "" {
		return nil
	}
	glyph := r.Emoji.Name
	if r.Emoji.ID != "" {
		glyph = r.Emoji.MessageFormat()
	}
	if removed {
		glyph = ""
	}
	return &domain.CanonicalMessage{
		ExternalID:  fmt.Sprintf("%s-reaction-%s-%d", r.MessageID, r.UserID, now.UnixMilli()),
		InstanceID:  instanceID,
		Platform:    domain.PlatformDiscord,
		ChatID:      r.ChannelID,
		SenderID:    r.UserID,
		IsGroup:     r.GuildID != "",
		ContentType: domain.ContentReaction,
		TargetID:    r.MessageID,
		Text:        glyph,
		Timestamp:   now,
		Raw:         r,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
