package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/domain"
)

const unsupportedText = "[Unsupported message type]"

// Extract normalizes a new or edited message. Messages from other bots
// yield nil.
func Extract(instanceID string, m *tgbotapi.Message, edited bool) *domain.CanonicalMessage {
	if m == nil || m.Chat == nil {
		return nil
	}
	if m.From != nil && m.From.IsBot {
		return nil
	}
	out := &domain.CanonicalMessage{
		ExternalID: strconv.Itoa(m.MessageID),
		InstanceID: instanceID,
		Platform:   domain.PlatformTelegram,
		ChatID:     chatID(m.Chat),
		IsGroup:    !m.Chat.IsPrivate(),
		Timestamp:  time.Unix(int64(m.Date), 0),
		Raw:        m,
	}
	switch {
	case m.From != nil:
		out.SenderID = strconv.FormatInt(m.From.ID, 10)
		out.SenderName = userName(m.From)
	case m.SenderChat != nil:
		out.SenderID = chatID(m.SenderChat)
		out.SenderName = m.SenderChat.Title
	}
	if m.ReplyToMessage != nil {
		out.ReplyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
	}

	if edited {
		out.ExternalID = fmt.Sprintf("%d-edit-%d", m.MessageID, m.EditDate)
		out.ContentType = domain.ContentEdit
		out.TargetID = strconv.Itoa(m.MessageID)
		out.Text = firstNonEmpty(m.Text, m.Caption)
		if m.EditDate != 0 {
			out.Timestamp = time.Unix(int64(m.EditDate), 0)
		}
		return out
	}
	extractContent(m, out)
	return out
}

// extractContent applies the content order: text, photo, audio, voice,
// video, video note, document, sticker, venue or location, contact, poll.
func extractContent(m *tgbotapi.Message, out *domain.CanonicalMessage) {
	media := func(t domain.ContentType, ref domain.MediaRef) {
		out.ContentType = t
		out.Text = m.Caption
		out.Media = &ref
	}
	switch {
	case m.Text != "":
		out.ContentType = domain.ContentText
		out.Text = m.Text
	case len(m.Photo) > 0:
		p := largestPhoto(m.Photo)
		media(domain.ContentImage, domain.MediaRef{ID: p.FileID, MimeType: "image/jpeg", Size: int64(p.FileSize)})
	case m.Audio != nil:
		a := m.Audio
		media(domain.ContentAudio, domain.MediaRef{ID: a.FileID, MimeType: mimeOr(a.MimeType, "audio/mpeg"), FileName: a.FileName, Size: int64(a.FileSize), Duration: a.Duration})
	case m.Voice != nil:
		v := m.Voice
		media(domain.ContentAudio, domain.MediaRef{ID: v.FileID, MimeType: mimeOr(v.MimeType, "audio/ogg"), Size: int64(v.FileSize), Duration: v.Duration, Voice: true})
	case m.Video != nil:
		v := m.Video
		media(domain.ContentVideo, domain.MediaRef{ID: v.FileID, MimeType: mimeOr(v.MimeType, "video/mp4"), Size: int64(v.FileSize), Duration: v.Duration})
	case m.VideoNote != nil:
		v := m.VideoNote
		media(domain.ContentVideo, domain.MediaRef{ID: v.FileID, MimeType: "video/mp4", Size: int64(v.FileSize), Duration: v.Duration})
	case m.Document != nil:
		d := m.Document
		media(domain.ContentDocument, domain.MediaRef{ID: d.FileID, MimeType: mimeOr(d.MimeType, "application/octet-stream"), FileName: d.FileName, Size: int64(d.FileSize)})
	case m.Sticker != nil:
		s := m.Sticker
		mimeType := "image/webp"
		if s.IsAnimated {
			mimeType = "application/x-tgsticker"
		}
		out.ContentType = domain.ContentSticker
		out.Text = s.Emoji
		out.Media = &domain.MediaRef{ID: s.FileID, MimeType: mimeType, Size: int64(s.FileSize), Animated: s.IsAnimated}
	case m.Venue != nil:
		v := m.Venue
		out.ContentType = domain.ContentLocation
		out.Location = &domain.Location{Latitude: v.Location.Latitude, Longitude: v.Location.Longitude, Name: v.Title, Address: v.Address}
		out.Text = v.Title
	case m.Location != nil:
		l := m.Location
		out.ContentType = domain.ContentLocation
		out.Location = &domain.Location{Latitude: l.Latitude, Longitude: l.Longitude}
		out.Text = fmt.Sprintf("Location: %g, %g", l.Latitude, l.Longitude)
	case m.Contact != nil:
		c := m.Contact
		name := strings.TrimSpace(c.FirstName + " " + c.LastName)
		out.ContentType = domain.ContentContact
		out.Contact = &domain.Contact{Name: name, Phone: c.PhoneNumber, VCard: c.VCard}
		out.Text = name
	case m.Poll != nil:
		poll := &domain.Poll{Question: m.Poll.Question, MultiSelect: m.Poll.AllowsMultipleAnswers}
		for _, o := range m.Poll.Options {
			poll.Options = append(poll.Options, o.Text)
		}
		out.ContentType = domain.ContentPoll
		out.Text = poll.Question
		out.Poll = poll
	default:
		out.ContentType = domain.ContentText
		out.Text = firstNonEmpty(m.Caption, unsupportedText)
	}
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.FileSize > best.FileSize {
			best = s
		}
	}
	return best
}

// reaction is Bot API's ReactionType, which telegram-bot-api predates.
type reaction struct {
	Type          string `json:"type"`
	Emoji         string `json:"emoji,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

func (r reaction) glyph() string {
	if r.Type == "custom_emoji" {
		return "custom:" + r.CustomEmojiID
	}
	return r.Emoji
}

// reactionUpdate is the message_reaction update.
type reactionUpdate struct {
	Chat        tgbotapi.Chat  `json:"chat"`
	MessageID   int            `json:"message_id"`
	User        *tgbotapi.User `json:"user,omitempty"`
	ActorChat   *tgbotapi.Chat `json:"actor_chat,omitempty"`
	Date        int            `json:"date"`
	OldReaction []reaction     `json:"old_reaction"`
	NewReaction []reaction     `json:"new_reaction"`
}

// ExtractReactions diffs old and new reactions: added glyphs become
// reactions, dropped ones become removals with an empty glyph.
func ExtractReactions(instanceID string, r *reactionUpdate) []domain.CanonicalMessage {
	if r == nil {
		return nil
	}
	sender, name := "", ""
	switch {
	case r.User != nil:
		if r.User.IsBot {
			return nil
		}
		sender, name = strconv.FormatInt(r.User.ID, 10), userName(r.User)
	case r.ActorChat != nil:
		sender, name = chatID(r.ActorChat), r.ActorChat.Title
	}
	old := make(map[string]bool, len(r.OldReaction))
	for _, o := range r.OldReaction {
		old[o.glyph()] = true
	}
	now := make(map[string]bool, len(r.NewReaction))
	for _, n := range r.NewReaction {
		now[n.glyph()] = true
	}

	ts := time.Unix(int64(r.Date), 0)
	base := domain.CanonicalMessage{
		InstanceID:  instanceID,
		Platform:    domain.PlatformTelegram,
		ChatID:      chatID(&r.Chat),
		SenderID:    sender,
		SenderName:  name,
		IsGroup:     !r.Chat.IsPrivate(),
		ContentType: domain.ContentReaction,
		TargetID:    strconv.Itoa(r.MessageID),
		Timestamp:   ts,
		Raw:         r,
	}
	var out []domain.CanonicalMessage
	for _, n := range r.NewReaction {
		if g := n.glyph(); !old[g] {
			m := base
			m.ExternalID = fmt.Sprintf("%d-reaction-%s-%d", r.MessageID, sender, ts.UnixMilli())
			m.Text = g
			out = append(out, m)
		}
	}
	for _, o := range r.OldReaction {
		if g := o.glyph(); !now[g] {
			m := base
			m.ExternalID = fmt.Sprintf("%d-unreaction-%s-%d", r.MessageID, sender, ts.UnixMilli())
			out = append(out, m)
		}
	}
	return out
}

func chatID(c *tgbotapi.Chat) string {
	return strconv.FormatInt(c.ID, 10)
}

func userName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}

func mimeOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
