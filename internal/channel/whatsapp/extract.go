package whatsapp

import (
	"log/slog"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"omnigate/internal/domain"
)

// extractor is one entry of the ordered content table. The first entry
// whose match returns true decides the content type.
type extractor struct {
	name  string
	match func(m *waE2E.Message) bool
	apply func(m *waE2E.Message, out *domain.CanonicalMessage) bool
}

// Protocol messages come first because they wrap other content. Polls go
// before attachments, attachments before stickers and free text last.
var extractors = []extractor{
	{"protocol", func(m *waE2E.Message) bool { return m.ProtocolMessage != nil }, extractProtocol},
	{"reaction", func(m *waE2E.Message) bool { return m.ReactionMessage != nil }, extractReaction},
	{"poll", func(m *waE2E.Message) bool { return pollCreation(m) != nil }, extractPoll},
	{"poll update", func(m *waE2E.Message) bool { return m.PollUpdateMessage != nil }, extractPollUpdate},
	{"location", func(m *waE2E.Message) bool { return m.LocationMessage != nil || m.LiveLocationMessage != nil }, extractLocation},
	{"contact", func(m *waE2E.Message) bool { return m.ContactMessage != nil || m.ContactsArrayMessage != nil }, extractContact},
	{"image", func(m *waE2E.Message) bool { return m.ImageMessage != nil }, extractImage},
	{"video", func(m *waE2E.Message) bool { return m.VideoMessage != nil }, extractVideo},
	{"audio", func(m *waE2E.Message) bool { return m.AudioMessage != nil }, extractAudio},
	{"document", func(m *waE2E.Message) bool { return m.DocumentMessage != nil }, extractDocument},
	{"sticker", func(m *waE2E.Message) bool { return m.StickerMessage != nil }, extractSticker},
	{"text", func(m *waE2E.Message) bool { return m.Conversation != nil || m.ExtendedTextMessage != nil }, extractText},
}

// Extract normalizes one incoming whatsmeow message. It returns nil for
// the account's own messages, status broadcasts, protocol chatter and
// anything it cannot read.
func Extract(instanceID string, evt *events.Message, logger *slog.Logger) (out *domain.CanonicalMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("dropping unreadable whatsapp message", "panic", r)
			out = nil
		}
	}()
	if evt == nil || evt.Message == nil {
		return nil
	}
	info := evt.Info
	if info.IsFromMe || info.Chat == types.StatusBroadcastJID || info.Chat.Server == types.BroadcastServer {
		return nil
	}

	m := unwrap(evt.Message)
	msg := &domain.CanonicalMessage{
		ExternalID: info.ID,
		InstanceID: instanceID,
		Platform:   domain.PlatformWhatsApp,
		ChatID:     info.Chat.String(),
		SenderID:   info.Sender.ToNonAD().String(),
		SenderName: info.PushName,
		IsGroup:    info.IsGroup,
		Timestamp:  info.Timestamp,
		Raw:        evt,
	}
	for _, ex := range extractors {
		if !ex.match(m) {
			continue
		}
		if !ex.apply(m, msg) {
			logger.Debug("skipping whatsapp message", "kind", ex.name, "id", info.ID)
			return nil
		}
		if ci := contextInfo(m); ci != nil {
			msg.ReplyTo = ci.GetStanzaID()
		}
		return msg
	}
	logger.Debug("unhandled whatsapp message", "id", info.ID)
	return nil
}

// unwrap peels device-sent, ephemeral, view-once and edit wrappers.
func unwrap(m *waE2E.Message) *waE2E.Message {
	for i := 0; i < 5 && m != nil; i++ {
		switch {
		case m.GetDeviceSentMessage().GetMessage() != nil:
			m = m.GetDeviceSentMessage().GetMessage()
		case m.GetEphemeralMessage().GetMessage() != nil:
			m = m.GetEphemeralMessage().GetMessage()
		case m.GetViewOnceMessage().GetMessage() != nil:
			m = m.GetViewOnceMessage().GetMessage()
		case m.GetViewOnceMessageV2().GetMessage() != nil:
			m = m.GetViewOnceMessageV2().GetMessage()
		case m.GetDocumentWithCaptionMessage().GetMessage() != nil:
			m = m.GetDocumentWithCaptionMessage().GetMessage()
		case m.GetEditedMessage().GetMessage() != nil:
			m = m.GetEditedMessage().GetMessage()
		default:
			return m
		}
	}
	return m
}

func extractProtocol(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	pm := m.GetProtocolMessage()
	switch pm.GetType() {
	case waE2E.ProtocolMessage_MESSAGE_EDIT:
		out.ContentType = domain.ContentEdit
		out.TargetID = pm.GetKey().GetID()
		out.Text = plainText(pm.GetEditedMessage())
		return out.TargetID != ""
	case waE2E.ProtocolMessage_REVOKE:
		out.ContentType = domain.ContentDelete
		out.TargetID = pm.GetKey().GetID()
		out.Deleted = true
		return out.TargetID != ""
	}
	// Ephemeral settings, key shares and history notifications.
	return false
}

func extractReaction(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	r := m.GetReactionMessage()
	out.ContentType = domain.ContentReaction
	out.TargetID = r.GetKey().GetID()
	out.Text = r.GetText()
	return out.TargetID != ""
}

func pollCreation(m *waE2E.Message) *waE2E.PollCreationMessage {
	switch {
	case m.PollCreationMessage != nil:
		return m.PollCreationMessage
	case m.PollCreationMessageV2 != nil:
		return m.PollCreationMessageV2
	case m.PollCreationMessageV3 != nil:
		return m.PollCreationMessageV3
	}
	return nil
}

func extractPoll(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	p := pollCreation(m)
	poll := &domain.Poll{
		Question:    p.GetName(),
		MultiSelect: p.GetSelectableOptionsCount() != 1,
	}
	for _, o := range p.GetOptions() {
		poll.Options = append(poll.Options, o.GetOptionName())
	}
	out.ContentType = domain.ContentPoll
	out.Text = poll.Question
	out.Poll = poll
	return true
}

// Votes are encrypted against the poll secret; only the target is kept.
func extractPollUpdate(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	out.ContentType = domain.ContentPoll
	out.TargetID = m.GetPollUpdateMessage().GetPollCreationMessageKey().GetID()
	out.Poll = &domain.Poll{}
	return out.TargetID != ""
}

func extractLocation(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	out.ContentType = domain.ContentLocation
	if l := m.GetLocationMessage(); l != nil {
		out.Location = &domain.Location{
			Latitude:  l.GetDegreesLatitude(),
			Longitude: l.GetDegreesLongitude(),
			Name:      l.GetName(),
			Address:   l.GetAddress(),
		}
		return true
	}
	l := m.GetLiveLocationMessage()
	out.Location = &domain.Location{
		Latitude:  l.GetDegreesLatitude(),
		Longitude: l.GetDegreesLongitude(),
		Name:      l.GetCaption(),
	}
	out.Text = l.GetCaption()
	return true
}

var vcardTel = regexp.MustCompile(`(?im)^TEL[^:]*:([+\d\s\-()]+)$`)

func extractContact(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	c := m.GetContactMessage()
	if c == nil {
		contacts := m.GetContactsArrayMessage().GetContacts()
		if len(contacts) == 0 {
			return false
		}
		c = contacts[0]
	}
	name := c.GetDisplayName()
	if name == "" {
		name = "Unknown"
	}
	out.ContentType = domain.ContentContact
	out.Contact = &domain.Contact{Name: name, VCard: c.GetVcard(), Phone: vcardPhone(c.GetVcard())}
	return true
}

func vcardPhone(vcard string) string {
	match := vcardTel.FindStringSubmatch(vcard)
	if match == nil {
		return ""
	}
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(match[1]))
}

func mimeOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func extractImage(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	img := m.GetImageMessage()
	out.ContentType = domain.ContentImage
	out.Text = img.GetCaption()
	out.Media = &domain.MediaRef{
		ID:       img.GetDirectPath(),
		URL:      img.GetURL(),
		MimeType: mimeOr(img.GetMimetype(), "image/jpeg"),
		Size:     int64(img.GetFileLength()),
	}
	return true
}

func extractVideo(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	v := m.GetVideoMessage()
	out.ContentType = domain.ContentVideo
	out.Text = v.GetCaption()
	out.Media = &domain.MediaRef{
		ID:       v.GetDirectPath(),
		URL:      v.GetURL(),
		MimeType: mimeOr(v.GetMimetype(), "video/mp4"),
		Size:     int64(v.GetFileLength()),
		Duration: int(v.GetSeconds()),
		Animated: v.GetGifPlayback(),
	}
	return true
}

func extractAudio(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	a := m.GetAudioMessage()
	out.ContentType = domain.ContentAudio
	out.Media = &domain.MediaRef{
		ID:       a.GetDirectPath(),
		URL:      a.GetURL(),
		MimeType: mimeOr(a.GetMimetype(), "audio/ogg"),
		Size:     int64(a.GetFileLength()),
		Duration: int(a.GetSeconds()),
		Voice:    a.GetPTT(),
	}
	return true
}

func extractDocument(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	d := m.GetDocumentMessage()
	name := d.GetFileName()
	if name == "" {
		name = d.GetTitle()
	}
	out.ContentType = domain.ContentDocument
	out.Text = d.GetCaption()
	out.Media = &domain.MediaRef{
		ID:       d.GetDirectPath(),
		URL:      d.GetURL(),
		MimeType: mimeOr(d.GetMimetype(), "application/octet-stream"),
		FileName: name,
		Size:     int64(d.GetFileLength()),
	}
	return true
}

func extractSticker(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	s := m.GetStickerMessage()
	out.ContentType = domain.ContentSticker
	out.Media = &domain.MediaRef{
		ID:       s.GetDirectPath(),
		URL:      s.GetURL(),
		MimeType: mimeOr(s.GetMimetype(), "image/webp"),
		Size:     int64(s.GetFileLength()),
		Animated: s.GetIsAnimated(),
	}
	return true
}

func extractText(m *waE2E.Message, out *domain.CanonicalMessage) bool {
	out.ContentType = domain.ContentText
	out.Text = plainText(m)
	return out.Text != ""
}

func plainText(m *waE2E.Message) string {
	if t := m.GetConversation(); t != "" {
		return t
	}
	return m.GetExtendedTextMessage().GetText()
}

// contextInfo returns the reply and mention metadata of whichever
// sub-message carries it.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	for _, ci := range []*waE2E.ContextInfo{
		m.GetExtendedTextMessage().GetContextInfo(),
		m.GetImageMessage().GetContextInfo(),
		m.GetVideoMessage().GetContextInfo(),
		m.GetAudioMessage().GetContextInfo(),
		m.GetDocumentMessage().GetContextInfo(),
		m.GetStickerMessage().GetContextInfo(),
		m.GetLocationMessage().GetContextInfo(),
		m.GetContactMessage().GetContextInfo(),
	} {
		if ci != nil {
			return ci
		}
	}
	return nil
}
