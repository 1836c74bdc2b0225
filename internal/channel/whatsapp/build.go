package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
)

// protoBuilder is the part of *whatsmeow.Client that builds protocol
// messages for reactions, edits, revokes and polls.
type protoBuilder interface {
	BuildReaction(chat, sender types.JID, id types.MessageID, reaction string) *waE2E.Message
	BuildEdit(chat types.JID, id types.MessageID, newContent *waE2E.Message) *waE2E.Message
	BuildRevoke(chat, sender types.JID, id types.MessageID) *waE2E.Message
	BuildPollCreation(name string, optionNames []string, selectableOptionCount int) *waE2E.Message
}

// payload is one wire message. Media payloads carry the bytes to upload;
// attach fills the upload fields in before sending.
type payload struct {
	msg       *waE2E.Message
	mediaType whatsmeow.MediaType
	data      []byte
}

type buildInput struct {
	msg    domain.OutgoingMessage
	chat   types.JID
	text   string // rendered body of text and edit messages
	media  channel.Media
	protos protoBuilder
}

type builder func(in buildInput) (*payload, error)

var builders = map[domain.ContentType]builder{
	domain.ContentText:     buildText,
	domain.ContentImage:    buildImage,
	domain.ContentVideo:    buildVideo,
	domain.ContentAudio:    buildAudio,
	domain.ContentDocument: buildDocument,
	domain.ContentSticker:  buildSticker,
	domain.ContentContact:  buildContact,
	domain.ContentLocation: buildLocation,
	domain.ContentPoll:     buildPoll,
	domain.ContentReaction: buildReaction,
	domain.ContentEdit:     buildEdit,
	domain.ContentDelete:   buildDelete,
}

// build turns an outgoing message into exactly one wire payload.
func build(in buildInput) (*payload, error) {
	b, ok := builders[in.msg.Content.Type]
	if !ok {
		return nil, domain.UnsupportedContent(domain.PlatformWhatsApp, in.msg.Content.Type)
	}
	return b(in)
}

// contextFor carries the reply target and mentioned JIDs.
func contextFor(msg domain.OutgoingMessage) *waE2E.ContextInfo {
	var ci waE2E.ContextInfo
	set := false
	if msg.ReplyTo != "" {
		ci.StanzaID = proto.String(msg.ReplyTo)
		set = true
	}
	for _, m := range msg.Mentions {
		if jid, err := parseJID(m.ID); err == nil {
			ci.MentionedJID = append(ci.MentionedJID, jid.String())
			set = true
		}
	}
	if !set {
		return nil
	}
	return &ci
}

// mentionToken renders a mention as WhatsApp's @<number> form. WhatsApp
// has no role or channel mentions, so every type uses the user syntax.
func mentionToken(m domain.Mention) string {
	if jid, err := parseJID(m.ID); err == nil {
		return "@" + jid.User
	}
	return "@" + m.ID
}

func caption(in buildInput) *string {
	if in.msg.Content.Caption == "" {
		return nil
	}
	return proto.String(channel.RenderText(format.WhatsApp, in.msg, in.msg.Content.Caption))
}

func buildText(in buildInput) (*payload, error) {
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentText, "text")
	}
	return &payload{msg: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(in.text),
		ContextInfo: contextFor(in.msg),
	}}}, nil
}

func buildImage(in buildInput) (*payload, error) {
	return &payload{
		msg: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:     caption(in),
			Mimetype:    proto.String(in.media.MimeType),
			ContextInfo: contextFor(in.msg),
		}},
		mediaType: whatsmeow.MediaImage,
		data:      in.media.Data,
	}, nil
}

func buildVideo(in buildInput) (*payload, error) {
	return &payload{
		msg: &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:     caption(in),
			Mimetype:    proto.String(in.media.MimeType),
			ContextInfo: contextFor(in.msg),
		}},
		mediaType: whatsmeow.MediaVideo,
		data:      in.media.Data,
	}, nil
}

// isVoiceNote reports whether audio should go out as push-to-talk.
func isVoiceNote(msg domain.OutgoingMessage, mimeType string) bool {
	return msg.MetaBool(domain.MetaPTT) || strings.Contains(mimeType, "ogg")
}

func buildAudio(in buildInput) (*payload, error) {
	mimeType := in.media.MimeType
	ptt := isVoiceNote(in.msg, mimeType)
	if ptt {
		mimeType = "audio/ogg; codecs=opus"
	}
	return &payload{
		msg: &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:    proto.String(mimeType),
			PTT:         proto.Bool(ptt),
			ContextInfo: contextFor(in.msg),
		}},
		mediaType: whatsmeow.MediaAudio,
		data:      in.media.Data,
	}, nil
}

func buildDocument(in buildInput) (*payload, error) {
	return &payload{
		msg: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:     caption(in),
			Mimetype:    proto.String(in.media.MimeType),
			FileName:    proto.String(in.media.FileName),
			Title:       proto.String(in.media.FileName),
			ContextInfo: contextFor(in.msg),
		}},
		mediaType: whatsmeow.MediaDocument,
		data:      in.media.Data,
	}, nil
}

func buildSticker(in buildInput) (*payload, error) {
	if len(in.media.Data) == 0 {
		return nil, domain.MissingField(domain.ContentSticker, "sticker media")
	}
	return &payload{
		msg: &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype:    proto.String("image/webp"),
			ContextInfo: contextFor(in.msg),
		}},
		mediaType: whatsmeow.MediaImage,
		data:      in.media.Data,
	}, nil
}

func buildContact(in buildInput) (*payload, error) {
	c := in.msg.Content.Contact
	card := c.VCard
	if card == "" {
		card = VCard(*c)
	}
	return &payload{msg: &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
		DisplayName: proto.String(c.Name),
		Vcard:       proto.String(card),
		ContextInfo: contextFor(in.msg),
	}}}, nil
}

// VCard renders a minimal vCard 3.0 with WhatsApp's waid parameter so the
// client offers to chat with the number.
func VCard(c domain.Contact) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\nVERSION:3.0\n")
	b.WriteString("FN:" + c.Name + "\n")
	if c.Phone != "" {
		digits := onlyDigits(c.Phone)
		b.WriteString("TEL;type=CELL;type=VOICE;waid=" + digits + ":+" + digits + "\n")
	}
	if c.Email != "" {
		b.WriteString("EMAIL:" + c.Email + "\n")
	}
	b.WriteString("END:VCARD")
	return b.String()
}

func buildLocation(in buildInput) (*payload, error) {
	l := in.msg.Content.Location
	lm := &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(l.Latitude),
		DegreesLongitude: proto.Float64(l.Longitude),
		ContextInfo:      contextFor(in.msg),
	}
	if l.Name != "" {
		lm.Name = proto.String(l.Name)
	}
	if l.Address != "" {
		lm.Address = proto.String(l.Address)
	}
	return &payload{msg: &waE2E.Message{LocationMessage: lm}}, nil
}

func buildPoll(in buildInput) (*payload, error) {
	p := in.msg.Content.Poll
	selectable := 1
	if p.MultiSelect {
		selectable = 0 // any number of options
	}
	return &payload{msg: in.protos.BuildPollCreation(p.Question, p.Options, selectable)}, nil
}

func buildReaction(in buildInput) (*payload, error) {
	c := in.msg.Content
	return &payload{msg: in.protos.BuildReaction(in.chat, targetSender(in), c.TargetID, c.Emoji)}, nil
}

func buildEdit(in buildInput) (*payload, error) {
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentEdit, "text")
	}
	content := &waE2E.Message{Conversation: proto.String(in.text)}
	return &payload{msg: in.protos.BuildEdit(in.chat, in.msg.Content.TargetID, content)}, nil
}

// Only the account's own messages can be revoked for everyone.
func buildDelete(in buildInput) (*payload, error) {
	return &payload{msg: in.protos.BuildRevoke(in.chat, types.EmptyJID, in.msg.Content.TargetID)}, nil
}

// targetSender is the author of the message being reacted to. Direct
// chats default to the peer; groups need the targetSender metadata.
func targetSender(in buildInput) types.JID {
	if s := in.msg.MetaString(MetaTargetSender); s != "" {
		if jid, err := parseJID(s); err == nil {
			return jid
		}
	}
	if in.chat.Server == types.DefaultUserServer {
		return in.chat
	}
	return types.EmptyJID
}

// MetaTargetSender names the author of a reaction target in group chats.
const MetaTargetSender = "targetSender"

func (p *payload) attach(up whatsmeow.UploadResponse) {
	switch m := p.msg; {
	case m.ImageMessage != nil:
		im := m.ImageMessage
		im.URL, im.DirectPath = proto.String(up.URL), proto.String(up.DirectPath)
		im.MediaKey, im.FileEncSHA256, im.FileSHA256 = up.MediaKey, up.FileEncSHA256, up.FileSHA256
		im.FileLength = proto.Uint64(up.FileLength)
	case m.VideoMessage != nil:
		vm := m.VideoMessage
		vm.URL, vm.DirectPath = proto.String(up.URL), proto.String(up.DirectPath)
		vm.MediaKey, vm.FileEncSHA256, vm.FileSHA256 = up.MediaKey, up.FileEncSHA256, up.FileSHA256
		vm.FileLength = proto.Uint64(up.FileLength)
	case m.AudioMessage != nil:
		am := m.AudioMessage
		am.URL, am.DirectPath = proto.String(up.URL), proto.String(up.DirectPath)
		am.MediaKey, am.FileEncSHA256, am.FileSHA256 = up.MediaKey, up.FileEncSHA256, up.FileSHA256
		am.FileLength = proto.Uint64(up.FileLength)
	case m.DocumentMessage != nil:
		dm := m.DocumentMessage
		dm.URL, dm.DirectPath = proto.String(up.URL), proto.String(up.DirectPath)
		dm.MediaKey, dm.FileEncSHA256, dm.FileSHA256 = up.MediaKey, up.FileEncSHA256, up.FileSHA256
		dm.FileLength = proto.Uint64(up.FileLength)
	case m.StickerMessage != nil:
		sm := m.StickerMessage
		sm.URL, sm.DirectPath = proto.String(up.URL), proto.String(up.DirectPath)
		sm.MediaKey, sm.FileEncSHA256, sm.FileSHA256 = up.MediaKey, up.FileEncSHA256, up.FileSHA256
		sm.FileLength = proto.Uint64(up.FileLength)
	}
}

// parseJID accepts a full JID or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := onlyDigits(s)
	if digits == "" {
		return types.EmptyJID, domain.MissingField(domain.ContentText, "valid recipient")
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
