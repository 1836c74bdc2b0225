package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
)

// MetaRemoveReaction turns a reaction message into clearing the bot's
// reaction.
const MetaRemoveReaction = "removeReaction"

// botAPI is the subset of *tgbotapi.BotAPI the plugin calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// chatRef addresses a chat by numeric id or @channel username.
type chatRef struct {
	id       int64
	username string
}

func parseChat(to string) (chatRef, error) {
	if strings.HasPrefix(to, "@") {
		return chatRef{username: to}, nil
	}
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return chatRef{}, fmt.Errorf("chat %q is neither a numeric id nor an @username", to)
	}
	return chatRef{id: id}, nil
}

func (c chatRef) base() tgbotapi.BaseChat {
	return tgbotapi.BaseChat{ChatID: c.id, ChannelUsername: c.username}
}

func (c chatRef) param() string {
	if c.username != "" {
		return c.username
	}
	return strconv.FormatInt(c.id, 10)
}

type opKind int

const (
	opSend    opKind = iota // Send, returns a message
	opRequest               // Request, returns true
	opRaw                   // MakeRequest for methods the library lacks
)

type payload struct {
	op       opKind
	config   tgbotapi.Chattable
	plain    tgbotapi.Chattable // resend without markup when parsing fails
	endpoint string
	params   tgbotapi.Params
	targetID string
}

type buildInput struct {
	msg  domain.OutgoingMessage
	chat chatRef
	text string
	file tgbotapi.RequestFileData
}

func (in buildInput) replyTo() int {
	id, _ := strconv.Atoi(in.msg.ReplyTo)
	return id
}

func (in buildInput) targetID() (int, error) {
	id, err := strconv.Atoi(in.msg.Content.TargetID)
	if err != nil {
		return 0, domain.MissingField(in.msg.Content.Type, "numeric targetMessageId")
	}
	return id, nil
}

type builder func(in buildInput) (*payload, error)

var builders = map[domain.ContentType]builder{
	domain.ContentText:     buildText,
	domain.ContentImage:    buildMedia,
	domain.ContentAudio:    buildMedia,
	domain.ContentVideo:    buildMedia,
	domain.ContentDocument: buildMedia,
	domain.ContentSticker:  buildSticker,
	domain.ContentContact:  buildContact,
	domain.ContentLocation: buildLocation,
	domain.ContentPoll:     buildPoll,
	domain.ContentReaction: buildReaction,
	domain.ContentEdit:     buildEdit,
	domain.ContentDelete:   buildDelete,
}

func build(in buildInput) (*payload, error) {
	b, ok := builders[in.msg.Content.Type]
	if !ok {
		return nil, domain.UnsupportedContent(domain.PlatformTelegram, in.msg.Content.Type)
	}
	return b(in)
}

// mentionToken renders an inline mention link; @usernames stay literal.
func mentionToken(m domain.Mention) string {
	if strings.HasPrefix(m.ID, "@") {
		return m.ID
	}
	label := m.Name
	if label == "" {
		label = m.ID
	}
	return "[" + label + "](tg://user?id=" + m.ID + ")"
}

// parseMode is HTML unless the message asks for passthrough.
func parseMode(msg domain.OutgoingMessage) string {
	if msg.MetaString(domain.MetaFormatMode) == domain.FormatPassthrough {
		return ""
	}
	return tgbotapi.ModeHTML
}

// plainText is the fallback body for text Telegram refused to parse.
func plainText(text, mode string) string {
	if mode == tgbotapi.ModeHTML {
		return format.PlainText(text)
	}
	return text
}

func buildText(in buildInput) (*payload, error) {
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentText, "text")
	}
	cfg := tgbotapi.MessageConfig{BaseChat: in.chat.base(), Text: in.text, ParseMode: parseMode(in.msg)}
	cfg.ReplyToMessageID = in.replyTo()
	plain := cfg
	plain.ParseMode = ""
	plain.Text = plainText(cfg.Text, cfg.ParseMode)
	return &payload{op: opSend, config: cfg, plain: plain}, nil
}

func buildMedia(in buildInput) (*payload, error) {
	base := tgbotapi.BaseFile{BaseChat: in.chat.base(), File: in.file}
	base.ReplyToMessageID = in.replyTo()
	caption := ""
	if c := in.msg.Content.Caption; c != "" {
		caption = channel.RenderText(format.Telegram, in.msg, c)
	}
	mode := parseMode(in.msg)
	if caption == "" {
		mode = ""
	}

	var cfg tgbotapi.Chattable
	switch in.msg.Content.Type {
	case domain.ContentImage:
		cfg = tgbotapi.PhotoConfig{BaseFile: base, Caption: caption, ParseMode: mode}
	case domain.ContentVideo:
		cfg = tgbotapi.VideoConfig{BaseFile: base, Caption: caption, ParseMode: mode}
	case domain.ContentAudio:
		if in.msg.MetaBool(domain.MetaPTT) || strings.Contains(in.msg.Content.MimeType, "ogg") {
			cfg = tgbotapi.VoiceConfig{BaseFile: base, Caption: caption, ParseMode: mode}
		} else {
			cfg = tgbotapi.AudioConfig{BaseFile: base, Caption: caption, ParseMode: mode}
		}
	default:
		cfg = tgbotapi.DocumentConfig{BaseFile: base, Caption: caption, ParseMode: mode}
	}
	return &payload{op: opSend, config: cfg}, nil
}

func buildSticker(in buildInput) (*payload, error) {
	file := in.file
	if id := in.msg.MetaString(domain.MetaStickerID); id != "" {
		file = tgbotapi.FileID(id)
	}
	if file == nil {
		return nil, domain.MissingField(domain.ContentSticker, "stickerId or sticker media")
	}
	cfg := tgbotapi.StickerConfig{BaseFile: tgbotapi.BaseFile{BaseChat: in.chat.base(), File: file}}
	cfg.ReplyToMessageID = in.replyTo()
	return &payload{op: opSend, config: cfg}, nil
}

func buildContact(in buildInput) (*payload, error) {
	c := in.msg.Content.Contact
	if c.Phone == "" {
		return nil, domain.MissingField(domain.ContentContact, "contact phone")
	}
	first, last, _ := strings.Cut(c.Name, " ")
	cfg := tgbotapi.ContactConfig{BaseChat: in.chat.base(), PhoneNumber: c.Phone, FirstName: first, LastName: last, VCard: c.VCard}
	cfg.ReplyToMessageID = in.replyTo()
	return &payload{op: opSend, config: cfg}, nil
}

// Named locations go out as venues.
func buildLocation(in buildInput) (*payload, error) {
	l := in.msg.Content.Location
	if l.Name != "" || l.Address != "" {
		cfg := tgbotapi.VenueConfig{BaseChat: in.chat.base(), Latitude: l.Latitude, Longitude: l.Longitude, Title: firstNonEmpty(l.Name, l.Address), Address: l.Address}
		cfg.ReplyToMessageID = in.replyTo()
		return &payload{op: opSend, config: cfg}, nil
	}
	cfg := tgbotapi.LocationConfig{BaseChat: in.chat.base(), Latitude: l.Latitude, Longitude: l.Longitude}
	cfg.ReplyToMessageID = in.replyTo()
	return &payload{op: opSend, config: cfg}, nil
}

func buildPoll(in buildInput) (*payload, error) {
	p := in.msg.Content.Poll
	cfg := tgbotapi.SendPollConfig{
		BaseChat:              in.chat.base(),
		Question:              p.Question,
		Options:               p.Options,
		IsAnonymous:           true,
		AllowsMultipleAnswers: p.MultiSelect,
	}
	cfg.ReplyToMessageID = in.replyTo()
	return &payload{op: opSend, config: cfg}, nil
}

// buildReaction uses setMessageReaction through MakeRequest; an empty
// reaction list clears the bot's reaction.
func buildReaction(in buildInput) (*payload, error) {
	target, err := in.targetID()
	if err != nil {
		return nil, err
	}
	reactions := []reaction{}
	if !in.msg.MetaBool(MetaRemoveReaction) {
		if in.msg.Content.Emoji == "" {
			return nil, domain.MissingField(domain.ContentReaction, "emoji")
		}
		reactions = append(reactions, reaction{Type: "emoji", Emoji: in.msg.Content.Emoji})
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	params := tgbotapi.Params{
		"chat_id":    in.chat.param(),
		"message_id": strconv.Itoa(target),
		"reaction":   string(encoded),
	}
	return &payload{op: opRaw, endpoint: "setMessageReaction", params: params, targetID: in.msg.Content.TargetID}, nil
}

func editConfig(chat chatRef, messageID int, text, mode string) tgbotapi.EditMessageTextConfig {
	return tgbotapi.EditMessageTextConfig{
		BaseEdit:  tgbotapi.BaseEdit{ChatID: chat.id, ChannelUsername: chat.username, MessageID: messageID},
		Text:      text,
		ParseMode: mode,
	}
}

func buildEdit(in buildInput) (*payload, error) {
	target, err := in.targetID()
	if err != nil {
		return nil, err
	}
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentEdit, "text")
	}
	mode := parseMode(in.msg)
	return &payload{
		op:       opSend,
		config:   editConfig(in.chat, target, in.text, mode),
		plain:    editConfig(in.chat, target, plainText(in.text, mode), ""),
		targetID: in.msg.Content.TargetID,
	}, nil
}

func buildDelete(in buildInput) (*payload, error) {
	target, err := in.targetID()
	if err != nil {
		return nil, err
	}
	cfg := tgbotapi.DeleteMessageConfig{ChatID: in.chat.id, ChannelUsername: in.chat.username, MessageID: target}
	return &payload{op: opRequest, config: cfg, targetID: in.msg.Content.TargetID}, nil
}

// exec runs the payload and returns the affected message id. A markup
// parse rejection is retried once as plain text.
func (p *payload) exec(api botAPI) (string, error) {
	switch p.op {
	case opRaw:
		if _, err := api.MakeRequest(p.endpoint, p.params); err != nil {
			return "", err
		}
		return p.targetID, nil
	case opRequest:
		if _, err := api.Request(p.config); err != nil {
			return "", err
		}
		return p.targetID, nil
	}
	m, err := api.Send(p.config)
	if err != nil && p.plain != nil && markupRejected(err) {
		m, err = api.Send(p.plain)
	}
	if err != nil {
		if p.targetID != "" && notModified(err) {
			return p.targetID, nil
		}
		return "", err
	}
	if p.targetID != "" {
		return p.targetID, nil
	}
	return strconv.Itoa(m.MessageID), nil
}
