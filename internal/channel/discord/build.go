package discord

import (
	"bytes"
	"context"

	"github.com/bwmarrin/discordgo"

	"omnigate/internal/channel"
	"omnigate/internal/domain"
	"omnigate/internal/format"
)

// MetaRemoveReaction turns a reaction message into removal of the bot's
// own reaction.
const MetaRemoveReaction = "removeReaction"

// restAPI is the subset of *discordgo.Session the plugin calls.
type restAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
}

type opKind int

const (
	opSend opKind = iota
	opEdit
	opDelete
	opReact
	opUnreact
)

// payload is one REST operation.
type payload struct {
	op        opKind
	channelID string
	messageID string
	emoji     string
	send      *discordgo.MessageSend
	edit      *discordgo.MessageEdit
}

type buildInput struct {
	msg       domain.OutgoingMessage
	channelID string
	text      string // rendered body of text and edit messages
	media     channel.Media
}

type builder func(in buildInput) (*payload, error)

var builders = map[domain.ContentType]builder{
	domain.ContentText:     buildText,
	domain.ContentImage:    buildFile,
	domain.ContentAudio:    buildFile,
	domain.ContentVideo:    buildFile,
	domain.ContentDocument: buildFile,
	domain.ContentSticker:  buildSticker,
	domain.ContentPoll:     buildPoll,
	domain.ContentEmbed:    buildEmbed,
	domain.ContentReaction: buildReaction,
	domain.ContentEdit:     buildEdit,
	domain.ContentDelete:   buildDelete,
}

func build(in buildInput) (*payload, error) {
	b, ok := builders[in.msg.Content.Type]
	if !ok {
		return nil, domain.UnsupportedContent(domain.PlatformDiscord, in.msg.Content.Type)
	}
	return b(in)
}

// mentionToken renders a mention in Discord's native syntax.
func mentionToken(m domain.Mention) string {
	switch m.Type {
	case domain.MentionRole:
		return "<@&" + m.ID + ">"
	case domain.MentionChannel:
		return "<#" + m.ID + ">"
	case domain.MentionEveryone:
		return "@everyone"
	case domain.MentionHere:
		return "@here"
	}
	return "<@" + m.ID + ">"
}

// allowedMentions pings exactly the mentioned entities.
func allowedMentions(mentions []domain.Mention) *discordgo.MessageAllowedMentions {
	am := &discordgo.MessageAllowedMentions{}
	for _, m := range mentions {
		switch m.Type {
		case domain.MentionRole:
			am.Roles = append(am.Roles, m.ID)
		case domain.MentionEveryone, domain.MentionHere:
			am.Parse = append(am.Parse, discordgo.AllowedMentionTypeEveryone)
		case domain.MentionChannel:
		default:
			am.Users = append(am.Users, m.ID)
		}
	}
	return am
}

func newSend(in buildInput, content string) *discordgo.MessageSend {
	ms := &discordgo.MessageSend{Content: content}
	if in.msg.ReplyTo != "" {
		ms.Reference = &discordgo.MessageReference{MessageID: in.msg.ReplyTo, ChannelID: in.channelID}
	}
	if len(in.msg.Mentions) > 0 {
		ms.AllowedMentions = allowedMentions(in.msg.Mentions)
	}
	return ms
}

func buildText(in buildInput) (*payload, error) {
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentText, "text")
	}
	return &payload{op: opSend, channelID: in.channelID, send: newSend(in, in.text)}, nil
}

func buildFile(in buildInput) (*payload, error) {
	caption := ""
	if c := in.msg.Content.Caption; c != "" {
		caption = channel.RenderText(format.Discord, in.msg, c)
	}
	ms := newSend(in, caption)
	ms.Files = []*discordgo.File{{
		Name:        in.media.FileName,
		ContentType: in.media.MimeType,
		Reader:      bytes.NewReader(in.media.Data),
	}}
	return &payload{op: opSend, channelID: in.channelID, send: ms}, nil
}

// Stickers go by id; raw sticker media is uploaded as an image.
func buildSticker(in buildInput) (*payload, error) {
	if id := in.msg.MetaString(domain.MetaStickerID); id != "" {
		ms := newSend(in, "")
		ms.StickerIDs = []string{id}
		return &payload{op: opSend, channelID: in.channelID, send: ms}, nil
	}
	if len(in.media.Data) == 0 {
		return nil, domain.MissingField(domain.ContentSticker, "stickerId or sticker media")
	}
	return buildFile(in)
}

// Poll builds a native poll; the duration defaults to a day.
func Poll(p domain.Poll) *discordgo.Poll {
	hours := p.DurationHours
	if hours <= 0 {
		hours = defaultPollHours
	}
	poll := &discordgo.Poll{
		Question:         discordgo.PollMedia{Text: p.Question},
		AllowMultiselect: p.MultiSelect,
		Duration:         hours,
	}
	for _, o := range p.Options {
		poll.Answers = append(poll.Answers, discordgo.PollAnswer{Media: &discordgo.PollMedia{Text: o}})
	}
	return poll
}

func buildPoll(in buildInput) (*payload, error) {
	ms := newSend(in, "")
	ms.Poll = Poll(*in.msg.Content.Poll)
	return &payload{op: opSend, channelID: in.channelID, send: ms}, nil
}

// Embed builds a rich card with the brand colour as default.
func Embed(e domain.Embed) *discordgo.MessageEmbed {
	color := e.Color
	if color == 0 {
		color = defaultEmbedColor
	}
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       color,
	}
	if e.ImageURL != "" {
		me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.Footer != "" {
		me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return me
}

func buildEmbed(in buildInput) (*payload, error) {
	ms := newSend(in, in.text)
	ms.Embeds = []*discordgo.MessageEmbed{Embed(*in.msg.Content.Embed)}
	return &payload{op: opSend, channelID: in.channelID, send: ms}, nil
}

func buildReaction(in buildInput) (*payload, error) {
	c := in.msg.Content
	if c.Emoji == "" {
		return nil, domain.MissingField(domain.ContentReaction, "emoji")
	}
	op := opReact
	if in.msg.MetaBool(MetaRemoveReaction) {
		op = opUnreact
	}
	return &payload{op: op, channelID: in.channelID, messageID: c.TargetID, emoji: c.Emoji}, nil
}

func buildEdit(in buildInput) (*payload, error) {
	if in.text == "" {
		return nil, domain.MissingField(domain.ContentEdit, "text")
	}
	return &payload{
		op:        opEdit,
		channelID: in.channelID,
		messageID: in.msg.Content.TargetID,
		edit:      discordgo.NewMessageEdit(in.channelID, in.msg.Content.TargetID).SetContent(in.text),
	}, nil
}

func buildDelete(in buildInput) (*payload, error) {
	return &payload{op: opDelete, channelID: in.channelID, messageID: in.msg.Content.TargetID}, nil
}

// exec runs the operation and returns the affected message id.
func (p *payload) exec(ctx context.Context, api restAPI) (string, error) {
	opt := discordgo.WithContext(ctx)
	switch p.op {
	case opSend:
		m, err := api.ChannelMessageSendComplex(p.channelID, p.send, opt)
		if err != nil {
			return "", err
		}
		return m.ID, nil
	case opEdit:
		if _, err := api.ChannelMessageEditComplex(p.edit, opt); err != nil {
			return "", err
		}
	case opDelete:
		if err := api.ChannelMessageDelete(p.channelID, p.messageID, opt); err != nil {
			return "", err
		}
	case opReact:
		if err := api.MessageReactionAdd(p.channelID, p.messageID, p.emoji, opt); err != nil {
			return "", err
		}
	case opUnreact:
		if err := api.MessageReactionRemove(p.channelID, p.messageID, p.emoji, "@me", opt); err != nil {
			return "", err
		}
	}
	return p.messageID, nil
}
