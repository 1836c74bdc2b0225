// Package discord adapts Discord bot accounts, driven by discordgo, to the
// gateway's plugin contract.
package discord

import (
	"time"

	"omnigate/internal/domain"
)

const (
	maxMessageLength = 2000
	maxStreamChars   = 1900
	maxPollOptions   = 10
	maxEmbedFields   = 25

	defaultEmbedColor = 0x5865f2
	defaultPollHours  = 24

	streamThrottle = 1500 * time.Millisecond
	streamCursor   = "▌"
)

// Capabilities returns the Discord descriptor.
func Capabilities() domain.Capabilities {
	const attachment = 25 << 20
	return domain.Capabilities{
		Platform: domain.PlatformDiscord,
		ContentTypes: []domain.ContentType{
			domain.ContentText, domain.ContentImage, domain.ContentAudio, domain.ContentVideo,
			domain.ContentDocument, domain.ContentSticker, domain.ContentPoll, domain.ContentReaction,
			domain.ContentEdit, domain.ContentDelete, domain.ContentEmbed,
		},
		MaxMessageLength: maxMessageLength,
		Media: domain.MediaLimits{
			Image:    attachment,
			Audio:    attachment,
			Video:    attachment,
			Document: attachment,
			Sticker:  512 << 10,
		},
		MaxPollOptions: maxPollOptions,
		MaxEmbedFields: maxEmbedFields,

		CanEdit:     true,
		CanDelete:   true,
		CanReply:    true,
		CanReact:    true,
		CanTyping:   true,
		CanStream:   true,
		HasThreads:  true,
		HasMentions: true,

		CanFetchHistory:  true,
		CanFetchContacts: true,
		CanFetchGroups:   true,
	}
}
