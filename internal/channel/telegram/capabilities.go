// Package telegram adapts Telegram bots, driven by telegram-bot-api over
// long polling, to the gateway's plugin contract.
package telegram

import (
	"time"

	"omnigate/internal/domain"
)

const (
	maxMessageLength = 4096
	maxPollOptions   = 10

	streamThrottle   = 900 * time.Millisecond
	streamCursor     = "█"
	thinkingDelay    = 2 * time.Second
	maxThinkingChars = 600
)

// Capabilities returns the Telegram descriptor.
func Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Platform: domain.PlatformTelegram,
		ContentTypes: []domain.ContentType{
			domain.ContentText, domain.ContentImage, domain.ContentAudio, domain.ContentVideo,
			domain.ContentDocument, domain.ContentSticker, domain.ContentContact, domain.ContentLocation,
			domain.ContentPoll, domain.ContentReaction, domain.ContentEdit, domain.ContentDelete,
		},
		MaxMessageLength: maxMessageLength,
		Media: domain.MediaLimits{
			Image:    10 << 20,
			Audio:    50 << 20,
			Video:    50 << 20,
			Document: 50 << 20,
			Sticker:  512 << 10,
		},
		MaxPollOptions: maxPollOptions,

		CanEdit:     true,
		CanDelete:   true,
		CanReply:    true,
		CanReact:    true,
		CanTyping:   true,
		CanStream:   true,
		HasMentions: true,

		CanFetchHistory:  true,
		CanFetchContacts: true,
		CanFetchGroups:   true,
	}
}
