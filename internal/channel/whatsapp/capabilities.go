// Package whatsapp adapts a WhatsApp multi-device account, driven by
// whatsmeow, to the gateway's plugin contract.
package whatsapp

import (
	"time"

	"omnigate/internal/domain"
)

const (
	maxMessageLength = 65536
	maxPollOptions   = 12

	streamThrottle = 2500 * time.Millisecond
	streamCursor   = "▍"
)

// Capabilities returns the WhatsApp descriptor.
func Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Platform: domain.PlatformWhatsApp,
		ContentTypes: []domain.ContentType{
			domain.ContentText, domain.ContentImage, domain.ContentAudio, domain.ContentVideo,
			domain.ContentDocument, domain.ContentSticker, domain.ContentContact, domain.ContentLocation,
			domain.ContentPoll, domain.ContentReaction, domain.ContentEdit, domain.ContentDelete,
		},
		MaxMessageLength: maxMessageLength,
		Media: domain.MediaLimits{
			Image:    16 << 20,
			Audio:    16 << 20,
			Video:    64 << 20,
			Document: 100 << 20,
			Sticker:  1 << 20,
		},
		MaxPollOptions: maxPollOptions,

		CanEdit:     true,
		CanDelete:   true,
		CanReply:    true,
		CanReact:    true,
		CanTyping:   true,
		CanStream:   true,
		HasReceipts: true,
		HasMentions: true,

		CanFetchHistory:  true,
		CanFetchContacts: true,
		CanFetchGroups:   true,
	}
}
