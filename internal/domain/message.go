package domain

import "time"

// Platform identifies a chat platform adapter.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// ContentType tags the payload carried by a canonical or outgoing message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentContact  ContentType = "contact"
	ContentLocation ContentType = "location"
	ContentPoll     ContentType = "poll"
	ContentReaction ContentType = "reaction"
	ContentEdit     ContentType = "edit"
	ContentDelete   ContentType = "delete"
	ContentEmbed    ContentType = "embed" // outgoing only (rich card)
)

// IsMedia reports whether the content type carries a binary attachment.
func (c ContentType) IsMedia() bool {
	switch c {
	case ContentImage, ContentAudio, ContentVideo, ContentDocument, ContentSticker:
		return true
	}
	return false
}

// CanonicalMessage is the platform-agnostic envelope every inbound event is
// normalized into. It is never mutated after the extractor returns it.
type CanonicalMessage struct {
	ExternalID  string      `json:"externalId"`
	InstanceID  string      `json:"instanceId"`
	Platform    Platform    `json:"platform"`
	ChatID      string      `json:"chatId"`
	SenderID    string      `json:"senderId"`
	SenderName  string      `json:"senderName,omitempty"`
	IsGroup     bool        `json:"isGroup,omitempty"`
	ContentType ContentType `json:"contentType"`
	Text        string      `json:"text,omitempty"`
	Media       *MediaRef   `json:"media,omitempty"`
	ReplyTo     string      `json:"replyToExternalId,omitempty"`

	// TargetID is the externalId an edit, delete or reaction refers to.
	TargetID string    `json:"targetExternalId,omitempty"`
	Deleted  bool      `json:"deleted,omitempty"`
	Location *Location `json:"location,omitempty"`
	Contact  *Contact  `json:"contact,omitempty"`
	Poll     *Poll     `json:"poll,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Raw keeps the original wire payload for platform-specific consumers.
	Raw any `json:"-"`
}

// MediaRef points at an attachment without carrying its bytes.
type MediaRef struct {
	ID       string `json:"id,omitempty"` // platform file id / direct path
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
	Voice    bool   `json:"voice,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	VCard string `json:"vcard,omitempty"`
}

type Poll struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	MultiSelect   bool     `json:"multiSelect,omitempty"`
	DurationHours int      `json:"durationHours,omitempty"`
	// Votes is set on poll updates (selected option names).
	Votes []string `json:"votes,omitempty"`
}

// MentionType is the kind of entity an outgoing mention refers to.
type MentionType string

const (
	MentionUser     MentionType = "user"
	MentionRole     MentionType = "role"
	MentionChannel  MentionType = "channel"
	MentionEveryone MentionType = "everyone"
	MentionHere     MentionType = "here"
)

type Mention struct {
	ID   string      `json:"id"`
	Type MentionType `json:"type"`
	Name string      `json:"name,omitempty"`
}

// Embed is a rich card; only platforms that declare embed support build it.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// OutgoingContent mirrors the canonical content types for the send path.
type OutgoingContent struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	MediaURL string      `json:"mediaUrl,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	FileName string      `json:"fileName,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	Emoji    string      `json:"emoji,omitempty"`
	TargetID string      `json:"targetMessageId,omitempty"`
	Contact  *Contact    `json:"contact,omitempty"`
	Location *Location   `json:"location,omitempty"`
	Poll     *Poll       `json:"poll,omitempty"`
	Embed    *Embed      `json:"embed,omitempty"`
}

// Well-known metadata keys.
const (
	MetaMediaBase64 = "mediaBase64" // inline media buffer, preferred over MediaURL
	MetaFormatMode  = "messageFormatMode"
	MetaPTT         = "ptt"
	MetaStickerID   = "stickerId"
	MetaThreadID    = "threadId"
)

// FormatPassthrough disables markup transcoding for a message.
const FormatPassthrough = "passthrough"

// OutgoingMessage is consumed by a content builder; builders never modify it.
type OutgoingMessage struct {
	To       string          `json:"to"`
	Content  OutgoingContent `json:"content"`
	ReplyTo  string          `json:"replyTo,omitempty"`
	Mentions []Mention       `json:"mentions,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// MetaString returns a string metadata value, or "".
func (m OutgoingMessage) MetaString(key string) string {
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a bool metadata value, or false.
func (m OutgoingMessage) MetaBool(key string) bool {
	v, _ := m.Metadata[key].(bool)
	return v
}

// SendResult is the uniform outcome of SendMessage.
type SendResult struct {
	Success    bool      `json:"success"`
	MessageID  string    `json:"messageId,omitempty"`
	MessageIDs []string  `json:"messageIds,omitempty"` // every id when the text was chunked
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
