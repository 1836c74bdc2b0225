package domain

// MediaLimits are maximum attachment sizes in bytes per media class.
// Zero means the class is not supported.
type MediaLimits struct {
	Image    int64
	Audio    int64
	Video    int64
	Document int64
	Sticker  int64
}

// Capabilities describes what a platform adapter can do. Adapters return a
// fresh value on every call so callers cannot mutate the shared table.
type Capabilities struct {
	Platform         Platform
	ContentTypes     []ContentType
	MaxMessageLength int
	Media            MediaLimits
	MaxPollOptions   int
	MaxEmbedFields   int

	CanEdit     bool
	CanDelete   bool
	CanReply    bool
	CanReact    bool
	CanTyping   bool
	CanStream   bool
	HasReceipts bool
	HasThreads  bool
	HasMentions bool

	CanFetchHistory  bool
	CanFetchContacts bool
	CanFetchGroups   bool
}

// Supports reports whether the content type is in the descriptor.
func (c Capabilities) Supports(t ContentType) bool {
	for _, ct := range c.ContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// MediaLimit returns the size cap for a media content type, 0 if unsupported.
func (c Capabilities) MediaLimit(t ContentType) int64 {
	switch t {
	case ContentImage:
		return c.Media.Image
	case ContentAudio:
		return c.Media.Audio
	case ContentVideo:
		return c.Media.Video
	case ContentDocument:
		return c.Media.Document
	case ContentSticker:
		return c.Media.Sticker
	}
	return 0
}
