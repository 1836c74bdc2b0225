package domain

import "time"

// Event is one entry on the event bus.
type Event struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	InstanceID string    `json:"instanceId,omitempty"`
	Platform   Platform  `json:"platform,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventHandler receives events from a subscription.
type EventHandler func(Event)

// SubscribeOptions narrows a subscription.
type SubscribeOptions struct {
	// InstanceID, when set, only delivers events for that instance.
	InstanceID string
	// Async dispatches each event on its own goroutine.
	Async bool
}

// EventBus carries normalized events to the rest of the system and job
// commands back into it.
type EventBus interface {
	Publish(evt Event)
	Subscribe(topic string, handler EventHandler, opts SubscribeOptions) (id string)
	Unsubscribe(topic, id string)
}

// Event topics.
const (
	TopicInstanceConnecting    = "instance.connecting"
	TopicInstanceAwaitingAuth  = "instance.awaiting_auth"
	TopicInstanceAuthChallenge = "instance.auth_challenge"
	TopicInstanceConnected     = "instance.connected"
	TopicInstanceReconnecting  = "instance.reconnecting"
	TopicInstanceDisconnected  = "instance.disconnected"

	TopicMessageReceived  = "message.received"
	TopicMessageSent      = "message.sent"
	TopicMessageFailed    = "message.failed"
	TopicMessageDelivered = "message.delivered"
	TopicMessageRead      = "message.read"
	TopicReactionReceived = "reaction.received"
	TopicReactionRemoved  = "reaction.removed"
	TopicPresenceTyping   = "presence.typing"

	TopicSyncStart     = "sync.start"
	TopicSyncItem      = "sync.item"
	TopicSyncCompleted = "sync.completed"
)

// Receipt is the payload of delivery/read events.
type Receipt struct {
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId,omitempty"`
	MessageIDs []string  `json:"messageIds"`
	Timestamp  time.Time `json:"timestamp"`
}

// Presence is the payload of presence.typing.
type Presence struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Typing   bool   `json:"typing"`
}

// SendOutcome is the payload of message.sent / message.failed.
type SendOutcome struct {
	To          string      `json:"to"`
	ContentType ContentType `json:"contentType"`
	Result      SendResult  `json:"result"`
}

// Sync job kinds.
const (
	SyncHistory  = "history"
	SyncContacts = "contacts"
	SyncGroups   = "groups"
)

// SyncJob is the payload of sync.start.
type SyncJob struct {
	InstanceID string      `json:"instanceId"`
	Kind       string      `json:"kind"`
	Options    SyncOptions `json:"options"`
}

// SyncItem is the payload of sync.item: a CanonicalMessage, ContactInfo
// or GroupInfo depending on Kind.
type SyncItem struct {
	Kind string `json:"kind"`
	Item any    `json:"item"`
}

// SyncProgress is the payload of sync.completed.
type SyncProgress struct {
	Kind   string     `json:"kind"`
	Result SyncResult `json:"result"`
	Error  string     `json:"error,omitempty"`
}
