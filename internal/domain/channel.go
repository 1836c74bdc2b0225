package domain

import (
	"context"
	"time"
)

// InstanceConfig is the per-instance connection configuration.
type InstanceConfig struct {
	Token       string   `json:"token,omitempty" yaml:"token,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
	GuildID     string   `json:"guildId,omitempty" yaml:"guildId,omitempty"`
	AllowFrom   []string `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
	// ForceReauth clears stored auth and allows connecting from a terminal state.
	ForceReauth bool `json:"forceReauth,omitempty" yaml:"forceReauth,omitempty"`
}

// SyncOptions bound a bulk fetch.
type SyncOptions struct {
	ChatID string    `json:"chatId,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Before string    `json:"before,omitempty"` // message id cursor
}

// SyncResult summarizes a bulk fetch.
type SyncResult struct {
	Fetched int  `json:"fetched"`
	Partial bool `json:"partial,omitempty"`
}

// ContactInfo is one item produced by FetchContacts.
type ContactInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsBot       bool   `json:"isBot,omitempty"`
}

// GroupInfo is one item produced by FetchGroups.
type GroupInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants,omitempty"`
	ParentID     string   `json:"parentId,omitempty"`
}

// Stream progressively renders one generated response.
type Stream interface {
	Thinking(text string)
	Append(delta string)
	Finish(ctx context.Context, final string) error
	Fail(err error)
	Abort()
}

// Plugin is the uniform contract every platform adapter exposes.
type Plugin interface {
	ID() Platform
	Capabilities() Capabilities

	Connect(ctx context.Context, instanceID string, cfg InstanceConfig) error
	Disconnect(ctx context.Context, instanceID string) error
	Logout(ctx context.Context, instanceID string) error
	Status(instanceID string) (ConnectionStatus, bool)

	SendMessage(ctx context.Context, instanceID string, msg OutgoingMessage) SendResult
	SendTyping(ctx context.Context, instanceID, chatID string) error
	NewStream(instanceID, chatID, replyTo string) (Stream, error)

	FetchHistory(ctx context.Context, instanceID string, opts SyncOptions, fn func(CanonicalMessage) error) (SyncResult, error)
	FetchContacts(ctx context.Context, instanceID string, opts SyncOptions, fn func(ContactInfo) error) (SyncResult, error)
	FetchGroups(ctx context.Context, instanceID string, opts SyncOptions, fn func(GroupInfo) error) (SyncResult, error)

	Close(ctx context.Context) error
}
